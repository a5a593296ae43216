package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Seednode/battlebox/console"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

const maxRequestSize = 1 << 20

// serveAPI answers every catalog endpoint with an echo of what it was sent,
// so the console can be driven without the real API server.
func serveAPI(cfg *Config, log logrus.FieldLogger, catalog *console.Catalog, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		key := console.Key(p.ByName("category"), p.ByName("operation"))

		op, err := catalog.Lookup(key)
		if err != nil {
			writeJSON(cfg, w, http.StatusNotFound, []byte(`{"Error":"not_found"}`), errs)

			return
		}

		if string(op.Method) != r.Method {
			w.Header().Set("Allow", string(op.Method))
			writeJSON(cfg, w, http.StatusMethodNotAllowed, []byte(`{"Error":"method not allowed"}`), errs)

			return
		}

		var request []byte

		switch op.Method {
		case console.MethodPost:
			request, err = io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
			if err != nil {
				errs <- err

				return
			}

			request = bytes.TrimSpace(request)
			if len(request) == 0 {
				request = []byte("null")
			} else if !json.Valid(request) {
				writeJSON(cfg, w, http.StatusBadRequest, []byte(`{"Error":"invalid json"}`), errs)

				return
			}
		case console.MethodGet:
			query := make(map[string]string)
			for k, v := range r.URL.Query() {
				query[k] = v[0]
			}

			request, err = json.Marshal(query)
			if err != nil {
				errs <- err

				return
			}
		}

		body, err := sjson.SetBytes([]byte(`{}`), "Endpoint", key)
		if err == nil {
			body, err = sjson.SetRawBytes(body, "Request", request)
		}
		if err != nil {
			errs <- err

			return
		}

		writeJSON(cfg, w, http.StatusOK, body, errs)

		log.Debugf("SERVE: %s /%s (%s) to %s in %s",
			r.Method,
			key,
			humanReadableSize(int64(len(body))),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func registerAPI(cfg *Config, log logrus.FieldLogger, catalog *console.Catalog, path string, mux *httprouter.Router, errs chan<- error) {
	handler := serveAPI(cfg, log, catalog, errs)

	mux.GET(path+"/:category/:operation", handler)
	mux.POST(path+"/:category/:operation", handler)
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}
