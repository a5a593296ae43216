package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/battlebox/console"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
)

const (
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveVersion(cfg *Config, log logrus.FieldLogger, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("battlebox v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		log.Debugf("SERVE: Version page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// newSandbox builds the router for the sandbox server. The returned hub is
// already running.
func newSandbox(cfg *Config, log logrus.FieldLogger, catalog *console.Catalog, errs chan<- error) (*httprouter.Router, *Hub) {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		log.Errorf("panic serving %s: %v", r.URL.Path, i)

		writeJSON(cfg, w, http.StatusInternalServerError, []byte(`{"Error":"internal error"}`), errs)
	}

	prefix := strings.TrimSuffix(cfg.prefix, "/")

	registerHome(cfg, catalog, prefix+"/", mux, errs)

	mux.GET(prefix+"/healthz", serveHealthCheck(cfg, errs))

	mux.GET(prefix+"/robots.txt", serveRobots(cfg, errs))

	mux.GET(prefix+"/version", serveVersion(cfg, log, errs))

	if cfg.profile {
		registerProfileHandlers(prefix, mux)
	}

	registerAPI(cfg, log, catalog, prefix+"/api", mux, errs)

	hub := newHub(log)
	go hub.run()

	registerBattle(cfg, log, hub, prefix, mux)

	return mux, hub
}

// ServeSandbox runs the sandbox server until ctx is cancelled.
func ServeSandbox(ctx context.Context, cfg *Config, log logrus.FieldLogger, catalog *console.Catalog) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	log.Infof("START: battlebox v%s", releaseVersion)

	errs := make(chan error, 64)
	go func() {
		for err := range errs {
			log.WithError(err).Warn("SERVE: write failed")
		}
	}()

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	mux, hub := newSandbox(cfg, log, catalog, errs)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		var err error

		log.Infof("SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)

		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	hub.closeAll()

	return nil
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, body []byte, errs chan<- error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	if _, err := w.Write(body); err != nil {
		errs <- err
	}
}
