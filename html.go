/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/battlebox/console"
	"github.com/julienschmidt/httprouter"
)

// printCatalog writes one "METHOD category/operation" line per endpoint,
// optionally limited to one category.
func printCatalog(w io.Writer, catalog *console.Catalog, category string) {
	for _, cat := range catalog.Categories() {
		if category != "" && cat.Path != category {
			continue
		}

		for _, op := range cat.Operations {
			fmt.Fprintf(w, "%-4s %s\n", op.Method, console.Key(cat.Path, op.Name))
		}
	}
}

func serveHomePage(cfg *Config, catalog *console.Catalog, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body strings.Builder

		body.WriteString("battlebox sandbox v" + releaseVersion + "\n\n")
		fmt.Fprintf(&body, "websocket: %s/ws\n\n", cfg.prefix)
		printCatalog(&body, catalog, "")

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(body.Len()))
		securityHeaders(cfg, w)

		if _, err := io.WriteString(w, body.String()); err != nil {
			errs <- err
		}
	}
}

func serveHealthCheck(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveRobots(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data := "User-agent: *\nDisallow: /\n"

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		_, err := w.Write([]byte(data))
		if err != nil {
			errs <- err

			return
		}
	}
}

func registerHome(cfg *Config, catalog *console.Catalog, path string, mux *httprouter.Router, errs chan<- error) {
	mux.GET(path, serveHomePage(cfg, catalog, errs))
}
