/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"embed"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

//go:embed assets/*
var assets embed.FS

const robotsTxt = `User-agent: *
Disallow: /ws
Disallow: /stats
Disallow: /qr
`

var contentTypes = map[string]string{
	".css":         "text/css; charset=utf-8",
	".html":        "text/html; charset=utf-8",
	".js":          "text/javascript; charset=utf-8",
	".svg":         "image/svg+xml",
	".webmanifest": "application/manifest+json",
}

// writeBody sends a complete response body. maxAge of zero disables caching
// headers.
func writeBody(cfg *Config, w http.ResponseWriter, errs chan<- error, contentType string, maxAge time.Duration, data []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if maxAge > 0 {
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(maxAge.Seconds())))
		w.Header().Set("Expires", time.Now().Add(maxAge).UTC().Format(http.TimeFormat))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	securityHeaders(cfg, w)

	if _, err := w.Write(data); err != nil {
		errs <- err
	}
}

// serveEmbedded serves the file named by the wildcard parameter param from
// dir inside fsys.
func serveEmbedded(cfg *Config, errs chan<- error, fsys embed.FS, dir, param string, maxAge time.Duration) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		fname := path.Join(dir, strings.TrimPrefix(p.ByName(param), "/"))

		data, err := fsys.ReadFile(fname)
		if err != nil {
			http.NotFound(w, r)

			return
		}

		writeBody(cfg, w, errs, contentTypes[strings.ToLower(path.Ext(fname))], maxAge, data)
	}
}

func serveHomePage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/index.html")
		if err != nil {
			errs <- err

			return
		}

		writeBody(cfg, w, errs, contentTypes[".html"], time.Hour, data)
	}
}

func serveAssets(cfg *Config, errs chan<- error) httprouter.Handle {
	return serveEmbedded(cfg, errs, assets, "assets", "asset", time.Hour)
}

func serveHealthCheck(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeBody(cfg, w, errs, "text/plain; charset=utf-8", 0, []byte("Ok\n"))
	}
}

func serveRobots(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeBody(cfg, w, errs, "text/plain; charset=utf-8", time.Hour, []byte(robotsTxt))
	}
}
