// Package console serves a single-page browser console for the run API.
package console

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

const (
	RobotsTagHeader = "X-Robots-Tag"
	RobotsTagValue  = "noindex, nofollow"
)

//go:embed static
var staticFiles embed.FS

// Handler serves the console page at any path and its assets under
// /console/static/. Mount it at /console.
func Handler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	assets := http.StripPrefix("/console/static/", http.FileServer(http.FS(sub)))
	page, _ := fs.ReadFile(sub, "console.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RobotsTagHeader, RobotsTagValue)
		w.Header().Set("Cache-Control", "no-store")
		if strings.HasPrefix(r.URL.Path, "/console/static/") {
			assets.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	})
}
