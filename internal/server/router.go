package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// PipelineHTTP is the surface the router needs from the proxy pipeline.
type PipelineHTTP interface {
	ServeFrontend(http.ResponseWriter, *http.Request)
	ServeAPI(http.ResponseWriter, *http.Request)
	ClearCache(http.ResponseWriter, *http.Request)
	Check(http.ResponseWriter, *http.Request)
	Redirect(http.ResponseWriter, *http.Request)
	Recoverer(http.Handler) http.Handler
}

// NewRouter maps the inbound routes. Admin routes are matched before the
// frontend catch-all; metrics is optional.
func NewRouter(p PipelineHTTP, metricsHandler http.Handler) http.Handler {
	if p == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "pipeline unavailable", http.StatusServiceUnavailable)
		})
	}

	r := chi.NewRouter()
	r.Use(p.Recoverer)

	r.Get("/clear-cache", p.ClearCache)
	r.Get("/check", p.Check)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	r.Get("/redirect/*", p.Redirect)

	r.HandleFunc("/api", p.ServeAPI)
	r.HandleFunc("/api/*", p.ServeAPI)

	r.Get("/*", p.ServeFrontend)
	r.Post("/*", p.ServeFrontend)
	return r
}
