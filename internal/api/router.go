// Package api exposes the duel report over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the handler and middleware into a chi router.
func NewRouter(h *Handler, mw *Middleware) http.Handler {
	if mw == nil {
		mw = NewMiddleware(nil)
	}

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	r.Use(mw.RealIP())
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())
	r.Use(PrometheusMetrics)
	r.Use(RequestLogger)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit())

			r.Get("/duel", h.DuelReport)
			r.Get("/duel/calendar.ics", h.CalendarICS)
			r.Get("/status", h.Status)
		})
	})

	return r
}
