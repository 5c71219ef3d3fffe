package api

import (
	"net/http"

	"idle-cache/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RouterOptions tunes the outer middleware stack.
type RouterOptions struct {
	RateLimit int // requests per minute per IP, 0 = off
}

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// KV APIs
	r.Route("/kv", func(r chi.Router) {
		r.Put("/{key}", h.SetKey)
		r.Get("/{key}", h.GetKey)
		r.Delete("/{key}", h.DeleteKey)
		r.HandleFunc("/", h.MissingKey)
	})

	// Admin APIs
	r.Get("/admin/keys", h.ListKeys)
	r.Get("/admin/logs", h.GetLogs)

	// Observability APIs
	r.Get("/metrics", h.GetMetrics)
	r.Get("/metrics/prometheus", h.GetPrometheusMetrics)
	r.Get("/health", h.GetHealth)

	return Chain(r, requestMiddleware(h.log, h.metrics, opts)...)
}

// requestMiddleware lists the middlewares wrapped around every route,
// outermost first. Logging sits outside recovery so panicking requests are
// still counted and logged.
func requestMiddleware(logger zerolog.Logger, reg *metrics.Registry, opts RouterOptions) []Middleware {
	mw := []Middleware{
		LoggingMiddleware(logger, reg),
		RecoveryMiddleware(logger, reg),
	}
	if opts.RateLimit > 0 {
		mw = append(mw, RateLimitMiddleware(opts.RateLimit))
	}
	return mw
}
