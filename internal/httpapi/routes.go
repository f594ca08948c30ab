// Package httpapi serves the guard over JSON/HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ppiankov/callguard/internal/engine"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// NewRouter mounts every route on a chi router.
func NewRouter(e *engine.Engine, log zerolog.Logger) *chi.Mux {
	h := &Handler{engine: e, log: log.With().Str("component", "http").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": string(e.Mode())})
	})
	r.Handle("/metrics", e.Metrics().Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/evaluate", h.Evaluate)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/{taskID}", h.GetSession)
			r.Post("/{taskID}/ack", h.AcknowledgeSession)
			r.Delete("/{taskID}", h.ReleaseSession)
		})
		r.Get("/catalog/tools", h.ListTools)
		r.Get("/audit/{taskID}", h.Replay)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
