package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"melding/internal/types"
)

// NewRouter builds the chi router for the intake surface.
func NewRouter(h *Handler, logger types.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(recoverer(logger))
	r.Use(requestLogger(logger))

	r.Get("/", h.HandleWelcome)
	r.Get("/health", h.HandleHealth)
	r.Post("/submit-publication", h.HandleSubmitPublication)

	return r
}

// recoverer converts handler panics into 500 responses instead of killing
// the process. Outermost middleware so it catches everything below it.
func recoverer(logger types.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						"method", r.Method,
						"path", r.URL.Path,
						"panic", rec,
					)
					writeJSON(w, http.StatusInternalServerError,
						types.NewAppError(types.ErrCodeInternalUnexpected, "internal server error", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger emits one structured line per request.
func requestLogger(logger types.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start).String(),
			)
		})
	}
}

// statusWriter captures the status code written by the handler chain.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
