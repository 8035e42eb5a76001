package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dropslot/internal/domain"
)

// RouterConfig carries the knobs the router needs from the app config.
type RouterConfig struct {
	RequireHTTPS bool
	RateLimiter  *RateLimiterMiddleware // nil disables rate limiting
}

// NewRouter wires the HTTP surface. Slot ids are 6-8 decimal digits and file
// ids are UUIDs, enforced at the routing layer so handlers never see
// malformed identifiers.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(SecurityHeaders(SecurityHeadersConfig{RequireHTTPS: cfg.RequireHTTPS}))

	r.Get("/health", h.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(ContentLengthValidator(domain.MaxRequestBodySize))
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Handler)
		}

		r.Post("/slots", h.HandleCreate)
		r.Route("/slots/{id:[0-9]{6,8}}", func(r chi.Router) {
			r.Post("/", h.HandleUpload)
			r.Post("/access", h.HandleAccess)
			r.Get("/files/{fileID:[0-9a-fA-F-]{36}}", h.HandleDownload)
			r.Delete("/", h.HandleDelete)
		})
	})

	return r
}
