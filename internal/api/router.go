package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/linker"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *linker.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Planning and scanning.
	r.Get("/plan", h.Plan)
	r.Post("/plan", h.PlanFiles)
	r.Post("/scan", h.Scan)

	// Suggestions.
	r.Get("/suggestions/*", h.Suggestions)
	r.Get("/related/*", h.Related)
	r.Post("/rank", h.Rank)

	// Dismissed pairs.
	r.Get("/ignored", h.ListIgnored)
	r.Post("/ignored", h.Ignore)
	r.Delete("/ignored", h.Unignore)

	// Cache.
	r.Post("/invalidate/*", h.Invalidate)
	r.Delete("/cache", h.ClearCache)
	r.Get("/stats", h.Stats)

	// Links.
	r.Get("/insertions/*", h.Insertion)
	r.Post("/links", h.ApplyLink)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
