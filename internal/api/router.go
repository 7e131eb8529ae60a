package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/pagemark/internal/history"
	"github.com/starford/pagemark/internal/storage"
	"github.com/starford/pagemark/internal/track"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(ctrl *track.Controller, hist history.PositionIndex, store storage.Provider,
	authEnabled bool, token string, sseHandler http.Handler) chi.Router {

	h := NewHandler(ctrl, hist, store)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// View lifecycle.
	r.Get("/views", h.ListViews)
	r.Post("/views", h.OpenView)
	r.Post("/views/{id}/activate", h.ActivateView)
	r.Put("/views/{id}/page", h.ReportPage)
	r.Post("/views/{id}/save", h.SaveNow)
	r.Delete("/views/{id}", h.CloseView)

	// Reading history.
	r.Get("/positions", h.ListPositions)
	r.Get("/positions/search", h.SearchPositions)
	r.Post("/positions/rename", h.RenamePosition)
	r.Get("/positions/*", h.GetPosition)
	r.Delete("/positions/*", h.DeletePosition)

	// Runtime settings.
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
