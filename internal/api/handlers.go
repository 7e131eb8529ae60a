package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/pagemark/internal/apperr"
	"github.com/starford/pagemark/internal/history"
	"github.com/starford/pagemark/internal/resolver"
	"github.com/starford/pagemark/internal/storage"
	"github.com/starford/pagemark/internal/track"
)

// Handler holds API route handlers.
type Handler struct {
	ctrl  *track.Controller
	hist  history.PositionIndex
	store storage.Provider
}

// NewHandler creates a new Handler.
func NewHandler(ctrl *track.Controller, hist history.PositionIndex, store storage.Provider) *Handler {
	return &Handler{ctrl: ctrl, hist: hist, store: store}
}

// docPath extracts the document path from the URL wildcard. Supports encoded
// slashes from generated clients (e.g. Research%2FSmith.pdf).
func docPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListViews handles GET /api/views.
func (h *Handler) ListViews(w http.ResponseWriter, _ *http.Request) {
	views := h.ctrl.Views()
	writeJSON(w, http.StatusOK, map[string]any{"views": views, "total": len(views)})
}

// OpenView handles POST /api/views. The viewer registers a document view,
// optionally with its current page (omit or -1 when not rendered yet).
func (h *Handler) OpenView(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req OpenViewRequest
	req.Page = -1
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.ID == "" || req.DocumentPath == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id and document_path are required"))
		return
	}
	if err := h.ctrl.OpenView(req.ID, req.DocumentPath, req.Page); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			writeJSON(w, http.StatusConflict, errorBody("view already open"))
			return
		}
		slog.Error("open view failed", slog.String("id", req.ID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// ActivateView handles POST /api/views/{id}/activate.
func (h *Handler) ActivateView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ctrl.ActivateView(id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("view not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// ReportPage handles PUT /api/views/{id}/page.
func (h *Handler) ReportPage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	id := chi.URLParam(r, "id")
	var req ReportPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Page < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("page must be >= 0"))
		return
	}
	h.ctrl.ReportPage(id, req.Page)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// SaveNow handles POST /api/views/{id}/save. Bypasses the throttle window
// and reports the save outcome to the caller.
func (h *Handler) SaveNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ctrl.SaveNow(id); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody(err.Error()))
		default:
			slog.Error("save now failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("save failed"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "saved"})
}

// CloseView handles DELETE /api/views/{id}. Always force-saves before
// untracking.
func (h *Handler) CloseView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ctrl.CloseView(id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("view not found"))
			return
		}
		// The view is untracked either way; surface the save failure.
		slog.Error("close save failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("final save failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "closed"})
}

// ListPositions handles GET /api/positions.
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.hist.Recent(limit, offset)
	if err != nil {
		slog.Error("list positions failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": items, "total": total})
}

// SearchPositions handles GET /api/positions/search.
func (h *Handler) SearchPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("q is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.hist.Search(q, limit)
	if err != nil {
		slog.Error("search positions failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": items})
}

// GetPosition handles GET /api/positions/*.
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	doc := docPath(r)
	if doc == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("document path is required"))
		return
	}
	p, err := h.hist.Get(doc)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("get position failed", slog.String("document", doc), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePosition handles DELETE /api/positions/*. With ?delete_note=true the
// associated note file is removed from the vault as well.
func (h *Handler) DeletePosition(w http.ResponseWriter, r *http.Request) {
	doc := docPath(r)
	if doc == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("document path is required"))
		return
	}
	resp := map[string]any{"document_path": doc, "status": "deleted"}
	if v := r.URL.Query().Get("delete_note"); v == "true" || v == "1" {
		if p, err := h.hist.Get(doc); err == nil && p.NotePath != "" {
			if err := h.store.Delete(p.NotePath); err != nil {
				slog.Warn("note delete failed",
					slog.String("note", p.NotePath), slog.String("error", err.Error()))
			} else {
				resp["note_deleted"] = p.NotePath
			}
		}
	}
	if err := h.hist.Delete(doc); err != nil {
		slog.Error("delete position failed", slog.String("document", doc), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RenamePosition handles POST /api/positions/rename, moving history when a
// document is renamed on disk.
func (h *Handler) RenamePosition(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.OldPath == "" || req.NewPath == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("old_path and new_path are required"))
		return
	}
	if err := h.hist.Rename(req.OldPath, req.NewPath); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("rename position failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	resp := map[string]any{"document_path": req.NewPath}
	// The note follows the template: when the renamed document resolves to a
	// different note path and the old note exists, move it along.
	tpl := h.ctrl.Settings().NoteTemplate
	oldNote, okOld := resolver.Resolve(req.OldPath, tpl)
	newNote, okNew := resolver.Resolve(req.NewPath, tpl)
	if okOld && okNew && oldNote != newNote {
		if exists, _ := h.store.Exists(oldNote); exists {
			if err := h.store.Move(oldNote, newNote); err != nil {
				slog.Warn("note move failed",
					slog.String("note", oldNote), slog.String("error", err.Error()))
			} else {
				if err := h.hist.SetNotePath(req.NewPath, newNote); err != nil {
					slog.Warn("note path update failed", slog.String("error", err.Error()))
				}
				resp["note_path"] = newNote
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSettings handles GET /api/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Settings())
}

// UpdateSettings handles PUT /api/settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var s track.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.ctrl.UpdateSettings(s); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Settings())
}
