package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leodurandfr/milo/internal/models"
)

// getVolume implements GET /volume/{target}.
func (h *Handlers) getVolume(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	writeJSON(w, http.StatusOK, h.volume.Get(target))
}

type volumePutRequest struct {
	LevelDB *float64 `json:"level_db"`
	DeltaDB *float64 `json:"delta_db"`
	Muted   *bool    `json:"muted"`
}

// putVolume implements PUT /volume/{target}. level_db sets an absolute
// level, delta_db applies a relative bump, and muted toggles mute — a
// caller may set any combination in one request, applied in that order.
func (h *Handlers) putVolume(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	var req volumePutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.LevelDB == nil && req.DeltaDB == nil && req.Muted == nil {
		writeError(w, models.ErrBadRequest("at least one of level_db, delta_db, muted is required"))
		return
	}
	if req.LevelDB != nil {
		if err := h.volume.Set(r.Context(), target, *req.LevelDB); err != nil {
			writeError(w, models.ErrInternal(err.Error()))
			return
		}
	}
	if req.DeltaDB != nil {
		if err := h.volume.Bump(r.Context(), target, *req.DeltaDB); err != nil {
			writeError(w, models.ErrInternal(err.Error()))
			return
		}
	}
	if req.Muted != nil {
		if err := h.volume.Mute(r.Context(), target, *req.Muted); err != nil {
			writeError(w, models.ErrInternal(err.Error()))
			return
		}
	}
	writeJSON(w, http.StatusOK, h.volume.Get(target))
}
