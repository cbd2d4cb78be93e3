package api

import (
	"net/http"

	"github.com/leodurandfr/milo/internal/models"
)

// getRouting implements GET /routing.
func (h *Handlers) getRouting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.routing.Current())
}

// putRouting implements PUT /routing.
func (h *Handlers) putRouting(w http.ResponseWriter, r *http.Request) {
	var next models.RoutingState
	if err := decodeJSON(r, &next); err != nil {
		writeError(w, err)
		return
	}
	if next.Mode != models.ModeDirect && next.Mode != models.ModeMultiroom {
		writeError(w, models.ErrBadRequest("mode must be \"direct\" or \"multiroom\""))
		return
	}
	if err := h.routing.Set(r.Context(), next); err != nil {
		writeError(w, models.ErrRouting(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, h.routing.Current())
}
