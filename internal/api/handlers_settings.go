package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/leodurandfr/milo/internal/models"
)

// settingsGroups whitelists the top-level dot-path segments the REST
// surface may read or write, mirroring models.Settings' own fields. A key
// outside this set never reaches the store, whitelisted or not.
var settingsGroups = map[string]bool{
	"language": true,
	"volume":   true,
	"dock":     true,
	"spotify":  true,
	"podcast":  true,
	"screen":   true,
	"routing":  true,
	"hardware": true,
}

func settingsKeyAllowed(key string) bool {
	group := key
	if i := strings.IndexByte(key, '.'); i >= 0 {
		group = key[:i]
	}
	return settingsGroups[group]
}

// getSetting implements GET /settings/{key}.
func (h *Handlers) getSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !settingsKeyAllowed(key) {
		writeError(w, models.ErrNotFound("unknown settings key: "+key))
		return
	}
	value, ok := h.settings.Get(key)
	if !ok {
		writeError(w, models.ErrNotFound("unknown settings key: "+key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

type settingsPutRequest struct {
	Value interface{} `json:"value"`
}

// putSetting implements PUT /settings/{key}.
func (h *Handlers) putSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !settingsKeyAllowed(key) {
		writeError(w, models.ErrNotFound("unknown settings key: "+key))
		return
	}
	var req settingsPutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.settings.Set(key, req.Value); err != nil {
		writeError(w, models.ErrInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": req.Value})
}
