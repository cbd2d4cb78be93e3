package api

import "net/http"

// ping implements GET /ping: a bare liveness check with no dependency on
// any other component being ready.
func (h *Handlers) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// health implements GET /health: readiness, reported against the state
// machine since every other component is reachable through it transitively
// once the process has finished wiring.
func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	snap := h.sm.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":            true,
		"active_source": snap.ActiveSource,
		"plugin_state":  snap.PluginState,
		"transitioning": snap.Transitioning,
	})
}
