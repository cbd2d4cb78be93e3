package api

import (
	"net/http"

	"github.com/leodurandfr/milo/internal/models"
)

type sourceRequest struct {
	Target models.AudioSource `json:"target"`
}

// setSource implements POST /audio/source.
func (h *Handlers) setSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !req.Target.Valid() {
		writeError(w, models.ErrBadRequest("unknown source: "+string(req.Target)))
		return
	}
	if err := h.sm.RequestSource(r.Context(), req.Target); err != nil {
		writeError(w, translateRequestSourceErr(err))
		return
	}
	writeJSON(w, http.StatusOK, h.sm.Snapshot())
}

// getState implements GET /audio/state.
func (h *Handlers) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sm.Snapshot())
}

type commandRequest struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// runCommand implements POST /audio/{source}/command.
func (h *Handlers) runCommand(w http.ResponseWriter, r *http.Request) {
	source := sourceParam(r, "source")
	if !source.Valid() || source == models.SourceNone {
		writeError(w, models.ErrBadRequest("unknown source: "+string(source)))
		return
	}
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, models.ErrBadRequest("command name is required"))
		return
	}
	result, err := h.plugins.HandleCommand(r.Context(), source, req.Name, req.Args)
	if err != nil {
		writeError(w, translateCommandErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func translateRequestSourceErr(err error) error {
	if err == models.ErrBusy {
		return models.ErrConflict("a transition to this source is already in progress")
	}
	if err == models.ErrTimedOut {
		return models.ErrTimeout("transition did not complete in time")
	}
	return models.ErrInternal(err.Error())
}

func translateCommandErr(err error) error {
	if appErr, ok := err.(*models.AppError); ok {
		return appErr
	}
	if err == models.ErrUnknownCommand {
		return models.ErrBadRequest(err.Error())
	}
	if err == models.ErrNotSupported {
		return models.ErrBadRequest(err.Error())
	}
	return models.ErrInternal(err.Error())
}
