// Package api implements Milō's HTTP/Push boundary (C10): a thin JSON
// translation layer over the state machine, routing engine, volume
// controller, settings store, and plugin registry. It holds no audio
// business logic of its own — every handler decodes a request, calls into
// one of those components, and encodes whatever comes back.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leodurandfr/milo/internal/models"
)

// StateMachine is C7's inbound edge, as seen from the HTTP boundary.
type StateMachine interface {
	RequestSource(ctx context.Context, target models.AudioSource) error
	Snapshot() models.SystemAudioState
}

// PluginDispatcher routes a command to whichever plugin currently owns
// source, independent of whether that plugin is actually active.
type PluginDispatcher interface {
	HandleCommand(ctx context.Context, source models.AudioSource, name string, args map[string]interface{}) (interface{}, error)
}

// RoutingEngine is C4's inbound edge.
type RoutingEngine interface {
	Current() models.RoutingState
	Set(ctx context.Context, next models.RoutingState) error
}

// VolumeController is C3's inbound edge.
type VolumeController interface {
	Get(targetID string) models.VolumeState
	Limits() models.VolumeLimits
	Set(ctx context.Context, targetID string, db float64) error
	Bump(ctx context.Context, targetID string, deltaDB float64) error
	Mute(ctx context.Context, targetID string, muted bool) error
}

// SettingsStore is C1's inbound edge, restricted to the dot-path
// get/set the REST surface needs.
type SettingsStore interface {
	Get(path string) (interface{}, bool)
	Set(path string, value interface{}) error
}

// EventBus is C8's subscriber-management edge, used by the /ws handler.
type EventBus interface {
	Subscribe(id string) <-chan models.Event
	Unsubscribe(id string)
}

// Handlers holds every dependency the HTTP handlers need, each narrowed to
// an interface so tests can fake them without building the real components.
type Handlers struct {
	sm       StateMachine
	plugins  PluginDispatcher
	routing  RoutingEngine
	volume   VolumeController
	settings SettingsStore
	bus      EventBus
}

// New constructs the handler set backing NewRouter.
func New(sm StateMachine, plugins PluginDispatcher, routing RoutingEngine, volume VolumeController, settings SettingsStore, bus EventBus) *Handlers {
	return &Handlers{sm: sm, plugins: plugins, routing: routing, volume: volume, settings: settings, bus: bus}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	if appErr, ok := err.(*models.AppError); ok {
		w.WriteHeader(appErr.Status)
		_ = json.NewEncoder(w).Encode(appErr)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(models.ErrInternal(err.Error()))
}

func sourceParam(r *http.Request, name string) models.AudioSource {
	return models.AudioSource(chi.URLParam(r, name))
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.ErrBadRequest("invalid JSON: " + err.Error())
	}
	return nil
}
