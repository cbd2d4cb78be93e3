// Package plugin defines the source plugin contract (C5) and the base
// behaviors every concrete plugin in internal/plugins builds on: start/stop
// notification through the state machine, metadata coalescing, and
// unit-failure escalation.
package plugin

import (
	"context"

	"github.com/leodurandfr/milo/internal/models"
)

// Plugin is implemented by every concrete source (internal/plugins).
type Plugin interface {
	Source() models.AudioSource

	// Initialize performs one-shot, async-capable setup. Called once at
	// process startup, before the plugin can ever be started.
	Initialize(ctx context.Context) error

	// Start brings the plugin into Ready.
	Start(ctx context.Context) error

	// Stop brings the plugin into Inactive. Idempotent: stopping an
	// already-inactive plugin returns nil immediately.
	Stop(ctx context.Context) error

	// Status returns an opaque metadata snapshot.
	Status() map[string]interface{}

	// HandleCommand dispatches a plugin-specific command. Returns
	// models.ErrUnknownCommand for a name the plugin doesn't support.
	HandleCommand(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}

// StateReporter is the state machine's (C7) inbound edge for plugin state
// reports. Defined here rather than imported from statemachine to avoid an
// import cycle: C7 depends on plugin.Plugin, plugins depend on
// plugin.StateReporter.
type StateReporter interface {
	ReportPluginState(ctx context.Context, source models.AudioSource, state models.PluginState, metadata map[string]interface{})
}
