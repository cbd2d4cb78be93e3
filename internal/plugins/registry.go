package plugins

import (
	"context"
	"fmt"

	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/plugin"
)

// Registry is the fixed set of concrete plugins keyed by the source they
// implement. It is the one place cmd/milod, the state machine, and the HTTP
// boundary all go to reach a specific plugin, so none of them need to carry
// their own copy of the map.
type Registry struct {
	plugins map[models.AudioSource]plugin.Plugin
}

// NewRegistry builds a Registry from an already-constructed set of plugins.
func NewRegistry(byPlugin map[models.AudioSource]plugin.Plugin) *Registry {
	return &Registry{plugins: byPlugin}
}

// Plugins returns the underlying registry map, for callers that need it in
// bulk (the state machine's constructor, Initialize-at-startup loops).
func (r *Registry) Plugins() map[models.AudioSource]plugin.Plugin {
	return r.plugins
}

// Get returns the plugin for source, if any.
func (r *Registry) Get(source models.AudioSource) (plugin.Plugin, bool) {
	p, ok := r.plugins[source]
	return p, ok
}

// HandleCommand dispatches name/args to source's plugin. Returns
// models.ErrNotFound if source has no registered plugin — distinct from
// ErrUnknownCommand, which means the plugin exists but doesn't support name.
func (r *Registry) HandleCommand(ctx context.Context, source models.AudioSource, name string, args map[string]interface{}) (interface{}, error) {
	p, ok := r.plugins[source]
	if !ok {
		return nil, models.ErrNotFound(fmt.Sprintf("no plugin registered for source %q", source))
	}
	return p.HandleCommand(ctx, name, args)
}

// InitializeAll calls Initialize on every registered plugin, continuing
// past individual failures and returning the first error encountered so
// startup can log it without aborting the other plugins' setup.
func (r *Registry) InitializeAll(ctx context.Context) error {
	var firstErr error
	for source, p := range r.plugins {
		if err := p.Initialize(ctx); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("plugin %s: %w", source, err)
			}
		}
	}
	return firstErr
}
