// Package statemachine implements the Unified State Machine (C7): the sole
// authority for SystemAudioState. Every mutation, whether from an external
// source-switch request or a plugin's own lifecycle report, is serialized
// through here so the event stream observed by subscribers is a faithful
// linearization of what actually happened.
package statemachine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leodurandfr/milo/internal/events"
	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/plugin"
)

const transitionTimeout = 15 * time.Second

// RoutingNotifier is the routing engine's (C4) inbound edge, invoked once a
// requested source has reached Ready. Defined here rather than imported
// from routing so that neither package imports the other; cmd/milod binds
// the concrete routing engine.
type RoutingNotifier interface {
	OnPluginStarted(ctx context.Context, source models.AudioSource) error
}

type waiter struct {
	source models.AudioSource
	state  models.PluginState
	ch     chan struct{}
}

// StateMachine is the C7 component.
type StateMachine struct {
	plugins map[models.AudioSource]plugin.Plugin
	bus     *events.Bus
	routing RoutingNotifier

	// transitionMu is the transition lock from spec §4.7: it serializes the
	// whole body of RequestSource so at most one transition runs at a time.
	transitionMu sync.Mutex

	dedupMu          sync.Mutex
	inProgress       bool
	inProgressTarget models.AudioSource

	mu      sync.Mutex
	state   models.SystemAudioState
	waiters []*waiter
}

// New constructs a StateMachine over a fixed plugin registry. Plugins are
// keyed by the source they implement; RequestSource rejects targets absent
// from this map with an internal error rather than panicking.
func New(plugins map[models.AudioSource]plugin.Plugin, bus *events.Bus) *StateMachine {
	return &StateMachine{
		plugins: plugins,
		bus:     bus,
		state:   models.DefaultSystemAudioState(),
	}
}

// BindRoutingNotifier wires the routing engine in after both are
// constructed, avoiding an import cycle between statemachine and routing.
func (sm *StateMachine) BindRoutingNotifier(r RoutingNotifier) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.routing = r
}

// Snapshot returns an atomic, independent copy of SystemAudioState.
func (sm *StateMachine) Snapshot() models.SystemAudioState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state.DeepCopy()
}

// ActiveSource implements routing.ActiveSourceProvider.
func (sm *StateMachine) ActiveSource() (models.AudioSource, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state.ActiveSource == models.SourceNone {
		return models.SourceNone, false
	}
	return sm.state.ActiveSource, true
}

// ReportPluginState implements plugin.StateReporter. Reports for a source
// other than the one the state machine currently considers active are
// stale — the plugin has already been stopped, or has not yet been
// designated active — and are dropped, which satisfies spec §4.7's buffer-
// or-drop rule without a separate replay queue: RequestSource only ever
// points ActiveSource at a plugin immediately before invoking its Start or
// while its Stop is in flight, so any report that arrives while the source
// genuinely matches is already in the correct arrival order.
func (sm *StateMachine) ReportPluginState(ctx context.Context, source models.AudioSource, state models.PluginState, metadata map[string]interface{}) {
	sm.mu.Lock()
	if source != sm.state.ActiveSource {
		sm.mu.Unlock()
		return
	}

	sm.state.PluginState = state
	if metadata != nil {
		if sm.state.Metadata == nil {
			sm.state.Metadata = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			sm.state.Metadata[k] = v
		}
	}
	sm.signalWaitersLocked(source, state)
	sm.mu.Unlock()

	sm.bus.Publish(models.Event{
		Category: models.CategoryPlugin,
		Type:     models.EventPluginStateChanged,
		Source:   source,
		Data:     map[string]interface{}{"state": string(state)},
	})
	if state == models.StateError {
		sm.bus.Publish(models.Event{Category: models.CategoryPlugin, Type: models.EventPluginError, Source: source})
	}
	if metadata != nil {
		sm.bus.Publish(models.Event{
			Category: models.CategoryPlugin,
			Type:     models.EventPluginMetadata,
			Source:   source,
			Data:     metadata,
		})
	}
}

func (sm *StateMachine) signalWaitersLocked(source models.AudioSource, state models.PluginState) {
	remaining := sm.waiters[:0]
	for _, w := range sm.waiters {
		if w.source == source && w.state == state {
			close(w.ch)
			continue
		}
		remaining = append(remaining, w)
	}
	sm.waiters = remaining
}

func (sm *StateMachine) removeWaiter(target *waiter) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for i, w := range sm.waiters {
		if w == target {
			sm.waiters = append(sm.waiters[:i], sm.waiters[i+1:]...)
			return
		}
	}
}

// waitFor blocks until source reaches state, or timeout elapses.
func (sm *StateMachine) waitFor(source models.AudioSource, state models.PluginState, timeout time.Duration) error {
	sm.mu.Lock()
	if sm.state.ActiveSource == source && sm.state.PluginState == state {
		sm.mu.Unlock()
		return nil
	}
	w := &waiter{source: source, state: state, ch: make(chan struct{})}
	sm.waiters = append(sm.waiters, w)
	sm.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-time.After(timeout):
		sm.removeWaiter(w)
		return models.ErrTimedOut
	}
}

// RequestSource implements the six-step algorithm of spec §4.7. It returns
// models.ErrBusy when a concurrent caller is already converging on the same
// target (a dedup, not a failure); any other non-nil error means the
// transition ran but the target plugin failed to reach Ready, leaving the
// system in PluginState.Error.
func (sm *StateMachine) RequestSource(ctx context.Context, target models.AudioSource) error {
	sm.dedupMu.Lock()
	if sm.inProgress && sm.inProgressTarget == target {
		sm.dedupMu.Unlock()
		return models.ErrBusy
	}
	sm.dedupMu.Unlock()

	sm.transitionMu.Lock()
	defer sm.transitionMu.Unlock()

	sm.dedupMu.Lock()
	sm.inProgress = true
	sm.inProgressTarget = target
	sm.dedupMu.Unlock()
	defer func() {
		sm.dedupMu.Lock()
		sm.inProgress = false
		sm.dedupMu.Unlock()
	}()

	sm.mu.Lock()
	sm.state.Transitioning = true
	current := sm.state.ActiveSource
	sm.mu.Unlock()
	sm.bus.Publish(models.Event{Category: models.CategorySystem, Type: models.EventTransitionStarted})

	if current == target {
		sm.finishTransition()
		return nil
	}

	if current != models.SourceNone {
		if p, ok := sm.plugins[current]; ok {
			if err := p.Stop(ctx); err != nil {
				slog.Error("statemachine: stop failed", "source", current, "err", err)
			}
			if err := sm.waitFor(current, models.StateInactive, transitionTimeout); err != nil {
				slog.Warn("statemachine: stop wait timed out, forcing error", "source", current)
				sm.forceState(current, models.StateError)
			}
		}
	}

	var startErr error
	if target != models.SourceNone {
		sm.mu.Lock()
		sm.state.ActiveSource = target
		sm.state.PluginState = models.StateStarting
		sm.state.Metadata = map[string]interface{}{}
		sm.mu.Unlock()

		p, ok := sm.plugins[target]
		if !ok {
			sm.forceState(target, models.StateError)
			startErr = fmt.Errorf("statemachine: no plugin registered for %s", target)
		} else {
			if err := p.Start(ctx); err != nil {
				slog.Error("statemachine: start failed", "source", target, "err", err)
			}
			if err := sm.waitFor(target, models.StateReady, transitionTimeout); err != nil {
				slog.Warn("statemachine: start wait timed out, forcing error", "source", target)
				sm.forceState(target, models.StateError)
				startErr = err
			} else {
				sm.mu.Lock()
				notifier := sm.routing
				sm.mu.Unlock()
				if notifier != nil {
					if err := notifier.OnPluginStarted(ctx, target); err != nil {
						slog.Warn("statemachine: routing re-resolve failed", "source", target, "err", err)
					}
				}
			}
		}
	} else {
		sm.mu.Lock()
		sm.state.ActiveSource = models.SourceNone
		sm.state.PluginState = models.StateInactive
		sm.state.Metadata = map[string]interface{}{}
		sm.mu.Unlock()
	}

	sm.finishTransition()
	return startErr
}

func (sm *StateMachine) forceState(source models.AudioSource, state models.PluginState) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state.ActiveSource == source {
		sm.state.PluginState = state
	}
}

func (sm *StateMachine) finishTransition() {
	sm.mu.Lock()
	sm.state.Transitioning = false
	snap := sm.state.DeepCopy()
	sm.mu.Unlock()

	sm.bus.Publish(models.Event{
		Category: models.CategorySystem,
		Type:     models.EventTransitionFinished,
		Source:   snap.ActiveSource,
		Data: map[string]interface{}{
			"active_source": string(snap.ActiveSource),
			"plugin_state":  string(snap.PluginState),
		},
	})
}
