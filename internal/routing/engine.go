// Package routing implements the C4 Routing Engine: it resolves a
// (mode, equalizer) configuration into the environment file the ALSA
// resolver reads, keeps the multiroom transport's running state in sync,
// and restarts the active plugin so it picks up the new device binding.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leodurandfr/milo/internal/events"
	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/settings"
	"github.com/leodurandfr/milo/internal/supervisor"
)

// transportUnit is the service unit backing the multiroom transport server.
const transportUnit = "milo-multiroom.service"

const transportWaitTimeout = 10 * time.Second

// ActiveSourceProvider is implemented by the state machine (C7) so the
// routing engine can restart whichever plugin is currently active without
// owning SystemAudioState itself. Wired in after construction, mirroring
// the teacher's late-bound onChange callback pattern.
type ActiveSourceProvider interface {
	ActiveSource() (source models.AudioSource, active bool)
}

// UnitNamer maps an AudioSource to its systemd service unit.
type UnitNamer func(models.AudioSource) string

func DefaultUnitNamer(s models.AudioSource) string {
	return fmt.Sprintf("milo-%s.service", s)
}

// Engine is the C4 component.
type Engine struct {
	sup       supervisor.Controller
	store     *settings.Store
	bus       *events.Bus
	transport *TransportClient
	configDir string
	unitName  UnitNamer

	mu          sync.Mutex // the routing lock: encloses the env write and transport control
	current     models.RoutingState
	active      ActiveSourceProvider
	lastApplied map[models.AudioSource]models.RoutingState
}

func New(sup supervisor.Controller, store *settings.Store, bus *events.Bus, transport *TransportClient, configDir string, namer UnitNamer) (*Engine, error) {
	if namer == nil {
		namer = DefaultUnitNamer
	}
	snap, err := store.Snapshot()
	if err != nil {
		return nil, err
	}
	if err := settings.WriteRoutingEnv(configDir, snap.Routing); err != nil {
		return nil, fmt.Errorf("write routing.env: %w", err)
	}
	return &Engine{
		sup:         sup,
		store:       store,
		bus:         bus,
		transport:   transport,
		configDir:   configDir,
		unitName:    namer,
		current:     snap.Routing,
		lastApplied: make(map[models.AudioSource]models.RoutingState),
	}, nil
}

// BindActiveSourceProvider wires the state machine in after both are
// constructed, avoiding an import cycle between routing and statemachine.
func (e *Engine) BindActiveSourceProvider(p ActiveSourceProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = p
}

// Current returns the routing configuration currently in effect.
func (e *Engine) Current() models.RoutingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Set applies a new routing configuration per the seven-step algorithm in
// spec.md §4.4, holding the routing lock for the whole procedure. On any
// step's failure it attempts a best-effort revert to old and returns a
// wrapped error; callers must treat that as user-visible and never retry
// silently.
func (e *Engine) Set(ctx context.Context, next models.RoutingState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.current
	if next == old {
		return nil
	}

	if err := e.applyLocked(ctx, old.Mode, next); err != nil {
		slog.Error("routing: set failed, reverting", "err", err, "old", old, "attempted", next)
		if revertErr := e.applyLocked(ctx, next.Mode, old); revertErr != nil {
			slog.Error("routing: revert also failed, routing state is now indeterminate", "err", revertErr)
		}
		return fmt.Errorf("routing: RoutingFail: %w", err)
	}

	e.current = next
	e.bus.Publish(models.Event{
		Category: models.CategoryRouting,
		Type:     models.EventRoutingChanged,
		Data: map[string]interface{}{
			"mode":      string(next.Mode),
			"equalizer": next.Equalizer,
		},
	})
	return nil
}

// applyLocked performs steps 2-5 of the algorithm without touching e.current
// or emitting the event, so it can be reused for both the forward apply
// (fromMode = the mode in effect before this call) and the best-effort
// revert (fromMode = the mode the failed forward call attempted to reach).
func (e *Engine) applyLocked(ctx context.Context, fromMode models.RoutingMode, target models.RoutingState) error {
	if err := settings.WriteRoutingEnv(e.configDir, target); err != nil {
		return fmt.Errorf("write routing.env: %w", err)
	}

	if fromMode != target.Mode {
		if err := e.transitionTransport(ctx, target.Mode); err != nil {
			return err
		}
	}

	if e.active != nil {
		if source, active := e.active.ActiveSource(); active {
			unit := e.unitName(source)
			if err := e.sup.Restart(ctx, unit); err != nil {
				return fmt.Errorf("restart active plugin unit %s: %w", unit, err)
			}
			e.lastApplied[source] = target
		}
	}

	if target.Mode == models.ModeMultiroom {
		if err := e.transport.BindAllToMultiroom(ctx); err != nil {
			return fmt.Errorf("bind multiroom groups: %w", err)
		}
	}

	if err := e.store.Set("routing", map[string]interface{}{"mode": string(target.Mode), "equalizer": target.Equalizer}); err != nil {
		return fmt.Errorf("persist routing settings: %w", err)
	}

	return nil
}

func (e *Engine) transitionTransport(ctx context.Context, mode models.RoutingMode) error {
	if mode == models.ModeMultiroom {
		if err := e.sup.Start(ctx, transportUnit); err != nil {
			return fmt.Errorf("start multiroom transport: %w", err)
		}
		return e.sup.WaitUntil(ctx, transportUnit, supervisor.StateActive, transportWaitTimeout)
	}
	if err := e.sup.Stop(ctx, transportUnit); err != nil {
		return fmt.Errorf("stop multiroom transport: %w", err)
	}
	return e.sup.WaitUntil(ctx, transportUnit, supervisor.StateInactive, transportWaitTimeout)
}

// OnPluginStarted is invoked by C7 after a plugin reaches Ready. It
// restarts only that plugin's unit when the routing configuration differs
// from the last one applied for it, triggering device re-resolution
// without a full Set call.
func (e *Engine) OnPluginStarted(ctx context.Context, source models.AudioSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastApplied[source] == e.current {
		return nil
	}

	unit := e.unitName(source)
	if err := e.sup.Restart(ctx, unit); err != nil {
		return fmt.Errorf("routing: re-resolve device for %s: %w", source, err)
	}
	e.lastApplied[source] = e.current
	return nil
}
