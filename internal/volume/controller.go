// Package volume is Milō's authoritative dB-domain volume controller: it
// shields plugins and the REST boundary from the vendor-specific scales of
// the local mixer and multiroom transport clients.
package volume

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leodurandfr/milo/internal/events"
	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/settings"
)

// LocalTarget is the well-known target id for the host's own output.
const LocalTarget = "local"

// debounceDelay bounds persisted writes to at most one per target per tick,
// mirroring the teacher's config-store debounce.
const debounceDelay = 500 * time.Millisecond

// Actuator applies a resolved percentage to the underlying hardware or
// transport client. Implementations translate pct into whatever scale the
// target actually understands (linear amp mixer locally, a transport
// client's own volume RPC remotely).
type Actuator interface {
	Apply(ctx context.Context, targetID string, pct int, muted bool) error
}

// targetState is the controller's per-target bookkeeping.
type targetState struct {
	mu      sync.Mutex
	current models.VolumeState
	timer   *time.Timer
	pending bool
}

// Controller is the C3 component. One Controller instance is shared by
// every target; each target serializes its own set calls independently so
// concurrent volume changes to different zones never block one another.
type Controller struct {
	limits     models.VolumeLimits
	actuator   Actuator
	store      *settings.Store
	bus        *events.Bus
	restore    bool
	lastVolume *lastVolumeStore

	mu      sync.Mutex
	targets map[string]*targetState
}

// New constructs a Controller. dataDir is where last_volume.json (spec §6)
// is read and, when restoreLastVolume is set, kept up to date per target;
// an empty dataDir disables last-volume persistence entirely.
func New(limits models.VolumeLimits, restoreLastVolume bool, actuator Actuator, store *settings.Store, bus *events.Bus, dataDir string) *Controller {
	c := &Controller{
		limits:   limits,
		actuator: actuator,
		store:    store,
		bus:      bus,
		restore:  restoreLastVolume,
		targets:  make(map[string]*targetState),
	}
	if dataDir != "" {
		if lv, err := openLastVolumeStore(dataDir); err == nil {
			c.lastVolume = lv
		}
	}
	return c
}

func (c *Controller) stateFor(targetID string) *targetState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.targets[targetID]
	if !ok {
		level := c.limits.MinDB
		if c.restore && c.lastVolume != nil {
			if saved, found := c.lastVolume.get(targetID); found {
				level = c.limits.Clamp(saved)
			}
		}
		ts = &targetState{current: models.VolumeState{TargetID: targetID, LevelDB: level}}
		c.targets[targetID] = ts
	}
	return ts
}

// Limits returns the configured (min_db, max_db) bound.
func (c *Controller) Limits() models.VolumeLimits { return c.limits }

// Get returns the last-applied volume for target.
func (c *Controller) Get(targetID string) models.VolumeState {
	ts := c.stateFor(targetID)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.current
}

// Set clamps db, applies it via the actuator, persists (debounced) and
// emits volume.changed. Concurrent Set calls on the same target are
// serialized by the target's own mutex; the last writer's value is the
// observed steady state.
func (c *Controller) Set(ctx context.Context, targetID string, db float64) error {
	return c.apply(ctx, targetID, func(v *models.VolumeState) { v.LevelDB = c.limits.Clamp(db) })
}

// Bump adjusts the current level by deltaDB.
func (c *Controller) Bump(ctx context.Context, targetID string, deltaDB float64) error {
	return c.apply(ctx, targetID, func(v *models.VolumeState) { v.LevelDB = c.limits.Clamp(v.LevelDB + deltaDB) })
}

// Mute sets or clears the mute flag without changing LevelDB.
func (c *Controller) Mute(ctx context.Context, targetID string, muted bool) error {
	return c.apply(ctx, targetID, func(v *models.VolumeState) { v.Muted = muted })
}

func (c *Controller) apply(ctx context.Context, targetID string, mutate func(*models.VolumeState)) error {
	ts := c.stateFor(targetID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	next := ts.current
	mutate(&next)

	pct := c.limits.Percent(next.LevelDB)
	if err := c.actuator.Apply(ctx, targetID, pct, next.Muted); err != nil {
		return fmt.Errorf("volume: actuator failed for %q: %w", targetID, err)
	}
	ts.current = next

	if c.restore {
		c.schedulePersist(ts, targetID)
	}

	c.bus.Publish(models.Event{
		Category: models.CategoryVolume,
		Type:     models.EventVolumeChanged,
		Data: map[string]interface{}{
			"target_id": targetID,
			"level_db":  next.LevelDB,
			"muted":     next.Muted,
			"percent":   pct,
		},
	})
	return nil
}

// schedulePersist debounces writes to last_volume.json so rapid
// rotary-encoder input doesn't generate a write per tick.
func (c *Controller) schedulePersist(ts *targetState, targetID string) {
	if ts.timer != nil {
		ts.timer.Stop()
	}
	ts.pending = true
	ts.timer = time.AfterFunc(debounceDelay, func() {
		ts.mu.Lock()
		if !ts.pending {
			ts.mu.Unlock()
			return
		}
		ts.pending = false
		level := ts.current.LevelDB
		ts.mu.Unlock()

		if c.lastVolume == nil {
			return
		}
		if err := c.lastVolume.set(targetID, level); err != nil {
			// Persistence failures never fail playback; last_volume.json is
			// best-effort and retried on the next debounced write.
			_ = err
		}
	})
}
