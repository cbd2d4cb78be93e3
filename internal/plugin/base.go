package plugin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/supervisor"
)

// metadataCoalesceWindow collapses bursts of plugin-reported metadata
// updates into a single report, per spec §4.5.
const metadataCoalesceWindow = 100 * time.Millisecond

// unitWatchInterval is how often Base polls C2 for unit failure while the
// plugin believes itself to be running.
const unitWatchInterval = 2 * time.Second

// pollLimiter bounds the combined rate of every plugin's metadata polls,
// Base's unit-watch ticks, and LAN's readiness probe against D-Bus and the
// local IPC sockets, process-wide. The Spotify, Radio and Podcast readiness
// loops do not go through it. A single host never runs more than one plugin active at a time, but the
// readiness race during a transition can briefly overlap a stopping plugin's
// own watchUnit tick with the starting plugin's probe loop.
var pollLimiter = rate.NewLimiter(rate.Limit(10), 5)

// Base is embedded by every concrete plugin. It owns nothing about
// SystemAudioState — all transitions are reported to a StateReporter
// (the state machine) rather than mutated directly, per spec's component
// ownership rule.
type Base struct {
	Source   models.AudioSource
	Unit     string
	Sup      supervisor.Controller
	Reporter StateReporter

	mu           sync.Mutex
	pendingMeta  map[string]interface{}
	coalesceTmr  *time.Timer
	watchCancel  context.CancelFunc
	watchWg      sync.WaitGroup
	lastReported models.PluginState
}

// SetReporter wires the StateReporter in after construction, breaking the
// circular dependency between a plugin (which needs a reporter) and the
// state machine (whose constructor needs the full plugin map up front).
func (b *Base) SetReporter(r StateReporter) {
	b.Reporter = r
}

// ReportState immediately notifies the state machine of a lifecycle
// transition (start/stop/error), bypassing metadata coalescing.
func (b *Base) ReportState(ctx context.Context, state models.PluginState) {
	b.mu.Lock()
	b.lastReported = state
	b.mu.Unlock()
	b.Reporter.ReportPluginState(ctx, b.Source, state, nil)
}

// UpdateMetadata buffers a metadata snapshot and flushes at most once per
// metadataCoalesceWindow, carrying the latest snapshot when it fires.
func (b *Base) UpdateMetadata(ctx context.Context, meta map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pendingMeta = meta
	if b.coalesceTmr != nil {
		return // a flush is already scheduled; it will pick up the latest snapshot
	}
	b.coalesceTmr = time.AfterFunc(metadataCoalesceWindow, func() {
		b.mu.Lock()
		snapshot := b.pendingMeta
		state := b.lastReported
		b.pendingMeta = nil
		b.coalesceTmr = nil
		b.mu.Unlock()
		b.Reporter.ReportPluginState(ctx, b.Source, state, snapshot)
	})
}

// Throttle blocks until the shared poll budget allows another readiness
// probe or metadata fetch. Concrete plugins call this at the top of each
// poll tick before touching D-Bus or an IPC socket.
func (b *Base) Throttle(ctx context.Context) error {
	return pollLimiter.Wait(ctx)
}

// StartUnit reports Starting, starts the backing service unit, and begins
// watching it for failure (watchUnit). Readiness probing is left to the
// caller (see internal/plugins for concrete probes per §4.6).
func (b *Base) StartUnit(ctx context.Context) error {
	b.ReportState(ctx, models.StateStarting)
	if err := b.Sup.Start(ctx, b.Unit); err != nil {
		b.ReportState(ctx, models.StateError)
		return err
	}
	b.watchUnit()
	return nil
}

// StopUnit stops the backing service unit and reports Inactive. Idempotent.
func (b *Base) StopUnit(ctx context.Context) error {
	b.stopWatch()
	b.ReportState(ctx, models.StateStopping)
	if err := b.Sup.Stop(ctx, b.Unit); err != nil {
		return err
	}
	b.ReportState(ctx, models.StateInactive)
	return nil
}

// watchUnit polls C2.Status until the unit fails, at which point it reports
// Error and automatically requests Stop, per spec §4.5.
func (b *Base) watchUnit() {
	watchCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.watchCancel = cancel
	b.mu.Unlock()

	b.watchWg.Add(1)
	go func() {
		defer b.watchWg.Done()
		ticker := time.NewTicker(unitWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				if err := b.Throttle(watchCtx); err != nil {
					return
				}
				state, err := b.Sup.Status(watchCtx, b.Unit)
				if err != nil {
					continue
				}
				if state == supervisor.StateFailed {
					slog.Warn("plugin: unit failed, reporting error and stopping", "source", b.Source, "unit", b.Unit)
					b.ReportState(watchCtx, models.StateError)
					_ = b.Sup.Stop(watchCtx, b.Unit)
					b.ReportState(watchCtx, models.StateInactive)
					return
				}
			}
		}
	}()
}

func (b *Base) stopWatch() {
	b.mu.Lock()
	cancel := b.watchCancel
	b.watchCancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		b.watchWg.Wait()
	}
}
