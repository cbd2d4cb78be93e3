package statemachine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leodurandfr/milo/internal/events"
	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/plugin"
	"github.com/leodurandfr/milo/internal/statemachine"
)

// fakePlugin is driven entirely by the test: Start/Stop push plugin states
// through whichever StateMachine it was registered with, letting tests
// simulate slow, failing, or well-behaved plugins without touching
// supervisor or D-Bus at all.
type fakePlugin struct {
	source    models.AudioSource
	reporter  plugin.StateReporter
	startErr  error
	stopErr   error
	readyWait time.Duration
	noReport  bool
}

func (f *fakePlugin) Source() models.AudioSource         { return f.source }
func (f *fakePlugin) Initialize(_ context.Context) error { return nil }
func (f *fakePlugin) Status() map[string]interface{}     { return nil }
func (f *fakePlugin) HandleCommand(_ context.Context, _ string, _ map[string]interface{}) (interface{}, error) {
	return nil, models.ErrUnknownCommand
}

func (f *fakePlugin) Start(ctx context.Context) error {
	f.reporter.ReportPluginState(ctx, f.source, models.StateStarting, nil)
	if f.startErr != nil {
		f.reporter.ReportPluginState(ctx, f.source, models.StateError, nil)
		return f.startErr
	}
	if f.noReport {
		return nil
	}
	go func() {
		if f.readyWait > 0 {
			time.Sleep(f.readyWait)
		}
		f.reporter.ReportPluginState(ctx, f.source, models.StateReady, map[string]interface{}{"ok": true})
	}()
	return nil
}

func (f *fakePlugin) Stop(ctx context.Context) error {
	f.reporter.ReportPluginState(ctx, f.source, models.StateStopping, nil)
	if f.stopErr != nil {
		return f.stopErr
	}
	if f.noReport {
		return nil
	}
	go f.reporter.ReportPluginState(ctx, f.source, models.StateInactive, nil)
	return nil
}

var _ plugin.Plugin = (*fakePlugin)(nil)

func newTestSM(plugins ...*fakePlugin) *statemachine.StateMachine {
	bus := events.NewBus()
	registry := make(map[models.AudioSource]plugin.Plugin, len(plugins))
	for _, p := range plugins {
		registry[p.source] = p
	}
	sm := statemachine.New(registry, bus)
	for _, p := range plugins {
		p.reporter = sm
	}
	return sm
}

func TestRequestSource_ActivatesTargetAndReachesReady(t *testing.T) {
	spotify := &fakePlugin{source: models.SourceSpotify}
	sm := newTestSM(spotify)

	if err := sm.RequestSource(context.Background(), models.SourceSpotify); err != nil {
		t.Fatalf("RequestSource() error = %v", err)
	}

	snap := sm.Snapshot()
	if snap.ActiveSource != models.SourceSpotify || snap.PluginState != models.StateReady {
		t.Fatalf("snapshot = %+v, want active=spotify state=ready", snap)
	}
	if snap.Transitioning {
		t.Error("Transitioning = true after RequestSource returned")
	}
}

func TestRequestSource_SwitchesBetweenSources(t *testing.T) {
	spotify := &fakePlugin{source: models.SourceSpotify}
	radio := &fakePlugin{source: models.SourceRadio}
	sm := newTestSM(spotify, radio)

	if err := sm.RequestSource(context.Background(), models.SourceSpotify); err != nil {
		t.Fatalf("first RequestSource() error = %v", err)
	}
	if err := sm.RequestSource(context.Background(), models.SourceRadio); err != nil {
		t.Fatalf("second RequestSource() error = %v", err)
	}

	snap := sm.Snapshot()
	if snap.ActiveSource != models.SourceRadio || snap.PluginState != models.StateReady {
		t.Fatalf("snapshot = %+v, want active=radio state=ready", snap)
	}
}

func TestRequestSource_SameTargetIsNoop(t *testing.T) {
	spotify := &fakePlugin{source: models.SourceSpotify}
	sm := newTestSM(spotify)

	if err := sm.RequestSource(context.Background(), models.SourceSpotify); err != nil {
		t.Fatalf("first RequestSource() error = %v", err)
	}
	if err := sm.RequestSource(context.Background(), models.SourceSpotify); err != nil {
		t.Fatalf("second RequestSource() (same target) error = %v", err)
	}
}

func TestRequestSource_StartTimeout_ForcesError(t *testing.T) {
	stuck := &fakePlugin{source: models.SourceRadio, noReport: true}
	sm := newTestSM(stuck)

	done := make(chan error, 1)
	go func() { done <- sm.RequestSource(context.Background(), models.SourceRadio) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("RequestSource() error = nil, want timeout error")
		}
	case <-time.After(20 * time.Second):
		t.Fatal("RequestSource did not return within the 15s transition timeout plus margin")
	}

	snap := sm.Snapshot()
	if snap.PluginState != models.StateError {
		t.Fatalf("PluginState = %v, want Error after start timeout", snap.PluginState)
	}
}

func TestRequestSource_ConcurrentSameTarget_ReturnsBusy(t *testing.T) {
	slow := &fakePlugin{source: models.SourceSpotify, readyWait: 300 * time.Millisecond}
	sm := newTestSM(slow)

	firstDone := make(chan struct{})
	go func() {
		sm.RequestSource(context.Background(), models.SourceSpotify)
		close(firstDone)
	}()

	time.Sleep(20 * time.Millisecond)
	err := sm.RequestSource(context.Background(), models.SourceSpotify)
	if !errors.Is(err, models.ErrBusy) {
		t.Fatalf("RequestSource() error = %v, want ErrBusy for concurrent same-target call", err)
	}

	<-firstDone
}

func TestReportPluginState_DropsReportFromInactiveSource(t *testing.T) {
	spotify := &fakePlugin{source: models.SourceSpotify}
	sm := newTestSM(spotify)

	sm.ReportPluginState(context.Background(), models.SourceBluetooth, models.StateReady, map[string]interface{}{"x": 1})

	snap := sm.Snapshot()
	if snap.ActiveSource == models.SourceBluetooth {
		t.Fatal("report from non-active source was applied")
	}
}
