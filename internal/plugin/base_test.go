package plugin_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/plugin"
	"github.com/leodurandfr/milo/internal/supervisor"
)

type report struct {
	state models.PluginState
	meta  map[string]interface{}
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []report
}

func (f *fakeReporter) ReportPluginState(_ context.Context, _ models.AudioSource, state models.PluginState, meta map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report{state, meta})
}

func (f *fakeReporter) snapshot() []report {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]report, len(f.reports))
	copy(out, f.reports)
	return out
}

func TestStartUnit_ReportsStartingThenStartsSupervisorUnit(t *testing.T) {
	reporter := &fakeReporter{}
	sup := supervisor.NewMock()
	b := &plugin.Base{Source: models.SourceRadio, Unit: "milo-radio.service", Sup: sup, Reporter: reporter}

	if err := b.StartUnit(context.Background()); err != nil {
		t.Fatalf("StartUnit() error = %v", err)
	}

	reports := reporter.snapshot()
	if len(reports) != 1 || reports[0].state != models.StateStarting {
		t.Fatalf("reports = %+v, want single Starting report", reports)
	}
	state, _ := sup.Status(context.Background(), "milo-radio.service")
	if state != supervisor.StateActive {
		t.Errorf("unit state = %v, want active", state)
	}
}

func TestStartUnit_SupervisorFailure_ReportsError(t *testing.T) {
	reporter := &fakeReporter{}
	sup := supervisor.NewMock()
	sup.FailUnit("milo-radio.service", models.ErrUnitNotFound)
	b := &plugin.Base{Source: models.SourceRadio, Unit: "milo-radio.service", Sup: sup, Reporter: reporter}

	if err := b.StartUnit(context.Background()); err == nil {
		t.Fatal("StartUnit() error = nil, want ErrUnitNotFound")
	}

	reports := reporter.snapshot()
	if len(reports) != 2 || reports[1].state != models.StateError {
		t.Fatalf("reports = %+v, want [Starting, Error]", reports)
	}
}

func TestStopUnit_IsIdempotent(t *testing.T) {
	reporter := &fakeReporter{}
	sup := supervisor.NewMock()
	b := &plugin.Base{Source: models.SourceRadio, Unit: "milo-radio.service", Sup: sup, Reporter: reporter}

	if err := b.StopUnit(context.Background()); err != nil {
		t.Fatalf("first StopUnit() error = %v", err)
	}
	if err := b.StopUnit(context.Background()); err != nil {
		t.Fatalf("second StopUnit() error = %v", err)
	}
}

func TestUpdateMetadata_CoalescesBurstIntoOneReport(t *testing.T) {
	reporter := &fakeReporter{}
	sup := supervisor.NewMock()
	b := &plugin.Base{Source: models.SourceSpotify, Unit: "milo-spotify.service", Sup: sup, Reporter: reporter}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		b.UpdateMetadata(ctx, map[string]interface{}{"position_ms": i})
	}

	time.Sleep(200 * time.Millisecond)

	reports := reporter.snapshot()
	if len(reports) != 1 {
		t.Fatalf("reports = %+v, want exactly one coalesced report", reports)
	}
	if reports[0].meta["position_ms"] != 4 {
		t.Errorf("meta[position_ms] = %v, want 4 (latest snapshot)", reports[0].meta["position_ms"])
	}
}

func TestWatchUnit_FailureTransitionsToErrorThenInactive(t *testing.T) {
	reporter := &fakeReporter{}
	sup := supervisor.NewMock()
	b := &plugin.Base{Source: models.SourceBluetooth, Unit: "milo-bluetooth.service", Sup: sup, Reporter: reporter}

	if err := b.StartUnit(context.Background()); err != nil {
		t.Fatalf("StartUnit() error = %v", err)
	}
	sup.SetStatus("milo-bluetooth.service", supervisor.StateFailed)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		reports := reporter.snapshot()
		if len(reports) >= 3 {
			if reports[1].state != models.StateError || reports[2].state != models.StateInactive {
				t.Fatalf("reports = %+v, want [...Starting, Error, Inactive]", reports)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("timed out waiting for unit-failure escalation")
}
