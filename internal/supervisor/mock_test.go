package supervisor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/supervisor"
)

func TestMock_StartIsIdempotent(t *testing.T) {
	m := supervisor.NewMock()
	ctx := context.Background()

	if err := m.Start(ctx, "milo-spotify.service"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(ctx, "milo-spotify.service"); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	state, err := m.Status(ctx, "milo-spotify.service")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state != supervisor.StateActive {
		t.Errorf("state = %v, want active", state)
	}
}

func TestMock_StatusUnknownUnit_IsInactive(t *testing.T) {
	m := supervisor.NewMock()
	state, err := m.Status(context.Background(), "never-started.service")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state != supervisor.StateInactive {
		t.Errorf("state = %v, want inactive", state)
	}
}

func TestMock_FailUnit_SurfacesUnitNotFound(t *testing.T) {
	m := supervisor.NewMock()
	m.FailUnit("missing.service", models.ErrUnitNotFound)

	if err := m.Start(context.Background(), "missing.service"); !errors.Is(err, models.ErrUnitNotFound) {
		t.Errorf("Start() error = %v, want ErrUnitNotFound", err)
	}
}

func TestMock_WaitUntil_TimesOut(t *testing.T) {
	m := supervisor.NewMock()
	m.SetStatus("stuck.service", supervisor.StateActivating)

	err := m.WaitUntil(context.Background(), "stuck.service", supervisor.StateActive, 20*time.Millisecond)
	if !errors.Is(err, models.ErrTimedOut) {
		t.Errorf("WaitUntil() error = %v, want ErrTimedOut", err)
	}
}

func TestMock_WaitUntil_SucceedsWhenStateReached(t *testing.T) {
	m := supervisor.NewMock()
	m.SetStatus("worker.service", supervisor.StateActive)

	if err := m.WaitUntil(context.Background(), "worker.service", supervisor.StateActive, time.Second); err != nil {
		t.Errorf("WaitUntil() error = %v, want nil", err)
	}
}
