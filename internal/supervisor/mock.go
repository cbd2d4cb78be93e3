package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/leodurandfr/milo/internal/models"
)

// Mock is an in-memory Controller for tests and non-systemd dev hosts. Unit
// states transition synchronously on Start/Stop/Restart, mirroring the
// teacher's MemStore-for-tests convention.
type Mock struct {
	mu       sync.Mutex
	states   map[string]UnitState
	failUnit map[string]error
}

func NewMock() *Mock {
	return &Mock{
		states:   make(map[string]UnitState),
		failUnit: make(map[string]error),
	}
}

// FailUnit makes every operation against unit return err, simulating
// UnitNotFound/PermissionDenied/etc.
func (m *Mock) FailUnit(unit string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUnit[unit] = err
}

func (m *Mock) Start(_ context.Context, unit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUnit[unit]; err != nil {
		return err
	}
	m.states[unit] = StateActive
	return nil
}

func (m *Mock) Stop(_ context.Context, unit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUnit[unit]; err != nil {
		return err
	}
	m.states[unit] = StateInactive
	return nil
}

func (m *Mock) Restart(_ context.Context, unit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUnit[unit]; err != nil {
		return err
	}
	m.states[unit] = StateActive
	return nil
}

func (m *Mock) Status(_ context.Context, unit string) (UnitState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUnit[unit]; err != nil {
		return "", err
	}
	if s, ok := m.states[unit]; ok {
		return s, nil
	}
	return StateInactive, nil
}

func (m *Mock) SetStatus(unit string, state UnitState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[unit] = state
}

func (m *Mock) WaitUntil(ctx context.Context, unit string, target UnitState, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		state, err := m.Status(ctx, unit)
		if err != nil {
			return err
		}
		if state == target {
			return nil
		}
		if time.Now().After(deadline) {
			return models.ErrTimedOut
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

var _ Controller = (*Mock)(nil)
