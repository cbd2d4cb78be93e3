// Package supervisor abstracts control of host-managed service units over
// systemd's D-Bus API, so the rest of Milō never shells out to systemctl.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/leodurandfr/milo/internal/models"
)

// UnitState mirrors systemd's ActiveState for a single unit.
type UnitState string

const (
	StateInactive     UnitState = "inactive"
	StateActivating   UnitState = "activating"
	StateActive       UnitState = "active"
	StateDeactivating UnitState = "deactivating"
	StateFailed       UnitState = "failed"
)

const (
	dbusDest    = "org.freedesktop.systemd1"
	dbusPath    = "/org/freedesktop/systemd1"
	managerIface = "org.freedesktop.systemd1.Manager"
	unitIface    = "org.freedesktop.systemd1.Unit"
	pollInterval = 200 * time.Millisecond
)

// Supervisor talks to the systemd1 manager object over the system bus.
// All public operations are safe for concurrent use; systemd itself
// serializes unit job execution.
type Supervisor struct {
	conn *dbus.Conn
}

// Connect opens a connection to the system (or, if useSessionBus, session)
// D-Bus daemon. useSessionBus exists so tests and non-privileged dev hosts
// can run against a user-level systemd instance.
func Connect(useSessionBus bool) (*Supervisor, error) {
	var conn *dbus.Conn
	var err error
	if useSessionBus {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("supervisor: connect to bus: %w", err)
	}
	return &Supervisor{conn: conn}, nil
}

// Close releases the D-Bus connection.
func (s *Supervisor) Close() error {
	return s.conn.Close()
}

func (s *Supervisor) manager() dbus.BusObject {
	return s.conn.Object(dbusDest, dbus.ObjectPath(dbusPath))
}

// Start requests the unit be activated. Idempotent: starting an
// already-active unit returns nil.
func (s *Supervisor) Start(ctx context.Context, unit string) error {
	return s.job(ctx, "StartUnit", unit)
}

// Stop requests the unit be deactivated. Idempotent: stopping an
// already-inactive unit returns nil.
func (s *Supervisor) Stop(ctx context.Context, unit string) error {
	return s.job(ctx, "StopUnit", unit)
}

// Restart requests the unit be restarted (stop+start as a single systemd job).
func (s *Supervisor) Restart(ctx context.Context, unit string) error {
	return s.job(ctx, "RestartUnit", unit)
}

func (s *Supervisor) job(ctx context.Context, method, unit string) error {
	var jobPath dbus.ObjectPath
	call := s.manager().CallWithContext(ctx, managerIface+"."+method, 0, unit, "replace")
	if err := call.Store(&jobPath); err != nil {
		return translateDBusErr(err)
	}
	slog.Debug("supervisor: job queued", "method", method, "unit", unit, "job", jobPath)
	return nil
}

// Status returns the unit's current ActiveState.
func (s *Supervisor) Status(ctx context.Context, unit string) (UnitState, error) {
	var unitPath dbus.ObjectPath
	call := s.manager().CallWithContext(ctx, managerIface+".GetUnit", 0, unit)
	if err := call.Store(&unitPath); err != nil {
		// Unit never loaded is not an error here — it's simply inactive.
		if dbusErrName(err) == "org.freedesktop.systemd1.NoSuchUnit" {
			return StateInactive, nil
		}
		return "", translateDBusErr(err)
	}

	unitObj := s.conn.Object(dbusDest, unitPath)
	v, err := unitObj.GetProperty(unitIface + ".ActiveState")
	if err != nil {
		return "", translateDBusErr(err)
	}
	state, _ := v.Value().(string)
	return UnitState(state), nil
}

// WaitUntil polls Status until it matches target or timeout elapses.
func (s *Supervisor) WaitUntil(ctx context.Context, unit string, target UnitState, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		state, err := s.Status(ctx, unit)
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
		case <-ticker.C:
		}
	}
}

func dbusErrName(err error) string {
	if de, ok := err.(dbus.Error); ok {
		return de.Name
	}
	return ""
}

func translateDBusErr(err error) error {
	switch dbusErrName(err) {
	case "org.freedesktop.systemd1.NoSuchUnit":
		return models.ErrUnitNotFound
	case "org.freedesktop.DBus.Error.AccessDenied", "org.freedesktop.PolicyKit1.Error.NotAuthorized":
		return models.ErrPermissionDenied
	default:
		return err
	}
}
