package supervisor

import (
	"context"
	"time"
)

// Controller is the interface the rest of Milō depends on instead of the
// concrete D-Bus Supervisor, so plugins, the routing engine, and tests can
// run against a Mock without a live systemd instance.
type Controller interface {
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	Status(ctx context.Context, unit string) (UnitState, error)
	WaitUntil(ctx context.Context, unit string, target UnitState, timeout time.Duration) error
}

var _ Controller = (*Supervisor)(nil)
