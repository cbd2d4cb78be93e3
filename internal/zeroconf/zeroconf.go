// Package zeroconf advertises Milō's LAN receiver over mDNS/DNS-SD so
// sender devices on the same network can discover it without manual
// configuration.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_milo-lan._udp"

// Service manages mDNS service registration for the LAN receiver plugin.
type Service struct {
	name        string // instance name / hostname, e.g. "milo-livingroom"
	controlPort int

	server *zeroconf.Server
}

// New creates a Service advertising the LAN receiver's control port.
func New(name string, controlPort int) *Service {
	return &Service{name: name, controlPort: controlPort}
}

// Start registers the mDNS service and blocks until ctx is cancelled, at
// which point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	txt := []string{"proto=milo-lan-v1"}

	server, err := zeroconf.Register(
		s.name,
		serviceType,
		"local.",
		s.controlPort,
		txt,
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	s.server = server
	slog.Info("zeroconf: advertising LAN receiver", "name", s.name, "port", s.controlPort, "service", serviceType)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: LAN receiver advertisement withdrawn")
	return nil
}

// Browse discovers other Milō LAN receivers until ctx is done, returning
// their instance names.
func Browse(ctx context.Context) ([]string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("zeroconf resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var names []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			names = append(names, e.Instance)
		}
	}()

	if err := resolver.Browse(ctx, serviceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("zeroconf browse: %w", err)
	}

	<-ctx.Done()
	<-done
	return names, nil
}
