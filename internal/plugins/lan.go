package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/plugin"
	"github.com/leodurandfr/milo/internal/supervisor"
	"github.com/leodurandfr/milo/internal/zeroconf"
)

const (
	lanPacketWindow    = 5 * time.Second
	lanActiveFloor     = 2 * time.Second
	lanPollInterval    = 200 * time.Millisecond
	lanMetadataRefresh = 2 * time.Second
)

// LAN receives audio from another host on the network over RTP, with a
// companion FEC repair channel and a small control channel the receiver
// process exposes for status. It is the one plugin that also advertises
// itself over mDNS so sender devices can find this host.
type LAN struct {
	plugin.Base

	rtpPort     int
	repairPort  int
	controlAddr string
	mdnsName    string

	mu         sync.Mutex
	cancelPoll context.CancelFunc
	pollWg     sync.WaitGroup
	mdnsCancel context.CancelFunc
}

func NewLAN(sup supervisor.Controller, reporter plugin.StateReporter, rtpPort, repairPort int, controlAddr, mdnsName string) *LAN {
	return &LAN{
		Base: plugin.Base{
			Source:   models.SourceLAN,
			Unit:     "milo-lan-receiver.service",
			Sup:      sup,
			Reporter: reporter,
		},
		rtpPort:     rtpPort,
		repairPort:  repairPort,
		controlAddr: controlAddr,
		mdnsName:    mdnsName,
	}
}

func (l *LAN) Source() models.AudioSource { return models.SourceLAN }

func (l *LAN) Initialize(ctx context.Context) error { return nil }

type lanStatus struct {
	PacketSeen bool   `json:"packet_seen"`
	SenderName string `json:"sender_name"`
	IsPlaying  bool   `json:"is_playing"`
}

func (l *LAN) queryStatus(ctx context.Context) (lanStatus, error) {
	if err := l.Throttle(ctx); err != nil {
		return lanStatus{}, err
	}
	d := net.Dialer{Timeout: 500 * time.Millisecond}
	conn, err := d.DialContext(ctx, "tcp", l.controlAddr)
	if err != nil {
		return lanStatus{}, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"cmd":"status"}` + "\n")); err != nil {
		return lanStatus{}, err
	}
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))

	var status lanStatus
	if err := json.NewDecoder(conn).Decode(&status); err != nil {
		return lanStatus{}, err
	}
	return status, nil
}

// Start waits for the unit to become ready per spec §4.6: active and either
// a packet observed within 5s, or simply active for 2s, whichever comes
// first. It also begins advertising this host on mDNS so senders can find
// it — advertisement continues for the plugin's whole active lifetime.
func (l *LAN) Start(ctx context.Context) error {
	if err := l.StartUnit(ctx); err != nil {
		return err
	}

	start := time.Now()
	deadline := start.Add(lanPacketWindow)
	floor := start.Add(lanActiveFloor)

	ticker := time.NewTicker(lanPollInterval)
	defer ticker.Stop()
loop:
	for {
		if status, err := l.queryStatus(ctx); err == nil && status.PacketSeen {
			break loop
		}
		if time.Now().After(floor) || time.Now().After(deadline) {
			break loop
		}
		select {
		case <-ctx.Done():
			l.ReportState(ctx, models.StateError)
			return ctx.Err()
		case <-ticker.C:
		}
	}

	l.ReportState(ctx, models.StateReady)
	l.startAdvertising()
	l.startPolling()
	return nil
}

func (l *LAN) Stop(ctx context.Context) error {
	l.stopAdvertising()
	l.stopPolling()
	return l.StopUnit(ctx)
}

func (l *LAN) startAdvertising() {
	advCtx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.mdnsCancel = cancel
	l.mu.Unlock()

	controlPort := 0
	if _, portStr, err := net.SplitHostPort(l.controlAddr); err == nil {
		fmt.Sscanf(portStr, "%d", &controlPort)
	}
	svc := zeroconf.New(l.mdnsName, controlPort)
	go func() {
		if err := svc.Start(advCtx); err != nil {
			// Advertisement is a convenience, not a readiness requirement.
			return
		}
	}()
}

func (l *LAN) stopAdvertising() {
	l.mu.Lock()
	cancel := l.mdnsCancel
	l.mdnsCancel = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (l *LAN) startPolling() {
	pollCtx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.cancelPoll = cancel
	l.mu.Unlock()

	l.pollWg.Add(1)
	go func() {
		defer l.pollWg.Done()
		ticker := time.NewTicker(lanMetadataRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				l.pollOnce(pollCtx)
			}
		}
	}()
}

func (l *LAN) stopPolling() {
	l.mu.Lock()
	cancel := l.cancelPoll
	l.cancelPoll = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		l.pollWg.Wait()
	}
}

func (l *LAN) pollOnce(ctx context.Context) {
	status, err := l.queryStatus(ctx)
	if err != nil {
		return
	}
	l.UpdateMetadata(ctx, map[string]interface{}{
		"sender_name": status.SenderName,
		"is_playing":  status.IsPlaying,
	})
}

func (l *LAN) Status() map[string]interface{} {
	return map[string]interface{}{"source": string(models.SourceLAN)}
}

// HandleCommand: the receiver is a passive sink of whatever a sender pushes;
// transport controls are not meaningful on this end beyond acknowledging
// them, matching the approach taken for Bluetooth.
func (l *LAN) HandleCommand(_ context.Context, name string, _ map[string]interface{}) (interface{}, error) {
	switch name {
	case "play", "pause", "resume", "stop":
		return nil, nil
	default:
		return nil, models.ErrUnknownCommand
	}
}

var _ plugin.Plugin = (*LAN)(nil)
