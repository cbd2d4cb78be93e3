package plugins

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/plugin"
	"github.com/leodurandfr/milo/internal/supervisor"
)

const (
	bluetoothReadinessTimeout = 5 * time.Second
	bluetoothPollInterval     = 3 * time.Second
)

// Bluetooth receives audio from a paired A2DP source through a bridge pair:
// a pairing/agent daemon and a player unit that relays into ALSA. Both
// units must reach active before the plugin reports Ready.
type Bluetooth struct {
	plugin.Base
	playerUnit string

	mu         sync.Mutex
	cancelPoll context.CancelFunc
	pollWg     sync.WaitGroup
}

func NewBluetooth(sup supervisor.Controller, reporter plugin.StateReporter) *Bluetooth {
	return &Bluetooth{
		Base: plugin.Base{
			Source:   models.SourceBluetooth,
			Unit:     "milo-bluetooth-daemon.service",
			Sup:      sup,
			Reporter: reporter,
		},
		playerUnit: "milo-bluetooth-player.service",
	}
}

func (b *Bluetooth) Source() models.AudioSource { return models.SourceBluetooth }

func (b *Bluetooth) Initialize(ctx context.Context) error { return nil }

func (b *Bluetooth) Start(ctx context.Context) error {
	if err := b.StartUnit(ctx); err != nil {
		return err
	}
	if err := b.Sup.Start(ctx, b.playerUnit); err != nil {
		b.ReportState(ctx, models.StateError)
		return err
	}

	if err := b.Sup.WaitUntil(ctx, b.playerUnit, supervisor.StateActive, bluetoothReadinessTimeout); err != nil {
		b.ReportState(ctx, models.StateError)
		return fmt.Errorf("bluetooth: player unit readiness: %w", err)
	}

	b.ReportState(ctx, models.StateReady)
	b.startPolling()
	return nil
}

func (b *Bluetooth) Stop(ctx context.Context) error {
	b.stopPolling()
	if err := b.Sup.Stop(ctx, b.playerUnit); err != nil {
		return err
	}
	return b.StopUnit(ctx)
}

func (b *Bluetooth) startPolling() {
	pollCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.cancelPoll = cancel
	b.mu.Unlock()

	b.pollWg.Add(1)
	go func() {
		defer b.pollWg.Done()
		ticker := time.NewTicker(bluetoothPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				b.pollMetadata(pollCtx)
			}
		}
	}()
}

func (b *Bluetooth) stopPolling() {
	b.mu.Lock()
	cancel := b.cancelPoll
	b.cancelPoll = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		b.pollWg.Wait()
	}
}

// pollMetadata queries BlueZ's MediaPlayer1 interface over D-Bus for AVRCP
// track metadata and connection status.
func (b *Bluetooth) pollMetadata(ctx context.Context) {
	if err := b.Throttle(ctx); err != nil {
		return
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return
	}
	defer conn.Close()

	obj := conn.Object("org.bluez", "/")
	call := obj.CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0)
	if call.Err != nil {
		return
	}

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := call.Store(&objects); err != nil {
		return
	}

	var playerPath dbus.ObjectPath
	var devicePath dbus.ObjectPath
	for path, ifaces := range objects {
		if _, ok := ifaces["org.bluez.MediaPlayer1"]; ok {
			playerPath = path
		}
		if dev, ok := ifaces["org.bluez.Device1"]; ok {
			if connected, ok := dev["Connected"].Value().(bool); ok && connected {
				devicePath = path
			}
		}
	}

	meta := map[string]interface{}{"is_playing": false}

	if devicePath != "" {
		devObj := conn.Object("org.bluez", devicePath)
		if name, err := devObj.GetProperty("org.bluez.Device1.Name"); err == nil {
			meta["device_name"] = name.Value()
		}
		if addr, err := devObj.GetProperty("org.bluez.Device1.Address"); err == nil {
			meta["mac"] = addr.Value()
		}
	}

	if playerPath != "" {
		playerObj := conn.Object("org.bluez", playerPath)
		if status, err := playerObj.GetProperty("org.bluez.MediaPlayer1.Status"); err == nil {
			if s, ok := status.Value().(string); ok {
				meta["is_playing"] = s == "playing"
			}
		}
	}

	b.UpdateMetadata(ctx, meta)
}

func (b *Bluetooth) Status() map[string]interface{} {
	return map[string]interface{}{"source": string(models.SourceBluetooth)}
}

// HandleCommand acknowledges play/pause/resume/stop without sending any
// AVRCP control to the connected device; other names return
// models.ErrUnknownCommand.
func (b *Bluetooth) HandleCommand(_ context.Context, name string, _ map[string]interface{}) (interface{}, error) {
	switch name {
	case "play", "pause", "resume", "stop":
		return nil, nil
	default:
		return nil, models.ErrUnknownCommand
	}
}

var _ plugin.Plugin = (*Bluetooth)(nil)
