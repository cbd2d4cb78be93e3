// Command milod is Milō's audio orchestrator daemon: it owns the unified
// source state machine, the ALSA routing engine, the five source plugins,
// volume control, and the HTTP/WS boundary, and supervises their backing
// systemd units over D-Bus. Run with --mock to use a mock supervisor (no
// systemd session bus required).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/leodurandfr/milo/internal/api"
	"github.com/leodurandfr/milo/internal/display"
	"github.com/leodurandfr/milo/internal/events"
	"github.com/leodurandfr/milo/internal/maintenance"
	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/plugin"
	"github.com/leodurandfr/milo/internal/plugins"
	"github.com/leodurandfr/milo/internal/podcastprogress"
	"github.com/leodurandfr/milo/internal/routing"
	"github.com/leodurandfr/milo/internal/settings"
	"github.com/leodurandfr/milo/internal/statemachine"
	"github.com/leodurandfr/milo/internal/supervisor"
	"github.com/leodurandfr/milo/internal/volume"
)

func main() {
	var (
		mock           = flag.Bool("mock", false, "use a mock service supervisor (no systemd session bus required)")
		addr           = flag.String("addr", ":8090", "HTTP listen address")
		dataDir        = flag.String("data-dir", "", "data directory (default: ~/.local/share/milo)")
		sessionBus     = flag.Bool("session-bus", false, "connect to the D-Bus session bus instead of the system bus")
		transportURL   = flag.String("transport-url", "http://127.0.0.1:1780/jsonrpc", "multiroom transport JSON-RPC endpoint")
		spotifyPort    = flag.Int("spotify-port", 24879, "local Spotify Connect daemon API port")
		lanRTPPort     = flag.Int("lan-rtp-port", 6000, "LAN receiver RTP port")
		lanRepairPort  = flag.Int("lan-repair-port", 6001, "LAN receiver FEC repair port")
		lanControlAddr = flag.String("lan-control-addr", "127.0.0.1:6002", "LAN receiver control channel address")
		debug          = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if *dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("cannot determine home directory", "err", err)
			os.Exit(1)
		}
		*dataDir = filepath.Join(home, ".local", "share", "milo")
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		slog.Error("cannot create data directory", "path", *dataDir, "err", err)
		os.Exit(1)
	}

	unlock, err := acquireSingleInstanceLock(*dataDir)
	if err != nil {
		slog.Error("another milod instance is already running against this data directory", "path", *dataDir, "err", err)
		os.Exit(1)
	}
	defer unlock()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := settings.Open(*dataDir)
	if err != nil {
		slog.Error("settings store init failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	snap, err := store.Snapshot()
	if err != nil {
		slog.Error("settings snapshot failed", "err", err)
		os.Exit(1)
	}

	bus := events.NewBus()

	var sup supervisor.Controller
	if *mock {
		slog.Info("using mock service supervisor")
		sup = supervisor.NewMock()
	} else {
		real, err := supervisor.Connect(*sessionBus)
		if err != nil {
			slog.Error("supervisor: D-Bus connect failed", "err", err)
			os.Exit(1)
		}
		defer real.Close()
		sup = real
	}

	progress, err := podcastprogress.New(*dataDir)
	if err != nil {
		slog.Error("podcast progress init failed", "err", err)
		os.Exit(1)
	}
	defer progress.Close()

	transport := routing.NewTransportClient(*transportURL)
	routingEngine, err := routing.New(sup, store, bus, transport, *dataDir, routing.DefaultUnitNamer)
	if err != nil {
		slog.Error("routing engine init failed", "err", err)
		os.Exit(1)
	}

	volumeActuator := &dispatchActuator{
		local:  volume.NewAmixerActuator("Master"),
		remote: volume.NewTransportClientActuator(*transportURL),
	}
	volumeCtrl := volume.New(snap.Volume.Limits(), snap.Volume.RestoreLastVolume, volumeActuator, store, bus, *dataDir)

	pluginSet := map[models.AudioSource]plugin.Plugin{
		models.SourceSpotify:   plugins.NewSpotify(sup, nil, *spotifyPort, time.Duration(snap.Spotify.AutoDisconnectDelay)*time.Second),
		models.SourceBluetooth: plugins.NewBluetooth(sup, nil),
		models.SourceLAN:       plugins.NewLAN(sup, nil, *lanRTPPort, *lanRepairPort, *lanControlAddr, "milo"),
		models.SourceRadio:     plugins.NewRadio(sup, nil, filepath.Join(*dataDir, "radio.sock")),
		models.SourcePodcast:   plugins.NewPodcast(sup, nil, filepath.Join(*dataDir, "podcast.sock"), progress),
	}
	registry := plugins.NewRegistry(pluginSet)

	sm := statemachine.New(registry.Plugins(), bus)
	for _, p := range registry.Plugins() {
		if rs, ok := p.(interface{ SetReporter(plugin.StateReporter) }); ok {
			rs.SetReporter(sm)
		}
	}
	routingEngine.BindActiveSourceProvider(sm)
	sm.BindRoutingNotifier(routingEngine)

	if err := registry.InitializeAll(ctx); err != nil {
		slog.Warn("one or more plugins failed to initialize", "err", err)
	}

	if snap.Hardware.Screen != "none" {
		backlight := display.New("GPIO13")
		if err := backlight.SetBrightness(ctx, snap.Screen.BrightnessOn); err != nil {
			slog.Warn("display: initial brightness failed", "err", err)
		}
		if snap.Screen.TimeoutEnabled {
			backlight.ArmIdleTimeout(snap.Screen.BrightnessOn, time.Duration(snap.Screen.TimeoutSeconds)*time.Second)
		}
	}

	maint := maintenance.New(*dataDir)
	go maint.Start(ctx)

	h := api.New(sm, registry, routingEngine, volumeCtrl, store, bus)
	router := api.NewRouter(h)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout, required for the long-lived /ws handler
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("milod listening", "addr", *addr, "mock", *mock, "data_dir", *dataDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	if err := sm.RequestSource(shutCtx, models.SourceNone); err != nil {
		slog.Warn("shutdown: stopping active source failed", "err", err)
	}
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}

// dispatchActuator routes a volume.Set call to the local ALSA mixer for
// volume.LocalTarget and to the multiroom transport's own volume RPC for
// every other target id (a zone owned by a remote transport client).
type dispatchActuator struct {
	local  *volume.AmixerActuator
	remote *volume.TransportClientActuator
}

func (a *dispatchActuator) Apply(ctx context.Context, targetID string, pct int, muted bool) error {
	if targetID == volume.LocalTarget {
		return a.local.Apply(ctx, targetID, pct, muted)
	}
	return a.remote.Apply(ctx, targetID, pct, muted)
}

// acquireSingleInstanceLock takes an exclusive, non-blocking flock on a
// lockfile in dataDir so two milod processes never race on settings.json
// or podcast_data.json. The lock is released automatically on process exit
// even if unlock is never called, but callers should still defer it for a
// clean message on graceful shutdown.
func acquireSingleInstanceLock(dataDir string) (func(), error) {
	path := filepath.Join(dataDir, ".milod.lock")
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lockfile: %w", err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("flock: %w", err)
	}
	return func() {
		unix.Flock(fd, unix.LOCK_UN)
		unix.Close(fd)
	}, nil
}
