package plugins

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leodurandfr/milo/internal/mediaplayer"
	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/plugin"
	"github.com/leodurandfr/milo/internal/supervisor"
)

const (
	radioReadinessTimeout = 5 * time.Second
	radioPollInterval     = 2 * time.Second
)

// Radio plays an internet radio stream through a locally supervised media
// player instance, controlled entirely over its IPC socket. The catalog
// of stations and their artwork is out of scope here; play_station takes
// the stream URL directly from the caller.
type Radio struct {
	plugin.Base
	socketPath string

	mu          sync.Mutex
	client      *mediaplayer.Client
	cancelPoll  context.CancelFunc
	pollWg      sync.WaitGroup
	stationID   string
	stationName string
}

func NewRadio(sup supervisor.Controller, reporter plugin.StateReporter, socketPath string) *Radio {
	return &Radio{
		Base: plugin.Base{
			Source:   models.SourceRadio,
			Unit:     "milo-radio.service",
			Sup:      sup,
			Reporter: reporter,
		},
		socketPath: socketPath,
	}
}

func (r *Radio) Source() models.AudioSource { return models.SourceRadio }

func (r *Radio) Initialize(ctx context.Context) error { return nil }

// Start brings the player process up and waits for its IPC socket to accept
// connections, per the "socket connectable" readiness probe in spec §4.6.
func (r *Radio) Start(ctx context.Context) error {
	if err := r.StartUnit(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(radioReadinessTimeout)
	for {
		if mediaplayer.Connectable(r.socketPath) {
			break
		}
		if time.Now().After(deadline) {
			r.ReportState(ctx, models.StateError)
			return fmt.Errorf("radio: IPC socket readiness timed out")
		}
		time.Sleep(100 * time.Millisecond)
	}

	client, err := mediaplayer.Dial(ctx, r.socketPath, nil)
	if err != nil {
		r.ReportState(ctx, models.StateError)
		return fmt.Errorf("radio: connect IPC socket: %w", err)
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()

	r.ReportState(ctx, models.StateReady)
	r.startPolling()
	return nil
}

func (r *Radio) Stop(ctx context.Context) error {
	r.stopPolling()

	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()
	if client != nil {
		client.Close()
	}

	return r.StopUnit(ctx)
}

func (r *Radio) startPolling() {
	pollCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancelPoll = cancel
	r.mu.Unlock()

	r.pollWg.Add(1)
	go func() {
		defer r.pollWg.Done()
		ticker := time.NewTicker(radioPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				r.pollOnce(pollCtx)
			}
		}
	}()
}

func (r *Radio) stopPolling() {
	r.mu.Lock()
	cancel := r.cancelPoll
	r.cancelPoll = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		r.pollWg.Wait()
	}
}

func (r *Radio) pollOnce(ctx context.Context) {
	r.mu.Lock()
	client := r.client
	stationID := r.stationID
	stationName := r.stationName
	r.mu.Unlock()
	if client == nil {
		return
	}
	if err := r.Throttle(ctx); err != nil {
		return
	}

	var paused bool
	_ = client.GetProperty(ctx, "pause", &paused)
	var cacheBuffering bool
	_ = client.GetProperty(ctx, "paused-for-cache", &cacheBuffering)

	r.UpdateMetadata(ctx, map[string]interface{}{
		"station_id":   stationID,
		"station_name": stationName,
		"favicon":      "",
		"is_buffering": cacheBuffering,
		"is_playing":   !paused,
	})
}

func (r *Radio) Status() map[string]interface{} {
	return map[string]interface{}{"source": string(models.SourceRadio)}
}

// HandleCommand additionally supports play_station(id) and mark_broken(id)
// per spec §4.6. play_station expects args {"id", "name", "stream_url"};
// resolving a bare station id to a URL is the caller's responsibility since
// the station catalog is out of scope for this plugin.
func (r *Radio) HandleCommand(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return nil, models.ErrNotSupported
	}

	switch name {
	case "play", "resume":
		return nil, client.SetProperty(ctx, "pause", false)
	case "pause":
		return nil, client.SetProperty(ctx, "pause", true)
	case "stop":
		return nil, client.SetProperty(ctx, "pause", true)
	case "play_station":
		url, _ := args["stream_url"].(string)
		if url == "" {
			return nil, models.ErrBadRequest("play_station requires stream_url")
		}
		id, _ := args["id"].(string)
		stationName, _ := args["name"].(string)
		r.mu.Lock()
		r.stationID = id
		r.stationName = stationName
		r.mu.Unlock()
		return nil, client.LoadFile(ctx, url)
	case "mark_broken":
		// Marking a station broken is a catalog concern; acknowledged here
		// as a no-op so callers can still route the command uniformly.
		return nil, nil
	default:
		return nil, models.ErrUnknownCommand
	}
}

var _ plugin.Plugin = (*Radio)(nil)
