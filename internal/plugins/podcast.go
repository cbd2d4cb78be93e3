package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leodurandfr/milo/internal/mediaplayer"
	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/plugin"
	"github.com/leodurandfr/milo/internal/podcastprogress"
	"github.com/leodurandfr/milo/internal/supervisor"
)

const (
	podcastReadinessTimeout = 5 * time.Second
	podcastPollInterval     = 2 * time.Second
)

// allowedSpeeds enumerates the playback speeds set_speed accepts (spec §4.6).
var allowedSpeeds = map[float64]bool{0.5: true, 0.75: true, 1: true, 1.25: true, 1.5: true, 2: true}

// Podcast runs a second instance of the same media player used by Radio,
// and layers episode resume tracking on top via the podcast progress
// service (C9): on reaching Ready for a known episode it seeks to the
// saved position before reporting Connected.
type Podcast struct {
	plugin.Base
	socketPath string
	progress   *podcastprogress.Service

	mu          sync.Mutex
	client      *mediaplayer.Client
	cancelPoll  context.CancelFunc
	pollWg      sync.WaitGroup
	episodeUUID string
	podcastName string
	title       string
	speed       float64
}

func NewPodcast(sup supervisor.Controller, reporter plugin.StateReporter, socketPath string, progress *podcastprogress.Service) *Podcast {
	return &Podcast{
		Base: plugin.Base{
			Source:   models.SourcePodcast,
			Unit:     "milo-podcast.service",
			Sup:      sup,
			Reporter: reporter,
		},
		socketPath: socketPath,
		progress:   progress,
		speed:      1,
	}
}

func (p *Podcast) Source() models.AudioSource { return models.SourcePodcast }

func (p *Podcast) Initialize(ctx context.Context) error { return nil }

func (p *Podcast) Start(ctx context.Context) error {
	if err := p.StartUnit(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(podcastReadinessTimeout)
	for {
		if mediaplayer.Connectable(p.socketPath) {
			break
		}
		if time.Now().After(deadline) {
			p.ReportState(ctx, models.StateError)
			return fmt.Errorf("podcast: IPC socket readiness timed out")
		}
		time.Sleep(100 * time.Millisecond)
	}

	client, err := mediaplayer.Dial(ctx, p.socketPath, nil)
	if err != nil {
		p.ReportState(ctx, models.StateError)
		return fmt.Errorf("podcast: connect IPC socket: %w", err)
	}

	p.mu.Lock()
	p.client = client
	episodeUUID := p.episodeUUID
	p.mu.Unlock()

	p.ReportState(ctx, models.StateReady)

	// Progress resume law (spec §4.9): seek before reporting Connected.
	if episodeUUID != "" {
		if saved, ok := p.progress.Load(episodeUUID); ok && saved.ShouldResume() {
			if err := client.Seek(ctx, float64(saved.PositionSeconds)); err != nil {
				slog.Warn("podcast: resume seek failed", "episode_uuid", episodeUUID, "err", err)
			}
		}
	}

	p.ReportState(ctx, models.StateConnected)
	p.startPolling()
	return nil
}

func (p *Podcast) Stop(ctx context.Context) error {
	p.stopPolling()

	p.mu.Lock()
	episodeUUID := p.episodeUUID
	p.mu.Unlock()
	if episodeUUID != "" {
		if pos, dur := p.lastKnownPosition(ctx), p.lastKnownDuration(ctx); dur > 0 {
			p.progress.OnPosition(episodeUUID, pos, dur)
		}
	}

	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client != nil {
		client.Close()
	}

	return p.StopUnit(ctx)
}

func (p *Podcast) lastKnownPosition(ctx context.Context) int {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return 0
	}
	var pos float64
	_ = client.GetProperty(ctx, "time-pos", &pos)
	return int(pos)
}

func (p *Podcast) lastKnownDuration(ctx context.Context) int {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return 0
	}
	var dur float64
	_ = client.GetProperty(ctx, "duration", &dur)
	return int(dur)
}

func (p *Podcast) startPolling() {
	pollCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancelPoll = cancel
	p.mu.Unlock()

	p.pollWg.Add(1)
	go func() {
		defer p.pollWg.Done()
		ticker := time.NewTicker(podcastPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				p.pollOnce(pollCtx)
			}
		}
	}()
}

func (p *Podcast) stopPolling() {
	p.mu.Lock()
	cancel := p.cancelPoll
	p.cancelPoll = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		p.pollWg.Wait()
	}
}

func (p *Podcast) pollOnce(ctx context.Context) {
	p.mu.Lock()
	client := p.client
	episodeUUID := p.episodeUUID
	podcastName := p.podcastName
	title := p.title
	speed := p.speed
	p.mu.Unlock()
	if client == nil {
		return
	}
	if err := p.Throttle(ctx); err != nil {
		return
	}

	var paused bool
	_ = client.GetProperty(ctx, "pause", &paused)
	var cacheBuffering bool
	_ = client.GetProperty(ctx, "paused-for-cache", &cacheBuffering)
	var posF, durF float64
	_ = client.GetProperty(ctx, "time-pos", &posF)
	_ = client.GetProperty(ctx, "duration", &durF)

	pos, dur := int(posF), int(durF)
	if episodeUUID != "" && dur > 0 {
		p.progress.OnPosition(episodeUUID, pos, dur)
	}

	p.UpdateMetadata(ctx, map[string]interface{}{
		"episode_uuid":   episodeUUID,
		"podcast_name":   podcastName,
		"title":          title,
		"position_s":     pos,
		"duration_s":     dur,
		"playback_speed": speed,
		"is_buffering":   cacheBuffering,
		"is_playing":     !paused,
	})
}

func (p *Podcast) Status() map[string]interface{} {
	return map[string]interface{}{"source": string(models.SourcePodcast)}
}

// HandleCommand additionally supports seek(position_s) and
// set_speed(x ∈ {0.5,0.75,1,1.25,1.5,2}) per spec §4.6. play expects
// args {"episode_uuid", "podcast_name", "title", "stream_url"}.
func (p *Podcast) HandleCommand(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil, models.ErrNotSupported
	}

	switch name {
	case "play", "resume":
		if url, ok := args["stream_url"].(string); ok && url != "" {
			p.mu.Lock()
			p.episodeUUID, _ = args["episode_uuid"].(string)
			p.podcastName, _ = args["podcast_name"].(string)
			p.title, _ = args["title"].(string)
			episodeUUID := p.episodeUUID
			p.mu.Unlock()
			if err := client.LoadFile(ctx, url); err != nil {
				return nil, err
			}
			// Progress resume law (spec §4.9): a play that names an episode
			// seeks to its saved position before playback resumes, same as
			// the Start-time resume path for a source switch that already
			// knows its episode.
			if episodeUUID != "" {
				if saved, ok := p.progress.Load(episodeUUID); ok && saved.ShouldResume() {
					if err := client.Seek(ctx, float64(saved.PositionSeconds)); err != nil {
						slog.Warn("podcast: resume seek failed", "episode_uuid", episodeUUID, "err", err)
					}
				}
			}
		}
		return nil, client.SetProperty(ctx, "pause", false)
	case "pause":
		return nil, client.SetProperty(ctx, "pause", true)
	case "stop":
		return nil, client.SetProperty(ctx, "pause", true)
	case "seek":
		posSeconds, ok := args["position_s"].(float64)
		if !ok {
			return nil, models.ErrBadRequest("seek requires numeric position_s")
		}
		return nil, client.Seek(ctx, posSeconds)
	case "set_speed":
		speed, ok := args["speed"].(float64)
		if !ok || !allowedSpeeds[speed] {
			return nil, models.ErrBadRequest("set_speed requires speed in {0.5,0.75,1,1.25,1.5,2}")
		}
		if err := client.SetProperty(ctx, "speed", speed); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.speed = speed
		p.mu.Unlock()
		return nil, nil
	default:
		return nil, models.ErrUnknownCommand
	}
}

var _ plugin.Plugin = (*Podcast)(nil)
