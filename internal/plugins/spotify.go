// Package plugins holds the five concrete source implementations (spec
// §4.6): Spotify, Bluetooth, LAN, Radio, Podcast. Each embeds plugin.Base
// for lifecycle notification and builds its own readiness probe and
// metadata poller on top of it.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/plugin"
	"github.com/leodurandfr/milo/internal/supervisor"
)

const spotifyReadinessTimeout = 5 * time.Second
const spotifyPollInterval = 3 * time.Second

// Spotify wraps a local Spotify Connect daemon exposing an HTTP
// control+event socket on a fixed port.
type Spotify struct {
	plugin.Base

	apiPort             int
	autoDisconnectDelay time.Duration

	mu          sync.Mutex
	cancelPoll  context.CancelFunc
	pollWg      sync.WaitGroup
	pausedSince time.Time
}

func NewSpotify(sup supervisor.Controller, reporter plugin.StateReporter, apiPort int, autoDisconnectDelay time.Duration) *Spotify {
	return &Spotify{
		Base: plugin.Base{
			Source:   models.SourceSpotify,
			Unit:     "milo-spotify.service",
			Sup:      sup,
			Reporter: reporter,
		},
		apiPort:             apiPort,
		autoDisconnectDelay: autoDisconnectDelay,
	}
}

func (s *Spotify) Source() models.AudioSource { return models.SourceSpotify }

func (s *Spotify) Initialize(ctx context.Context) error { return nil }

// Start brings go-librespot up and waits for its HTTP control socket to
// answer, per the readiness probe in spec §4.6.
func (s *Spotify) Start(ctx context.Context) error {
	if err := s.StartUnit(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(spotifyReadinessTimeout)
	for {
		if s.probe(ctx) {
			s.ReportState(ctx, models.StateReady)
			s.startPolling()
			return nil
		}
		if time.Now().After(deadline) {
			s.ReportState(ctx, models.StateError)
			return fmt.Errorf("spotify: readiness probe timed out")
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (s *Spotify) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.statusURL(), nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *Spotify) statusURL() string {
	return fmt.Sprintf("http://localhost:%d/status", s.apiPort)
}

func (s *Spotify) Stop(ctx context.Context) error {
	s.stopPolling()
	return s.StopUnit(ctx)
}

type spotifyStatus struct {
	PlayerState struct {
		IsPlaying bool `json:"is_playing"`
		IsPaused  bool `json:"is_paused"`
	} `json:"player_state"`
	Track struct {
		Name        string   `json:"name"`
		AlbumName   string   `json:"album_name"`
		ArtistNames []string `json:"artist_names"`
		AlbumCover  string   `json:"album_cover_url"`
		PositionMs  int      `json:"position_ms"`
	} `json:"track"`
}

func (s *Spotify) startPolling() {
	pollCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelPoll = cancel
	s.mu.Unlock()

	s.pollWg.Add(1)
	go func() {
		defer s.pollWg.Done()
		ticker := time.NewTicker(spotifyPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				s.pollOnce(pollCtx)
			}
		}
	}()
}

func (s *Spotify) stopPolling() {
	s.mu.Lock()
	cancel := s.cancelPoll
	s.cancelPoll = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.pollWg.Wait()
	}
}

// pollOnce fetches status and drives the auto-disconnect timer: when
// paused longer than autoDisconnectDelay, the plugin autonomously reports
// Ready (not Inactive) so another source can take the active slot. While
// paused within that window no state is reported.
func (s *Spotify) pollOnce(ctx context.Context) {
	if err := s.Throttle(ctx); err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.statusURL(), nil)
	if err != nil {
		return
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	var status spotifyStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return
	}

	isPlaying := status.PlayerState.IsPlaying && !status.PlayerState.IsPaused

	s.mu.Lock()
	if isPlaying {
		s.pausedSince = time.Time{}
	} else if s.pausedSince.IsZero() {
		s.pausedSince = time.Now()
	} else if s.autoDisconnectDelay > 0 && time.Since(s.pausedSince) > s.autoDisconnectDelay {
		s.pausedSince = time.Time{}
		s.mu.Unlock()
		s.ReportState(ctx, models.StateReady)
		return
	}
	s.mu.Unlock()

	if isPlaying {
		s.ReportState(ctx, models.StateConnected)
	}

	artist := ""
	if len(status.Track.ArtistNames) > 0 {
		artist = strings.Join(status.Track.ArtistNames, ", ")
	}
	s.UpdateMetadata(ctx, map[string]interface{}{
		"title":       status.Track.Name,
		"artist":      artist,
		"album":       status.Track.AlbumName,
		"art_url":     status.Track.AlbumCover,
		"position_ms": status.Track.PositionMs,
		"is_playing":  isPlaying,
	})
}

func (s *Spotify) Status() map[string]interface{} {
	return map[string]interface{}{"source": string(models.SourceSpotify)}
}

func (s *Spotify) HandleCommand(ctx context.Context, name string, _ map[string]interface{}) (interface{}, error) {
	var path string
	var body io.Reader
	switch name {
	case "play", "resume":
		path = "/player/resume"
	case "pause":
		path = "/player/pause"
	case "stop":
		path = "/player/pause"
	case "next":
		path, body = "/player/next", strings.NewReader("{}")
	case "prev":
		path = "/player/prev"
	default:
		return nil, models.ErrUnknownCommand
	}

	url := fmt.Sprintf("http://localhost:%d%s", s.apiPort, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spotify: command %s: %w", name, err)
	}
	defer resp.Body.Close()
	return nil, nil
}

var _ plugin.Plugin = (*Spotify)(nil)
