// Package podcastprogress persists per-episode resume positions so a later
// playback can pick up within a few seconds of where a listener left off.
// It owns podcast_data.json's progress section independently of the
// settings store, since updates arrive many times a minute during playback
// and must never contend with the config document's atomic-write path.
package podcastprogress

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/leodurandfr/milo/internal/models"
)

const (
	fileName      = "podcast_data.json"
	flushInterval = 10 * time.Second
)

// Service is the in-memory authority for podcast progress, flushed to disk
// on a fixed interval rather than on every update (spec §4.9).
type Service struct {
	path string

	mu       sync.Mutex
	progress map[string]*models.PodcastProgress
	dirty    map[string]bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New loads podcast_data.json from dir, creating an empty store if absent,
// and starts the periodic-flush goroutine.
func New(dir string) (*Service, error) {
	s := &Service{
		path:     filepath.Join(dir, fileName),
		progress: make(map[string]*models.PodcastProgress),
		dirty:    make(map[string]bool),
		stop:     make(chan struct{}),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.flushLoop()
	return s, nil
}

// Close stops the flush loop and performs one final best-effort flush.
func (s *Service) Close() {
	close(s.stop)
	s.wg.Wait()
	s.flush()
}

// OnPosition records a playback position update, re-evaluating completion.
func (s *Service) OnPosition(episodeUUID string, positionSeconds, durationSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.progress[episodeUUID]
	if p == nil {
		p = &models.PodcastProgress{EpisodeUUID: episodeUUID}
		s.progress[episodeUUID] = p
	}
	p.PositionSeconds = positionSeconds
	p.DurationSeconds = durationSeconds
	p.UpdatedAt = nowUnix()
	p.Evaluate()

	s.dirty[episodeUUID] = true
}

// Load returns the saved progress for an episode, if any.
func (s *Service) Load(episodeUUID string) (models.PodcastProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.progress[episodeUUID]
	if !ok {
		return models.PodcastProgress{}, false
	}
	return *p, true
}

// MarkCompleted force-completes an episode, e.g. when a user skips to end.
func (s *Service) MarkCompleted(episodeUUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.progress[episodeUUID]
	if p == nil {
		p = &models.PodcastProgress{EpisodeUUID: episodeUUID}
		s.progress[episodeUUID] = p
	}
	p.Completed = true
	p.PositionSeconds = 0
	p.UpdatedAt = nowUnix()
	s.dirty[episodeUUID] = true
}

func (s *Service) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush persists the whole progress map if any entry is dirty. Failures are
// logged and left for the next tick; a podcast never fails playback because
// its resume point could not be written.
func (s *Service) flush() {
	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return
	}
	snapshot := make(map[string]models.PodcastProgress, len(s.progress))
	for uuid, p := range s.progress {
		snapshot[uuid] = *p
	}
	s.mu.Unlock()

	if err := writeAtomic(s.path, snapshot); err != nil {
		slog.Warn("podcastprogress: flush failed, will retry next tick", "err", err)
		return
	}

	s.mu.Lock()
	s.dirty = make(map[string]bool)
	s.mu.Unlock()
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var snapshot map[string]models.PodcastProgress
	if err := json.Unmarshal(data, &snapshot); err != nil {
		slog.Warn("podcastprogress: corrupt podcast_data.json, starting empty", "err", err)
		return nil
	}
	for uuid, p := range snapshot {
		cp := p
		s.progress[uuid] = &cp
	}
	return nil
}

func writeAtomic(path string, snapshot map[string]models.PodcastProgress) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// nowUnix is a seam so tests can avoid depending on wall-clock time if ever
// needed; production always uses the real clock.
var nowUnix = func() int64 { return time.Now().Unix() }
