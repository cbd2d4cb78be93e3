package podcastprogress_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leodurandfr/milo/internal/podcastprogress"
)

func newTempService(t *testing.T) *podcastprogress.Service {
	t.Helper()
	dir := t.TempDir()
	s, err := podcastprogress.New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestOnPosition_LoadRoundTrips(t *testing.T) {
	s := newTempService(t)

	s.OnPosition("ep-1", 123, 1800)

	p, ok := s.Load("ep-1")
	if !ok {
		t.Fatal("Load() ok = false, want true")
	}
	if p.PositionSeconds != 123 || p.DurationSeconds != 1800 {
		t.Errorf("progress = %+v, want position=123 duration=1800", p)
	}
	if p.Completed {
		t.Error("Completed = true, want false")
	}
}

func TestOnPosition_NearEndMarksCompletedAndResetsPosition(t *testing.T) {
	s := newTempService(t)

	s.OnPosition("ep-2", 1797, 1800)

	p, ok := s.Load("ep-2")
	if !ok {
		t.Fatal("Load() ok = false, want true")
	}
	if !p.Completed {
		t.Error("Completed = false, want true (duration - position <= 5s)")
	}
	if p.PositionSeconds != 0 {
		t.Errorf("PositionSeconds = %d, want 0 after completion", p.PositionSeconds)
	}
}

func TestLoad_UnknownEpisode_ReturnsFalse(t *testing.T) {
	s := newTempService(t)

	_, ok := s.Load("missing")
	if ok {
		t.Error("Load() ok = true for unknown episode, want false")
	}
}

func TestMarkCompleted_ForcesCompletionAndResetsPosition(t *testing.T) {
	s := newTempService(t)
	s.OnPosition("ep-3", 500, 1800)

	s.MarkCompleted("ep-3")

	p, _ := s.Load("ep-3")
	if !p.Completed || p.PositionSeconds != 0 {
		t.Errorf("progress = %+v, want completed=true position=0", p)
	}
}

func TestClose_FlushesDirtyEntriesToDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := podcastprogress.New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.OnPosition("ep-4", 42, 600)
	s.Close()

	data, err := os.ReadFile(filepath.Join(dir, "podcast_data.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v, want persisted file after Close", err)
	}
	if len(data) == 0 {
		t.Error("persisted file is empty")
	}
}

func TestNew_ReloadsPersistedProgress(t *testing.T) {
	dir := t.TempDir()
	s1, err := podcastprogress.New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s1.OnPosition("ep-5", 77, 900)
	s1.Close()

	s2, err := podcastprogress.New(dir)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer s2.Close()

	p, ok := s2.Load("ep-5")
	if !ok {
		t.Fatal("Load() ok = false, want progress reloaded from disk")
	}
	if p.PositionSeconds != 77 {
		t.Errorf("PositionSeconds = %d, want 77", p.PositionSeconds)
	}
}
