// Package settings implements Milō's durable configuration store: a
// dot-path addressable JSON document persisted with atomic temp+rename
// writes, change notification via watch channels, and fsnotify-driven
// reload when the file changes out from under the process.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leodurandfr/milo/internal/models"
)

const (
	fileName      = "settings.json"
	backupDirName = "backups"
)

// Change is a single dot-path mutation delivered to watchers after the new
// value has been durably persisted.
type Change struct {
	Path string
	Old  interface{}
	New  interface{}
}

// watcher is one registered subscription, filtered by path prefix.
type watcher struct {
	prefix string
	ch     chan Change
}

// Store is the exclusive owner of settings.json. Reads are served from an
// in-memory snapshot; writes acquire mu, mutate the snapshot, persist
// atomically, then fan out Change notifications.
type Store struct {
	mu       sync.Mutex
	path     string
	backup   string
	snapshot map[string]interface{}

	watchMu  sync.Mutex
	watchers []*watcher

	fsw *fsnotify.Watcher
}

// Open loads settings.json from dir (creating it with defaults if absent),
// and starts an fsnotify watch on the file for external changes.
func Open(dir string) (*Store, error) {
	s := &Store{
		path:   filepath.Join(dir, fileName),
		backup: filepath.Join(dir, backupDirName),
	}

	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	s.snapshot = snap

	if err := os.MkdirAll(s.backup, 0o755); err != nil {
		slog.Warn("settings: failed to create backup dir", "path", s.backup, "err", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("settings: fsnotify unavailable, external edits will not be picked up", "err", err)
	} else {
		if err := fsw.Add(dir); err != nil {
			slog.Warn("settings: failed to watch config dir", "dir", dir, "err", err)
			fsw.Close()
		} else {
			s.fsw = fsw
			go s.watchExternal()
		}
	}

	return s, nil
}

// Close stops the fsnotify watch.
func (s *Store) Close() error {
	if s.fsw != nil {
		return s.fsw.Close()
	}
	return nil
}

// Path returns the on-disk location of settings.json.
func (s *Store) Path() string { return s.path }

// Snapshot returns the current settings decoded into the typed Settings
// struct, for components that want the whole document rather than a
// dot-path lookup.
func (s *Store) Snapshot() (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out models.Settings
	if err := remarshal(s.snapshot, &out); err != nil {
		return models.Settings{}, err
	}
	return out, nil
}

// Get returns the value at path, or (nil, false) if it is unset.
func (s *Store) Get(path string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lookup(s.snapshot, strings.Split(path, "."))
}

// Set writes value at path, persists it atomically, and notifies matching
// watchers. It never returns ok without the write having reached disk.
func (s *Store) Set(path string, value interface{}) error {
	s.mu.Lock()
	old, _ := lookup(s.snapshot, strings.Split(path, "."))
	next := deepCopyMap(s.snapshot)
	if err := assign(next, strings.Split(path, "."), value); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.writeAtomic(next); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("settings: IOFail: %w", err)
	}
	s.snapshot = next
	s.mu.Unlock()

	s.notify(Change{Path: path, Old: old, New: value})
	return nil
}

// Watch registers a subscriber for changes at or below prefix ("" matches
// everything). The caller MUST eventually call the returned cancel func.
func (s *Store) Watch(prefix string) (<-chan Change, func()) {
	w := &watcher{prefix: prefix, ch: make(chan Change, 16)}
	s.watchMu.Lock()
	s.watchers = append(s.watchers, w)
	s.watchMu.Unlock()

	cancel := func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		for i, existing := range s.watchers {
			if existing == w {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				close(w.ch)
				return
			}
		}
	}
	return w.ch, cancel
}

func (s *Store) notify(c Change) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, w := range s.watchers {
		if w.prefix != "" && !strings.HasPrefix(c.Path, w.prefix) {
			continue
		}
		select {
		case w.ch <- c:
		default:
			slog.Warn("settings: watcher channel full, dropping change", "path", c.Path)
		}
	}
}

// load reads settings.json, falling back to the newest backups/ entry on a
// corrupt file, and to defaults if neither is usable.
func (s *Store) load() (map[string]interface{}, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return toMap(models.DefaultSettings())
		}
		return nil, err
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("settings: corrupt settings.json, attempting backup recovery", "path", s.path, "err", err)
		if recovered, rerr := s.loadNewestBackup(); rerr == nil {
			return recovered, nil
		}
		slog.Warn("settings: no usable backup, falling back to defaults", "path", s.path)
		return toMap(models.DefaultSettings())
	}
	return m, nil
}

func (s *Store) loadNewestBackup() (map[string]interface{}, error) {
	entries, err := os.ReadDir(s.backup)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, errors.New("settings: no backups available")
	}
	sort.Strings(names)
	newest := names[len(names)-1]

	data, err := os.ReadFile(filepath.Join(s.backup, newest))
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	slog.Info("settings: recovered from backup", "file", newest)
	return m, nil
}

// writeAtomic serializes snapshot to a temp file, renames it into place,
// and rotates a timestamped copy into backups/.
func (s *Store) writeAtomic(snapshot map[string]interface{}) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	backupPath := filepath.Join(s.backup, fmt.Sprintf("settings-%s.json", time.Now().UTC().Format("20060102T150405Z")))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		slog.Warn("settings: failed to write backup copy", "err", err)
	}
	pruneBackups(s.backup, 30)

	return nil
}

// pruneBackups keeps only the keep most recent backup files.
func pruneBackups(dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "settings-") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return
	}
	sort.Strings(names)
	for _, n := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, n)); err != nil {
			slog.Warn("settings: failed to prune backup", "file", n, "err", err)
		}
	}
}

// watchExternal reloads the in-memory snapshot when settings.json changes
// on disk without going through Set (e.g. manual edit, config management).
func (s *Store) watchExternal() {
	for {
		select {
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			snap, err := s.load()
			if err != nil {
				slog.Warn("settings: failed to reload after external change", "err", err)
				continue
			}
			s.mu.Lock()
			s.snapshot = snap
			s.mu.Unlock()
			s.notify(Change{Path: "", Old: nil, New: nil})
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("settings: fsnotify error", "err", err)
		}
	}
}
