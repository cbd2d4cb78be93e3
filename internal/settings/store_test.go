package settings_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leodurandfr/milo/internal/settings"
)

func newTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "milo-settings-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestOpen_MissingFile_ReturnsDefaults(t *testing.T) {
	dir := newTempDir(t)
	store, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	v, ok := store.Get("language")
	if !ok {
		t.Fatal("Get(language) ok = false, want true")
	}
	if v != "en" {
		t.Errorf("language = %v, want \"en\"", v)
	}
}

func TestSet_PersistsAndReloads(t *testing.T) {
	dir := newTempDir(t)
	store, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if err := store.Set("spotify.auto_disconnect_delay", float64(120)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := os.Stat(store.Path()); err != nil {
		t.Errorf("expected settings.json to exist after Set, got: %v", err)
	}

	reopened, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("re-Open() error = %v", err)
	}
	defer reopened.Close()

	v, ok := reopened.Get("spotify.auto_disconnect_delay")
	if !ok || v != float64(120) {
		t.Errorf("auto_disconnect_delay = %v (ok=%v), want 120", v, ok)
	}
}

func TestSet_NestedPathCreatesIntermediateObjects(t *testing.T) {
	dir := newTempDir(t)
	store, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if err := store.Set("screen.brightness_on", float64(42)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, ok := store.Get("screen.brightness_on")
	if !ok || v != float64(42) {
		t.Errorf("screen.brightness_on = %v (ok=%v), want 42", v, ok)
	}
}

func TestCorruptJSON_RecoversFromBackup(t *testing.T) {
	dir := newTempDir(t)
	store, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.Set("language", "fr"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	store.Close()

	// Corrupt the primary file; a backup copy should already exist.
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	recovered, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("Open() after corruption error = %v", err)
	}
	defer recovered.Close()

	v, ok := recovered.Get("language")
	if !ok || v != "fr" {
		t.Errorf("language after recovery = %v (ok=%v), want \"fr\" from backup", v, ok)
	}
}

func TestCorruptJSON_NoBackup_FallsBackToDefaults(t *testing.T) {
	dir := newTempDir(t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{bad"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	v, ok := store.Get("language")
	if !ok || v != "en" {
		t.Errorf("language = %v (ok=%v), want default \"en\"", v, ok)
	}
}

func TestWatch_DeliversChangeAfterPersistence(t *testing.T) {
	dir := newTempDir(t)
	store, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	ch, cancel := store.Watch("volume")
	defer cancel()

	if err := store.Set("volume.startup_volume_db", float64(-10)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	select {
	case change := <-ch:
		if change.Path != "volume.startup_volume_db" {
			t.Errorf("change.Path = %q, want %q", change.Path, "volume.startup_volume_db")
		}
		if change.New != float64(-10) {
			t.Errorf("change.New = %v, want -10", change.New)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch notification")
	}
}

func TestWatch_IgnoresNonMatchingPrefix(t *testing.T) {
	dir := newTempDir(t)
	store, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	ch, cancel := store.Watch("routing")
	defer cancel()

	if err := store.Set("language", "de"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	select {
	case change := <-ch:
		t.Fatalf("unexpected notification for unrelated path: %+v", change)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSnapshot_DecodesTypedSettings(t *testing.T) {
	dir := newTempDir(t)
	store, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	snap, err := store.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Volume.MinDB != -60 {
		t.Errorf("Volume.MinDB = %v, want -60", snap.Volume.MinDB)
	}
	if len(snap.Dock.EnabledApps) == 0 {
		t.Error("Dock.EnabledApps should not be empty by default")
	}
}
