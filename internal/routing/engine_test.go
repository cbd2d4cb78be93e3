package routing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leodurandfr/milo/internal/events"
	"github.com/leodurandfr/milo/internal/models"
	"github.com/leodurandfr/milo/internal/routing"
	"github.com/leodurandfr/milo/internal/settings"
	"github.com/leodurandfr/milo/internal/supervisor"
)

type fakeActiveSource struct {
	source models.AudioSource
	active bool
}

func (f fakeActiveSource) ActiveSource() (models.AudioSource, bool) { return f.source, f.active }

func newTransportServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "Server.GetStatus":
			w.Write([]byte(`{"result":{"server":{"groups":[{"id":"g1"},{"id":"g2"}]}}}`))
		case "Group.SetStream":
			w.Write([]byte(`{"result":{}}`))
		default:
			w.Write([]byte(`{"error":{"code":-1,"message":"unknown method"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T) (*routing.Engine, *supervisor.Mock, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mock := supervisor.NewMock()
	srv := newTransportServer(t)
	transport := routing.NewTransportClient(srv.URL)

	eng, err := routing.New(mock, store, events.NewBus(), transport, dir, nil)
	if err != nil {
		t.Fatalf("routing.New: %v", err)
	}
	return eng, mock, dir
}

func TestSet_WritesRoutingEnvFile(t *testing.T) {
	eng, mock, dir := newTestEngine(t)
	mock.SetStatus("milo-multiroom.service", supervisor.StateInactive)

	if err := eng.Set(context.Background(), models.RoutingState{Mode: models.ModeDirect, Equalizer: true}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "routing.env"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "MILO_MODE=direct\nMILO_EQUALIZER=_eq\n"
	if string(data) != want {
		t.Errorf("routing.env = %q, want %q", data, want)
	}
}

func TestSet_SwitchingToMultiroomStartsTransport(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	if err := eng.Set(context.Background(), models.RoutingState{Mode: models.ModeMultiroom}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	state, _ := mock.Status(context.Background(), "milo-multiroom.service")
	if state != supervisor.StateActive {
		t.Errorf("transport unit state = %v, want active", state)
	}
}

func TestSet_RestartsActivePluginUnit(t *testing.T) {
	eng, mock, _ := newTestEngine(t)
	eng.BindActiveSourceProvider(fakeActiveSource{source: models.SourceRadio, active: true})
	mock.SetStatus("milo-radio.service", supervisor.StateActive)

	if err := eng.Set(context.Background(), models.RoutingState{Mode: models.ModeDirect, Equalizer: true}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	state, _ := mock.Status(context.Background(), "milo-radio.service")
	if state != supervisor.StateActive {
		t.Errorf("radio unit state after restart = %v, want active", state)
	}
}

func TestSet_NoActiveSource_SkipsRestart(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.BindActiveSourceProvider(fakeActiveSource{active: false})

	if err := eng.Set(context.Background(), models.RoutingState{Mode: models.ModeDirect}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
}

func TestSet_TransportStartFails_RevertsAndReturnsError(t *testing.T) {
	eng, mock, _ := newTestEngine(t)
	mock.FailUnit("milo-multiroom.service", models.ErrPermissionDenied)

	err := eng.Set(context.Background(), models.RoutingState{Mode: models.ModeMultiroom})
	if err == nil {
		t.Fatal("Set() error = nil, want RoutingFail")
	}
	if got := eng.Current(); got.Mode != models.ModeDirect {
		t.Errorf("Current().Mode = %v, want reverted to direct", got.Mode)
	}
}

func TestOnPluginStarted_SkipsRestartWhenRoutingUnchanged(t *testing.T) {
	eng, mock, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.OnPluginStarted(ctx, models.SourceSpotify); err != nil {
		t.Fatalf("first OnPluginStarted() error = %v", err)
	}
	mock.SetStatus("milo-spotify.service", supervisor.StateActive)

	// Routing hasn't changed since the first call; a second call should be a
	// no-op restart-wise (state stays active, no error).
	if err := eng.OnPluginStarted(ctx, models.SourceSpotify); err != nil {
		t.Fatalf("second OnPluginStarted() error = %v", err)
	}
}

func TestCurrent_ReflectsLastSuccessfulSet(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	target := models.RoutingState{Mode: models.ModeMultiroom, Equalizer: true}
	if err := eng.Set(context.Background(), target); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := eng.Current(); got != target {
		t.Errorf("Current() = %+v, want %+v", got, target)
	}
}

func TestSet_SameValueTwice_EmitsExactlyOneRoutingChanged(t *testing.T) {
	dir := t.TempDir()
	store, err := settings.Open(dir)
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mock := supervisor.NewMock()
	srv := newTransportServer(t)
	transport := routing.NewTransportClient(srv.URL)
	bus := events.NewBus()
	ch := bus.Subscribe("sub1")

	eng, err := routing.New(mock, store, bus, transport, dir, nil)
	if err != nil {
		t.Fatalf("routing.New: %v", err)
	}
	mock.SetStatus("milo-multiroom.service", supervisor.StateInactive)
	eng.BindActiveSourceProvider(fakeActiveSource{source: models.SourceRadio, active: true})

	ctx := context.Background()
	target := models.RoutingState{Mode: models.ModeDirect, Equalizer: true}
	if err := eng.Set(ctx, target); err != nil {
		t.Fatalf("first Set() error = %v", err)
	}
	if err := eng.Set(ctx, target); err != nil {
		t.Fatalf("second identical Set() error = %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != models.EventRoutingChanged {
			t.Fatalf("event type = %q, want %q", ev.Type, models.EventRoutingChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for routing.changed")
	}
	select {
	case ev := <-ch:
		t.Fatalf("got a second routing.changed event %+v, want none for a no-op Set", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNew_WritesRoutingEnvOnStartupBeforeAnySet(t *testing.T) {
	_, _, dir := newTestEngine(t)
	if _, err := os.Stat(filepath.Join(dir, "routing.env")); err != nil {
		t.Errorf("routing.env missing after New(): %v", err)
	}
}

func TestTransportClient_BindAllToMultiroom(t *testing.T) {
	srv := newTransportServer(t)
	client := routing.NewTransportClient(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.BindAllToMultiroom(ctx); err != nil {
		t.Fatalf("BindAllToMultiroom() error = %v", err)
	}
}
