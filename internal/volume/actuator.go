package volume

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"time"
)

// AmixerActuator applies volume to the local output by shelling out to
// amixer.
type AmixerActuator struct {
	control string // ALSA simple-mixer control name, e.g. "Master"
}

func NewAmixerActuator(control string) *AmixerActuator {
	return &AmixerActuator{control: control}
}

func (a *AmixerActuator) Apply(ctx context.Context, targetID string, pct int, muted bool) error {
	if targetID != LocalTarget {
		return fmt.Errorf("volume: amixer actuator only handles target %q, got %q", LocalTarget, targetID)
	}

	muteArg := "unmute"
	if muted {
		muteArg = "mute"
	}

	cmd := exec.CommandContext(ctx, "amixer", "-q", "set", a.control, fmt.Sprintf("%d%%", pct), muteArg)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("amixer set %s: %w: %s", a.control, err, out)
	}
	return nil
}

// TransportClientActuator applies volume to a remote multiroom transport
// client via its JSON-RPC control endpoint (see the routing engine's
// transport client for the RPC shape this mirrors).
type TransportClientActuator struct {
	baseURL string
	client  *http.Client
}

func NewTransportClientActuator(baseURL string) *TransportClientActuator {
	return &TransportClientActuator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      int                    `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}

func (a *TransportClientActuator) Apply(ctx context.Context, targetID string, pct int, muted bool) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "Client.SetVolume",
		Params: map[string]interface{}{
			"id": targetID,
			"volume": map[string]interface{}{
				"percent": pct,
				"muted":   muted,
			},
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport client volume RPC: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport client volume RPC: status %d", resp.StatusCode)
	}
	slog.Debug("volume: applied to transport client", "target", targetID, "percent", pct, "muted", muted)
	return nil
}
