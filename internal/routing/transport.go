package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TransportClient talks to the multiroom transport's loopback JSON-RPC
// control endpoint (spec §6): Server.GetStatus lists groups, Group.SetStream
// rebinds a group's source stream.
type TransportClient struct {
	baseURL string
	client  *http.Client
}

func NewTransportClient(baseURL string) *TransportClient {
	return &TransportClient{baseURL: baseURL, client: &http.Client{Timeout: 5 * time.Second}}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type statusResult struct {
	Server struct {
		Groups []struct {
			ID string `json:"id"`
		} `json:"groups"`
	} `json:"server"`
}

func (c *TransportClient) call(ctx context.Context, method string, params, result interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport RPC %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("transport RPC %s: decode: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("transport RPC %s: %s", method, rpcResp.Error.Message)
	}
	if result != nil {
		return json.Unmarshal(rpcResp.Result, result)
	}
	return nil
}

// GroupIDs returns every group id known to the transport.
func (c *TransportClient) GroupIDs(ctx context.Context) ([]string, error) {
	var status statusResult
	if err := c.call(ctx, "Server.GetStatus", nil, &status); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(status.Server.Groups))
	for _, g := range status.Server.Groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// SetStream rebinds a single group to streamID.
func (c *TransportClient) SetStream(ctx context.Context, groupID, streamID string) error {
	return c.call(ctx, "Group.SetStream", map[string]string{"id": groupID, "stream_id": streamID}, nil)
}

// BindAllToMultiroom points every group at the unified meta-stream.
func (c *TransportClient) BindAllToMultiroom(ctx context.Context) error {
	ids, err := c.GroupIDs(ctx)
	if err != nil {
		return fmt.Errorf("transport: list groups: %w", err)
	}
	for _, id := range ids {
		if err := c.SetStream(ctx, id, "Multiroom"); err != nil {
			return fmt.Errorf("transport: bind group %s: %w", id, err)
		}
	}
	return nil
}
