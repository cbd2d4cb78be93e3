// Package mediaplayer provides a minimal client for a local media player's
// JSON IPC socket (the protocol popularized by mpv's --input-ipc-server).
// Radio and Podcast each run their own instance of the same player binary,
// one per Unix domain socket, and drive it entirely through this client.
package mediaplayer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Connectable reports whether a Unix domain socket at path currently accepts
// connections, without keeping one open. It backs the "socket connectable"
// readiness probe used by the Radio and Podcast plugins.
func Connectable(path string) bool {
	conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

type request struct {
	Command   []interface{} `json:"command"`
	RequestID int64         `json:"request_id"`
}

type response struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	Event     string          `json:"event"`
}

// Client is a connected handle to a media player's IPC socket. It serializes
// command/response round-trips and hands observed property-change events to
// an optional callback for metadata polling.
type Client struct {
	conn   net.Conn
	nextID int64

	mu      sync.Mutex
	pending map[int64]chan response

	onEvent func(name string, data json.RawMessage)

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the player's IPC socket and starts its read loop.
func Dial(ctx context.Context, path string, onEvent func(name string, data json.RawMessage)) (*Client, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("mediaplayer: dial %s: %w", path, err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[int64]chan response),
		onEvent: onEvent,
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Event != "" {
			if c.onEvent != nil {
				c.onEvent(resp.Event, resp.Data)
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		if ok {
			delete(c.pending, resp.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	close(c.closed)
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Command issues an IPC command and waits for its matching response.
func (c *Client) Command(ctx context.Context, args ...interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	ch := make(chan response, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')

	if _, err := c.conn.Write(payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("mediaplayer: write: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" && resp.Error != "success" {
			return nil, fmt.Errorf("mediaplayer: command failed: %s", resp.Error)
		}
		return resp.Data, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("mediaplayer: connection closed")
	}
}

// SetProperty sets a named player property.
func (c *Client) SetProperty(ctx context.Context, name string, value interface{}) error {
	_, err := c.Command(ctx, "set_property", name, value)
	return err
}

// GetProperty fetches a named player property, decoding its JSON value into out.
func (c *Client) GetProperty(ctx context.Context, name string, out interface{}) error {
	data, err := c.Command(ctx, "get_property", name)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// LoadFile instructs the player to replace its current playlist with url.
func (c *Client) LoadFile(ctx context.Context, url string) error {
	_, err := c.Command(ctx, "loadfile", url, "replace")
	return err
}

// Seek moves playback to an absolute position in seconds.
func (c *Client) Seek(ctx context.Context, positionSeconds float64) error {
	_, err := c.Command(ctx, "seek", positionSeconds, "absolute")
	return err
}
