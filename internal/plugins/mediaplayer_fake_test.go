package plugins_test

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
)

// fakePlayerServer emulates just enough of the mpv-style JSON IPC protocol
// for Radio/Podcast plugin tests: get_property returns canned values,
// every other command succeeds with a null payload.
type fakePlayerRequest struct {
	Command   []interface{} `json:"command"`
	RequestID int64         `json:"request_id"`
}

// fakePlayerRecorder captures every command the plugin under test sends, so
// a test can assert a seek actually happened instead of only that it didn't
// error.
type fakePlayerRecorder struct {
	mu       sync.Mutex
	commands [][]interface{}
}

func (r *fakePlayerRecorder) record(cmd []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

func (r *fakePlayerRecorder) calls(name string) [][]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]interface{}
	for _, c := range r.commands {
		if len(c) >= 1 {
			if n, _ := c[0].(string); n == name {
				out = append(out, c)
			}
		}
	}
	return out
}

func newFakePlayerServer(t *testing.T, properties map[string]interface{}) string {
	sock, _ := newFakePlayerServerWithRecorder(t, properties)
	return sock
}

func newFakePlayerServerWithRecorder(t *testing.T, properties map[string]interface{}) (string, *fakePlayerRecorder) {
	t.Helper()
	rec := &fakePlayerRecorder{}
	sockPath := filepath.Join(t.TempDir(), "player.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen unix socket: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakePlayerConn(conn, properties, rec)
		}
	}()

	return sockPath, rec
}

func serveFakePlayerConn(conn net.Conn, properties map[string]interface{}, rec *fakePlayerRecorder) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req fakePlayerRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		rec.record(req.Command)

		var data interface{}
		if len(req.Command) >= 2 {
			if name, _ := req.Command[0].(string); name == "get_property" {
				if prop, ok := req.Command[1].(string); ok {
					data = properties[prop]
				}
			}
		}

		resp := map[string]interface{}{
			"request_id": req.RequestID,
			"error":      "success",
			"data":       data,
		}
		payload, _ := json.Marshal(resp)
		payload = append(payload, '\n')
		if _, err := conn.Write(payload); err != nil {
			return
		}
	}
}

func newFakeLANControlServer(t *testing.T, status string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				scanner := bufio.NewScanner(c)
				for scanner.Scan() {
					c.Write([]byte(status + "\n"))
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}
