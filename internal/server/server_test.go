package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/zot/autoreq/internal/config"
	"github.com/zot/autoreq/internal/luart"
	"github.com/zot/autoreq/internal/registry"
	"github.com/zot/autoreq/internal/scan"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "foo.lua"), []byte(`return {n = 42}`), 0644); err != nil {
		t.Fatalf("Failed to write module: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Runtime.Path = []string{dir}
	session, err := luart.NewSession(cfg)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	t.Cleanup(session.Shutdown)

	reg := registry.New(session)
	reg.Populate(scan.NewScanner(nil, nil).Scan(cfg.Runtime.Path))

	ts := httptest.NewServer(New(cfg, session, reg).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, id int64, code string) EvalResponse {
	t.Helper()
	if err := conn.WriteJSON(EvalRequest{ID: id, Code: code}); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}
	var resp EvalResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp
}

func TestWebSocketEval(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, 1, "1 + 2")
	if resp.ID != 1 || resp.Error != "" || resp.Result != "3" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	// Session state persists across requests on the same connection.
	roundTrip(t, conn, 2, "x = 5")
	resp = roundTrip(t, conn, 3, "x * 2")
	if resp.Result != "10" {
		t.Errorf("Expected 10, got %+v", resp)
	}

	// Lazy modules are reachable remotely.
	resp = roundTrip(t, conn, 4, "foo.n")
	if resp.Result != "42" {
		t.Errorf("Expected 42, got %+v", resp)
	}
}

func TestWebSocketEvalError(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, 1, "error('boom')")
	if resp.Error == "" || !strings.Contains(resp.Error, "boom") {
		t.Errorf("Expected error response, got %+v", resp)
	}

	// The connection survives an eval error.
	resp = roundTrip(t, conn, 2, "7")
	if resp.Result != "7" {
		t.Errorf("Expected 7 after error, got %+v", resp)
	}
}

func TestModulesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts)
	roundTrip(t, conn, 1, "foo.n")

	resp, err := http.Get(ts.URL + "/modules")
	if err != nil {
		t.Fatalf("GET /modules failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %s", ct)
	}

	var infos []registry.ModuleInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("Failed to decode modules: %v", err)
	}

	found := false
	for _, info := range infos {
		if info.Name == "foo" {
			found = true
			if !info.Resolved {
				t.Error("foo should be resolved after eval")
			}
		}
	}
	if !found {
		t.Errorf("Expected foo in module list, got %+v", infos)
	}
}
