package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/zot/autoreq/internal/config"
	"github.com/zot/autoreq/internal/luart"
	"github.com/zot/autoreq/internal/registry"
	"github.com/zot/autoreq/internal/scan"
)

func newTestServer(t *testing.T) *Server {
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
	return New(cfg, session, reg, "test")
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("Expected content in result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestEvalTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleEval(context.Background(), toolRequest(map[string]interface{}{"code": "foo.n"}))
	if err != nil {
		t.Fatalf("handleEval failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("Unexpected tool error: %s", textOf(t, result))
	}
	if got := textOf(t, result); got != "42" {
		t.Errorf("Expected 42, got %q", got)
	}
}

func TestEvalToolError(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleEval(context.Background(), toolRequest(map[string]interface{}{"code": "error('boom')"}))
	if err != nil {
		t.Fatalf("handleEval failed: %v", err)
	}
	if !result.IsError {
		t.Error("Expected tool error for a failed eval")
	}

	result, err = s.handleEval(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("handleEval failed: %v", err)
	}
	if !result.IsError {
		t.Error("Expected tool error for a missing argument")
	}
}

func TestModulesTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleModules(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("handleModules failed: %v", err)
	}
	if got := textOf(t, result); !strings.Contains(got, `"foo"`) {
		t.Errorf("Expected foo in module list, got %s", got)
	}
}

func TestReloadTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleReload(context.Background(), toolRequest(map[string]interface{}{"name": "foo"}))
	if err != nil {
		t.Fatalf("handleReload failed: %v", err)
	}
	if result.IsError {
		t.Errorf("Unexpected tool error: %s", textOf(t, result))
	}

	result, err = s.handleReload(context.Background(), toolRequest(map[string]interface{}{"name": "nosuch"}))
	if err != nil {
		t.Fatalf("handleReload failed: %v", err)
	}
	if !result.IsError {
		t.Error("Expected tool error for an unknown module")
	}
}

func TestDescribeTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleDescribe(context.Background(), toolRequest(map[string]interface{}{"name": "foo"}))
	if err != nil {
		t.Fatalf("handleDescribe failed: %v", err)
	}
	if got := textOf(t, result); !strings.Contains(got, "n (number)") {
		t.Errorf("Expected member listing, got %q", got)
	}
}
