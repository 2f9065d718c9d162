// Package mcp exposes the session to AI tooling over the Model
// Context Protocol: eval, module listing, reload and describe tools
// on a stdio transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/zot/autoreq/internal/config"
	"github.com/zot/autoreq/internal/luart"
	"github.com/zot/autoreq/internal/registry"
)

// Server wraps an MCP stdio server bound to one session.
type Server struct {
	config   *config.Config
	session  *luart.Session
	registry *registry.Registry
	mcp      *server.MCPServer
}

// New creates the MCP server and registers its tools.
func New(cfg *config.Config, session *luart.Session, reg *registry.Registry, version string) *Server {
	s := &Server{
		config:   cfg,
		session:  session,
		registry: reg,
	}

	s.mcp = server.NewMCPServer("autoreq", version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(
		mcp.NewTool("eval",
			mcp.WithDescription("Evaluate a chunk of Lua code in the session; auto-installed modules resolve on first use"),
			mcp.WithString("code", mcp.Required(), mcp.Description("Lua code to evaluate")),
		),
		s.handleEval,
	)

	s.mcp.AddTool(
		mcp.NewTool("modules",
			mcp.WithDescription("List the installed lazy modules and whether each has been resolved"),
		),
		s.handleModules,
	)

	s.mcp.AddTool(
		mcp.NewTool("reload",
			mcp.WithDescription("Reload a module by name, re-requiring it if it was already resolved"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Installed module name")),
		),
		s.handleReload,
	)

	s.mcp.AddTool(
		mcp.NewTool("describe",
			mcp.WithDescription("Describe a module: its underlying type and exported members"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Installed module name")),
		),
		s.handleDescribe,
	)

	return s
}

// Serve runs the stdio transport until the client disconnects.
func (s *Server) Serve() error {
	s.config.Log(1, "mcp: serving on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) handleEval(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.session.Eval(code)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleModules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(s.registry.Infos(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleReload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h, ok := s.registry.Lookup(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no installed module '%s'", name)), nil
	}
	if _, err := h.Reload(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("reloaded '%s'", name)), nil
}

func (s *Server) handleDescribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h, ok := s.registry.Lookup(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no installed module '%s'", name)), nil
	}
	text, err := h.Describe()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}
