// Package server exposes the session over HTTP: a WebSocket eval
// endpoint for remote interactive use and a module listing endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/zot/autoreq/internal/config"
	"github.com/zot/autoreq/internal/luart"
	"github.com/zot/autoreq/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool, no origin policy
	},
}

// EvalRequest is one chunk of Lua code to evaluate.
type EvalRequest struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
}

// EvalResponse carries the printed result or the error text.
type EvalResponse struct {
	ID     int64  `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Server serves the eval endpoint for one session.
type Server struct {
	config   *config.Config
	session  *luart.Session
	registry *registry.Registry

	httpServer *http.Server
	conns      map[*websocket.Conn]bool
	mu         sync.Mutex
}

// New creates a server bound to a session and its registry.
func New(cfg *config.Config, session *luart.Session, reg *registry.Registry) *Server {
	return &Server{
		config:   cfg,
		session:  session,
		registry: reg,
		conns:    make(map[*websocket.Conn]bool),
	}
}

// Log logs a message via the config.
func (s *Server) Log(level int, format string, args ...interface{}) {
	s.config.Log(level, format, args...)
}

// Handler returns the HTTP handler for the eval and modules routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/modules", s.handleModules)
	return mux
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Server.Host, fmt.Sprintf("%d", s.config.Server.Port))
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}
	s.Log(1, "server: listening on %s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown closes open connections and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[*websocket.Conn]bool)
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleModules returns the installed modules and their resolution state.
func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.registry.Infos())
}

// handleWebSocket upgrades the connection and evaluates requests in
// arrival order. Each request runs to completion inside the session
// executor before the next is read.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log(1, "server: upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()
	s.Log(1, "server: connection from %s", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		var req EvalRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.Log(1, "server: read error: %v", err)
			}
			return
		}

		resp := EvalResponse{ID: req.ID}
		result, err := s.session.Eval(req.Code)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}
		s.Log(2, "server: eval #%d (%d bytes)", req.ID, len(req.Code))

		if err := conn.WriteJSON(resp); err != nil {
			s.Log(1, "server: write error: %v", err)
			return
		}
	}
}
