package edge

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dyonisos/htunnel/internal/wire"
)

// Server is the edge server: it owns the public HTTP listener (forward
// path + /health) and the tunnel endpoint (/connect).
type Server struct {
	cfg      *Config
	manager  *Manager
	registry *Registry
	upgrader websocket.Upgrader
}

// NewServer creates a configured edge server.
func NewServer(cfg *Config) *Server {
	registry := NewRegistry()
	return &Server{
		cfg:      cfg,
		manager:  NewManager(registry, cfg.Tunnel.RequestTimeout),
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the edge server and blocks until it exits.
func (s *Server) Run() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Tunnel.Path, s.handleConnect)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/", s.manager)

	slog.Info("edge server starting", "addr", s.cfg.Listen.Addr, "tls", s.cfg.TLS.Enabled)

	if s.cfg.TLS.Enabled {
		return http.ListenAndServeTLS(s.cfg.Listen.Addr, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile, mux)
	}
	return http.ListenAndServe(s.cfg.Listen.Addr, mux)
}

// handleHealth implements spec.md §4.5: a GET at /health returns 200
// with the tunnel's status() snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"tunnel": s.manager.Status(),
	})
}

// handleConnect upgrades a client connection and processes its register
// frame, per spec.md §4.2's register operation.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err)
		return
	}

	tunnel := NewTunnel(conn, s.cfg.Tunnel.PingInterval)

	frame, err := tunnel.ReadFrame()
	if err != nil || frame.Type != wire.TypeRegister {
		slog.Warn("client did not send register frame", "err", err)
		tunnel.Close()
		return
	}

	var reg wire.RegisterPayload
	if err := json.Unmarshal(frame.Payload, &reg); err != nil {
		slog.Warn("malformed register frame", "err", err)
		tunnel.Close()
		return
	}

	s.manager.Register(tunnel, reg.Port)

	ackPayload, _ := json.Marshal(wire.RegisterPayload{Port: reg.Port})
	if err := tunnel.SendFrame(&wire.Frame{Type: wire.TypeRegistered, Payload: ackPayload}); err != nil {
		slog.Error("sending registered ack", "err", err)
		tunnel.Close()
		return
	}

	slog.Info("client registered", "port", reg.Port)
	s.manager.readLoop(tunnel)
}
