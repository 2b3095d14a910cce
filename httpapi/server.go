// Package httpapi serves the privileged side of the message channel over a
// websocket endpoint, plus a health probe.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/snipline/internal/channel"
)

const (
	defaultPingInterval = 15 * time.Second
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	maxEnvelopeBytes    = 8 << 20
	shutdownTimeout     = 5 * time.Second
)

// Server serves the channel endpoint for one supervisor.
type Server struct {
	cfg      Config
	handler  channel.Handler
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer constructs an HTTP server dispatching channel envelopes to
// handler. A nil hub gets a private one.
func NewServer(cfg Config, handler channel.Handler, hub *Hub) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The channel is loopback only and authenticated by token, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Hub returns the peer registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/channel", s.handleChannel)
	mux.HandleFunc("/healthz", s.handleHealth)
	return withRequestLogging(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	generation := ""
	if s.handler != nil {
		generation = s.handler.Generation()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"generation": generation,
		"peers":      s.hub.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
