package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/channel"
	"pkt.systems/snipline/schema"
)

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	log := pslog.Ctx(r.Context()).With("remote", clientIP(r))
	if s.handler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "supervisor unavailable"})
		return
	}
	if !s.authorized(r) {
		log.Warn("channel token rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid channel token"})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("channel upgrade failed", "err", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	p, remove := s.hub.add(ctx, conn, clientIP(r))
	defer remove()
	ctx = pslog.ContextWithLogger(ctx, log.With("peer", p.id))
	s.servePeer(ctx, p)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.ChannelToken == "" {
		return true
	}
	got := r.Header.Get(channel.TokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.ChannelToken)) == 1
}

// servePeer reads envelopes until the connection drops. Each request is
// dispatched on its own goroutine so a slow backend call never blocks the
// read loop; responses share the peer's write lock.
func (s *Server) servePeer(ctx context.Context, p *peer) {
	log := pslog.Ctx(ctx)
	conn := p.conn
	conn.SetReadLimit(maxEnvelopeBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepalive(ctx, p)
	}()

	for {
		var req schema.Envelope
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, context.Canceled) {
				log.Debug("channel read ended", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		log.Trace("channel request", "id", req.ID, "action", req.Action)
		wg.Add(1)
		go func(req schema.Envelope) {
			defer wg.Done()
			resp := channel.Serve(ctx, s.handler, req)
			if err := p.writeJSON(resp); err != nil {
				log.Debug("channel write failed", "id", req.ID, "action", req.Action, "err", err)
			}
		}(req)
	}
}

func (s *Server) keepalive(ctx context.Context, p *peer) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ping(); err != nil {
				pslog.Ctx(ctx).Debug("channel ping failed", "err", err)
				_ = p.conn.Close()
				return
			}
		}
	}
}
