package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"
)

// Hub tracks connected channel peers so they can be counted and closed on
// shutdown. Hijacked websocket connections are not closed by http.Server.
type Hub struct {
	mu    sync.Mutex
	peers map[string]*peer
}

type peer struct {
	id        string
	remote    string
	conn      *websocket.Conn
	since     time.Time
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{peers: make(map[string]*peer)}
}

func (h *Hub) add(ctx context.Context, conn *websocket.Conn, remote string) (*peer, func()) {
	p := &peer{id: uuid.NewString(), remote: remote, conn: conn, since: time.Now()}
	h.mu.Lock()
	h.peers[p.id] = p
	count := len(h.peers)
	h.mu.Unlock()
	log := pslog.Ctx(ctx).With("peer", p.id)
	log.Info("hub peer connected", "remote", remote, "peers", count)
	remove := func() {
		h.mu.Lock()
		delete(h.peers, p.id)
		remaining := len(h.peers)
		h.mu.Unlock()
		p.close(websocket.CloseNormalClosure, "")
		log.Info("hub peer disconnected", "peers", remaining, "connected_ms", time.Since(p.since).Milliseconds())
	}
	return p, remove
}

// Count returns the number of connected peers.
func (h *Hub) Count() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// CloseAll sends a going-away close frame to every peer.
func (h *Hub) CloseAll() {
	if h == nil {
		return
	}
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		p.close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (p *peer) writeJSON(v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(v)
}

func (p *peer) ping() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (p *peer) close(code int, reason string) {
	p.closeOnce.Do(func() {
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		p.writeMu.Unlock()
		_ = p.conn.Close()
	})
}
