package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"
	"pkt.systems/snipline/schema"
)

// TokenHeader carries the optional shared channel token.
const TokenHeader = "X-Snipline-Channel-Token"

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
)

var errConnLost = errors.New("channel connection lost")

type wsResult struct {
	env schema.Envelope
	err error
}

// WSTransport talks to the supervisor's websocket endpoint. Requests are
// correlated by envelope id; the connection is dialed lazily and redialed
// after a drop.
type WSTransport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    pslog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan wsResult
	closed  bool

	writeMu sync.Mutex
}

// WSOptions configures a WSTransport.
type WSOptions struct {
	Token       string
	DialTimeout time.Duration
	Logger      pslog.Logger
}

// NewWSTransport returns a transport for the websocket endpoint at url.
func NewWSTransport(url string, opts WSOptions) *WSTransport {
	header := http.Header{}
	if opts.Token != "" {
		header.Set(TokenHeader, opts.Token)
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &WSTransport{
		url:     url,
		header:  header,
		dialer:  &websocket.Dialer{HandshakeTimeout: dialTimeout, Proxy: http.ProxyFromEnvironment},
		log:     logger.With("channel_url", url),
		pending: make(map[string]chan wsResult),
	}
}

// RoundTrip implements Transport.
func (t *WSTransport) RoundTrip(ctx context.Context, req schema.Envelope) (schema.Envelope, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return schema.Envelope{}, err
	}
	ch := make(chan wsResult, 1)
	t.mu.Lock()
	t.pending[req.ID] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
	}()

	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err = conn.WriteJSON(req)
	t.writeMu.Unlock()
	if err != nil {
		t.drop(conn, err)
		return schema.Envelope{}, fmt.Errorf("write request: %w", err)
	}

	select {
	case r := <-ch:
		return r.env, r.err
	case <-ctx.Done():
		return schema.Envelope{}, ctx.Err()
	}
}

// Close implements Transport.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *WSTransport) connect(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("channel transport closed")
	}
	if t.conn != nil {
		conn := t.conn
		t.mu.Unlock()
		return conn, nil
	}
	t.mu.Unlock()

	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: channel rejected token", schema.ErrAuth)
		}
		return nil, fmt.Errorf("dial channel: %w", err)
	}
	conn.SetReadLimit(8 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteWait))
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return nil, errors.New("channel transport closed")
	}
	if t.conn != nil {
		existing := t.conn
		t.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	t.conn = conn
	t.mu.Unlock()
	t.log.Debug("channel connected")
	go t.readLoop(conn)
	return conn, nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var env schema.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.drop(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		t.mu.Lock()
		ch := t.pending[env.ID]
		delete(t.pending, env.ID)
		t.mu.Unlock()
		if ch == nil {
			t.log.Trace("channel late response dropped", "id", env.ID, "action", env.Action)
			continue
		}
		ch <- wsResult{env: env}
	}
}

// drop forgets conn and fails every pending request on it.
func (t *WSTransport) drop(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	pending := t.pending
	t.pending = make(map[string]chan wsResult)
	closed := t.closed
	t.mu.Unlock()
	_ = conn.Close()
	for _, ch := range pending {
		select {
		case ch <- wsResult{err: fmt.Errorf("%w: %v", errConnLost, cause)}:
		default:
		}
	}
	if !closed {
		t.log.Debug("channel disconnected", "err", cause, "pending", len(pending))
	}
}
