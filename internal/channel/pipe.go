package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"pkt.systems/snipline/schema"
)

var errPipeClosed = errors.New("pipe closed")

// Handler answers actions on the supervisor side.
type Handler interface {
	Handle(ctx context.Context, action schema.Action) (schema.Response, error)
	Generation() string
}

// Serve decodes req, dispatches it to h and encodes the answer. Decode
// failures are answered as wire errors rather than dropped.
func Serve(ctx context.Context, h Handler, req schema.Envelope) schema.Envelope {
	action, err := schema.DecodeAction(req)
	if err != nil {
		return schema.EncodeResponse(req, h.Generation(), nil, err)
	}
	resp, err := h.Handle(ctx, action)
	return schema.EncodeResponse(req, h.Generation(), resp, err)
}

// Pipe is an in-process transport. Every envelope is serialized in both
// directions so the two ends share no memory.
type Pipe struct {
	mu      sync.Mutex
	handler Handler
	gone    bool
	closed  bool
}

// NewPipe returns a Pipe delivering to h.
func NewPipe(h Handler) *Pipe {
	return &Pipe{handler: h}
}

// RoundTrip implements Transport.
func (p *Pipe) RoundTrip(ctx context.Context, req schema.Envelope) (schema.Envelope, error) {
	p.mu.Lock()
	h, gone, closed := p.handler, p.gone, p.closed
	p.mu.Unlock()
	if closed {
		return schema.Envelope{}, errPipeClosed
	}
	if gone || h == nil {
		return schema.Envelope{}, ErrPeerGone
	}
	wire, err := copyEnvelope(req)
	if err != nil {
		return schema.Envelope{}, err
	}
	done := make(chan schema.Envelope, 1)
	go func() {
		out := Serve(ctx, h, wire)
		back, err := copyEnvelope(out)
		if err != nil {
			back = schema.EncodeResponse(wire, h.Generation(), nil, err)
		}
		done <- back
	}()
	select {
	case env := <-done:
		return env, nil
	case <-ctx.Done():
		return schema.Envelope{}, ctx.Err()
	}
}

// Invalidate simulates the background context being torn down: every later
// round trip fails with ErrPeerGone.
func (p *Pipe) Invalidate() {
	p.mu.Lock()
	p.gone = true
	p.mu.Unlock()
}

// Restart reconnects the pipe to h, typically a new supervisor generation.
func (p *Pipe) Restart(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.gone = false
	p.mu.Unlock()
}

// Close implements Transport.
func (p *Pipe) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func copyEnvelope(env schema.Envelope) (schema.Envelope, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return schema.Envelope{}, fmt.Errorf("encode envelope: %w", err)
	}
	var out schema.Envelope
	if err := json.Unmarshal(raw, &out); err != nil {
		return schema.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return out, nil
}
