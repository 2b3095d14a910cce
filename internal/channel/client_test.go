package channel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"pkt.systems/snipline/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echoHandler struct {
	generation string
	delay      time.Duration
	err        error
	calls      atomic.Int32
}

func (h *echoHandler) Generation() string { return h.generation }

func (h *echoHandler) Handle(ctx context.Context, action schema.Action) (schema.Response, error) {
	h.calls.Add(1)
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h.err != nil {
		return nil, h.err
	}
	switch a := action.(type) {
	case schema.PingRequest:
		return schema.PingResponse{Alive: true, Generation: h.generation}, nil
	case schema.FindByTriggerRequest:
		return schema.FindByTriggerResponse{Shortcut: &schema.Shortcut{ID: "1", Trigger: a.Trigger, IsActive: true}}, nil
	default:
		return nil, schema.ErrUnknownAction
	}
}

type countingTransport struct {
	inner Transport
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(ctx context.Context, req schema.Envelope) (schema.Envelope, error) {
	c.calls.Add(1)
	return c.inner.RoundTrip(ctx, req)
}

func (c *countingTransport) Close() error { return c.inner.Close() }

type hangingTransport struct {
	release chan struct{}
}

func (h *hangingTransport) RoundTrip(ctx context.Context, req schema.Envelope) (schema.Envelope, error) {
	<-h.release
	return schema.Envelope{ID: req.ID, Action: req.Action}, nil
}

func (h *hangingTransport) Close() error { return nil }

func TestSendDecodesTypedResponse(t *testing.T) {
	c := NewClient(NewPipe(&echoHandler{generation: "g1"}), Options{})
	resp, err := Call[schema.FindByTriggerResponse](context.Background(), c, schema.FindByTriggerRequest{Trigger: "//email"}, 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Shortcut == nil || resp.Shortcut.Trigger != "//email" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if c.Generation() != "g1" {
		t.Fatalf("expected pinned generation g1, got %q", c.Generation())
	}
}

func TestSendTimesOutWithinBound(t *testing.T) {
	c := NewClient(NewPipe(&echoHandler{generation: "g1", delay: time.Second}), Options{})
	start := time.Now()
	_, err := c.Send(context.Background(), schema.PingRequest{}, 50*time.Millisecond)
	elapsed := time.Since(start)
	if !errors.Is(err, schema.ErrChannelTimeout) {
		t.Fatalf("expected ErrChannelTimeout, got %v", err)
	}
	var chErr *Error
	if !errors.As(err, &chErr) || chErr.Kind != KindTimeout || !chErr.Transient() {
		t.Fatalf("expected transient timeout error, got %#v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("send took %v, beyond its bound", elapsed)
	}
	if c.Invalidated() {
		t.Fatalf("timeout must not invalidate the channel")
	}
}

func TestSendTimeoutDoesNotBlockLateCompletion(t *testing.T) {
	tr := &hangingTransport{release: make(chan struct{})}
	c := NewClient(tr, Options{})
	_, err := c.Send(context.Background(), schema.PingRequest{}, 20*time.Millisecond)
	if !errors.Is(err, schema.ErrChannelTimeout) {
		t.Fatalf("expected ErrChannelTimeout, got %v", err)
	}
	close(tr.release)
	// The transport goroutine must be able to deliver into its buffered slot
	// and exit; goleak checks this at the end of the run.
	time.Sleep(20 * time.Millisecond)
}

func TestRemoteErrorsKeepTheirSentinel(t *testing.T) {
	c := NewClient(NewPipe(&echoHandler{generation: "g1", err: schema.ErrAuth}), Options{})
	_, err := c.Send(context.Background(), schema.SyncNowRequest{}, 0)
	if !errors.Is(err, schema.ErrAuth) {
		t.Fatalf("expected ErrAuth across the channel, got %v", err)
	}
	var chErr *Error
	if !errors.As(err, &chErr) || chErr.Kind != KindRemote {
		t.Fatalf("expected remote kind, got %#v", err)
	}
}

func TestInvalidationShortCircuitsAllLaterSends(t *testing.T) {
	pipe := NewPipe(&echoHandler{generation: "g1"})
	tr := &countingTransport{inner: pipe}
	notices := 0
	c := NewClient(tr, Options{OnInvalidated: func(error) { notices++ }})

	if _, err := c.Send(context.Background(), schema.PingRequest{}, 0); err != nil {
		t.Fatalf("first send: %v", err)
	}
	pipe.Invalidate()
	_, err := c.Send(context.Background(), schema.PingRequest{}, 0)
	if !errors.Is(err, schema.ErrChannelInvalidated) {
		t.Fatalf("expected ErrChannelInvalidated, got %v", err)
	}
	before := tr.calls.Load()
	for i := 0; i < 5; i++ {
		_, err := c.Send(context.Background(), schema.FindByTriggerRequest{Trigger: "//x"}, 0)
		if !errors.Is(err, schema.ErrChannelInvalidated) {
			t.Fatalf("expected short-circuit ErrChannelInvalidated, got %v", err)
		}
	}
	if tr.calls.Load() != before {
		t.Fatalf("invalidated sends reached the transport: %d calls", tr.calls.Load()-before)
	}
	if notices != 1 {
		t.Fatalf("expected exactly one invalidation notice, got %d", notices)
	}
}

func TestGenerationChangeInvalidates(t *testing.T) {
	pipe := NewPipe(&echoHandler{generation: "g1"})
	c := NewClient(pipe, Options{})
	if _, err := c.Send(context.Background(), schema.PingRequest{}, 0); err != nil {
		t.Fatalf("first send: %v", err)
	}
	pipe.Restart(&echoHandler{generation: "g2"})
	if _, err := c.Send(context.Background(), schema.PingRequest{}, 0); !errors.Is(err, schema.ErrChannelInvalidated) {
		t.Fatalf("expected ErrChannelInvalidated after restart, got %v", err)
	}
	if err := c.Probe(context.Background()); !errors.Is(err, schema.ErrChannelInvalidated) {
		t.Fatalf("expected probe against a new generation to stay invalidated, got %v", err)
	}
	if !c.Invalidated() {
		t.Fatalf("expected channel to stay invalidated")
	}
}

func TestProbeClearsWhenOriginalGenerationAnswers(t *testing.T) {
	handler := &echoHandler{generation: "g1"}
	pipe := NewPipe(handler)
	c := NewClient(pipe, Options{})
	if _, err := c.Send(context.Background(), schema.PingRequest{}, 0); err != nil {
		t.Fatalf("first send: %v", err)
	}
	pipe.Invalidate()
	_, _ = c.Send(context.Background(), schema.PingRequest{}, 0)
	if !c.Invalidated() {
		t.Fatalf("expected invalidated")
	}
	pipe.Restart(handler)
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if c.Invalidated() {
		t.Fatalf("expected probe to clear the flag")
	}
	if _, err := c.Send(context.Background(), schema.PingRequest{}, 0); err != nil {
		t.Fatalf("send after recovery: %v", err)
	}
}

func TestWatchStopsWithContext(t *testing.T) {
	c := NewClient(NewPipe(&echoHandler{generation: "g1"}), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Watch(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(35 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("watch did not stop")
	}
	if c.Generation() != "g1" {
		t.Fatalf("expected watch pings to pin the generation")
	}
}

func TestCanceledCallerIsNotATimeout(t *testing.T) {
	c := NewClient(NewPipe(&echoHandler{generation: "g1", delay: time.Second}), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := c.Send(ctx, schema.PingRequest{}, time.Second)
	var chErr *Error
	if !errors.As(err, &chErr) || chErr.Kind != KindCanceled {
		t.Fatalf("expected canceled kind, got %#v", err)
	}
	if errors.Is(err, schema.ErrChannelTimeout) {
		t.Fatalf("canceled call must not read as timeout")
	}
}

func TestUnknownActionIsAnsweredAsWireError(t *testing.T) {
	pipe := NewPipe(&echoHandler{generation: "g1"})
	env, err := pipe.RoundTrip(context.Background(), schema.Envelope{ID: "1", Action: "bogus"})
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if env.Error == nil || env.Error.Kind != schema.ErrorKindBadAction {
		t.Fatalf("expected unknown_action wire error, got %+v", env)
	}
}
