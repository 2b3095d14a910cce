// Package channel carries actions from a content runtime to the supervisor.
// Every call races a deadline, failures are classified as transient or
// fatal, and a fatal invalidation short-circuits all later calls.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"
	"pkt.systems/snipline/schema"
)

// DefaultTimeout bounds a call when neither the caller nor the client sets one.
const DefaultTimeout = 3 * time.Second

// Transport moves one request envelope to the supervisor and returns its
// response envelope. Implementations must honor ctx.
type Transport interface {
	RoundTrip(ctx context.Context, req schema.Envelope) (schema.Envelope, error)
	Close() error
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	// OnInvalidated is called once when the channel first becomes invalidated.
	OnInvalidated func(err error)
	Logger        pslog.Logger
}

// Client is the content-side end of the channel.
type Client struct {
	transport     Transport
	timeout       time.Duration
	onInvalidated func(error)
	log           pslog.Logger

	invalidated atomic.Bool
	notified    atomic.Bool
	attempts    atomic.Int64

	mu         sync.Mutex
	generation string
}

type roundTrip struct {
	env schema.Envelope
	err error
}

// NewClient constructs a Client over transport.
func NewClient(transport Transport, opts Options) *Client {
	c := &Client{
		transport:     transport,
		timeout:       opts.Timeout,
		onInvalidated: opts.OnInvalidated,
		log:           opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.log == nil {
		c.log = pslog.Ctx(context.Background())
	}
	return c
}

// Invalidated reports whether the channel is in the fatal state.
func (c *Client) Invalidated() bool {
	return c.invalidated.Load()
}

// Generation returns the pinned supervisor generation, if any.
func (c *Client) Generation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Attempts counts calls that reached the transport.
func (c *Client) Attempts() int64 {
	return c.attempts.Load()
}

// Send delivers action and waits for the response, at most timeout (zero
// uses the client default). Once invalidated, Send fails immediately without
// touching the transport.
func (c *Client) Send(ctx context.Context, action schema.Action, timeout time.Duration) (schema.Response, error) {
	if action == nil {
		return nil, &Error{Kind: KindRemote, Err: schema.ErrInvalidRequest}
	}
	tag := action.Tag()
	if c.invalidated.Load() {
		return nil, invalidatedError(tag)
	}
	env, err := c.roundTrip(ctx, action, timeout)
	if err != nil {
		if IsInvalidated(err) {
			c.invalidate(tag, err)
		}
		return nil, err
	}
	if !c.pin(env.Generation) {
		err := invalidatedError(tag)
		c.invalidate(tag, err)
		return nil, err
	}
	resp, err := schema.DecodeResponse(env)
	if err != nil {
		return nil, &Error{Kind: KindRemote, Action: tag, Err: err}
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, action schema.Action, timeout time.Duration) (schema.Envelope, error) {
	tag := action.Tag()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	env, err := schema.EncodeAction(uuid.NewString(), action)
	if err != nil {
		return schema.Envelope{}, &Error{Kind: KindRemote, Action: tag, Err: fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.attempts.Add(1)
	result := make(chan roundTrip, 1)
	go func() {
		out, err := c.transport.RoundTrip(callCtx, env)
		result <- roundTrip{env: out, err: err}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			if ctx.Err() == nil && errors.Is(r.err, context.DeadlineExceeded) {
				c.log.Debug("channel send timeout", "action", tag, "timeout", timeout)
			}
			return schema.Envelope{}, wrapTransportError(tag, r.err)
		}
		if r.env.ID != env.ID {
			return schema.Envelope{}, &Error{Kind: KindTransport, Action: tag, Err: fmt.Errorf("%w: response id mismatch", schema.ErrNetwork)}
		}
		return r.env, nil
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return schema.Envelope{}, &Error{Kind: KindCanceled, Action: tag, Err: err}
		}
		c.log.Debug("channel send timeout", "action", tag, "timeout", timeout)
		return schema.Envelope{}, timeoutError(tag)
	}
}

// pin records the first generation seen and reports whether generation
// matches it. Responses without a generation are accepted.
func (c *Client) pin(generation string) bool {
	if generation == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == "" {
		c.generation = generation
		return true
	}
	return c.generation == generation
}

func (c *Client) invalidate(tag schema.ActionTag, err error) {
	if !c.invalidated.CompareAndSwap(false, true) {
		return
	}
	if c.notified.CompareAndSwap(false, true) {
		c.log.Warn("channel invalidated", "action", tag, "err", err)
		if c.onInvalidated != nil {
			c.onInvalidated(err)
		}
	}
}

// Probe pings the supervisor, bypassing the invalidated flag. It clears the
// flag only when the pinned generation answers again.
func (c *Client) Probe(ctx context.Context) error {
	env, err := c.roundTrip(ctx, schema.PingRequest{}, 0)
	if err != nil {
		if IsInvalidated(err) {
			c.invalidate(schema.ActionPing, err)
		}
		return err
	}
	if !c.pin(env.Generation) {
		err := invalidatedError(schema.ActionPing)
		c.invalidate(schema.ActionPing, err)
		return err
	}
	if _, err := schema.DecodeResponse(env); err != nil {
		return &Error{Kind: KindRemote, Action: schema.ActionPing, Err: err}
	}
	if c.invalidated.CompareAndSwap(true, false) {
		c.notified.Store(false)
		c.log.Info("channel recovered", "generation", env.Generation)
	}
	return nil
}

// Watch probes the supervisor every interval until ctx is done.
func (c *Client) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Probe(ctx); err != nil && ctx.Err() == nil {
				c.log.Trace("channel health check failed", "err", err)
			}
		}
	}
}

// Close closes the transport.
func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

// Call sends action and asserts the response type.
func Call[T schema.Response](ctx context.Context, c *Client, action schema.Action, timeout time.Duration) (T, error) {
	var zero T
	resp, err := c.Send(ctx, action, timeout)
	if err != nil {
		return zero, err
	}
	typed, ok := resp.(T)
	if !ok {
		return zero, &Error{Kind: KindRemote, Action: action.Tag(), Err: fmt.Errorf("%w: unexpected response %T", schema.ErrInvalidRequest, resp)}
	}
	return typed, nil
}
