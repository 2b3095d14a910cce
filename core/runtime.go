// Package core assembles the content runtime of one page: trigger detection
// on attached surfaces, resolution through the local cache and the
// supervisor, template rendering and the write back into the surface.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/channel"
	"pkt.systems/snipline/internal/eventbus"
	"pkt.systems/snipline/internal/field"
	"pkt.systems/snipline/internal/logx"
	"pkt.systems/snipline/internal/resolve"
	"pkt.systems/snipline/internal/templating"
	"pkt.systems/snipline/internal/trigger"
	"pkt.systems/snipline/schema"
)

// minRenderTimeout bounds remote renders, which take longer than lookups.
const minRenderTimeout = 10 * time.Second

// Runtime is the content side of one page.
type Runtime struct {
	cfg      schema.EngineConfig
	page     schema.PageID
	client   *channel.Client
	cache    *Cache
	cascade  *resolve.Cascade
	engine   *templating.Engine
	detector *trigger.Detector
	events   EventSink
	log      pslog.Logger
	now      func() time.Time

	user atomic.Pointer[schema.User]

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewRuntime wires a runtime over deps.Transport.
func NewRuntime(cfg schema.EngineConfig, deps RuntimeDeps) (*Runtime, error) {
	normalized, err := schema.NormalizeEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, errors.New("runtime transport is required")
	}
	page := deps.Page
	if page == "" {
		page = schema.PageID(uuid.NewString())
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	logger = logger.With("page", page)
	events := deps.Events
	if events == nil {
		events = discardSink{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	r := &Runtime{
		cfg:    normalized,
		page:   page,
		cache:  NewCache(),
		events: events,
		log:    logger,
		now:    now,
	}
	r.client = channel.NewClient(deps.Transport, channel.Options{
		Timeout:       normalized.ChannelTimeout,
		OnInvalidated: r.onInvalidated,
		Logger:        logger,
	})
	lookups := remote{client: r.client, timeout: normalized.ChannelTimeout}
	renders := remote{client: r.client, timeout: max(normalized.ChannelTimeout, minRenderTimeout)}
	r.cascade = resolve.New(r.cache, lookups, normalized.Sentinel, logger)
	r.engine = templating.NewEngine(templating.Options{
		Prompter: deps.Prompter,
		Renderer: renders,
		Now:      now,
		User:     r.User,
		Logger:   logger,
	})
	r.detector, err = trigger.New(trigger.Config{
		Sentinel:      normalized.Sentinel,
		ResetTimeout:  normalized.ResetTimeout,
		AutoExpand:    normalized.AutoExpand,
		SuggestionTTL: normalized.SuggestionTTL,
	}, trigger.ExpanderFunc(r.expand), r.hooks(), logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Page identifies the runtime on the event bus.
func (r *Runtime) Page() schema.PageID { return r.page }

// Client exposes the channel for callers issuing session actions.
func (r *Runtime) Client() *channel.Client { return r.client }

// Cache exposes the page-local shortcut cache.
func (r *Runtime) Cache() *Cache { return r.cache }

// Config returns the normalized engine config.
func (r *Runtime) Config() schema.EngineConfig { return r.cfg }

// User returns the signed-in profile seen at the last refresh.
func (r *Runtime) User() *schema.User {
	return r.user.Load()
}

// Settings returns the settings applied to trigger detection.
func (r *Runtime) Settings() schema.Settings {
	return r.detector.Settings()
}

// Attach starts watching adapter as surface.
func (r *Runtime) Attach(ctx context.Context, surface schema.SurfaceID, adapter field.Adapter) *trigger.Session {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logx.ContextWithPageSurfaceLogger(ctx, r.log, r.page, surface)
	return r.detector.Attach(ctx, surface, adapter)
}

// Blur stops watching surface and discards any in-flight expansion on it.
func (r *Runtime) Blur(surface schema.SurfaceID) {
	r.detector.Blur(surface)
}

// Refresh pulls the cached list, settings and profile from the supervisor.
func (r *Runtime) Refresh(ctx context.Context) error {
	resp, err := channel.Call[schema.GetShortcutsResponse](ctx, r.client, schema.GetShortcutsRequest{}, 0)
	if err != nil {
		r.log.Debug("runtime refresh failed", "err", err)
		return err
	}
	r.cache.Replace(resp.Shortcuts)
	r.user.Store(resp.User)
	r.detector.SetSettings(resp.Settings)
	r.log.Trace("runtime refreshed", "shortcuts", len(resp.Shortcuts), "enabled", resp.Settings.Enabled, "mode", resp.Settings.Mode)
	return nil
}

// Start refreshes once and then keeps the channel health-checked and the
// cache refreshed until ctx ends or Close is called.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("runtime closed")
	}
	if r.started {
		r.mu.Unlock()
		return errors.New("runtime already started")
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	err := r.Refresh(ctx)
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.client.Watch(ctx, r.cfg.HealthInterval)
	}()
	go func() {
		defer r.wg.Done()
		r.refreshLoop(ctx)
	}()
	if err != nil && !channel.IsInvalidated(err) {
		r.log.Info("runtime initial refresh failed", "err", err)
	}
	return nil
}

func (r *Runtime) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.client.Invalidated() {
				continue
			}
			_ = r.Refresh(ctx)
		}
	}
}

// SetEnabled switches expansion on or off through the supervisor.
func (r *Runtime) SetEnabled(ctx context.Context, enabled bool) (schema.Settings, error) {
	return r.toggle(ctx, schema.ToggleActiveRequest{Enabled: enabled})
}

// SetMode selects explicit or auto completion through the supervisor.
func (r *Runtime) SetMode(ctx context.Context, mode schema.Mode) (schema.Settings, error) {
	return r.toggle(ctx, schema.ToggleModeRequest{Mode: mode})
}

func (r *Runtime) toggle(ctx context.Context, action schema.Action) (schema.Settings, error) {
	resp, err := channel.Call[schema.ToggleResponse](ctx, r.client, action, 0)
	if err != nil {
		return schema.Settings{}, err
	}
	r.detector.SetSettings(resp.Settings)
	return resp.Settings, nil
}

// Close stops background work, blurs every surface and closes the channel.
// It waits for pending usage marks.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.detector.Close()
	r.wg.Wait()
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close channel: %w", err)
	}
	return nil
}

func (r *Runtime) onInvalidated(err error) {
	r.log.Warn("runtime channel invalidated", "err", err)
	r.events.Publish(eventbus.Event{
		Type:    eventbus.EventNotice,
		Page:    r.page,
		Message: "snipline was restarted; reload to keep expanding shortcuts",
		Err:     err,
	})
}
