// Package trigger watches editable surfaces and recognizes completed trigger
// tokens. Each attached surface gets its own Session state machine.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/field"
	"pkt.systems/snipline/schema"
)

// Config holds the detector timings and sentinel.
type Config struct {
	Sentinel      string
	ResetTimeout  time.Duration
	AutoExpand    time.Duration
	SuggestionTTL time.Duration
}

// Completion is a trigger handed off for resolution. Start and End are the
// linear span of Token in the surface at completion time.
type Completion struct {
	Token string
	Start int
	End   int
	Epoch uint64
}

// Expander resolves and writes a completed trigger. It runs on its own
// goroutine; a nil error means the surface was updated, schema.ErrNotFound
// turns the session into Suggesting, anything else is a visible failure.
type Expander interface {
	Expand(ctx context.Context, s *Session, c Completion) error
}

// ExpanderFunc adapts a function to Expander.
type ExpanderFunc func(ctx context.Context, s *Session, c Completion) error

// Expand implements Expander.
func (f ExpanderFunc) Expand(ctx context.Context, s *Session, c Completion) error {
	return f(ctx, s, c)
}

// Hooks receive session transitions. Any hook may be nil. Hooks run outside
// session locks.
type Hooks struct {
	Pending             func(s *Session, token string)
	PendingCleared      func(s *Session)
	Suggestion          func(s *Session, token string)
	SuggestionDismissed func(s *Session)
	Outcome             func(s *Session, c Completion, err error)
}

// Detector builds sessions for surfaces and owns their shared settings.
type Detector struct {
	cfg      Config
	pattern  *regexp.Regexp
	expander Expander
	hooks    Hooks
	log      pslog.Logger
	settings atomic.Pointer[schema.Settings]

	mu       sync.Mutex
	sessions map[schema.SurfaceID]*Session
}

// New constructs a Detector.
func New(cfg Config, expander Expander, hooks Hooks, logger pslog.Logger) (*Detector, error) {
	if expander == nil {
		return nil, errors.New("trigger expander is required")
	}
	if cfg.Sentinel == "" {
		cfg.Sentinel = schema.DefaultSentinel
	}
	if err := schema.ValidateSentinel(cfg.Sentinel); err != nil {
		return nil, err
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 3 * time.Second
	}
	if cfg.AutoExpand < schema.MinAutoExpand {
		cfg.AutoExpand = schema.MinAutoExpand
	}
	if cfg.SuggestionTTL <= 0 {
		cfg.SuggestionTTL = 4 * time.Second
	}
	pattern, err := Pattern(cfg.Sentinel)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	d := &Detector{
		cfg:      cfg,
		pattern:  pattern,
		expander: expander,
		hooks:    hooks,
		log:      logger,
		sessions: make(map[schema.SurfaceID]*Session),
	}
	defaults := schema.DefaultSettings()
	d.settings.Store(&defaults)
	return d, nil
}

// Pattern compiles the trigger pattern for a sentinel: the sentinel followed
// by one or more trigger runes, at the start of the text or after whitespace,
// ending at the caret.
func Pattern(sentinel string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`(^|\s)(` + regexp.QuoteMeta(sentinel) + `[\p{L}\p{N}_-]+)$`)
	if err != nil {
		return nil, fmt.Errorf("compile trigger pattern: %w", err)
	}
	return re, nil
}

// Settings returns the current settings.
func (d *Detector) Settings() schema.Settings {
	return *d.settings.Load()
}

// SetSettings replaces the settings. Disabling drops every pending buffer.
func (d *Detector) SetSettings(settings schema.Settings) {
	if settings.Mode == "" {
		settings.Mode = schema.ModeExplicit
	}
	d.settings.Store(&settings)
	if !settings.Enabled {
		for _, s := range d.Sessions() {
			s.Reset()
		}
	}
}

// Attach starts watching adapter as surface. Attaching an already watched
// surface replaces its session.
func (d *Detector) Attach(ctx context.Context, surface schema.SurfaceID, adapter field.Adapter) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	d.Blur(surface)
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		d:       d,
		surface: surface,
		adapter: adapter,
		ctx:     sctx,
		cancel:  cancel,
		state:   StateIdle,
		log:     pslog.Ctx(ctx).With("surface", surface),
	}
	s.unsubscribe = adapter.OnChange(func(change field.Change) {
		if change.Source == field.SourceUser {
			s.OnEdit()
		}
	})
	d.mu.Lock()
	d.sessions[surface] = s
	d.mu.Unlock()
	s.log.Debug("trigger attach", "kind", adapter.Kind())
	return s
}

// Blur destroys the session of surface, discarding any in-flight result.
func (d *Detector) Blur(surface schema.SurfaceID) {
	d.mu.Lock()
	s := d.sessions[surface]
	delete(d.sessions, surface)
	d.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// Session returns the live session of surface.
func (d *Detector) Session(surface schema.SurfaceID) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[surface]
	return s, ok
}

// Sessions returns every live session.
func (d *Detector) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

// Close blurs every session.
func (d *Detector) Close() {
	d.mu.Lock()
	sessions := d.sessions
	d.sessions = make(map[schema.SurfaceID]*Session)
	d.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}
