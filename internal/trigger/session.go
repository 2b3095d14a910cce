package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/field"
	"pkt.systems/snipline/schema"
)

// State is a session state.
type State string

const (
	StateIdle       State = "idle"
	StateBuffering  State = "buffering"
	StateResolving  State = "resolving"
	StateExpanding  State = "expanding"
	StateSuggesting State = "suggesting"
)

// Key is a key press relevant to trigger handling.
type Key int

const (
	KeyOther Key = iota
	KeySpace
	KeyEnter
	KeyTab
	KeyEscape
	KeyPicker
)

// timer is one cancellable scheduled task. Firings whose sequence no longer
// matches are stale and ignored.
type timer struct {
	t   *time.Timer
	seq uint64
}

// Session is the trigger state of one attached surface.
type Session struct {
	d           *Detector
	surface     schema.SurfaceID
	adapter     field.Adapter
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	log         pslog.Logger

	guard atomic.Bool
	epoch atomic.Uint64

	mu      sync.Mutex
	state   State
	buffer  string
	start   int
	seq     uint64
	reset   timer
	auto    timer
	suggest timer
	closed  bool
}

// Surface returns the surface id.
func (s *Session) Surface() schema.SurfaceID { return s.surface }

// Adapter returns the field adapter selected at attach time.
func (s *Session) Adapter() field.Adapter { return s.adapter }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffer returns the pending trigger token, if any.
func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// Busy reports whether an expansion is in flight.
func (s *Session) Busy() bool {
	return s.guard.Load()
}

// OnEdit re-reads the text up to the caret and updates the buffer.
func (s *Session) OnEdit() {
	settings := s.d.Settings()
	var before string
	var err error
	if settings.Enabled {
		before, _, err = field.Before(s.adapter)
		if err != nil {
			s.log.Debug("trigger read failed", "err", err)
			return
		}
	}

	var emit []func()
	s.mu.Lock()
	if s.closed || s.state == StateResolving || s.state == StateExpanding {
		s.mu.Unlock()
		return
	}
	token, start, ok := "", 0, false
	if settings.Enabled {
		token, start, ok = s.match(before)
	}
	if !ok {
		if s.state == StateBuffering {
			emit = append(emit, s.clearLocked())
		}
		s.mu.Unlock()
		run(emit)
		return
	}
	if s.state == StateBuffering && token == s.buffer && start == s.start {
		s.mu.Unlock()
		return
	}
	if s.state == StateSuggesting {
		emit = append(emit, s.dismissLocked())
	}
	s.state = StateBuffering
	s.buffer = token
	s.start = start
	s.armLocked(&s.reset, s.d.cfg.ResetTimeout, s.onResetTimeout)
	if settings.Mode == schema.ModeAuto {
		s.armLocked(&s.auto, s.d.cfg.AutoExpand, s.onAutoExpand)
	} else {
		s.stopLocked(&s.auto)
	}
	if hook := s.d.hooks.Pending; hook != nil {
		emit = append(emit, func() { hook(s, token) })
	}
	s.mu.Unlock()
	s.log.Trace("trigger pending", "trigger", token)
	run(emit)
}

// OnKey handles a key press before it reaches the surface. It reports whether
// the key was consumed.
func (s *Session) OnKey(k Key) bool {
	switch k {
	case KeySpace, KeyEnter, KeyTab:
		if s.State() != StateBuffering {
			return false
		}
		s.OnEdit()
		if s.State() != StateBuffering {
			return false
		}
		return s.Complete()
	case KeyEscape:
		var emit []func()
		s.mu.Lock()
		switch s.state {
		case StateSuggesting:
			emit = append(emit, s.dismissLocked())
		case StateBuffering:
			emit = append(emit, s.clearLocked())
		}
		s.mu.Unlock()
		run(emit)
		return len(emit) > 0
	default:
		return false
	}
}

// Complete hands the buffered token off for resolution. It is a no-op when
// nothing is buffered or an expansion is already in flight on this surface.
func (s *Session) Complete() bool {
	s.mu.Lock()
	if s.closed || s.state != StateBuffering {
		s.mu.Unlock()
		return false
	}
	if !s.guard.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.log.Debug("trigger busy", "trigger", s.buffer)
		return false
	}
	c := Completion{
		Token: s.buffer,
		Start: s.start,
		End:   s.start + utf8.RuneCountInString(s.buffer),
		Epoch: s.epoch.Load(),
	}
	s.stopLocked(&s.reset)
	s.stopLocked(&s.auto)
	s.state = StateResolving
	s.mu.Unlock()
	s.log.Debug("trigger complete", "trigger", c.Token)
	go s.run(c)
	return true
}

// TryAcquire takes the surface guard for an expansion that does not start
// from a typed trigger. It reports false while another expansion is in
// flight. A successful call must be paired with Release.
func (s *Session) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.guard.CompareAndSwap(false, true)
}

// Release returns the guard taken by TryAcquire.
func (s *Session) Release() {
	s.guard.Store(false)
}

// Expanding marks that resolution succeeded and the surface write is next.
// It reports false when c is stale.
func (s *Session) Expanding(c Completion) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch.Load() != c.Epoch || s.state != StateResolving {
		return false
	}
	s.state = StateExpanding
	return true
}

// Current reports whether c still applies: the session has not been reset or
// blurred and the token is still at its span.
func (s *Session) Current(c Completion) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.epoch.Load() != c.Epoch {
		return false
	}
	span, err := field.Span(s.adapter, c.Start, c.End)
	return err == nil && span == c.Token
}

// Reset drops any buffer or suggestion and discards in-flight results.
func (s *Session) Reset() {
	s.epoch.Add(1)
	var emit []func()
	s.mu.Lock()
	switch s.state {
	case StateBuffering:
		emit = append(emit, s.clearLocked())
	case StateSuggesting:
		emit = append(emit, s.dismissLocked())
	case StateResolving, StateExpanding:
		s.state = StateIdle
		s.buffer = ""
	}
	s.mu.Unlock()
	run(emit)
}

func (s *Session) run(c Completion) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", schema.ErrExpansionFailed, r)
			s.log.Error("trigger expander panic", "trigger", c.Token, "panic", r)
			s.finish(c, err)
		}
	}()
	err = s.d.expander.Expand(s.ctx, s, c)
	s.finish(c, err)
}

func (s *Session) finish(c Completion, err error) {
	var emit []func()
	s.mu.Lock()
	stale := s.closed || s.epoch.Load() != c.Epoch
	if !stale {
		s.buffer = ""
		switch {
		case errors.Is(err, schema.ErrNotFound):
			s.state = StateSuggesting
			s.armLocked(&s.suggest, s.d.cfg.SuggestionTTL, s.onSuggestionTimeout)
			if hook := s.d.hooks.Suggestion; hook != nil {
				emit = append(emit, func() { hook(s, c.Token) })
			}
		default:
			s.state = StateIdle
		}
		if hook := s.d.hooks.Outcome; hook != nil {
			emit = append(emit, func() { hook(s, c, err) })
		}
	}
	s.guard.Store(false)
	s.mu.Unlock()
	if stale {
		s.log.Debug("trigger result discarded", "trigger", c.Token)
		return
	}
	run(emit)
}

func (s *Session) match(before string) (string, int, bool) {
	m := s.d.pattern.FindStringSubmatchIndex(before)
	if m == nil {
		return "", 0, false
	}
	token := before[m[4]:m[5]]
	return token, utf8.RuneCountInString(before[:m[4]]), true
}

func (s *Session) onResetTimeout() []func() {
	if s.state != StateBuffering {
		return nil
	}
	s.log.Trace("trigger reset timeout", "trigger", s.buffer)
	return []func(){s.clearLocked()}
}

func (s *Session) onAutoExpand() []func() {
	if s.state != StateBuffering {
		return nil
	}
	return []func(){func() { s.Complete() }}
}

func (s *Session) onSuggestionTimeout() []func() {
	if s.state != StateSuggesting {
		return nil
	}
	return []func(){s.dismissLocked()}
}

// clearLocked returns Buffering to Idle and yields the hook to run unlocked.
func (s *Session) clearLocked() func() {
	s.stopLocked(&s.reset)
	s.stopLocked(&s.auto)
	s.state = StateIdle
	s.buffer = ""
	hook := s.d.hooks.PendingCleared
	return func() {
		if hook != nil {
			hook(s)
		}
	}
}

// dismissLocked returns Suggesting to Idle and yields the hook to run unlocked.
func (s *Session) dismissLocked() func() {
	s.stopLocked(&s.suggest)
	s.state = StateIdle
	hook := s.d.hooks.SuggestionDismissed
	return func() {
		if hook != nil {
			hook(s)
		}
	}
}

// armLocked replaces the task in slot with a new one firing after d.
func (s *Session) armLocked(slot *timer, d time.Duration, fire func() []func()) {
	s.stopLocked(slot)
	s.seq++
	seq := s.seq
	slot.seq = seq
	slot.t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.closed || slot.seq != seq {
			s.mu.Unlock()
			return
		}
		slot.t = nil
		emit := fire()
		s.mu.Unlock()
		run(emit)
	})
}

func (s *Session) stopLocked(slot *timer) {
	if slot.t != nil {
		slot.t.Stop()
		slot.t = nil
	}
	slot.seq = 0
}

func (s *Session) close() {
	s.epoch.Add(1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopLocked(&s.reset)
	s.stopLocked(&s.auto)
	s.stopLocked(&s.suggest)
	s.state = StateIdle
	s.buffer = ""
	s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()
	s.log.Debug("trigger blur")
}

func run(fns []func()) {
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}
