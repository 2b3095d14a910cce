package trigger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"pkt.systems/snipline/internal/field"
	"pkt.systems/snipline/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu        sync.Mutex
	pending   []string
	cleared   int
	suggested []string
	dismissed int
	outcomes  []error
	outcomeCh chan error
	dismissCh chan struct{}
	clearCh   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		outcomeCh: make(chan error, 8),
		dismissCh: make(chan struct{}, 8),
		clearCh:   make(chan struct{}, 8),
	}
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		Pending: func(_ *Session, token string) {
			r.mu.Lock()
			r.pending = append(r.pending, token)
			r.mu.Unlock()
		},
		PendingCleared: func(_ *Session) {
			r.mu.Lock()
			r.cleared++
			r.mu.Unlock()
			r.clearCh <- struct{}{}
		},
		Suggestion: func(_ *Session, token string) {
			r.mu.Lock()
			r.suggested = append(r.suggested, token)
			r.mu.Unlock()
		},
		SuggestionDismissed: func(_ *Session) {
			r.mu.Lock()
			r.dismissed++
			r.mu.Unlock()
			r.dismissCh <- struct{}{}
		},
		Outcome: func(_ *Session, _ Completion, err error) {
			r.mu.Lock()
			r.outcomes = append(r.outcomes, err)
			r.mu.Unlock()
			r.outcomeCh <- err
		},
	}
}

func (r *recorder) waitOutcome(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.outcomeCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outcome")
		return nil
	}
}

func staticExpander(content map[string]string, calls *atomic.Int32) Expander {
	return ExpanderFunc(func(_ context.Context, s *Session, c Completion) error {
		if calls != nil {
			calls.Add(1)
		}
		text, ok := content[c.Token]
		if !ok {
			return schema.ErrNotFound
		}
		if !s.Expanding(c) || !s.Current(c) {
			return fmt.Errorf("stale completion")
		}
		return s.Adapter().ReplaceRange(c.Start, c.End, text)
	})
}

func newDetector(t *testing.T, cfg Config, exp Expander, rec *recorder) *Detector {
	t.Helper()
	d, err := New(cfg, exp, rec.hooks(), nil)
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestConfirmKeyExpandsStaticShortcut(t *testing.T) {
	rec := newRecorder()
	d := newDetector(t, Config{}, staticExpander(map[string]string{"//email": "Hi there"}, nil), rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)

	f.InsertString("Hello //email")
	if s.State() != StateBuffering || s.Buffer() != "//email" {
		t.Fatalf("expected buffering //email, got %s %q", s.State(), s.Buffer())
	}
	if !s.OnKey(KeyEnter) {
		t.Fatalf("expected confirm key to be consumed")
	}
	if err := rec.waitOutcome(t); err != nil {
		t.Fatalf("unexpected outcome error: %v", err)
	}
	if got := f.String(); got != "Hello Hi there" {
		t.Fatalf("unexpected text %q", got)
	}
	if cursor, _ := f.Cursor(); cursor != 14 {
		t.Fatalf("expected caret 14, got %d", cursor)
	}
	if s.State() != StateIdle || s.Busy() {
		t.Fatalf("expected idle and not busy, got %s busy=%v", s.State(), s.Busy())
	}
}

func TestNotFoundRaisesOneSelfDismissingSuggestion(t *testing.T) {
	rec := newRecorder()
	d := newDetector(t, Config{SuggestionTTL: 50 * time.Millisecond}, staticExpander(nil, nil), rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)

	f.InsertString("see //nothing")
	s.OnKey(KeyTab)
	if err := rec.waitOutcome(t); err != schema.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if s.State() != StateSuggesting {
		t.Fatalf("expected suggesting, got %s", s.State())
	}
	select {
	case <-rec.dismissCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("suggestion was not dismissed")
	}
	if got := f.String(); got != "see //nothing" {
		t.Fatalf("surface mutated on not found: %q", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.suggested) != 1 || rec.dismissed != 1 {
		t.Fatalf("expected one suggestion and one dismissal, got %v / %d", rec.suggested, rec.dismissed)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle after dismissal, got %s", s.State())
	}
}

func TestGuardBlocksSecondCompletion(t *testing.T) {
	rec := newRecorder()
	release := make(chan struct{})
	var calls atomic.Int32
	exp := ExpanderFunc(func(ctx context.Context, s *Session, c Completion) error {
		calls.Add(1)
		<-release
		return nil
	})
	d := newDetector(t, Config{}, exp, rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)

	f.InsertString("//sig")
	if !s.Complete() {
		t.Fatalf("expected first completion to start")
	}
	if s.Complete() {
		t.Fatalf("expected second completion to be a no-op")
	}
	if s.OnKey(KeyEnter) {
		t.Fatalf("expected confirm key to pass through while resolving")
	}
	close(release)
	rec.waitOutcome(t)
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected one expander call, got %d", n)
	}
}

func TestConfirmKeyPassesThroughWhileGuardHeld(t *testing.T) {
	rec := newRecorder()
	release := make(chan struct{})
	exp := ExpanderFunc(func(ctx context.Context, s *Session, c Completion) error {
		<-release
		return nil
	})
	d := newDetector(t, Config{}, exp, rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)

	f.InsertString("//slow")
	if !s.OnKey(KeySpace) {
		t.Fatalf("expected first confirm to be consumed")
	}
	on := d.Settings()
	off := on
	off.Enabled = false
	d.SetSettings(off)
	d.SetSettings(on)

	f.InsertString(" //abc")
	if s.State() != StateBuffering || !s.Busy() {
		t.Fatalf("expected a pending trigger behind a busy guard, got %s busy=%v", s.State(), s.Busy())
	}
	if s.OnKey(KeySpace) {
		t.Fatalf("confirm key consumed although no completion could start")
	}
	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for s.Busy() {
		if time.Now().After(deadline) {
			t.Fatalf("guard never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTryAcquireBlocksCompletion(t *testing.T) {
	rec := newRecorder()
	d := newDetector(t, Config{}, staticExpander(map[string]string{"//sig": "Best"}, nil), rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)

	if !s.TryAcquire() {
		t.Fatalf("expected guard to be free")
	}
	if s.TryAcquire() {
		t.Fatalf("expected second acquire to fail")
	}
	f.InsertString("//sig")
	if s.OnKey(KeyEnter) {
		t.Fatalf("confirm key consumed while the guard is held")
	}
	s.Release()
	if !s.OnKey(KeyEnter) {
		t.Fatalf("expected confirm key to complete after release")
	}
	if err := rec.waitOutcome(t); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if got := f.String(); got != "Best" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestTypingPastTokenClearsBuffer(t *testing.T) {
	rec := newRecorder()
	d := newDetector(t, Config{}, staticExpander(nil, nil), rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)

	f.InsertString("//em")
	f.InsertRune('!')
	if s.State() != StateIdle {
		t.Fatalf("expected idle after breaking token, got %s", s.State())
	}
	f.Backspace()
	if s.State() != StateBuffering || s.Buffer() != "//em" {
		t.Fatalf("expected buffering again after backspace, got %s %q", s.State(), s.Buffer())
	}
	f.MoveStart()
	if s.State() != StateIdle {
		t.Fatalf("expected idle after caret left the token, got %s", s.State())
	}
}

func TestResetTimerDropsBuffer(t *testing.T) {
	rec := newRecorder()
	d := newDetector(t, Config{ResetTimeout: 40 * time.Millisecond}, staticExpander(nil, nil), rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)

	f.InsertString("//abc")
	select {
	case <-rec.clearCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("reset timer did not fire")
	}
	if s.State() != StateIdle || s.Buffer() != "" {
		t.Fatalf("expected idle, got %s %q", s.State(), s.Buffer())
	}
}

func TestRearmCancelsStaleTimer(t *testing.T) {
	rec := newRecorder()
	d := newDetector(t, Config{ResetTimeout: 80 * time.Millisecond}, staticExpander(nil, nil), rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)

	f.InsertString("//a")
	time.Sleep(50 * time.Millisecond)
	f.InsertRune('b')
	time.Sleep(50 * time.Millisecond)
	if s.State() != StateBuffering {
		t.Fatalf("expected re-armed buffer to survive the first deadline, got %s", s.State())
	}
	select {
	case <-rec.clearCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("re-armed timer did not fire")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.cleared != 1 {
		t.Fatalf("expected exactly one clear, got %d", rec.cleared)
	}
}

func TestAutoModeCompletesAfterDebounce(t *testing.T) {
	rec := newRecorder()
	d := newDetector(t, Config{AutoExpand: 100 * time.Millisecond}, staticExpander(map[string]string{"//hi": "hello"}, nil), rec)
	d.SetSettings(schema.Settings{Enabled: true, Mode: schema.ModeAuto})
	f := field.NewValueField("")
	d.Attach(context.Background(), "editor", f)

	f.InsertString("//hi")
	if err := rec.waitOutcome(t); err != nil {
		t.Fatalf("unexpected outcome: %v", err)
	}
	if got := f.String(); got != "hello" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExplicitModeNeverAutoCompletes(t *testing.T) {
	rec := newRecorder()
	var calls atomic.Int32
	d := newDetector(t, Config{AutoExpand: 100 * time.Millisecond}, staticExpander(map[string]string{"//hi": "hello"}, &calls), rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)

	f.InsertString("//hi")
	time.Sleep(200 * time.Millisecond)
	if calls.Load() != 0 || s.State() != StateBuffering {
		t.Fatalf("expected buffered trigger without expansion, calls=%d state=%s", calls.Load(), s.State())
	}
}

func TestBlurDiscardsInFlightResult(t *testing.T) {
	rec := newRecorder()
	started := make(chan struct{})
	done := make(chan struct{})
	exp := ExpanderFunc(func(ctx context.Context, s *Session, c Completion) error {
		close(started)
		<-ctx.Done()
		defer close(done)
		if s.Current(c) {
			return s.Adapter().ReplaceRange(c.Start, c.End, "late")
		}
		return ctx.Err()
	})
	d := newDetector(t, Config{}, exp, rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)

	f.InsertString("//slow")
	s.OnKey(KeySpace)
	<-started
	d.Blur("editor")
	<-done
	select {
	case err := <-rec.outcomeCh:
		t.Fatalf("expected discarded result, got outcome %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if got := f.String(); got != "//slow" {
		t.Fatalf("blurred surface was written: %q", got)
	}
	if _, ok := d.Session("editor"); ok {
		t.Fatalf("expected session to be destroyed")
	}
}

func TestDisabledNeverBuffers(t *testing.T) {
	rec := newRecorder()
	d := newDetector(t, Config{}, staticExpander(nil, nil), rec)
	d.SetSettings(schema.Settings{Enabled: false, Mode: schema.ModeExplicit})
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)

	f.InsertString("//email")
	if s.State() != StateIdle {
		t.Fatalf("expected idle while disabled, got %s", s.State())
	}
	if s.OnKey(KeyEnter) {
		t.Fatalf("expected confirm key to pass through while disabled")
	}
}

func TestEscapeClearsBuffer(t *testing.T) {
	rec := newRecorder()
	d := newDetector(t, Config{}, staticExpander(nil, nil), rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)
	f.InsertString("//x")
	if !s.OnKey(KeyEscape) {
		t.Fatalf("expected escape to be consumed")
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
}

func TestExpanderPanicReportsFailure(t *testing.T) {
	rec := newRecorder()
	exp := ExpanderFunc(func(context.Context, *Session, Completion) error {
		panic("boom")
	})
	d := newDetector(t, Config{}, exp, rec)
	f := field.NewValueField("")
	s := d.Attach(context.Background(), "editor", f)
	f.InsertString("//p")
	s.Complete()
	err := rec.waitOutcome(t)
	if err == nil {
		t.Fatalf("expected failure outcome after panic")
	}
	if s.Busy() {
		t.Fatalf("expected guard to be released")
	}
}

func TestPatternBoundaries(t *testing.T) {
	re, err := Pattern("//")
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}
	cases := []struct {
		text  string
		token string
	}{
		{"//email", "//email"},
		{"Hello //email", "//email"},
		{"line\n//sig", "//sig"},
		{"foo//bar", ""},
		{"//email ", ""},
		{"//", ""},
		{"http://example", ""},
		{"olá //nome-1", "//nome-1"},
	}
	for _, tc := range cases {
		m := re.FindStringSubmatch(tc.text)
		got := ""
		if m != nil {
			got = m[2]
		}
		if got != tc.token {
			t.Fatalf("text %q: expected token %q, got %q", tc.text, tc.token, got)
		}
	}
}
