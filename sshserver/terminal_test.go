package sshserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/snipline/core"
	"pkt.systems/snipline/internal/channel"
	"pkt.systems/snipline/internal/command"
	"pkt.systems/snipline/internal/eventbus"
	"pkt.systems/snipline/internal/templating"
	"pkt.systems/snipline/internal/trigger"
	"pkt.systems/snipline/schema"
)

// termSupervisor answers the actions a terminal page sends.
type termSupervisor struct {
	mu       sync.Mutex
	cached   []schema.Shortcut
	settings schema.Settings
	user     *schema.User
}

func (s *termSupervisor) Generation() string { return "gen-term" }

func (s *termSupervisor) Handle(_ context.Context, action schema.Action) (schema.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch a := action.(type) {
	case schema.PingRequest:
		return schema.PingResponse{Alive: true, Generation: s.Generation()}, nil
	case schema.GetShortcutsRequest:
		return schema.GetShortcutsResponse{Shortcuts: schema.CloneShortcuts(s.cached), Settings: s.settings, User: s.user}, nil
	case schema.FindByTriggerRequest:
		return schema.FindByTriggerResponse{}, nil
	case schema.SearchByTextRequest:
		return schema.SearchByTextResponse{}, nil
	case schema.UseShortcutRequest:
		return schema.UseShortcutResponse{}, nil
	case schema.LoginRequest:
		if a.Password != "s3cret" {
			return schema.LoginResponse{Success: false, Error: "invalid credentials"}, nil
		}
		s.user = &schema.User{ID: "u1", Username: a.Username}
		return schema.LoginResponse{Success: true, User: s.user}, nil
	default:
		return nil, schema.ErrUnknownAction
	}
}

type termHarness struct {
	term *terminalSession
	rt   *core.Runtime
}

func newTermHarness(t *testing.T, in io.Reader, out io.Writer, cached ...schema.Shortcut) *termHarness {
	t.Helper()
	sup := &termSupervisor{cached: cached, settings: schema.DefaultSettings()}
	bus := eventbus.New(nil)
	events, unsubscribe := bus.Subscribe("page-term")
	if in == nil {
		in = strings.NewReader("")
	}
	if out == nil {
		out = io.Discard
	}
	term := newTerminalSession(in, out, terminalOptions{
		Handler: command.NewHandler(command.HandlerConfig{}),
		Theme:   "outrun",
		Events:  events,
		Banner:  []string{schema.HeaderMarker + "snipline"},
	})
	rt, err := core.NewRuntime(schema.EngineConfig{ChannelTimeout: time.Second}, core.RuntimeDeps{
		Page:      "page-term",
		Transport: channel.NewPipe(sup),
		Prompter:  term.Prompter(),
		Events:    bus,
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() {
		_ = rt.Close()
		unsubscribe()
	})
	if err := rt.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	term.bind(rt)
	term.SetSize(80, 24)
	return &termHarness{term: term, rt: rt}
}

func (h *termHarness) attach(t *testing.T) {
	t.Helper()
	detach := h.term.attach(context.Background())
	t.Cleanup(func() {
		h.term.shutdown()
		detach()
	})
}

func (h *termHarness) typeText(text string) {
	for _, r := range text {
		h.term.handleKey(key{kind: keyRune, r: r})
	}
}

func (h *termHarness) lines() []string {
	h.term.mu.Lock()
	defer h.term.mu.Unlock()
	return append([]string(nil), h.term.output.lines...)
}

func (h *termHarness) hasLine(want string) bool {
	for _, line := range h.lines() {
		if strings.Contains(line, want) {
			return true
		}
	}
	return false
}

func staticShortcut(id, trigger, content string) schema.Shortcut {
	return schema.Shortcut{ID: schema.ShortcutID(id), Trigger: trigger, Title: id, Content: content, ExpansionType: schema.ExpansionStatic, IsActive: true}
}

func TestTerminalSpaceCompletesTrigger(t *testing.T) {
	h := newTermHarness(t, nil, nil, staticShortcut("sig", "//sig", "Best regards"))
	h.attach(t)

	h.typeText("hi //sig")
	if mark := h.term.pendingSpan(h.term.editor.String(), fieldCursor(h.term.editor)); mark.start != 3 || mark.end != 8 {
		t.Fatalf("expected pending span 3..8, got %+v", mark)
	}
	h.term.handleKey(key{kind: keyRune, r: ' '})
	waitFor(t, 2*time.Second, func() bool {
		return h.term.editor.String() == "hi Best regards"
	})
}

func TestTerminalEscapeClearsPendingTrigger(t *testing.T) {
	h := newTermHarness(t, nil, nil, staticShortcut("sig", "//sig", "Best regards"))
	h.attach(t)

	h.typeText("//si")
	if h.term.session.State() != trigger.StateBuffering {
		t.Fatalf("expected buffering, got %s", h.term.session.State())
	}
	h.term.handleKey(key{kind: keyEscape})
	if h.term.session.State() != trigger.StateIdle {
		t.Fatalf("expected escape to clear the buffer, got %s", h.term.session.State())
	}
	if got := h.term.editor.String(); got != "//si" {
		t.Fatalf("escape must not edit the text, got %q", got)
	}
}

func TestTerminalEnterSubmitsPlainText(t *testing.T) {
	h := newTermHarness(t, nil, nil)
	h.attach(t)

	h.typeText("hello there")
	if quit := h.term.handleKey(key{kind: keyEnter}); quit {
		t.Fatalf("plain text must not quit")
	}
	if h.term.editor.Len() != 0 {
		t.Fatalf("expected editor cleared after submit")
	}
	if !h.hasLine(schema.SentMarker + "hello there") {
		t.Fatalf("expected sent line, got %q", h.lines())
	}
}

func TestTerminalSlashCommandRunsAsync(t *testing.T) {
	h := newTermHarness(t, nil, nil, staticShortcut("sig", "//sig", "Best regards"))
	h.attach(t)

	h.typeText("/status")
	h.term.handleKey(key{kind: keyEnter})
	waitFor(t, 2*time.Second, func() bool {
		return h.hasLine(schema.HeaderMarker + "Status")
	})
	if !h.hasLine("gen-term") {
		t.Fatalf("expected generation in status output, got %q", h.lines())
	}

	h.typeText("/bogus")
	h.term.handleKey(key{kind: keyEnter})
	waitFor(t, 2*time.Second, func() bool {
		return h.hasLine("error: unknown command: /bogus")
	})
}

func TestTerminalQuitCommand(t *testing.T) {
	h := newTermHarness(t, nil, nil)
	h.attach(t)

	h.typeText("/quit")
	if !h.term.handleKey(key{kind: keyEnter}) {
		t.Fatalf("expected /quit to end the session")
	}
	if h.term.handleKey(key{kind: keyCtrlD}) != true {
		t.Fatalf("expected ctrl-d on an empty line to end the session")
	}
}

func TestTerminalLoginAsksForPassword(t *testing.T) {
	h := newTermHarness(t, nil, nil)
	h.attach(t)

	h.typeText("/login ana")
	h.term.handleKey(key{kind: keyEnter})
	if h.term.login == nil {
		t.Fatalf("expected password step")
	}
	h.typeText("s3cret")
	prefix, input, _, _ := h.term.inputDisplay()
	if prefix != "password: " || input != "******" {
		t.Fatalf("expected masked password input, got %q %q", prefix, input)
	}
	h.term.handleKey(key{kind: keyEnter})
	if h.term.login != nil {
		t.Fatalf("expected password step to close")
	}
	waitFor(t, 2*time.Second, func() bool {
		return h.hasLine("signed in as ana")
	})
	for _, line := range h.lines() {
		if strings.Contains(line, "s3cret") {
			t.Fatalf("password leaked into output: %q", line)
		}
	}
}

func TestTerminalPickerInsertsSelection(t *testing.T) {
	h := newTermHarness(t, nil, nil,
		staticShortcut("addr", "//addr", "1 Example Street"),
		staticShortcut("sig", "//sig", "Best regards"),
	)
	h.attach(t)

	h.typeText("Thanks. ")
	h.term.handleKey(key{kind: keyCtrlSpace})
	if h.term.picker == nil {
		t.Fatalf("expected picker overlay")
	}
	if len(h.term.picker.results) != 2 {
		t.Fatalf("expected both shortcuts listed, got %d", len(h.term.picker.results))
	}
	h.typeText("sig")
	if len(h.term.picker.results) != 1 || h.term.picker.results[0].ID != "sig" {
		t.Fatalf("expected filtered results, got %+v", h.term.picker.results)
	}
	lines := h.term.picker.render(40, 5, h.term.theme)
	if len(lines) != 5 || !strings.Contains(lines[1], "//sig") {
		t.Fatalf("unexpected picker render %q", lines)
	}
	h.term.handleKey(key{kind: keyEnter})
	if h.term.picker != nil {
		t.Fatalf("expected picker to close on insert")
	}
	waitFor(t, 2*time.Second, func() bool {
		return h.term.editor.String() == "Thanks. Best regards"
	})
}

func TestTerminalPickerEscapeCloses(t *testing.T) {
	h := newTermHarness(t, nil, nil, staticShortcut("sig", "//sig", "Best regards"))
	h.attach(t)

	h.term.handleKey(key{kind: keyCtrlSpace})
	h.term.handleKey(key{kind: keyEscape})
	if h.term.picker != nil {
		t.Fatalf("expected escape to close the picker")
	}
	if h.term.editor.Len() != 0 {
		t.Fatalf("closing the picker must not insert")
	}
}

func promptAsync(term *terminalSession, req templating.PromptRequest) <-chan promptResult {
	out := make(chan promptResult, 1)
	go func() {
		values, err := term.Prompter().Prompt(context.Background(), req)
		out <- promptResult{values: values, err: err}
	}()
	return out
}

func receiveJob(t *testing.T, term *terminalSession) promptJob {
	t.Helper()
	select {
	case job := <-term.prompts:
		return job
	case <-time.After(time.Second):
		t.Fatalf("prompt never reached the terminal")
	}
	return promptJob{}
}

func TestTerminalPromptModalCollectsValues(t *testing.T) {
	h := newTermHarness(t, nil, nil)
	req := templating.PromptRequest{
		Shortcut: schema.Shortcut{ID: "sig", Title: "Signature"},
		Fields:   []templating.Field{{Name: "name"}, {Name: "role", Default: "Dev"}},
		Attempt:  1,
	}
	result := promptAsync(h.term, req)
	h.term.openModal(receiveJob(t, h.term))

	if prefix := h.term.modal.prefix(); prefix != "name (1/2): " {
		t.Fatalf("unexpected modal prefix %q", prefix)
	}
	h.typeText("Ana")
	h.term.handleKey(key{kind: keyEnter})
	if got := h.term.modal.input.String(); got != "Dev" {
		t.Fatalf("expected default prefilled, got %q", got)
	}
	h.term.handleKey(key{kind: keyEnter})
	if h.term.modal != nil {
		t.Fatalf("expected modal to close after the last field")
	}
	res := <-result
	if res.err != nil {
		t.Fatalf("prompt: %v", res.err)
	}
	if res.values["name"] != "Ana" || res.values["role"] != "Dev" {
		t.Fatalf("unexpected values %+v", res.values)
	}
}

func TestTerminalPromptModalRetryShowsProblem(t *testing.T) {
	h := newTermHarness(t, nil, nil)
	req := templating.PromptRequest{
		Shortcut: schema.Shortcut{ID: "sig", Trigger: "//sig"},
		Fields:   []templating.Field{{Name: "name"}},
		Attempt:  2,
		Problem:  "name: value must not contain {{, }} or control characters",
		Previous: map[string]string{"name": "{{x}}"},
	}
	result := promptAsync(h.term, req)
	h.term.openModal(receiveJob(t, h.term))
	if got := h.term.modal.input.String(); got != "{{x}}" {
		t.Fatalf("expected previous value prefilled, got %q", got)
	}
	if line := h.term.statusLine(80); !strings.Contains(line, "must not contain") {
		t.Fatalf("expected problem in status line, got %q", line)
	}
	h.term.handleKey(key{kind: keyEscape})
	if res := <-result; !errors.Is(res.err, schema.ErrPromptCanceled) {
		t.Fatalf("expected cancel, got %v", res.err)
	}
}

func TestTerminalPrompterCanceledAfterShutdown(t *testing.T) {
	h := newTermHarness(t, nil, nil)
	h.term.shutdown()
	_, err := h.term.Prompter().Prompt(context.Background(), templating.PromptRequest{Fields: []templating.Field{{Name: "x"}}})
	if !errors.Is(err, schema.ErrPromptCanceled) {
		t.Fatalf("expected cancel after shutdown, got %v", err)
	}
}

func TestTerminalHandleEventUpdatesStatus(t *testing.T) {
	h := newTermHarness(t, nil, nil)
	h.term.handleEvent(eventbus.Event{Type: eventbus.EventSuggestion, Surface: terminalSurface, Trigger: "//nope"})
	if h.term.statusKind != statusInfo || !strings.Contains(h.term.status, "//nope") {
		t.Fatalf("unexpected suggestion status %q", h.term.status)
	}
	h.term.handleEvent(eventbus.Event{Type: eventbus.EventSuggestionDismissed, Surface: terminalSurface})
	if h.term.status != "" {
		t.Fatalf("expected dismissal to clear the status, got %q", h.term.status)
	}
	h.term.handleEvent(eventbus.Event{Type: eventbus.EventFailed, Surface: "other", Message: "ignored"})
	if h.term.status != "" {
		t.Fatalf("events of other surfaces must be ignored")
	}
	h.term.handleEvent(eventbus.Event{Type: eventbus.EventNotice, Message: "snipline was restarted"})
	if h.term.statusKind != statusError || !h.hasLine("snipline was restarted") {
		t.Fatalf("expected notice in status and scrollback")
	}
}

func TestTerminalRunRendersAndQuits(t *testing.T) {
	in, keys := io.Pipe()
	t.Cleanup(func() { _ = keys.Close() })
	var out bytes.Buffer
	h := newTermHarness(t, in, &out, staticShortcut("sig", "//sig", "Best regards"))

	done := make(chan error, 1)
	go func() {
		done <- h.term.Run(context.Background(), nil)
	}()
	if _, err := io.WriteString(keys, "/quit\r"); err != nil {
		t.Fatalf("write keys: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
	screen := out.String()
	if !strings.Contains(screen, "\x1b[?1049h") || !strings.Contains(screen, "\x1b[?1049l") {
		t.Fatalf("expected alt screen enter and exit")
	}
	if !strings.Contains(screen, "snipline") || !strings.Contains(screen, "1 shortcuts") {
		t.Fatalf("expected top bar in output")
	}
}

func TestCommandSpinnerStopRequestsRedraw(t *testing.T) {
	session := &terminalSession{
		redrawCh: make(chan struct{}, 1),
	}
	stop := session.startCommandSpinner(1 * time.Millisecond)
	waitFor(t, 200*time.Millisecond, func() bool {
		return session.commandSpinner.Load()
	})
	drainChannel(session.redrawCh)
	stop()
	if session.commandSpinner.Load() {
		t.Fatalf("expected command spinner to stop")
	}
	select {
	case <-session.redrawCh:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected redraw signal after spinner stop")
	}
}

type blockingHandler struct {
	started chan struct{}
	done    chan struct{}
}

func (h blockingHandler) Handle(ctx context.Context, rt command.Runtime, out command.Output, input string) (bool, error) {
	if h.started != nil {
		close(h.started)
	}
	if h.done != nil {
		<-h.done
	}
	return true, nil
}

func TestCommandSpinnerStartsForSlashCommand(t *testing.T) {
	previous := commandSpinnerDelay
	commandSpinnerDelay = 5 * time.Millisecond
	defer func() { commandSpinnerDelay = previous }()

	h := newTermHarness(t, nil, nil)
	h.attach(t)
	started := make(chan struct{})
	done := make(chan struct{})
	h.term.handler = blockingHandler{started: started, done: done}

	h.typeText("/sync")
	h.term.handleKey(key{kind: keyEnter})

	select {
	case <-started:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("handler did not start")
	}
	waitFor(t, 200*time.Millisecond, func() bool {
		return h.term.commandSpinner.Load()
	})
	close(done)
	waitFor(t, 200*time.Millisecond, func() bool {
		return !h.term.commandSpinner.Load() && h.term.commandActive.Load() == 0
	})
}

func waitFor(t *testing.T, timeout time.Duration, ready func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ready() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition")
}

func drainChannel(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
