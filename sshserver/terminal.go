package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/command"
	"pkt.systems/snipline/internal/eventbus"
	"pkt.systems/snipline/internal/field"
	"pkt.systems/snipline/internal/logx"
	"pkt.systems/snipline/internal/templating"
	"pkt.systems/snipline/internal/trigger"
	"pkt.systems/snipline/schema"
)

// terminalSurface names the line editor on the page.
const terminalSurface schema.SurfaceID = "terminal"

var commandSpinnerDelay = 150 * time.Millisecond

var spinnerFrames = []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}

// CommandHandler runs slash commands typed into the terminal.
type CommandHandler interface {
	Handle(ctx context.Context, rt command.Runtime, out command.Output, input string) (bool, error)
}

// pageRuntime is what the terminal needs from core.Runtime.
type pageRuntime interface {
	command.Runtime
	Attach(ctx context.Context, surface schema.SurfaceID, adapter field.Adapter) *trigger.Session
	Blur(surface schema.SurfaceID)
	Insert(ctx context.Context, s *trigger.Session, sc schema.Shortcut) error
}

type statusKind int

const (
	statusNone statusKind = iota
	statusPending
	statusInfo
	statusError
)

// loginStep asks for the password of a /login typed without one.
type loginStep struct {
	username string
	input    *field.ValueField
}

type terminalOptions struct {
	Handler CommandHandler
	Theme   string
	Events  <-chan eventbus.Event
	Banner  []string
}

type terminalSession struct {
	in      io.Reader
	screen  *screen
	rt      pageRuntime
	handler CommandHandler
	theme   tuiTheme
	events  <-chan eventbus.Event
	ctx     context.Context

	width  int
	height int

	editor  *field.ValueField
	session *trigger.Session

	mu     sync.Mutex
	output *scrollback

	status     string
	statusKind statusKind

	prompts chan promptJob
	done    chan struct{}
	modal   *promptModal
	picker  *pickerState
	login   *loginStep

	spinnerIdx     int
	commandActive  atomic.Int32
	commandSpinner atomic.Bool
	dirty          bool
	redrawCh       chan struct{}
}

func newTerminalSession(in io.Reader, out io.Writer, opts terminalOptions) *terminalSession {
	t := &terminalSession{
		in:       in,
		screen:   newScreen(out),
		handler:  opts.Handler,
		theme:    themeForName(opts.Theme),
		events:   opts.Events,
		ctx:      context.Background(),
		editor:   field.NewValueField(""),
		output:   newScrollback(0),
		prompts:  make(chan promptJob),
		done:     make(chan struct{}),
		redrawCh: make(chan struct{}, 1),
	}
	t.output.Append(opts.Banner...)
	return t
}

// Prompter returns the variable prompter backed by this terminal's modal.
func (t *terminalSession) Prompter() templating.Prompter {
	return terminalPrompter{jobs: t.prompts, done: t.done}
}

func (t *terminalSession) bind(rt pageRuntime) {
	t.rt = rt
}

// attach registers the line editor with the runtime. Program writes into the
// editor, such as expansions, redraw the screen.
func (t *terminalSession) attach(ctx context.Context) func() {
	t.ctx = ctx
	t.session = t.rt.Attach(ctx, terminalSurface, t.editor)
	unsubscribe := t.editor.OnChange(func(field.Change) { t.requestRedraw() })
	return func() {
		unsubscribe()
		t.rt.Blur(terminalSurface)
	}
}

func (t *terminalSession) log() pslog.Logger {
	if t.rt == nil {
		return logx.Ctx(t.ctx)
	}
	return logx.WithPageSurface(t.ctx, t.rt.Page(), terminalSurface)
}

func (t *terminalSession) SetSize(width, height int) {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	t.width = width
	t.height = height
}

func (t *terminalSession) Run(ctx context.Context, winCh <-chan gliderssh.Window) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.rt == nil {
		return errors.New("terminal runtime not bound")
	}
	detach := t.attach(ctx)
	defer detach()
	defer t.shutdown()
	t.screen.EnterAltScreen()
	defer t.screen.ExitAltScreen()

	t.render()
	t.log().Info("tui session start", "width", t.width, "height", t.height)

	keys := make(chan key, 16)
	go readKeys(t.in, keys)

	spinnerTicker := time.NewTicker(250 * time.Millisecond)
	defer spinnerTicker.Stop()

	events := t.events

	for {
		prompts := t.prompts
		if t.modal != nil {
			prompts = nil
		}
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			if t.handleKey(k) {
				return nil
			}
		case win, ok := <-winCh:
			if ok {
				t.SetSize(win.Width, win.Height)
				t.dirty = true
				t.log().Debug("tui resize", "width", t.width, "height", t.height)
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				break
			}
			t.handleEvent(ev)
		case job := <-prompts:
			t.openModal(job)
		case <-spinnerTicker.C:
			if t.modal != nil && t.modal.expired() {
				t.log().Debug("tui prompt expired")
				t.modal = nil
				t.dirty = true
			}
			if t.busy() {
				t.spinnerIdx = (t.spinnerIdx + 1) % len(spinnerFrames)
				t.dirty = true
			}
		case <-t.redrawCh:
			t.dirty = true
		}

		if t.dirty {
			t.render()
			t.dirty = false
		}
	}
}

func (t *terminalSession) shutdown() {
	select {
	case <-t.done:
		return
	default:
	}
	if t.modal != nil {
		t.modal.finish(nil, schema.ErrPromptCanceled)
		t.modal = nil
	}
	close(t.done)
}

func (t *terminalSession) busy() bool {
	if t.commandSpinner.Load() {
		return true
	}
	return t.session != nil && t.session.Busy() && t.modal == nil
}

func (t *terminalSession) handleEvent(ev eventbus.Event) {
	if ev.Surface != "" && ev.Surface != terminalSurface {
		return
	}
	switch ev.Type {
	case eventbus.EventPending:
		t.setStatus(statusPending, "pending "+ev.Trigger)
	case eventbus.EventPendingCleared, eventbus.EventSuggestionDismissed:
		if t.statusKind == statusPending || t.statusKind == statusInfo {
			t.setStatus(statusNone, "")
		}
	case eventbus.EventSuggestion:
		t.setStatus(statusInfo, fmt.Sprintf("no shortcut for %s; create it in the shortcut service (Esc to dismiss)", ev.Trigger))
	case eventbus.EventExpanded:
		name := ev.Trigger
		if ev.Shortcut != nil && ev.Shortcut.Title != "" {
			name = ev.Shortcut.Title
		}
		t.setStatus(statusInfo, "expanded "+name)
	case eventbus.EventFailed:
		message := ev.Message
		if message == "" && ev.Err != nil {
			message = ev.Err.Error()
		}
		t.setStatus(statusError, message)
		t.screen.Bell()
	case eventbus.EventNotice:
		t.setStatus(statusError, ev.Message)
		t.AppendLines(schema.StatusMarker + ev.Message)
	}
	t.dirty = true
}

func (t *terminalSession) setStatus(kind statusKind, message string) {
	t.statusKind = kind
	t.status = message
}

func (t *terminalSession) handleKey(k key) bool {
	if t.modal != nil {
		t.handleModalKey(k)
		t.dirty = true
		return false
	}
	if t.login != nil {
		t.handleLoginKey(k)
		t.dirty = true
		return false
	}
	if t.picker != nil {
		t.handlePickerKey(k)
		t.dirty = true
		return false
	}
	switch k.kind {
	case keyCtrlD:
		if t.editor.Len() == 0 {
			t.log().Info("tui exit", "reason", "ctrl-d")
			return true
		}
		t.editor.Delete()
	case keyCtrlC:
		t.session.Reset()
		t.editor.Clear()
	case keyCtrlL:
		t.mu.Lock()
		t.output.Clear()
		t.mu.Unlock()
	case keyCtrlSpace:
		t.openPicker()
	case keyEnter:
		if t.session.OnKey(trigger.KeyEnter) {
			break
		}
		if t.handleEnter() {
			return true
		}
	case keyTab:
		t.session.OnKey(trigger.KeyTab)
	case keyEscape:
		if !t.session.OnKey(trigger.KeyEscape) {
			t.cancelScroll()
		}
	case keyCtrlJ:
		t.cancelScroll()
		t.editor.InsertRune('\n')
	case keyRune:
		t.cancelScroll()
		if k.r == ' ' && t.session.OnKey(trigger.KeySpace) {
			break
		}
		t.editor.InsertRune(k.r)
	case keyPageUp:
		t.scroll(1)
	case keyPageDown:
		t.scroll(-1)
	case keyUp:
		t.scrollLines(1)
	case keyDown:
		t.scrollLines(-1)
	default:
		if editKey(t.editor, k) {
			t.cancelScroll()
		}
	}
	t.dirty = true
	return false
}

func (t *terminalSession) handleEnter() bool {
	line := t.editor.String()
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	t.editor.Clear()
	t.session.Reset()
	t.cancelScroll()
	switch trimmed {
	case "/quit", "/exit", "/q":
		t.log().Info("tui exit", "reason", "command")
		return true
	}
	if strings.HasPrefix(trimmed, "/") && !strings.HasPrefix(trimmed, "//") {
		if cmd, ok := command.Parse(trimmed); ok && cmd.Name == "login" && len(cmd.Args) == 1 {
			t.login = &loginStep{username: cmd.Args[0], input: field.NewValueField("")}
			return false
		}
		t.runCommandAsync(trimmed)
		return false
	}
	lines := strings.Split(line, "\n")
	for i := range lines {
		lines[i] = schema.SentMarker + lines[i]
	}
	t.AppendLines(lines...)
	return false
}

func (t *terminalSession) handleLoginKey(k key) {
	switch k.kind {
	case keyEscape, keyCtrlC:
		t.login = nil
		t.AppendLines(schema.StatusMarker + "login canceled")
	case keyEnter:
		password := t.login.input.String()
		username := t.login.username
		t.login = nil
		if password == "" {
			t.AppendLines("error: password required")
			return
		}
		t.runCommandAsync("/login " + username + " " + password)
	default:
		editKey(t.login.input, k)
	}
}

func (t *terminalSession) openModal(job promptJob) {
	if job.ctx.Err() != nil {
		job.reply <- promptResult{err: job.ctx.Err()}
		return
	}
	t.picker = nil
	t.login = nil
	t.modal = newPromptModal(job)
	t.log().Debug("tui prompt open", "shortcut", job.req.Shortcut.ID, "fields", len(job.req.Fields), "attempt", job.req.Attempt)
	t.dirty = true
}

func (t *terminalSession) handleModalKey(k key) {
	switch k.kind {
	case keyEscape, keyCtrlC:
		t.modal.finish(nil, schema.ErrPromptCanceled)
		t.modal = nil
		t.log().Debug("tui prompt canceled")
	case keyEnter, keyTab:
		if t.modal.advance() {
			t.modal.finish(t.modal.values, nil)
			t.modal = nil
		}
	default:
		editKey(t.modal.input, k)
	}
}

func (t *terminalSession) openPicker() {
	if t.session != nil && t.session.Busy() {
		t.setStatus(statusInfo, "an expansion is already running")
		return
	}
	t.picker = newPicker(t.rt.Picker)
}

func (t *terminalSession) handlePickerKey(k key) {
	switch k.kind {
	case keyEscape, keyCtrlC, keyCtrlSpace:
		t.picker = nil
	case keyUp, keyShiftTab:
		t.picker.move(-1)
	case keyDown, keyTab:
		t.picker.move(1)
	case keyPageUp:
		t.picker.move(-max(t.viewHeight()-1, 1))
	case keyPageDown:
		t.picker.move(max(t.viewHeight()-1, 1))
	case keyEnter:
		sc, ok := t.picker.current()
		t.picker = nil
		if ok {
			t.insertAsync(sc)
		}
	default:
		if editKey(t.picker.query, k) {
			t.picker.refresh(t.rt.Picker)
		}
	}
}

func (t *terminalSession) insertAsync(sc schema.Shortcut) {
	session := t.session
	ctx := t.ctx
	t.log().Debug("tui picker insert", "shortcut", sc.ID)
	go func() {
		if err := t.rt.Insert(ctx, session, sc); err != nil && !errors.Is(err, schema.ErrPromptCanceled) {
			t.appendAsyncError(err)
		}
	}()
}

func (t *terminalSession) runCommandAsync(line string) {
	stopSpinner := t.startCommandSpinner(commandSpinnerDelay)
	t.log().Debug("tui command async start")
	go func() {
		defer stopSpinner()
		if t.handler == nil {
			t.appendAsyncError(errors.New("commands unavailable"))
			return
		}
		handled, err := t.handler.Handle(t.ctx, t.rt, t, line)
		if err != nil {
			t.appendAsyncError(err)
			return
		}
		if !handled {
			t.appendAsyncError(errors.New("unknown command"))
		}
	}()
}

func (t *terminalSession) startCommandSpinner(delay time.Duration) func() {
	t.commandActive.Add(1)
	timer := time.AfterFunc(delay, func() {
		if t.commandActive.Load() > 0 {
			t.commandSpinner.Store(true)
			t.requestRedraw()
		}
	})
	var stopped atomic.Bool
	return func() {
		if stopped.Swap(true) {
			return
		}
		timer.Stop()
		if t.commandActive.Add(-1) <= 0 {
			t.commandActive.Store(0)
			t.commandSpinner.Store(false)
			t.requestRedraw()
		}
	}
}

func (t *terminalSession) requestRedraw() {
	select {
	case t.redrawCh <- struct{}{}:
	default:
	}
}

// AppendLines implements command.Output. It is safe from any goroutine.
func (t *terminalSession) AppendLines(lines ...string) {
	t.mu.Lock()
	t.output.Append(lines...)
	t.mu.Unlock()
	t.requestRedraw()
}

func (t *terminalSession) appendAsyncError(err error) {
	if err == nil {
		return
	}
	t.log().Warn("tui command async error", "err", err)
	t.AppendLines(fmt.Sprintf("error: %v", err))
}

func (t *terminalSession) scroll(direction int) {
	step := max(t.viewHeight()-1, 1)
	t.scrollLines(direction * step)
}

func (t *terminalSession) scrollLines(delta int) {
	t.mu.Lock()
	t.output.Scroll(delta, t.viewHeight())
	t.mu.Unlock()
}

func (t *terminalSession) cancelScroll() {
	t.mu.Lock()
	t.output.ResetScroll()
	t.mu.Unlock()
}

// viewHeight is the number of rows between the top bar and the status line.
func (t *terminalSession) viewHeight() int {
	if t.height <= 2 {
		return 0
	}
	width := t.width
	if width <= 0 {
		width = 80
	}
	prefix, input, cursor, _ := t.inputDisplay()
	inputLines, _, _ := renderInputLines(prefix, input, cursor, width, span{}, "")
	return max(t.height-2-len(inputLines), 0)
}

func (t *terminalSession) render() {
	width := t.width
	height := t.height
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	theme := t.theme
	lines := make([]string, 0, height)
	left, right := t.barText()
	lines = append(lines, renderBar(left, right, width, theme.BarFG, theme.BarBG))

	prefix, input, cursor, mark := t.inputDisplay()
	inputLines, cursorRow, cursorCol := renderInputLines(t.stylePrefix(prefix), input, cursor, width, mark, ansiUnderline+ansiFgRGB(theme.PendingFG))
	outputHeight := max(height-2-len(inputLines), 0)

	if t.picker != nil {
		lines = append(lines, t.picker.render(width, outputHeight, theme)...)
	} else {
		t.mu.Lock()
		view := t.output.View(outputHeight)
		t.mu.Unlock()
		lines = append(lines, renderViewport(view.Lines, width, outputHeight, theme, view.AtBottom)...)
	}
	lines = append(lines, t.statusLine(width))
	lines = append(lines, inputLines...)
	cursorRow = len(lines) - len(inputLines) + cursorRow
	if err := t.screen.Render(lines, cursorRow, cursorCol); err != nil {
		t.log().Warn("tui render failed", "err", err)
	}
}

func (t *terminalSession) barText() (string, string) {
	left := " snipline"
	if user := t.rt.User(); user != nil {
		left += " · " + user.Username
	} else {
		left += " · not signed in"
	}
	settings := t.rt.Settings()
	right := fmt.Sprintf("%s · %s · %d shortcuts ", onOffLabel(settings.Enabled), settings.Mode, len(t.rt.Picker("")))
	if t.rt.Client().Invalidated() {
		right = "reconnect required · " + right
	}
	return left, right
}

func (t *terminalSession) statusLine(width int) string {
	theme := t.theme
	switch {
	case t.modal != nil:
		if t.modal.job.req.Problem != "" {
			return ansiFgRGB(theme.ErrorFG) + trimToWidth(sanitizeOutputLine(t.modal.job.req.Problem), width) + ansiReset
		}
		return ansiFgRGB(theme.AccentFG) + trimToWidth(t.modal.title()+" (Enter next, Esc cancel)", width) + ansiReset
	case t.picker != nil:
		return ansiDim + ansiFgRGB(theme.MetaFG) + trimToWidth("type to filter · ↑/↓ select · Enter insert · Esc close", width) + ansiReset
	case t.login != nil:
		return ansiDim + ansiFgRGB(theme.MetaFG) + trimToWidth("signing in as "+t.login.username+" (Esc cancel)", width) + ansiReset
	}
	message := sanitizeOutputLine(t.status)
	if t.busy() {
		message = string(spinnerFrames[t.spinnerIdx%len(spinnerFrames)]) + " " + message
	}
	switch t.statusKind {
	case statusError:
		return ansiBold + ansiFgRGB(theme.ErrorFG) + trimToWidth(message, width) + ansiReset
	case statusPending:
		return ansiFgRGB(theme.PendingFG) + trimToWidth(message, width) + ansiReset
	default:
		return ansiDim + ansiFgRGB(theme.MetaFG) + trimToWidth(message, width) + ansiReset
	}
}

// inputDisplay returns what the input area shows and the span of a pending
// trigger in it.
func (t *terminalSession) inputDisplay() (string, string, int, span) {
	switch {
	case t.modal != nil:
		return t.modal.prefix(), t.modal.input.String(), fieldCursor(t.modal.input), span{}
	case t.login != nil:
		return "password: ", maskInput(t.login.input.String()), fieldCursor(t.login.input), span{}
	case t.picker != nil:
		return "pick> ", t.picker.query.String(), fieldCursor(t.picker.query), span{}
	}
	input := t.editor.String()
	cursor := fieldCursor(t.editor)
	return "> ", input, cursor, t.pendingSpan(input, cursor)
}

func (t *terminalSession) pendingSpan(input string, cursor int) span {
	if t.session == nil || t.session.State() != trigger.StateBuffering {
		return span{}
	}
	token := t.session.Buffer()
	if token == "" {
		return span{}
	}
	runes := []rune(input)
	if cursor > len(runes) {
		cursor = len(runes)
	}
	before := string(runes[:cursor])
	idx := strings.LastIndex(before, token)
	if idx < 0 {
		return span{}
	}
	start := utf8.RuneCountInString(before[:idx])
	return span{start: start, end: start + utf8.RuneCountInString(token)}
}

func (t *terminalSession) stylePrefix(prefix string) string {
	if strings.HasPrefix(prefix, ">") {
		return ansiBold + ansiFgRGB(t.theme.PromptFG) + ">" + ansiReset + strings.TrimPrefix(prefix, ">")
	}
	return ansiFgRGB(t.theme.AccentFG) + prefix + ansiReset
}

func onOffLabel(enabled bool) string {
	if enabled {
		return "expansion on"
	}
	return "expansion off"
}
