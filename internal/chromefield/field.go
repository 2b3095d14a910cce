// Package chromefield drives a text control in a Chrome page over the
// DevTools protocol, so the trigger engine can run against real DOM fields.
// Value controls (input, textarea) map to field.KindValue and contenteditable
// regions to field.KindRich.
package chromefield

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/field"
)

// Confirm keys reported to OnKey, using DOM key names.
const (
	KeyEnter  = "Enter"
	KeyTab    = "Tab"
	KeySpace  = " "
	KeyEscape = "Escape"
)

// DefaultHighlightTTL is how long text inserted into a rich region stays
// highlighted.
const DefaultHighlightTTL = 1500 * time.Millisecond

var fieldSeq atomic.Uint64

// Option configures Attach.
type Option func(*options)

type options struct {
	pattern   string
	highlight time.Duration
	logger    pslog.Logger
}

// WithPattern sets the trigger expression checked before a confirm key is
// intercepted. Without it only Escape is reported.
func WithPattern(expr string) Option {
	return func(o *options) { o.pattern = expr }
}

// WithHighlightTTL overrides DefaultHighlightTTL. Zero disables highlights.
func WithHighlightTTL(ttl time.Duration) Option {
	return func(o *options) { o.highlight = ttl }
}

// WithLogger sets the adapter logger.
func WithLogger(logger pslog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Field is a field.Adapter over one DOM element.
type Field struct {
	ctx      context.Context
	cancel   context.CancelFunc
	selector string
	id       string
	kind     field.Kind
	ttl      time.Duration
	log      pslog.Logger
	notify   field.Notifier
	events   chan string
	done     chan struct{}

	mu    sync.Mutex
	onKey func(string)
}

type pageEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
	Data string `json:"data,omitempty"`
	At   int    `json:"at,omitempty"`
}

// Attach probes the element matching selector in the chromedp tab carried by
// ctx and returns an adapter for it. The probe runs once; the element kind is
// fixed for the life of the adapter.
func Attach(ctx context.Context, selector string, opts ...Option) (*Field, error) {
	o := options{highlight: DefaultHighlightTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = pslog.Ctx(ctx)
	}
	if strings.TrimSpace(selector) == "" {
		return nil, errors.New("chromefield: selector is required")
	}

	listenCtx, cancel := context.WithCancel(ctx)
	f := &Field{
		ctx:      ctx,
		cancel:   cancel,
		selector: selector,
		id:       fmt.Sprintf("f%d", fieldSeq.Add(1)),
		ttl:      o.highlight,
		log:      o.logger.With("selector", selector),
		events:   make(chan string, 64),
		done:     make(chan struct{}),
	}
	chromedp.ListenTarget(listenCtx, func(ev any) {
		called, ok := ev.(*runtime.EventBindingCalled)
		if !ok || called.Name != bindingName {
			return
		}
		// The listener runs on the target's event loop and must not block.
		select {
		case f.events <- called.Payload:
		default:
			f.log.Warn("chromefield event dropped", "payload", called.Payload)
		}
	})

	var kind string
	err := chromedp.Run(ctx,
		runtime.AddBinding(bindingName),
		chromedp.Evaluate(installScript, nil),
		chromedp.Evaluate(f.call("kind"), &kind),
	)
	if err != nil {
		cancel()
		return nil, mapError(err)
	}
	f.kind = field.Kind(kind)
	var ok bool
	if err := f.eval(&ok, "watch", f.id, o.pattern); err != nil {
		cancel()
		return nil, err
	}
	go f.pump(listenCtx)
	f.log.Debug("chromefield attached", "kind", f.kind)
	return f, nil
}

// Kind implements field.Adapter.
func (f *Field) Kind() field.Kind { return f.kind }

// Text implements field.Adapter.
func (f *Field) Text() (string, error) {
	var text string
	err := f.eval(&text, "text")
	return text, err
}

// Cursor implements field.Adapter.
func (f *Field) Cursor() (int, error) {
	var at int
	err := f.eval(&at, "cursor")
	return at, err
}

// SetText implements field.Adapter.
func (f *Field) SetText(text string) error {
	old, err := f.Text()
	if err != nil {
		return err
	}
	var ok bool
	if err := f.eval(&ok, "setText", text); err != nil {
		return err
	}
	f.notify.Notify(field.Change{Start: 0, End: field.RuneLen(old), Inserted: text, Source: field.SourceProgram})
	return nil
}

// SetCursor implements field.Adapter.
func (f *Field) SetCursor(offset int) error {
	var ok bool
	return f.eval(&ok, "setCursor", offset)
}

// ReplaceRange implements field.Adapter. The page sees an input event; rich
// regions also get a highlight over the inserted text.
func (f *Field) ReplaceRange(start, end int, text string) error {
	var ok bool
	if err := f.eval(&ok, "replace", start, end, text, f.ttl.Milliseconds()); err != nil {
		return err
	}
	f.notify.Notify(field.Change{Start: start, End: end, Inserted: text, Source: field.SourceProgram})
	return nil
}

// OnChange implements field.Adapter. Typed edits report an empty span at the
// caret position before the typed text.
func (f *Field) OnChange(fn func(field.Change)) func() {
	return f.notify.Subscribe(fn)
}

// OnKey registers the confirm key callback. Enter, Tab and Space are only
// reported, and withheld from the page, when the text before the caret
// matches the trigger pattern. Escape is always reported and never withheld.
func (f *Field) OnKey(fn func(key string)) {
	f.mu.Lock()
	f.onKey = fn
	f.mu.Unlock()
}

// Passthrough applies the default effect of a withheld key the engine did not
// consume.
func (f *Field) Passthrough(key string) error {
	var text string
	switch key {
	case KeySpace:
		text = " "
	case KeyEnter:
		if f.kind == field.KindRich {
			text = "\n"
		} else {
			var multiline bool
			if err := chromedp.Run(f.ctx, chromedp.Evaluate(
				fmt.Sprintf(`document.querySelector(%s) instanceof HTMLTextAreaElement`, quote(f.selector)), &multiline)); err != nil {
				return mapError(err)
			}
			if multiline {
				text = "\n"
			}
		}
	}
	if text == "" {
		return nil
	}
	at, err := f.Cursor()
	if err != nil {
		return err
	}
	var ok bool
	if err := f.eval(&ok, "replace", at, at, text, 0); err != nil {
		return err
	}
	f.notify.Notify(field.Change{Start: at, End: at, Inserted: text, Source: field.SourceUser})
	return nil
}

// Close stops event delivery. The element keeps its listeners until the page
// navigates away.
func (f *Field) Close() error {
	f.cancel()
	<-f.done
	return nil
}

func (f *Field) pump(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-f.events:
			ev, err := decodeEvent(raw)
			if err != nil {
				f.log.Warn("chromefield event invalid", "err", err)
				continue
			}
			if ev.ID != f.id {
				continue
			}
			f.dispatch(ev)
		}
	}
}

func (f *Field) dispatch(ev pageEvent) {
	switch ev.Type {
	case "edit":
		at := ev.At - field.RuneLen(ev.Data)
		if at < 0 {
			at = 0
		}
		f.notify.Notify(field.Change{Start: at, End: at, Inserted: ev.Data, Source: field.SourceUser})
	case "key":
		f.mu.Lock()
		fn := f.onKey
		f.mu.Unlock()
		if fn != nil {
			fn(ev.Key)
		} else if ev.Key != KeyEscape {
			if err := f.Passthrough(ev.Key); err != nil {
				f.log.Warn("chromefield passthrough failed", "key", ev.Key, "err", err)
			}
		}
	default:
		f.log.Debug("chromefield event ignored", "type", ev.Type)
	}
}

func (f *Field) call(method string, args ...any) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quote(f.selector))
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			raw = []byte("null")
		}
		parts = append(parts, string(raw))
	}
	return fmt.Sprintf("window.__snipline.%s(%s)", method, strings.Join(parts, ", "))
}

func (f *Field) eval(out any, method string, args ...any) error {
	if err := f.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", field.ErrDetached, err)
	}
	return mapError(chromedp.Run(f.ctx, chromedp.Evaluate(f.call(method, args...), out)))
}

func decodeEvent(raw string) (pageEvent, error) {
	var ev pageEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return pageEvent{}, err
	}
	if ev.ID == "" || ev.Type == "" {
		return pageEvent{}, fmt.Errorf("event %q missing id or type", raw)
	}
	return ev, nil
}

// mapError turns script exceptions raised by the page helpers into the field
// package errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "snipline: detached"), strings.Contains(msg, "__snipline is not defined"),
		strings.Contains(msg, "Cannot read properties of undefined"):
		return fmt.Errorf("%w: %v", field.ErrDetached, err)
	case strings.Contains(msg, "snipline: range"):
		return fmt.Errorf("%w: %v", field.ErrRange, err)
	default:
		return err
	}
}

func quote(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

var _ field.Adapter = (*Field)(nil)
