// Package field abstracts reading and writing text and caret position across
// editable surfaces. Offsets are linear rune offsets into the surface text.
package field

import (
	"errors"
	"sync"
	"unicode/utf8"
)

// ErrRange indicates a range or offset outside the surface text.
var ErrRange = errors.New("field range out of bounds")

// ErrDetached indicates the surface is no longer attached.
var ErrDetached = errors.New("field detached")

// Kind names the surface family an adapter drives.
type Kind string

const (
	// KindValue is a value-holding control with one linear buffer.
	KindValue Kind = "value"
	// KindRich is a rich editable region made of text nodes.
	KindRich Kind = "rich"
)

// Source tells listeners who caused a change.
type Source string

const (
	// SourceUser marks edits made by typing.
	SourceUser Source = "user"
	// SourceProgram marks writes made through the adapter contract.
	SourceProgram Source = "program"
)

// Change describes one mutation: the replaced span [Start,End) of the old
// text and the inserted text.
type Change struct {
	Start    int
	End      int
	Inserted string
	Source   Source
}

// Adapter is the contract every editable surface implements. It is selected
// once when a surface is attached.
type Adapter interface {
	Kind() Kind
	Text() (string, error)
	Cursor() (int, error)
	SetText(text string) error
	SetCursor(offset int) error
	// ReplaceRange replaces [start,end) with text, leaves the caret right after
	// the inserted text and notifies change listeners.
	ReplaceRange(start, end int, text string) error
	OnChange(fn func(Change)) (cancel func())
}

// Notifier fans change notifications out to registered listeners. The zero
// value is ready to use.
type Notifier struct {
	mu        sync.Mutex
	next      int
	listeners map[int]func(Change)
}

// Subscribe registers fn and returns a function removing it.
func (n *Notifier) Subscribe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	n.mu.Lock()
	if n.listeners == nil {
		n.listeners = make(map[int]func(Change))
	}
	id := n.next
	n.next++
	n.listeners[id] = fn
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

// Notify calls every listener with change. Listeners run on the caller's
// goroutine, outside the notifier lock.
func (n *Notifier) Notify(change Change) {
	n.mu.Lock()
	fns := make([]func(Change), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

// RuneLen counts the runes in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Before returns the text up to the caret.
func Before(a Adapter) (string, int, error) {
	text, err := a.Text()
	if err != nil {
		return "", 0, err
	}
	cursor, err := a.Cursor()
	if err != nil {
		return "", 0, err
	}
	runes := []rune(text)
	if cursor < 0 || cursor > len(runes) {
		return "", 0, ErrRange
	}
	return string(runes[:cursor]), cursor, nil
}

// Span returns the text in [start,end).
func Span(a Adapter, start, end int) (string, error) {
	text, err := a.Text()
	if err != nil {
		return "", err
	}
	runes := []rune(text)
	if start < 0 || end < start || end > len(runes) {
		return "", ErrRange
	}
	return string(runes[start:end]), nil
}
