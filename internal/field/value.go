package field

import "sync"

// ValueField is a value-holding control: one rune buffer with a numeric caret.
// It also backs the terminal line editor, so it carries the usual editing
// motions.
type ValueField struct {
	mu     sync.Mutex
	buf    []rune
	cursor int
	notify Notifier
}

// NewValueField returns a field holding text with the caret at the end.
func NewValueField(text string) *ValueField {
	f := &ValueField{}
	if text != "" {
		f.buf = []rune(text)
		f.cursor = len(f.buf)
	}
	return f
}

// Kind implements Adapter.
func (f *ValueField) Kind() Kind { return KindValue }

// Text implements Adapter.
func (f *ValueField) Text() (string, error) {
	return f.String(), nil
}

// Cursor implements Adapter.
func (f *ValueField) Cursor() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

// SetText replaces the whole buffer and moves the caret to its end.
func (f *ValueField) SetText(text string) error {
	f.mu.Lock()
	old := len(f.buf)
	f.buf = []rune(text)
	f.cursor = len(f.buf)
	f.mu.Unlock()
	f.notify.Notify(Change{Start: 0, End: old, Inserted: text, Source: SourceProgram})
	return nil
}

// SetCursor implements Adapter.
func (f *ValueField) SetCursor(offset int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset < 0 || offset > len(f.buf) {
		return ErrRange
	}
	f.cursor = offset
	return nil
}

// ReplaceRange implements Adapter.
func (f *ValueField) ReplaceRange(start, end int, text string) error {
	f.mu.Lock()
	if start < 0 || end < start || end > len(f.buf) {
		f.mu.Unlock()
		return ErrRange
	}
	ins := []rune(text)
	next := make([]rune, 0, len(f.buf)-(end-start)+len(ins))
	next = append(next, f.buf[:start]...)
	next = append(next, ins...)
	next = append(next, f.buf[end:]...)
	f.buf = next
	f.cursor = start + len(ins)
	f.mu.Unlock()
	f.notify.Notify(Change{Start: start, End: end, Inserted: text, Source: SourceProgram})
	return nil
}

// OnChange implements Adapter.
func (f *ValueField) OnChange(fn func(Change)) func() {
	return f.notify.Subscribe(fn)
}

func (f *ValueField) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.buf)
}

// Len returns the buffer length in runes.
func (f *ValueField) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

// Clear empties the buffer.
func (f *ValueField) Clear() {
	f.mu.Lock()
	old := len(f.buf)
	f.buf = nil
	f.cursor = 0
	f.mu.Unlock()
	if old > 0 {
		f.notify.Notify(Change{Start: 0, End: old, Source: SourceUser})
	}
}

// InsertRune types r at the caret.
func (f *ValueField) InsertRune(r rune) {
	f.mu.Lock()
	if f.cursor < 0 {
		f.cursor = 0
	}
	if f.cursor > len(f.buf) {
		f.cursor = len(f.buf)
	}
	at := f.cursor
	f.buf = append(f.buf[:at], append([]rune{r}, f.buf[at:]...)...)
	f.cursor++
	f.mu.Unlock()
	f.notify.Notify(Change{Start: at, End: at, Inserted: string(r), Source: SourceUser})
}

// InsertString types s at the caret.
func (f *ValueField) InsertString(s string) {
	for _, r := range s {
		f.InsertRune(r)
	}
}

// Backspace deletes the rune before the caret.
func (f *ValueField) Backspace() {
	f.mu.Lock()
	if f.cursor <= 0 {
		f.mu.Unlock()
		return
	}
	at := f.cursor - 1
	f.buf = append(f.buf[:at], f.buf[f.cursor:]...)
	f.cursor--
	f.mu.Unlock()
	f.notify.Notify(Change{Start: at, End: at + 1, Source: SourceUser})
}

// Delete deletes the rune under the caret.
func (f *ValueField) Delete() {
	f.mu.Lock()
	if f.cursor < 0 || f.cursor >= len(f.buf) {
		f.mu.Unlock()
		return
	}
	at := f.cursor
	f.buf = append(f.buf[:at], f.buf[at+1:]...)
	f.mu.Unlock()
	f.notify.Notify(Change{Start: at, End: at + 1, Source: SourceUser})
}

// MoveLeft moves the caret one rune left.
func (f *ValueField) MoveLeft() {
	f.move(func() {
		if f.cursor > 0 {
			f.cursor--
		}
	})
}

// MoveRight moves the caret one rune right.
func (f *ValueField) MoveRight() {
	f.move(func() {
		if f.cursor < len(f.buf) {
			f.cursor++
		}
	})
}

// MoveStart moves the caret to the start of the buffer.
func (f *ValueField) MoveStart() {
	f.move(func() { f.cursor = 0 })
}

// MoveEnd moves the caret to the end of the buffer.
func (f *ValueField) MoveEnd() {
	f.move(func() { f.cursor = len(f.buf) })
}

// MoveWordLeft moves the caret to the start of the previous word.
func (f *ValueField) MoveWordLeft() {
	f.move(func() {
		i := f.cursor
		for i > 0 && isSpace(f.buf[i-1]) {
			i--
		}
		for i > 0 && !isSpace(f.buf[i-1]) {
			i--
		}
		f.cursor = i
	})
}

// MoveWordRight moves the caret past the next word.
func (f *ValueField) MoveWordRight() {
	f.move(func() {
		i := f.cursor
		for i < len(f.buf) && isSpace(f.buf[i]) {
			i++
		}
		for i < len(f.buf) && !isSpace(f.buf[i]) {
			i++
		}
		f.cursor = i
	})
}

// DeleteWordBackward deletes the word before the caret.
func (f *ValueField) DeleteWordBackward() {
	f.mu.Lock()
	if f.cursor <= 0 {
		f.mu.Unlock()
		return
	}
	end := f.cursor
	start := end
	for start > 0 && isSpace(f.buf[start-1]) {
		start--
	}
	for start > 0 && !isSpace(f.buf[start-1]) {
		start--
	}
	f.buf = append(f.buf[:start], f.buf[end:]...)
	f.cursor = start
	f.mu.Unlock()
	f.notify.Notify(Change{Start: start, End: end, Source: SourceUser})
}

// KillLineStart deletes from the start of the line to the caret.
func (f *ValueField) KillLineStart() {
	f.mu.Lock()
	start := f.lineStart()
	end := f.cursor
	if start >= end {
		f.mu.Unlock()
		return
	}
	f.buf = append(f.buf[:start], f.buf[end:]...)
	f.cursor = start
	f.mu.Unlock()
	f.notify.Notify(Change{Start: start, End: end, Source: SourceUser})
}

// KillLineEnd deletes from the caret to the end of the line.
func (f *ValueField) KillLineEnd() {
	f.mu.Lock()
	start := f.cursor
	end := f.lineEnd()
	if end <= start {
		f.mu.Unlock()
		return
	}
	f.buf = append(f.buf[:start], f.buf[end:]...)
	f.mu.Unlock()
	f.notify.Notify(Change{Start: start, End: end, Source: SourceUser})
}

// move runs a caret-only motion. Motions notify listeners too so a detector
// can drop a trigger the caret has left.
func (f *ValueField) move(fn func()) {
	f.mu.Lock()
	before := f.cursor
	fn()
	after := f.cursor
	f.mu.Unlock()
	if before != after {
		f.notify.Notify(Change{Start: after, End: after, Source: SourceUser})
	}
}

func (f *ValueField) lineStart() int {
	for i := f.cursor - 1; i >= 0; i-- {
		if f.buf[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

func (f *ValueField) lineEnd() int {
	for i := f.cursor; i < len(f.buf); i++ {
		if f.buf[i] == '\n' {
			return i
		}
	}
	return len(f.buf)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n'
}
