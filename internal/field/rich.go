package field

import (
	"sync"
	"time"
)

// Node is one text node of a rich region. Mark carries formatting the node
// was created with; it never affects offsets.
type Node struct {
	Text string
	Mark string
}

// Position is a caret expressed as a node index and a rune offset in that node.
type Position struct {
	Node   int
	Offset int
}

// Highlight is a transient visual marker over an inserted span.
type Highlight struct {
	Start int
	End   int
	Until time.Time
}

// RichField is a rich editable region made of ordered text nodes. Linear
// offsets are normalized to node positions with left affinity: an offset on a
// node boundary belongs to the end of the earlier node.
type RichField struct {
	mu         sync.Mutex
	nodes      [][]rune
	marks      []string
	caret      Position
	highlights []Highlight
	ttl        time.Duration
	now        func() time.Time
	notify     Notifier
}

// RichOption configures a RichField.
type RichOption func(*RichField)

// WithHighlightTTL sets how long an inserted span stays highlighted.
func WithHighlightTTL(ttl time.Duration) RichOption {
	return func(f *RichField) { f.ttl = ttl }
}

// WithClock overrides the clock used for highlight expiry.
func WithClock(now func() time.Time) RichOption {
	return func(f *RichField) {
		if now != nil {
			f.now = now
		}
	}
}

// NewRichField returns a region holding nodes with the caret at the end.
func NewRichField(nodes []Node, opts ...RichOption) *RichField {
	f := &RichField{ttl: 600 * time.Millisecond, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	for _, n := range nodes {
		f.nodes = append(f.nodes, []rune(n.Text))
		f.marks = append(f.marks, n.Mark)
	}
	if len(f.nodes) == 0 {
		f.nodes = [][]rune{nil}
		f.marks = []string{""}
	}
	last := len(f.nodes) - 1
	f.caret = Position{Node: last, Offset: len(f.nodes[last])}
	return f
}

// Kind implements Adapter.
func (f *RichField) Kind() Kind { return KindRich }

// Text implements Adapter.
func (f *RichField) Text() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textLocked(), nil
}

// Cursor implements Adapter.
func (f *RichField) Cursor() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linearLocked(f.caret), nil
}

// Caret returns the caret as a node position.
func (f *RichField) Caret() Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caret
}

// Nodes returns a copy of the current nodes.
func (f *RichField) Nodes() []Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Node, len(f.nodes))
	for i, n := range f.nodes {
		out[i] = Node{Text: string(n), Mark: f.marks[i]}
	}
	return out
}

// Linear converts a node position to a linear offset.
func (f *RichField) Linear(pos Position) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pos.Node < 0 || pos.Node >= len(f.nodes) || pos.Offset < 0 || pos.Offset > len(f.nodes[pos.Node]) {
		return 0, ErrRange
	}
	return f.linearLocked(pos), nil
}

// Locate converts a linear offset to a node position.
func (f *RichField) Locate(offset int) (Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locateLocked(offset)
}

// SetText collapses the region into a single unmarked node.
func (f *RichField) SetText(text string) error {
	f.mu.Lock()
	old := f.lenLocked()
	f.nodes = [][]rune{[]rune(text)}
	f.marks = []string{""}
	f.caret = Position{Node: 0, Offset: len(f.nodes[0])}
	f.highlights = nil
	f.mu.Unlock()
	f.notify.Notify(Change{Start: 0, End: old, Inserted: text, Source: SourceProgram})
	return nil
}

// SetCursor implements Adapter.
func (f *RichField) SetCursor(offset int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, err := f.locateLocked(offset)
	if err != nil {
		return err
	}
	f.caret = pos
	return nil
}

// SetCaret places the caret at a node position.
func (f *RichField) SetCaret(pos Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pos.Node < 0 || pos.Node >= len(f.nodes) || pos.Offset < 0 || pos.Offset > len(f.nodes[pos.Node]) {
		return ErrRange
	}
	f.caret = pos
	return nil
}

// ReplaceRange implements Adapter. A span crossing nodes is deleted across
// them, the text goes into the start node, nodes left empty are dropped
// (one node always remains) and the caret lands after the inserted text.
func (f *RichField) ReplaceRange(start, end int, text string) error {
	f.mu.Lock()
	if start < 0 || end < start || end > f.lenLocked() {
		f.mu.Unlock()
		return ErrRange
	}
	s, _ := f.locateLocked(start)
	e, _ := f.locateLocked(end)
	ins := []rune(text)
	if s.Node == e.Node {
		n := f.nodes[s.Node]
		next := make([]rune, 0, len(n)-(e.Offset-s.Offset)+len(ins))
		next = append(next, n[:s.Offset]...)
		next = append(next, ins...)
		next = append(next, n[e.Offset:]...)
		f.nodes[s.Node] = next
	} else {
		head := append(append([]rune(nil), f.nodes[s.Node][:s.Offset]...), ins...)
		f.nodes[s.Node] = head
		for i := s.Node + 1; i < e.Node; i++ {
			f.nodes[i] = nil
		}
		f.nodes[e.Node] = append([]rune(nil), f.nodes[e.Node][e.Offset:]...)
	}
	f.compactLocked()
	after := start + len(ins)
	f.caret, _ = f.locateLocked(after)
	if len(ins) > 0 && f.ttl > 0 {
		f.highlights = append(f.pruneLocked(), Highlight{Start: start, End: after, Until: f.now().Add(f.ttl)})
	}
	f.mu.Unlock()
	f.notify.Notify(Change{Start: start, End: end, Inserted: text, Source: SourceProgram})
	return nil
}

// OnChange implements Adapter.
func (f *RichField) OnChange(fn func(Change)) func() {
	return f.notify.Subscribe(fn)
}

// Highlights returns the highlights that have not expired yet.
func (f *RichField) Highlights() []Highlight {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.highlights = f.pruneLocked()
	return append([]Highlight(nil), f.highlights...)
}

// InsertText types text at the caret into the caret's node.
func (f *RichField) InsertText(text string) {
	if text == "" {
		return
	}
	f.mu.Lock()
	at := f.linearLocked(f.caret)
	n := f.nodes[f.caret.Node]
	ins := []rune(text)
	next := make([]rune, 0, len(n)+len(ins))
	next = append(next, n[:f.caret.Offset]...)
	next = append(next, ins...)
	next = append(next, n[f.caret.Offset:]...)
	f.nodes[f.caret.Node] = next
	f.caret.Offset += len(ins)
	f.mu.Unlock()
	f.notify.Notify(Change{Start: at, End: at, Inserted: text, Source: SourceUser})
}

// Backspace deletes the rune before the caret, crossing node boundaries.
func (f *RichField) Backspace() {
	f.mu.Lock()
	at := f.linearLocked(f.caret)
	if at == 0 {
		f.mu.Unlock()
		return
	}
	s := f.runeAtLocked(at - 1)
	n := f.nodes[s.Node]
	f.nodes[s.Node] = append(append([]rune(nil), n[:s.Offset]...), n[s.Offset+1:]...)
	f.compactLocked()
	f.caret, _ = f.locateLocked(at - 1)
	f.mu.Unlock()
	f.notify.Notify(Change{Start: at - 1, End: at, Source: SourceUser})
}

func (f *RichField) textLocked() string {
	var out []rune
	for _, n := range f.nodes {
		out = append(out, n...)
	}
	return string(out)
}

func (f *RichField) lenLocked() int {
	total := 0
	for _, n := range f.nodes {
		total += len(n)
	}
	return total
}

func (f *RichField) linearLocked(pos Position) int {
	total := 0
	for i := 0; i < pos.Node && i < len(f.nodes); i++ {
		total += len(f.nodes[i])
	}
	return total + pos.Offset
}

func (f *RichField) locateLocked(offset int) (Position, error) {
	if offset < 0 {
		return Position{}, ErrRange
	}
	remaining := offset
	for i, n := range f.nodes {
		if remaining <= len(n) {
			return Position{Node: i, Offset: remaining}, nil
		}
		remaining -= len(n)
	}
	return Position{}, ErrRange
}

// runeAtLocked finds the node holding the rune at index i (right affinity).
func (f *RichField) runeAtLocked(i int) Position {
	remaining := i
	for n, node := range f.nodes {
		if remaining < len(node) {
			return Position{Node: n, Offset: remaining}
		}
		remaining -= len(node)
	}
	last := len(f.nodes) - 1
	return Position{Node: last, Offset: len(f.nodes[last])}
}

func (f *RichField) compactLocked() {
	nodes := f.nodes[:0]
	marks := f.marks[:0]
	for i, n := range f.nodes {
		if len(n) == 0 {
			continue
		}
		nodes = append(nodes, n)
		marks = append(marks, f.marks[i])
	}
	if len(nodes) == 0 {
		nodes = append(nodes, nil)
		marks = append(marks, "")
	}
	f.nodes = nodes
	f.marks = marks
}

func (f *RichField) pruneLocked() []Highlight {
	now := f.now()
	out := f.highlights[:0]
	for _, h := range f.highlights {
		if now.Before(h.Until) {
			out = append(out, h)
		}
	}
	return out
}
