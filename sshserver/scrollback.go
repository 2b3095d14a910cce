package sshserver

// defaultScrollbackLines caps the lines one terminal session keeps.
const defaultScrollbackLines = 2000

// scrollback stores output lines and scroll state. offset counts lines from
// the bottom; 0 means following the tail.
type scrollback struct {
	lines    []string
	offset   int
	maxLines int
}

type scrollView struct {
	Lines    []string
	AtBottom bool
}

func newScrollback(maxLines int) *scrollback {
	if maxLines <= 0 {
		maxLines = defaultScrollbackLines
	}
	return &scrollback{maxLines: maxLines}
}

// Append adds lines. A scrolled-up view stays anchored on what it shows.
func (b *scrollback) Append(lines ...string) {
	if len(lines) == 0 {
		return
	}
	b.lines = append(b.lines, lines...)
	if b.offset > 0 {
		b.offset += len(lines)
	}
	if len(b.lines) > b.maxLines {
		trim := len(b.lines) - b.maxLines
		b.lines = b.lines[trim:]
		if b.offset > len(b.lines) {
			b.offset = len(b.lines)
		}
	}
}

// Clear drops every line.
func (b *scrollback) Clear() {
	b.lines = nil
	b.offset = 0
}

// Len returns the number of stored lines.
func (b *scrollback) Len() int {
	return len(b.lines)
}

// ResetScroll returns the view to the bottom.
func (b *scrollback) ResetScroll() {
	b.offset = 0
}

// Scroll moves the view by delta lines; positive is towards older lines.
// limit is the viewport height.
func (b *scrollback) Scroll(delta, limit int) {
	b.offset = clampScroll(b.offset+delta, len(b.lines), limit)
}

// View returns the lines visible in a viewport of limit lines.
func (b *scrollback) View(limit int) scrollView {
	total := len(b.lines)
	if limit <= 0 || limit > total {
		limit = total
	}
	if max := maxScroll(total, limit); b.offset > max {
		b.offset = max
	}
	end := total - b.offset
	start := end - limit
	if start < 0 {
		start = 0
	}
	lines := make([]string, end-start)
	copy(lines, b.lines[start:end])
	return scrollView{Lines: lines, AtBottom: b.offset == 0}
}

func maxScroll(total, limit int) int {
	if total <= 0 || limit <= 0 || total <= limit {
		return 0
	}
	return total - limit
}

func clampScroll(offset, total, limit int) int {
	max := maxScroll(total, limit)
	if offset < 0 {
		return 0
	}
	if offset > max {
		return max
	}
	return offset
}
