package sshserver

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"pkt.systems/snipline/schema"
)

type lineKind int

const (
	lineNormal lineKind = iota
	lineError
	lineStatus
	lineHeader
	lineHelp
	lineSent
)

type lineInfo struct {
	text string
	kind lineKind
}

func classifyLine(raw string) lineInfo {
	for _, m := range []struct {
		marker string
		kind   lineKind
	}{
		{schema.HeaderMarker, lineHeader},
		{schema.HelpMarker, lineHelp},
		{schema.SentMarker, lineSent},
		{schema.StatusMarker, lineStatus},
	} {
		if strings.HasPrefix(raw, m.marker) {
			return lineInfo{text: strings.TrimPrefix(raw, m.marker), kind: m.kind}
		}
	}
	if strings.HasPrefix(raw, "error:") {
		return lineInfo{text: raw, kind: lineError}
	}
	return lineInfo{text: raw, kind: lineNormal}
}

func renderLines(raw string, width int, theme tuiTheme) []string {
	if width <= 0 {
		return []string{""}
	}
	info := classifyLine(raw)
	switch info.kind {
	case lineHeader:
		return []string{ansiDim + ansiItalic + ansiFgRGB(theme.HeaderFG) + renderHeaderLine(info.text, width) + ansiReset}
	case lineHelp:
		return wrapStyledLines(info.text, width, ansiFgRGB(theme.HelpFG))
	case lineSent:
		return wrapStyledLines(info.text, width, ansiFgRGB(theme.SentFG))
	case lineStatus:
		return wrapStyledLines(info.text, width, ansiDim+ansiFgRGB(theme.MetaFG))
	case lineError:
		return wrapStyledLines(info.text, width, ansiBold+ansiFgRGB(theme.ErrorFG))
	default:
		return wrapPlainLines(info.text, width)
	}
}

func renderHeaderLine(label string, width int) string {
	if width <= 0 {
		return ""
	}
	label = strings.TrimSpace(label)
	lead := "── " + label + " "
	leadWidth := utf8.RuneCountInString(lead)
	if leadWidth >= width {
		return trimToWidth(lead, width)
	}
	return lead + strings.Repeat("─", width-leadWidth)
}

// renderBar lays left and right out on one full-width line.
func renderBar(left, right string, width int, fg, bg rgb) string {
	if width <= 0 {
		return ""
	}
	left = sanitizeOutputLine(left)
	right = sanitizeOutputLine(right)
	rightWidth := utf8.RuneCountInString(right)
	if rightWidth >= width {
		right = ""
		rightWidth = 0
	}
	avail := width - rightWidth
	if rightWidth > 0 {
		avail--
	}
	left = trimToWidth(left, avail)
	gap := width - utf8.RuneCountInString(left) - rightWidth
	if gap < 0 {
		gap = 0
	}
	return ansiBgRGB(bg) + ansiFgRGB(fg) + left + strings.Repeat(" ", gap) + right + ansiReset
}

// renderViewport flattens raw lines to exactly height screen lines, keeping
// the tail when atBottom.
func renderViewport(viewLines []string, width, height int, theme tuiTheme, atBottom bool) []string {
	if height <= 0 {
		return nil
	}
	var flattened []string
	for _, raw := range viewLines {
		flattened = append(flattened, renderLines(raw, width, theme)...)
	}
	if len(flattened) > height {
		if atBottom {
			flattened = flattened[len(flattened)-height:]
		} else {
			flattened = flattened[:height]
		}
	}
	for len(flattened) < height {
		flattened = append(flattened, "")
	}
	return flattened
}

// span is a rune range of the input drawn highlighted.
type span struct {
	start int
	end   int
}

func (s span) contains(i int) bool {
	return s.end > s.start && i >= s.start && i < s.end
}

// renderInputLines wraps the editor contents under prefix and returns the
// screen lines with the 1-based cursor row and column.
func renderInputLines(prefix, input string, cursor, width int, mark span, markStyle string) ([]string, int, int) {
	inputRunes := []rune(input)
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(inputRunes) {
		cursor = len(inputRunes)
	}
	prefixWidth := visibleWidth(prefix)
	if width <= 0 {
		width = prefixWidth + len(inputRunes) + 1
	}
	prefixVisible := prefix
	if prefixWidth > width {
		prefixVisible = trimANSIToWidth(prefix, width)
		prefixWidth = visibleWidth(prefixVisible)
	}
	indent := strings.Repeat(" ", prefixWidth)
	avail := width - prefixWidth
	if avail < 1 {
		avail = 1
	}

	lines := []string{}
	var line strings.Builder
	styled := false
	row, col := 0, 0
	cursorRow, cursorCol := 1, prefixWidth+1
	cursorSet := false

	flush := func() {
		if styled {
			line.WriteString(ansiReset)
			styled = false
		}
		lead := prefixVisible
		if row > 0 {
			lead = indent
		}
		lines = append(lines, lead+line.String())
		line.Reset()
		row++
		col = 0
	}
	for i, r := range inputRunes {
		if !cursorSet && i == cursor {
			cursorRow, cursorCol = row+1, prefixWidth+col+1
			cursorSet = true
		}
		if r == '\n' {
			flush()
			continue
		}
		if col >= avail {
			flush()
			if !cursorSet && i == cursor {
				cursorRow, cursorCol = row+1, prefixWidth+1
			}
		}
		in := mark.contains(i)
		if in && !styled {
			line.WriteString(markStyle)
			styled = true
		} else if !in && styled {
			line.WriteString(ansiReset)
			styled = false
		}
		line.WriteRune(r)
		col++
	}
	if !cursorSet {
		cursorRow, cursorCol = row+1, prefixWidth+col+1
	}
	flush()
	if cursorCol > width {
		cursorCol = width
	}
	if cursorCol < 1 {
		cursorCol = 1
	}
	return lines, cursorRow, cursorCol
}

type textToken struct {
	text  string
	space bool
}

func tokenizeText(text string) []textToken {
	if text == "" {
		return nil
	}
	var tokens []textToken
	var buf strings.Builder
	inSpace := false
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		tokens = append(tokens, textToken{text: buf.String(), space: inSpace})
		buf.Reset()
	}
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !inSpace {
				flush()
				inSpace = true
			}
			buf.WriteRune(' ')
			continue
		}
		if inSpace {
			flush()
			inSpace = false
		}
		buf.WriteRune(r)
	}
	flush()
	return tokens
}

func wrapPlainLines(text string, width int) []string {
	if width <= 0 {
		return []string{""}
	}
	sanitized := sanitizeOutputLine(text)
	if sanitized == "" {
		return []string{""}
	}
	lines := make([]string, 0, 4)
	var b strings.Builder
	visible := 0
	suppressLeadingSpace := false
	flush := func(wrapped bool) {
		if b.Len() == 0 {
			return
		}
		lines = append(lines, trimToWidth(b.String(), width))
		b.Reset()
		visible = 0
		suppressLeadingSpace = wrapped
	}
	for _, token := range tokenizeText(sanitized) {
		n := utf8.RuneCountInString(token.text)
		if n == 0 {
			continue
		}
		if token.space {
			if visible == 0 && suppressLeadingSpace {
				continue
			}
			if visible+n > width {
				flush(true)
				continue
			}
			b.WriteString(token.text)
			visible += n
			continue
		}
		if n > width {
			if visible > 0 {
				flush(true)
			}
			runes := []rune(token.text)
			for start := 0; start < n; start += width {
				end := min(start+width, n)
				b.WriteString(string(runes[start:end]))
				visible += end - start
				if visible >= width {
					flush(true)
				}
			}
			continue
		}
		if visible+n > width && visible > 0 {
			flush(true)
		}
		b.WriteString(token.text)
		visible += n
		suppressLeadingSpace = false
	}
	flush(false)
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

func wrapStyledLines(text string, width int, style string) []string {
	lines := wrapPlainLines(text, width)
	styled := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			styled = append(styled, line)
			continue
		}
		styled = append(styled, style+line+ansiReset)
	}
	return styled
}

// sanitizeOutputLine drops escape sequences and control characters so
// shortcut content cannot drive the terminal.
func sanitizeOutputLine(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(text); {
		if text[i] == 0x1b {
			i = skipEscape(text, i+1)
			continue
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == utf8.RuneError && size == 1:
		case r == '\t':
			b.WriteString("    ")
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func skipEscape(text string, i int) int {
	if i >= len(text) {
		return i
	}
	switch text[i] {
	case '[':
		return skipCSI(text, i+1)
	case ']':
		return skipOSC(text, i+1)
	default:
		return i + 1
	}
}

func skipCSI(text string, i int) int {
	for i < len(text) {
		if b := text[i]; b >= 0x40 && b <= 0x7e {
			return i + 1
		}
		i++
	}
	return i
}

func skipOSC(text string, i int) int {
	for i < len(text) {
		switch text[i] {
		case 0x07:
			return i + 1
		case 0x1b:
			if i+1 < len(text) && text[i+1] == '\\' {
				return i + 2
			}
		}
		i++
	}
	return i
}

func visibleWidth(text string) int {
	width := 0
	for i := 0; i < len(text); {
		if text[i] == 0x1b {
			i = skipEscape(text, i+1)
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		if size == 0 {
			break
		}
		i += size
		width++
	}
	return width
}

func trimANSIToWidth(text string, width int) string {
	if width <= 0 {
		return ""
	}
	var b strings.Builder
	visible := 0
	for i := 0; i < len(text); {
		if text[i] == 0x1b {
			start := i
			i = skipEscape(text, i+1)
			b.WriteString(text[start:i])
			continue
		}
		if visible >= width {
			break
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		if size == 0 {
			break
		}
		b.WriteRune(r)
		i += size
		visible++
	}
	return b.String()
}

func trimToWidth(value string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width])
}

func truncateName(name string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(name)
	if len(runes) <= max {
		return name
	}
	if max == 1 {
		return "$"
	}
	return string(append(runes[:max-1], '$'))
}

func maskInput(value string) string {
	return strings.Repeat("*", utf8.RuneCountInString(value))
}
