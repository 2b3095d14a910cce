package sshserver

import (
	"strings"
	"testing"

	"pkt.systems/snipline/schema"
)

func TestRenderLinesStripsMarkers(t *testing.T) {
	theme := themeForName("outrun")
	for _, tc := range []struct {
		raw   string
		color rgb
	}{
		{schema.HelpMarker + "help text", theme.HelpFG},
		{schema.SentMarker + "sent text", theme.SentFG},
		{schema.StatusMarker + "status text", theme.MetaFG},
		{"error: boom", theme.ErrorFG},
	} {
		lines := renderLines(tc.raw, 80, theme)
		if len(lines) != 1 {
			t.Fatalf("expected one line for %q, got %d", tc.raw, len(lines))
		}
		line := lines[0]
		for _, marker := range []string{schema.HelpMarker, schema.SentMarker, schema.StatusMarker} {
			if strings.Contains(line, marker) {
				t.Fatalf("marker leaked into %q", line)
			}
		}
		if !strings.Contains(line, ansiFgRGB(tc.color)) {
			t.Fatalf("expected color for %q in %q", tc.raw, line)
		}
	}
}

func TestRenderHeaderLineFullWidth(t *testing.T) {
	theme := themeForName("outrun")
	lines := renderLines(schema.HeaderMarker+"Commands", 40, theme)
	if got := visibleWidth(lines[0]); got != 40 {
		t.Fatalf("expected header width 40, got %d", got)
	}
	if !strings.Contains(lines[0], "Commands") {
		t.Fatalf("expected header label in %q", lines[0])
	}
}

func TestRenderBarFullWidth(t *testing.T) {
	theme := themeForName("gruvbox")
	line := renderBar("left side", "right", 30, theme.BarFG, theme.BarBG)
	if got := visibleWidth(line); got != 30 {
		t.Fatalf("expected bar width 30, got %d", got)
	}
	if !strings.HasSuffix(line, ansiReset) {
		t.Fatalf("expected bar to reset styles")
	}
	narrow := renderBar("a very long left side label", "right", 12, theme.BarFG, theme.BarBG)
	if got := visibleWidth(narrow); got != 12 {
		t.Fatalf("expected narrow bar width 12, got %d", got)
	}
}

func TestSanitizeOutputLineStripsAnsiAndControl(t *testing.T) {
	input := "\x1b[2Jhello\rworld\x1b[0m\x1b]0;title\x07"
	got := sanitizeOutputLine(input)
	if got != "helloworld" {
		t.Fatalf("unexpected sanitize result: %q", got)
	}
}

func TestRenderLinesWordWrapsPlain(t *testing.T) {
	theme := themeForName("outrun")
	lines := renderLines("//sig  Signature block [plain, used 3]", 12, theme)
	if len(lines) < 2 {
		t.Fatalf("expected wrapped lines, got %d", len(lines))
	}
	for _, line := range lines {
		if visibleWidth(line) > 12 {
			t.Fatalf("line exceeds width: %q", line)
		}
	}
	if strings.Contains(strings.Join(lines, "\n"), "Signa\nture") {
		t.Fatalf("expected word wrap on spaces, got %q", lines)
	}
}

func TestRenderViewportPadsAndKeepsTail(t *testing.T) {
	theme := themeForName("outrun")
	view := renderViewport([]string{"one", "two", "three"}, 20, 5, theme, true)
	if len(view) != 5 || view[2] != "three" || view[4] != "" {
		t.Fatalf("unexpected padded viewport %q", view)
	}
	view = renderViewport([]string{"one", "two", "three"}, 20, 2, theme, true)
	if view[0] != "two" || view[1] != "three" {
		t.Fatalf("expected tail at bottom, got %q", view)
	}
	view = renderViewport([]string{"one", "two", "three"}, 20, 2, theme, false)
	if view[0] != "one" {
		t.Fatalf("expected head when scrolled, got %q", view)
	}
}

func TestRenderInputLinesCursor(t *testing.T) {
	lines, row, col := renderInputLines("> ", "hello", 5, 40, span{}, "")
	if len(lines) != 1 || lines[0] != "> hello" {
		t.Fatalf("unexpected input lines %q", lines)
	}
	if row != 1 || col != 8 {
		t.Fatalf("expected cursor at 1:8, got %d:%d", row, col)
	}

	lines, row, col = renderInputLines("> ", "abcdefg", 7, 6, span{}, "")
	if len(lines) != 2 || lines[1] != "  efg" {
		t.Fatalf("expected wrapped input, got %q", lines)
	}
	if row != 2 || col != 6 {
		t.Fatalf("expected cursor at 2:6, got %d:%d", row, col)
	}
}

func TestRenderInputLinesHighlightsSpan(t *testing.T) {
	lines, _, _ := renderInputLines("> ", "hi //sig", 8, 40, span{start: 3, end: 8}, ansiUnderline)
	want := "> hi " + ansiUnderline + "//sig" + ansiReset
	if lines[0] != want {
		t.Fatalf("expected highlighted trigger %q, got %q", want, lines[0])
	}
	if visibleWidth(lines[0]) != len("> hi //sig") {
		t.Fatalf("highlight must not change visible width")
	}
}

func TestTruncateNameAndMask(t *testing.T) {
	if got := truncateName("signature", 5); got != "sign$" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := truncateName("sig", 5); got != "sig" {
		t.Fatalf("unexpected passthrough %q", got)
	}
	if got := maskInput("pässword"); got != "********" {
		t.Fatalf("unexpected mask %q", got)
	}
}
