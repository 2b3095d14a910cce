package sshserver

import (
	"fmt"
	"strings"

	"pkt.systems/snipline/internal/field"
	"pkt.systems/snipline/schema"
)

// pickerState is the shortcut picker overlay.
type pickerState struct {
	query    *field.ValueField
	results  []schema.Shortcut
	selected int
	offset   int
}

func newPicker(list func(string) []schema.Shortcut) *pickerState {
	p := &pickerState{query: field.NewValueField("")}
	p.refresh(list)
	return p
}

func (p *pickerState) refresh(list func(string) []schema.Shortcut) {
	p.results = list(p.query.String())
	p.selected = 0
	p.offset = 0
}

func (p *pickerState) move(delta int) {
	if len(p.results) == 0 {
		return
	}
	p.selected += delta
	if p.selected < 0 {
		p.selected = 0
	}
	if p.selected >= len(p.results) {
		p.selected = len(p.results) - 1
	}
}

func (p *pickerState) current() (schema.Shortcut, bool) {
	if p.selected < 0 || p.selected >= len(p.results) {
		return schema.Shortcut{}, false
	}
	return p.results[p.selected], true
}

// render draws height lines of results, keeping the selection in view.
func (p *pickerState) render(width, height int, theme tuiTheme) []string {
	if height <= 0 {
		return nil
	}
	lines := make([]string, 0, height)
	lines = append(lines, ansiFgRGB(theme.HeaderFG)+renderHeaderLine(fmt.Sprintf("Shortcuts (%d)", len(p.results)), width)+ansiReset)
	rows := height - 1
	if len(p.results) == 0 && rows > 0 {
		lines = append(lines, ansiDim+ansiFgRGB(theme.MetaFG)+trimToWidth("no shortcuts match", width)+ansiReset)
	}
	if p.selected < p.offset {
		p.offset = p.selected
	}
	if rows > 0 && p.selected >= p.offset+rows {
		p.offset = p.selected - rows + 1
	}
	triggerWidth := 0
	for _, sc := range p.results {
		triggerWidth = max(triggerWidth, len([]rune(sc.Trigger)))
	}
	triggerWidth = min(triggerWidth, max(width/3, 1))
	for i := p.offset; i < len(p.results) && len(lines) < height; i++ {
		sc := p.results[i]
		label := sc.Title
		if strings.TrimSpace(label) == "" {
			label = strings.ReplaceAll(sc.Content, "\n", " ")
		}
		row := fmt.Sprintf(" %-*s  %s", triggerWidth, truncateName(sc.Trigger, triggerWidth), sanitizeOutputLine(label))
		row = trimToWidth(row, width)
		if i == p.selected {
			row += strings.Repeat(" ", max(width-len([]rune(row)), 0))
			lines = append(lines, ansiBgRGB(theme.SelectedBG)+ansiFgRGB(theme.SelectedFG)+row+ansiReset)
			continue
		}
		lines = append(lines, row)
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return lines
}
