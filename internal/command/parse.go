package command

import (
	"strings"
	"unicode"

	"pkt.systems/snipline/schema"
)

// Command is one parsed slash command line.
type Command struct {
	Name string
	Args []string
	// Raw is the line after the slash, trimmed.
	Raw string
	// Remainder is Raw without the command name.
	Remainder string
}

// Parse reports whether input is a slash command. Lines that start with the
// default trigger sentinel are typed text, not commands.
func Parse(input string) (Command, bool) {
	trimmed := strings.TrimLeftFunc(input, unicode.IsSpace)
	if !strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, schema.DefaultSentinel) {
		return Command{}, false
	}
	cmd := Command{Raw: strings.TrimSpace(trimmed[1:])}
	fields := strings.Fields(cmd.Raw)
	if len(fields) == 0 {
		return cmd, true
	}
	cmd.Name = strings.ToLower(fields[0])
	cmd.Args = fields[1:]
	cmd.Remainder = cmd.Rest(0)
	return cmd, true
}

// Rest returns the raw text following the first n arguments with its inner
// spacing intact.
func (c Command) Rest(n int) string {
	rest := c.Raw
	for i := 0; i <= n; i++ {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			return ""
		}
		rest = rest[end:]
	}
	return strings.TrimSpace(rest)
}
