// Package templating turns shortcut content into final text. Placeholders use
// the {{name}} form; substitution is a single pass, so values are inserted
// verbatim and never re-scanned.
package templating

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"pkt.systems/snipline/schema"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Built-in variable names.
const (
	BuiltinDate     = "date"
	BuiltinTime     = "time"
	BuiltinDateTime = "datetime"
	BuiltinWeekday  = "weekday"
	BuiltinUser     = "user"
	BuiltinUsername = "username"
	BuiltinEmail    = "email"
)

// Placeholders lists the distinct placeholder names in content, in order of
// first appearance.
func Placeholders(content string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Substitute replaces every placeholder in content. A declared variable takes
// its supplied value, or its default when the supplied value is blank. An
// undeclared name with a built-in value takes the built-in. Any other
// placeholder is left as the literal token.
func Substitute(content string, declared []schema.Variable, values, builtins map[string]string) string {
	defaults := make(map[string]string, len(declared))
	for _, v := range declared {
		defaults[v.Name] = v.Default
	}
	return placeholderPattern.ReplaceAllStringFunc(content, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]
		if def, ok := defaults[name]; ok {
			if value := values[name]; strings.TrimSpace(value) != "" {
				return value
			}
			return def
		}
		if value, ok := builtins[name]; ok {
			return value
		}
		return token
	})
}

// Builtins returns the contextual variables for now and user.
func Builtins(now time.Time, user *schema.User) map[string]string {
	out := map[string]string{
		BuiltinDate:     now.Format("2006-01-02"),
		BuiltinTime:     now.Format("15:04"),
		BuiltinDateTime: now.Format("2006-01-02 15:04"),
		BuiltinWeekday:  now.Weekday().String(),
	}
	if user != nil {
		display := user.DisplayName
		if display == "" {
			display = user.Username
		}
		out[BuiltinUser] = display
		out[BuiltinUsername] = user.Username
		out[BuiltinEmail] = user.Email
	}
	return out
}

// ValidateValue rejects values that would read as template syntax or carry
// control characters other than newline and tab.
func ValidateValue(value string) error {
	if strings.Contains(value, "{{") || strings.Contains(value, "}}") {
		return schema.ErrValidation
	}
	for _, r := range value {
		if r == '\n' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return schema.ErrValidation
		}
	}
	return nil
}
