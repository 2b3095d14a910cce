package schema

import (
	"strings"
	"unicode"
)

// IsTriggerRune reports whether r may appear in a trigger name after the sentinel.
func IsTriggerRune(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ValidateSentinel ensures the sentinel is non-empty, has no whitespace and
// does not end in a trigger rune (which would make the boundary ambiguous).
func ValidateSentinel(sentinel string) error {
	if sentinel == "" {
		return ErrInvalidTrigger
	}
	var last rune
	for _, r := range sentinel {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrInvalidTrigger
		}
		last = r
	}
	if IsTriggerRune(last) {
		return ErrInvalidTrigger
	}
	return nil
}

// ValidateTrigger ensures trigger is the sentinel followed by one or more
// trigger runes, with no normalization.
func ValidateTrigger(trigger, sentinel string) error {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	name, ok := strings.CutPrefix(trigger, sentinel)
	if !ok || name == "" {
		return ErrInvalidTrigger
	}
	for _, r := range name {
		if !IsTriggerRune(r) {
			return ErrInvalidTrigger
		}
	}
	return nil
}

// StripSentinel returns the trigger name without its sentinel prefix. A
// trigger without the prefix is returned unchanged.
func StripSentinel(trigger, sentinel string) string {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	return strings.TrimPrefix(trigger, sentinel)
}
