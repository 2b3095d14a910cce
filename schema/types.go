package schema

import "time"

// ShortcutID identifies a shortcut on the remote backend.
type ShortcutID string

// CategoryID identifies a shortcut category.
type CategoryID string

// PageID identifies one in-page content runtime.
type PageID string

// SurfaceID identifies an editable surface within a page.
type SurfaceID string

// ExpansionType selects how a shortcut's content becomes final text.
type ExpansionType string

const (
	// ExpansionStatic inserts content verbatim.
	ExpansionStatic ExpansionType = "static"
	// ExpansionDynamic substitutes declared variables collected from the user.
	ExpansionDynamic ExpansionType = "dynamic"
	// ExpansionAIEnhanced defers rendering to the remote backend.
	ExpansionAIEnhanced ExpansionType = "ai_enhanced"
)

// Mode selects how the trigger detector decides a trigger is complete.
type Mode string

const (
	// ModeExplicit completes on a confirming key only.
	ModeExplicit Mode = "explicit"
	// ModeAuto additionally completes after an idle debounce window.
	ModeAuto Mode = "auto"
)

// Variable is one declared template variable. Order of declaration is preserved
// by keeping variables in a slice.
type Variable struct {
	Name    string `json:"name" yaml:"name"`
	Default string `json:"default" yaml:"default"`
}

// Shortcut is a pre-authored snippet addressed by its trigger.
type Shortcut struct {
	ID            ShortcutID    `json:"id" yaml:"id"`
	Trigger       string        `json:"trigger" yaml:"trigger"`
	Title         string        `json:"title" yaml:"title"`
	Content       string        `json:"content" yaml:"content"`
	ExpansionType ExpansionType `json:"expansionType" yaml:"expansion_type"`
	Variables     []Variable    `json:"variables,omitempty" yaml:"variables,omitempty"`
	CategoryID    *CategoryID   `json:"category,omitempty" yaml:"category,omitempty"`
	IsActive      bool          `json:"isActive" yaml:"is_active"`
	UseCount      int64         `json:"useCount" yaml:"use_count"`
	LastUsed      *time.Time    `json:"lastUsed,omitempty" yaml:"last_used,omitempty"`
}

// Category groups shortcuts. Shortcuts reference categories weakly.
type Category struct {
	ID    CategoryID `json:"id" yaml:"id"`
	Name  string     `json:"name" yaml:"name"`
	Color string     `json:"color" yaml:"color"`
}

// User is the authenticated profile returned by the backend.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Settings carries the user-facing expansion toggles.
type Settings struct {
	Enabled bool `json:"enabled"`
	Mode    Mode `json:"mode"`
}

// DefaultSettings returns the settings used before any toggle is applied.
func DefaultSettings() Settings {
	return Settings{Enabled: true, Mode: ModeExplicit}
}

// SessionSnapshot is the persisted form of the supervisor's session cache.
type SessionSnapshot struct {
	Credential string     `json:"credential,omitempty"`
	User       *User      `json:"user,omitempty"`
	Shortcuts  []Shortcut `json:"shortcuts"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
	Settings   Settings   `json:"settings"`
}

// Authenticated reports whether the snapshot carries a credential.
func (s SessionSnapshot) Authenticated() bool {
	return s.Credential != ""
}

// Clone returns a deep copy of the shortcut, safe to mutate.
func (s Shortcut) Clone() Shortcut {
	out := s
	if s.Variables != nil {
		out.Variables = append([]Variable(nil), s.Variables...)
	}
	if s.CategoryID != nil {
		id := *s.CategoryID
		out.CategoryID = &id
	}
	if s.LastUsed != nil {
		ts := *s.LastUsed
		out.LastUsed = &ts
	}
	return out
}

// CloneShortcuts deep-copies a shortcut list.
func CloneShortcuts(list []Shortcut) []Shortcut {
	if list == nil {
		return nil
	}
	out := make([]Shortcut, len(list))
	for i, sc := range list {
		out[i] = sc.Clone()
	}
	return out
}

// ActiveOnly filters out inactive shortcuts.
func ActiveOnly(list []Shortcut) []Shortcut {
	out := make([]Shortcut, 0, len(list))
	for _, sc := range list {
		if sc.IsActive {
			out = append(out, sc)
		}
	}
	return out
}

// FindTrigger returns the active shortcut whose trigger matches exactly.
// Triggers are case-sensitive.
func FindTrigger(list []Shortcut, trigger string) (Shortcut, bool) {
	for _, sc := range list {
		if sc.IsActive && sc.Trigger == trigger {
			return sc, true
		}
	}
	return Shortcut{}, false
}
