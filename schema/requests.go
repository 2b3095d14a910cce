package schema

import "time"

// ActionTag names a message channel action on the wire.
type ActionTag string

const (
	ActionPing                ActionTag = "ping"
	ActionLogin               ActionTag = "login"
	ActionLogout              ActionTag = "logout"
	ActionGetShortcuts        ActionTag = "getShortcuts"
	ActionSyncNow             ActionTag = "syncNow"
	ActionFindByTrigger       ActionTag = "findByTrigger"
	ActionSearchByText        ActionTag = "searchByText"
	ActionUseShortcut         ActionTag = "useShortcut"
	ActionExpandWithVariables ActionTag = "expandWithVariables"
	ActionToggleActive        ActionTag = "toggleActive"
	ActionToggleMode          ActionTag = "toggleMode"
)

// Actions lists every tag of the closed action set.
var Actions = []ActionTag{
	ActionPing,
	ActionLogin,
	ActionLogout,
	ActionGetShortcuts,
	ActionSyncNow,
	ActionFindByTrigger,
	ActionSearchByText,
	ActionUseShortcut,
	ActionExpandWithVariables,
	ActionToggleActive,
	ActionToggleMode,
}

// Action is a request sent from a page to the supervisor. The set is closed:
// only types in this package implement it.
type Action interface {
	Tag() ActionTag
	isAction()
}

// Response is the supervisor's answer to an Action.
type Response interface {
	Tag() ActionTag
	isResponse()
}

// Health.

// PingRequest checks the supervisor is alive.
type PingRequest struct{}

// PingResponse reports liveness and the supervisor generation.
type PingResponse struct {
	Alive      bool   `json:"alive"`
	Generation string `json:"generation,omitempty"`
}

// Session.

// LoginRequest exchanges credentials for a bearer token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse reports the login outcome.
type LoginResponse struct {
	Success bool   `json:"success"`
	User    *User  `json:"user,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LogoutRequest clears all session state.
type LogoutRequest struct{}

// LogoutResponse reports the logout outcome.
type LogoutResponse struct {
	Success bool `json:"success"`
}

// Cache.

// GetShortcutsRequest reads the cached shortcut list.
type GetShortcutsRequest struct{}

// GetShortcutsResponse carries the cached list, the current settings and
// the signed-in profile, if any.
type GetShortcutsResponse struct {
	Shortcuts  []Shortcut `json:"shortcuts"`
	Settings   Settings   `json:"settings"`
	User       *User      `json:"user,omitempty"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
}

// SyncNowRequest replaces the cached list from the backend.
type SyncNowRequest struct{}

// SyncNowResponse reports the sync outcome.
type SyncNowResponse struct {
	Success    bool       `json:"success"`
	Count      int        `json:"count"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
}

// Lookup.

// FindByTriggerRequest resolves an exact trigger against the authoritative store.
type FindByTriggerRequest struct {
	Trigger string `json:"trigger"`
}

// FindByTriggerResponse carries the match, if any.
type FindByTriggerResponse struct {
	Shortcut *Shortcut `json:"shortcut,omitempty"`
}

// SearchByTextRequest runs a free-text search.
type SearchByTextRequest struct {
	Query string `json:"query"`
}

// SearchByTextResponse carries ranked results.
type SearchByTextResponse struct {
	Results []Shortcut `json:"results"`
}

// Usage and rendering.

// UseShortcutRequest marks a shortcut used.
type UseShortcutRequest struct {
	ID        ShortcutID        `json:"id"`
	Variables map[string]string `json:"variables,omitempty"`
}

// UseShortcutResponse optionally carries server-expanded content.
type UseShortcutResponse struct {
	ExpandedContent *string `json:"expandedContent,omitempty"`
}

// ExpandWithVariablesRequest asks the backend to render a shortcut.
type ExpandWithVariablesRequest struct {
	ID        ShortcutID        `json:"id"`
	Content   string            `json:"content,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// ExpandWithVariablesResponse carries the server-rendered text.
type ExpandWithVariablesResponse struct {
	ExpandedContent string `json:"expandedContent"`
}

// Settings.

// ToggleActiveRequest switches expansion on or off.
type ToggleActiveRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleModeRequest selects the detection mode.
type ToggleModeRequest struct {
	Mode Mode `json:"mode"`
}

// ToggleResponse reports a settings change.
type ToggleResponse struct {
	Success  bool     `json:"success"`
	Settings Settings `json:"settings"`
}

func (PingRequest) Tag() ActionTag                { return ActionPing }
func (LoginRequest) Tag() ActionTag               { return ActionLogin }
func (LogoutRequest) Tag() ActionTag              { return ActionLogout }
func (GetShortcutsRequest) Tag() ActionTag        { return ActionGetShortcuts }
func (SyncNowRequest) Tag() ActionTag             { return ActionSyncNow }
func (FindByTriggerRequest) Tag() ActionTag       { return ActionFindByTrigger }
func (SearchByTextRequest) Tag() ActionTag        { return ActionSearchByText }
func (UseShortcutRequest) Tag() ActionTag         { return ActionUseShortcut }
func (ExpandWithVariablesRequest) Tag() ActionTag { return ActionExpandWithVariables }
func (ToggleActiveRequest) Tag() ActionTag        { return ActionToggleActive }
func (ToggleModeRequest) Tag() ActionTag          { return ActionToggleMode }

func (PingRequest) isAction()                {}
func (LoginRequest) isAction()               {}
func (LogoutRequest) isAction()              {}
func (GetShortcutsRequest) isAction()        {}
func (SyncNowRequest) isAction()             {}
func (FindByTriggerRequest) isAction()       {}
func (SearchByTextRequest) isAction()        {}
func (UseShortcutRequest) isAction()         {}
func (ExpandWithVariablesRequest) isAction() {}
func (ToggleActiveRequest) isAction()        {}
func (ToggleModeRequest) isAction()          {}

func (PingResponse) Tag() ActionTag                { return ActionPing }
func (LoginResponse) Tag() ActionTag               { return ActionLogin }
func (LogoutResponse) Tag() ActionTag              { return ActionLogout }
func (GetShortcutsResponse) Tag() ActionTag        { return ActionGetShortcuts }
func (SyncNowResponse) Tag() ActionTag             { return ActionSyncNow }
func (FindByTriggerResponse) Tag() ActionTag       { return ActionFindByTrigger }
func (SearchByTextResponse) Tag() ActionTag        { return ActionSearchByText }
func (UseShortcutResponse) Tag() ActionTag         { return ActionUseShortcut }
func (ExpandWithVariablesResponse) Tag() ActionTag { return ActionExpandWithVariables }

// ToggleResponse answers both toggle actions; its tag is fixed to ToggleActive
// and DecodeResponse accepts it for ToggleMode too.
func (ToggleResponse) Tag() ActionTag { return ActionToggleActive }

func (PingResponse) isResponse()                {}
func (LoginResponse) isResponse()               {}
func (LogoutResponse) isResponse()              {}
func (GetShortcutsResponse) isResponse()        {}
func (SyncNowResponse) isResponse()             {}
func (FindByTriggerResponse) isResponse()       {}
func (SearchByTextResponse) isResponse()        {}
func (UseShortcutResponse) isResponse()         {}
func (ExpandWithVariablesResponse) isResponse() {}
func (ToggleResponse) isResponse()              {}
