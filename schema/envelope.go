package schema

import (
	"encoding/json"
	"errors"
	"fmt"
)

// WireError is the serialized form of a remote failure.
type WireError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// Err rehydrates the wire error so errors.Is matches the original sentinel.
func (w *WireError) Err() error {
	if w == nil {
		return nil
	}
	sentinel := SentinelFor(w.Kind)
	if sentinel == nil {
		if w.Message == "" {
			return errors.New("remote error")
		}
		return errors.New(w.Message)
	}
	if w.Message == "" || w.Message == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, w.Message)
}

// NewWireError classifies err for transport.
func NewWireError(err error) *WireError {
	if err == nil {
		return nil
	}
	return &WireError{Kind: KindOf(err), Message: err.Error()}
}

// Envelope is one message on the channel. Requests carry Action and Payload;
// responses echo ID and Action and carry either Payload or Error, plus the
// generation of the answering supervisor.
type Envelope struct {
	ID         string          `json:"id"`
	Action     ActionTag       `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      *WireError      `json:"error,omitempty"`
	Generation string          `json:"generation,omitempty"`
}

// EncodeAction wraps an action into a request envelope.
func EncodeAction(id string, action Action) (Envelope, error) {
	if action == nil {
		return Envelope{}, ErrInvalidRequest
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", action.Tag(), err)
	}
	return Envelope{ID: id, Action: action.Tag(), Payload: payload}, nil
}

// DecodeAction restores the typed action from a request envelope.
func DecodeAction(env Envelope) (Action, error) {
	var action Action
	switch env.Action {
	case ActionPing:
		action = &PingRequest{}
	case ActionLogin:
		action = &LoginRequest{}
	case ActionLogout:
		action = &LogoutRequest{}
	case ActionGetShortcuts:
		action = &GetShortcutsRequest{}
	case ActionSyncNow:
		action = &SyncNowRequest{}
	case ActionFindByTrigger:
		action = &FindByTriggerRequest{}
	case ActionSearchByText:
		action = &SearchByTextRequest{}
	case ActionUseShortcut:
		action = &UseShortcutRequest{}
	case ActionExpandWithVariables:
		action = &ExpandWithVariablesRequest{}
	case ActionToggleActive:
		action = &ToggleActiveRequest{}
	case ActionToggleMode:
		action = &ToggleModeRequest{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, action); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, env.Action, err)
		}
	}
	return derefAction(action), nil
}

func derefAction(action Action) Action {
	switch a := action.(type) {
	case *PingRequest:
		return *a
	case *LoginRequest:
		return *a
	case *LogoutRequest:
		return *a
	case *GetShortcutsRequest:
		return *a
	case *SyncNowRequest:
		return *a
	case *FindByTriggerRequest:
		return *a
	case *SearchByTextRequest:
		return *a
	case *UseShortcutRequest:
		return *a
	case *ExpandWithVariablesRequest:
		return *a
	case *ToggleActiveRequest:
		return *a
	case *ToggleModeRequest:
		return *a
	default:
		return action
	}
}

// EncodeResponse builds the response envelope for a request. A non-nil err
// takes precedence over resp.
func EncodeResponse(req Envelope, generation string, resp Response, err error) Envelope {
	out := Envelope{ID: req.ID, Action: req.Action, Generation: generation}
	if err != nil {
		out.Error = NewWireError(err)
		return out
	}
	if resp == nil {
		out.Error = &WireError{Kind: ErrorKindUnknown, Message: "empty response"}
		return out
	}
	payload, mErr := json.Marshal(resp)
	if mErr != nil {
		out.Error = &WireError{Kind: ErrorKindUnknown, Message: mErr.Error()}
		return out
	}
	out.Payload = payload
	return out
}

// DecodeResponse restores the typed response of a response envelope. A wire
// error is returned as a rehydrated sentinel error.
func DecodeResponse(env Envelope) (Response, error) {
	if env.Error != nil {
		return nil, env.Error.Err()
	}
	var resp Response
	switch env.Action {
	case ActionPing:
		resp = &PingResponse{}
	case ActionLogin:
		resp = &LoginResponse{}
	case ActionLogout:
		resp = &LogoutResponse{}
	case ActionGetShortcuts:
		resp = &GetShortcutsResponse{}
	case ActionSyncNow:
		resp = &SyncNowResponse{}
	case ActionFindByTrigger:
		resp = &FindByTriggerResponse{}
	case ActionSearchByText:
		resp = &SearchByTextResponse{}
	case ActionUseShortcut:
		resp = &UseShortcutResponse{}
	case ActionExpandWithVariables:
		resp = &ExpandWithVariablesResponse{}
	case ActionToggleActive, ActionToggleMode:
		resp = &ToggleResponse{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, resp); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, env.Action, err)
		}
	}
	return derefResponse(resp), nil
}

func derefResponse(resp Response) Response {
	switch r := resp.(type) {
	case *PingResponse:
		return *r
	case *LoginResponse:
		return *r
	case *LogoutResponse:
		return *r
	case *GetShortcutsResponse:
		return *r
	case *SyncNowResponse:
		return *r
	case *FindByTriggerResponse:
		return *r
	case *SearchByTextResponse:
		return *r
	case *UseShortcutResponse:
		return *r
	case *ExpandWithVariablesResponse:
		return *r
	case *ToggleResponse:
		return *r
	default:
		return resp
	}
}
