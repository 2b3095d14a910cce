package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/logx"
	"pkt.systems/snipline/schema"
)

// Handle answers one channel action. It blocks until the persisted state
// has been restored.
func (s *Supervisor) Handle(ctx context.Context, action schema.Action) (schema.Response, error) {
	if err := s.waitReady(ctx); err != nil {
		return nil, err
	}
	if action == nil {
		return nil, schema.ErrInvalidRequest
	}
	ctx = pslog.ContextWithLogger(ctx, logx.WithAction(s.log, action.Tag()))
	switch a := action.(type) {
	case schema.PingRequest:
		return schema.PingResponse{Alive: true, Generation: s.generation}, nil
	case schema.LoginRequest:
		return s.login(ctx, a)
	case schema.LogoutRequest:
		return s.logout(ctx)
	case schema.GetShortcutsRequest:
		return s.getShortcuts(), nil
	case schema.SyncNowRequest:
		return s.SyncNow(ctx)
	case schema.FindByTriggerRequest:
		return s.findByTrigger(ctx, a)
	case schema.SearchByTextRequest:
		return s.searchByText(ctx, a)
	case schema.UseShortcutRequest:
		return s.useShortcut(ctx, a)
	case schema.ExpandWithVariablesRequest:
		return s.expand(ctx, a)
	case schema.ToggleActiveRequest:
		return s.updateSettings(ctx, func(st *schema.Settings) error {
			st.Enabled = a.Enabled
			return nil
		})
	case schema.ToggleModeRequest:
		return s.updateSettings(ctx, func(st *schema.Settings) error {
			switch a.Mode {
			case schema.ModeExplicit, schema.ModeAuto:
				st.Mode = a.Mode
				return nil
			default:
				return fmt.Errorf("%w: unknown mode %q", schema.ErrInvalidRequest, a.Mode)
			}
		})
	default:
		return nil, fmt.Errorf("%w: %T", schema.ErrUnknownAction, action)
	}
}

func (s *Supervisor) login(ctx context.Context, req schema.LoginRequest) (schema.Response, error) {
	log := logx.Ctx(ctx)
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return schema.LoginResponse{Success: false, Error: "username and password are required"}, nil
	}
	resp, err := s.backend.Login(ctx, username, req.Password)
	if err != nil {
		if errors.Is(err, schema.ErrAuth) || errors.Is(err, schema.ErrValidation) || errors.Is(err, schema.ErrInvalidRequest) {
			log.Warn("supervisor login rejected", "username", username)
			return schema.LoginResponse{Success: false, Error: "invalid credentials"}, nil
		}
		log.Warn("supervisor login failed", "username", username, "err", err)
		if errors.Is(err, schema.ErrNetwork) {
			return schema.LoginResponse{Success: false, Error: "backend unreachable"}, nil
		}
		return nil, err
	}
	user := resp.User
	s.mu.Lock()
	s.credential = resp.Token
	s.user = &user
	s.persistLocked(ctx)
	s.mu.Unlock()
	log.Info("supervisor login ok", "username", user.Username)

	if _, err := s.SyncNow(ctx); err != nil {
		log.Warn("supervisor initial sync failed", "err", err)
	}
	out := user
	return schema.LoginResponse{Success: true, User: &out}, nil
}

func (s *Supervisor) logout(ctx context.Context) (schema.Response, error) {
	empty := []schema.Shortcut{}
	s.mu.Lock()
	s.credential = ""
	s.user = nil
	s.lastSyncAt = nil
	s.settings = schema.DefaultSettings()
	s.shortcuts.Store(&empty)
	var err error
	if s.store != nil {
		err = s.store.Clear(context.WithoutCancel(ctx))
	}
	s.mu.Unlock()
	if err != nil {
		logx.Ctx(ctx).Warn("supervisor logout clear failed", "err", err)
		return nil, err
	}
	logx.Ctx(ctx).Info("supervisor logout ok")
	return schema.LogoutResponse{Success: true}, nil
}

func (s *Supervisor) getShortcuts() schema.GetShortcutsResponse {
	snap := s.Snapshot()
	return schema.GetShortcutsResponse{
		Shortcuts:  snap.Shortcuts,
		Settings:   snap.Settings,
		User:       snap.User,
		LastSyncAt: snap.LastSyncAt,
	}
}

// findByTrigger asks the backend first. On a network failure it answers
// from the cached list instead.
func (s *Supervisor) findByTrigger(ctx context.Context, req schema.FindByTriggerRequest) (schema.Response, error) {
	trigger := strings.TrimSpace(req.Trigger)
	if trigger == "" || trigger != req.Trigger {
		return nil, fmt.Errorf("%w: %q", schema.ErrInvalidTrigger, req.Trigger)
	}
	log := logx.Ctx(ctx).With("trigger", trigger)
	token := s.token()
	if token == "" {
		return nil, schema.ErrAuth
	}
	sc, err := s.backend.FindByTrigger(ctx, token, trigger)
	switch {
	case err == nil:
		if !sc.IsActive || sc.Trigger != trigger {
			return schema.FindByTriggerResponse{}, nil
		}
		return schema.FindByTriggerResponse{Shortcut: &sc}, nil
	case errors.Is(err, schema.ErrNotFound):
		return schema.FindByTriggerResponse{}, nil
	case errors.Is(err, schema.ErrNetwork):
		cached, ok := schema.FindTrigger(s.list(), trigger)
		log.Debug("supervisor find fallback", "err", err, "hit", ok)
		if !ok {
			return schema.FindByTriggerResponse{}, nil
		}
		hit := cached.Clone()
		return schema.FindByTriggerResponse{Shortcut: &hit}, nil
	default:
		return nil, err
	}
}

func (s *Supervisor) searchByText(ctx context.Context, req schema.SearchByTextRequest) (schema.Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return schema.SearchByTextResponse{Results: []schema.Shortcut{}}, nil
	}
	token := s.token()
	if token == "" {
		return nil, schema.ErrAuth
	}
	results, err := s.backend.Search(ctx, token, query)
	if err != nil {
		if errors.Is(err, schema.ErrNetwork) {
			local := SearchCache(s.list(), query, s.cfg.Sentinel)
			logx.Ctx(ctx).Debug("supervisor search fallback", "err", err, "results", len(local))
			return schema.SearchByTextResponse{Results: local}, nil
		}
		return nil, err
	}
	return schema.SearchByTextResponse{Results: schema.ActiveOnly(results)}, nil
}

// useShortcut bumps the cached counter first, then tells the backend. The
// local bump is kept even if the backend call fails.
func (s *Supervisor) useShortcut(ctx context.Context, req schema.UseShortcutRequest) (schema.Response, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: missing shortcut id", schema.ErrInvalidRequest)
	}
	log := logx.WithShortcut(logx.Ctx(ctx), schema.Shortcut{ID: req.ID})
	s.mu.Lock()
	current := s.list()
	next := make([]schema.Shortcut, len(current))
	copy(next, current)
	found := false
	for i := range next {
		if next[i].ID == req.ID {
			used := s.now().UTC()
			next[i] = next[i].Clone()
			next[i].UseCount++
			next[i].LastUsed = &used
			found = true
			break
		}
	}
	if found {
		s.shortcuts.Store(&next)
		s.persistLocked(ctx)
	}
	token := s.credential
	s.mu.Unlock()

	if token == "" {
		return nil, schema.ErrAuth
	}
	resp, err := s.backend.Use(ctx, token, req.ID, req.Variables)
	if err != nil {
		log.Warn("supervisor use failed", "err", err)
		return nil, err
	}
	log.Trace("supervisor use ok", "cached", found)
	return schema.UseShortcutResponse{ExpandedContent: resp.ExpandedContent}, nil
}

func (s *Supervisor) expand(ctx context.Context, req schema.ExpandWithVariablesRequest) (schema.Response, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: missing shortcut id", schema.ErrInvalidRequest)
	}
	token := s.token()
	if token == "" {
		return nil, schema.ErrAuth
	}
	out, err := s.backend.Expand(ctx, token, req.ID, req.Content, req.Variables)
	if err != nil {
		logx.WithShortcut(logx.Ctx(ctx), schema.Shortcut{ID: req.ID}).Warn("supervisor expand failed", "err", err)
		return nil, err
	}
	return schema.ExpandWithVariablesResponse{ExpandedContent: out}, nil
}

func (s *Supervisor) updateSettings(ctx context.Context, apply func(*schema.Settings) error) (schema.Response, error) {
	s.mu.Lock()
	next := s.settings
	if err := apply(&next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.settings = next
	s.persistLocked(ctx)
	s.mu.Unlock()
	logx.Ctx(ctx).Info("supervisor settings updated", "enabled", next.Enabled, "mode", next.Mode)
	return schema.ToggleResponse{Success: true, Settings: next}, nil
}

// SearchCache ranks active cached shortcuts against query: trigger prefix
// first, then title, then content matches. Matching is case-insensitive and a
// trigger prefix match ignores sentinel; empty means schema.DefaultSentinel.
func SearchCache(list []schema.Shortcut, query, sentinel string) []schema.Shortcut {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []schema.Shortcut{}
	}
	var byTrigger, byTitle, byContent []schema.Shortcut
	for _, sc := range list {
		if !sc.IsActive {
			continue
		}
		trigger := strings.ToLower(sc.Trigger)
		switch {
		case strings.HasPrefix(trigger, q) || strings.HasPrefix(strings.ToLower(schema.StripSentinel(sc.Trigger, sentinel)), q):
			byTrigger = append(byTrigger, sc.Clone())
		case strings.Contains(strings.ToLower(sc.Title), q):
			byTitle = append(byTitle, sc.Clone())
		case strings.Contains(strings.ToLower(sc.Content), q) || strings.Contains(trigger, q):
			byContent = append(byContent, sc.Clone())
		}
	}
	out := make([]schema.Shortcut, 0, len(byTrigger)+len(byTitle)+len(byContent))
	out = append(out, byTrigger...)
	out = append(out, byTitle...)
	return append(out, byContent...)
}
