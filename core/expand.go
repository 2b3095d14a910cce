package core

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/snipline/internal/channel"
	"pkt.systems/snipline/internal/eventbus"
	"pkt.systems/snipline/internal/field"
	"pkt.systems/snipline/internal/logx"
	"pkt.systems/snipline/internal/trigger"
	"pkt.systems/snipline/schema"
)

// errStale marks an expansion whose surface moved on before the write.
var errStale = errors.New("expansion result discarded")

// ErrBusy is returned by Insert while another expansion runs on the surface.
var ErrBusy = errors.New("expansion in progress")

// usageTimeoutFactor scales the channel timeout for the fire-and-forget
// usage mark.
const usageTimeoutFactor = 2

func (r *Runtime) expand(ctx context.Context, s *trigger.Session, c trigger.Completion) error {
	res, err := r.cascade.Resolve(ctx, c.Token)
	if err != nil {
		return err
	}
	sc := res.Shortcut
	if !s.Expanding(c) {
		return errStale
	}
	rendered, err := r.engine.Render(ctx, sc)
	if err != nil {
		return err
	}
	if !s.Current(c) {
		return errStale
	}
	if err := s.Adapter().ReplaceRange(c.Start, c.End, rendered.Text); err != nil {
		return fmt.Errorf("%w: write surface: %v", schema.ErrExpansionFailed, err)
	}
	logx.WithShortcut(r.log, sc).Debug("runtime expanded", "surface", s.Surface(), "tier", res.Tier)
	r.events.Publish(eventbus.Event{
		Type:     eventbus.EventExpanded,
		Page:     r.page,
		Surface:  s.Surface(),
		Trigger:  c.Token,
		Shortcut: &sc,
	})
	r.markUsed(sc, rendered.Variables)
	return nil
}

// Insert renders sc and writes it at the caret of the session's surface, for
// the manual picker. A pending trigger on the surface is dropped first.
func (r *Runtime) Insert(ctx context.Context, s *trigger.Session, sc schema.Shortcut) error {
	if s == nil {
		return errors.New("no surface")
	}
	if !sc.IsActive {
		return schema.ErrNotFound
	}
	if !s.TryAcquire() {
		return ErrBusy
	}
	defer s.Release()
	s.Reset()
	rendered, err := r.engine.Render(ctx, sc)
	if err != nil {
		r.publishFailure(s, sc.Trigger, err)
		return err
	}
	_, caret, err := field.Before(s.Adapter())
	if err != nil {
		return err
	}
	if err := s.Adapter().ReplaceRange(caret, caret, rendered.Text); err != nil {
		return fmt.Errorf("%w: write surface: %v", schema.ErrExpansionFailed, err)
	}
	r.events.Publish(eventbus.Event{
		Type:     eventbus.EventExpanded,
		Page:     r.page,
		Surface:  s.Surface(),
		Trigger:  sc.Trigger,
		Shortcut: &sc,
	})
	r.markUsed(sc, rendered.Variables)
	return nil
}

// markUsed tells the supervisor sc was used. Failures are logged only.
func (r *Runtime) markUsed(sc schema.Shortcut, variables map[string]string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		timeout := r.cfg.ChannelTimeout * usageTimeoutFactor
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		req := schema.UseShortcutRequest{ID: sc.ID}
		if sc.ExpansionType == schema.ExpansionDynamic && len(variables) > 0 {
			req.Variables = variables
		}
		if _, err := r.client.Send(ctx, req, timeout); err != nil {
			logx.WithShortcut(r.log, sc).Debug("runtime usage mark failed", "err", err)
		}
	}()
}

func (r *Runtime) hooks() trigger.Hooks {
	return trigger.Hooks{
		Pending: func(s *trigger.Session, token string) {
			r.events.Publish(eventbus.Event{Type: eventbus.EventPending, Page: r.page, Surface: s.Surface(), Trigger: token})
		},
		PendingCleared: func(s *trigger.Session) {
			r.events.Publish(eventbus.Event{Type: eventbus.EventPendingCleared, Page: r.page, Surface: s.Surface()})
		},
		Suggestion: func(s *trigger.Session, token string) {
			r.events.Publish(eventbus.Event{
				Type:    eventbus.EventSuggestion,
				Page:    r.page,
				Surface: s.Surface(),
				Trigger: token,
				Message: fmt.Sprintf("no shortcut for %s yet; create one?", token),
			})
		},
		SuggestionDismissed: func(s *trigger.Session) {
			r.events.Publish(eventbus.Event{Type: eventbus.EventSuggestionDismissed, Page: r.page, Surface: s.Surface()})
		},
		Outcome: func(s *trigger.Session, c trigger.Completion, err error) {
			switch {
			case err == nil, errors.Is(err, errStale), errors.Is(err, schema.ErrNotFound):
			case errors.Is(err, schema.ErrPromptCanceled), errors.Is(err, context.Canceled):
				r.log.Debug("runtime expansion canceled", "trigger", c.Token)
			default:
				r.publishFailure(s, c.Token, err)
			}
		},
	}
}

func (r *Runtime) publishFailure(s *trigger.Session, token string, err error) {
	if channel.IsInvalidated(err) {
		return
	}
	if errors.Is(err, schema.ErrPromptCanceled) {
		return
	}
	r.log.Info("runtime expansion failed", "surface", s.Surface(), "trigger", token, "err", err)
	r.events.Publish(eventbus.Event{
		Type:    eventbus.EventFailed,
		Page:    r.page,
		Surface: s.Surface(),
		Trigger: token,
		Message: failureMessage(err),
		Err:     err,
	})
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, schema.ErrValidation):
		return "the values entered were not accepted"
	case errors.Is(err, schema.ErrExpansionFailed):
		return "the shortcut could not be rendered"
	case errors.Is(err, schema.ErrAuth):
		return "sign in to use this shortcut"
	default:
		return "the shortcut could not be expanded"
	}
}
