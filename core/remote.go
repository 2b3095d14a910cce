package core

import (
	"context"
	"time"

	"pkt.systems/snipline/internal/channel"
	"pkt.systems/snipline/schema"
)

// remote reaches the supervisor through the channel for the cascade's
// remote tiers and for AI-enhanced rendering.
type remote struct {
	client  *channel.Client
	timeout time.Duration
}

func (r remote) FindByTrigger(ctx context.Context, trigger string) (*schema.Shortcut, error) {
	resp, err := channel.Call[schema.FindByTriggerResponse](ctx, r.client, schema.FindByTriggerRequest{Trigger: trigger}, r.timeout)
	if err != nil {
		return nil, err
	}
	return resp.Shortcut, nil
}

func (r remote) SearchByText(ctx context.Context, query string) ([]schema.Shortcut, error) {
	resp, err := channel.Call[schema.SearchByTextResponse](ctx, r.client, schema.SearchByTextRequest{Query: query}, r.timeout)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (r remote) RenderRemote(ctx context.Context, sc schema.Shortcut, vars map[string]string) (string, error) {
	resp, err := channel.Call[schema.ExpandWithVariablesResponse](ctx, r.client, schema.ExpandWithVariablesRequest{
		ID:        sc.ID,
		Content:   sc.Content,
		Variables: vars,
	}, r.timeout)
	if err != nil {
		return "", err
	}
	return resp.ExpandedContent, nil
}
