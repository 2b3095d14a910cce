// Package resolve turns a completed trigger into a shortcut through ordered
// lookup tiers: the local cache, an exact remote lookup and a remote search.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/pslog"
	"pkt.systems/snipline/schema"
)

// Tier names the lookup tier that produced a result.
type Tier string

const (
	TierLocal        Tier = "local"
	TierRemoteExact  Tier = "remote_exact"
	TierRemoteSearch Tier = "remote_search"
)

// LocalSource is the in-page shortcut cache.
type LocalSource interface {
	Lookup(trigger string) (schema.Shortcut, bool)
	Remember(sc schema.Shortcut)
}

// RemoteSource reaches the authoritative store through the message channel.
type RemoteSource interface {
	FindByTrigger(ctx context.Context, trigger string) (*schema.Shortcut, error)
	SearchByText(ctx context.Context, query string) ([]schema.Shortcut, error)
}

// Result is a resolved shortcut and the tier that found it.
type Result struct {
	Shortcut schema.Shortcut
	Tier     Tier
}

// Cascade evaluates the tiers in order and stops at the first active hit.
type Cascade struct {
	local    LocalSource
	remote   RemoteSource
	sentinel string
	log      pslog.Logger
}

// New constructs a Cascade. remote may be nil to resolve locally only.
func New(local LocalSource, remote RemoteSource, sentinel string, logger pslog.Logger) *Cascade {
	if sentinel == "" {
		sentinel = schema.DefaultSentinel
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Cascade{local: local, remote: remote, sentinel: sentinel, log: logger}
}

// Resolve looks token up. Remote failures never escape: timeouts and network
// errors fall through to the next tier, auth failures and channel
// invalidation skip the remaining remote tiers. An exhausted cascade returns
// an error matching schema.ErrNotFound.
func (c *Cascade) Resolve(ctx context.Context, token string) (Result, error) {
	log := c.log.With("trigger", token)
	if c.local != nil {
		if sc, ok := c.local.Lookup(token); ok && sc.IsActive {
			log.Debug("resolve hit", "tier", TierLocal, "shortcut", sc.ID)
			return Result{Shortcut: sc, Tier: TierLocal}, nil
		}
	}
	if c.remote == nil {
		return Result{}, notFound(token)
	}

	sc, err := c.remote.FindByTrigger(ctx, token)
	switch {
	case err == nil && sc != nil && sc.IsActive && sc.Trigger == token:
		return c.remember(log, *sc, TierRemoteExact), nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if skipRemote(err) {
			log.Info("resolve remote skipped", "tier", TierRemoteExact, "err", err)
			return Result{}, notFound(token)
		}
		log.Debug("resolve fell through", "tier", TierRemoteExact, "err", err)
	}

	query := schema.StripSentinel(token, c.sentinel)
	results, err := c.remote.SearchByText(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		log.Debug("resolve fell through", "tier", TierRemoteSearch, "err", err)
		return Result{}, notFound(token)
	}
	for _, candidate := range results {
		if candidate.IsActive {
			return c.remember(log, candidate, TierRemoteSearch), nil
		}
	}
	return Result{}, notFound(token)
}

func (c *Cascade) remember(log pslog.Logger, sc schema.Shortcut, tier Tier) Result {
	log.Debug("resolve hit", "tier", tier, "shortcut", sc.ID)
	if c.local != nil {
		c.local.Remember(sc)
	}
	return Result{Shortcut: sc, Tier: tier}
}

func skipRemote(err error) bool {
	return errors.Is(err, schema.ErrAuth) || errors.Is(err, schema.ErrChannelInvalidated)
}

func notFound(token string) error {
	return fmt.Errorf("%w: %s", schema.ErrNotFound, token)
}
