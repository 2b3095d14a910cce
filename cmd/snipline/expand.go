package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/snipline/internal/eventbus"
	"pkt.systems/snipline/internal/field"
	"pkt.systems/snipline/internal/trigger"
	"pkt.systems/snipline/schema"
)

const cliSurface schema.SurfaceID = "cli"

// settleGrace is how long expand waits for the outcome event after the
// session went idle.
const settleGrace = 200 * time.Millisecond

func newExpandCmd() *cobra.Command {
	var cfgPath string
	var keyName string
	cmd := &cobra.Command{
		Use:   "expand <text>",
		Short: "Type text into a field, press the confirm key and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseConfirmKey(keyName)
			if err != nil {
				return err
			}
			p, err := openPage(cmd, cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()
			text, err := p.expand(cmd.Context(), strings.Join(args, " "), key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&keyName, "key", "enter", "confirm key: enter, tab or space")
	return cmd
}

func parseConfirmKey(name string) (trigger.Key, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "enter":
		return trigger.KeyEnter, nil
	case "tab":
		return trigger.KeyTab, nil
	case "space":
		return trigger.KeySpace, nil
	default:
		return trigger.KeyOther, fmt.Errorf("unknown confirm key %q", name)
	}
}

// expand types text into a fresh field and sends the confirm key. Text with
// no pending trigger comes back unchanged.
func (p *page) expand(ctx context.Context, text string, key trigger.Key) (string, error) {
	input := field.NewValueField("")
	session := p.rt.Attach(ctx, cliSurface, input)
	defer p.rt.Blur(cliSurface)
	input.InsertString(text)
	if !session.OnKey(key) {
		return input.String(), nil
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-p.events:
			if !ok {
				return input.String(), nil
			}
			if ev.Surface != cliSurface {
				continue
			}
			switch ev.Type {
			case eventbus.EventExpanded:
				return input.String(), nil
			case eventbus.EventSuggestion:
				return "", fmt.Errorf("%w: no shortcut for %s", schema.ErrNotFound, ev.Trigger)
			case eventbus.EventFailed:
				if ev.Err != nil {
					return "", ev.Err
				}
				return "", errors.New(ev.Message)
			}
		case <-ticker.C:
			if settled == nil && !session.Busy() {
				settled = time.After(settleGrace)
			}
		case <-settled:
			if p.rt.Client().Invalidated() {
				return "", schema.ErrChannelInvalidated
			}
			return input.String(), nil
		}
	}
}
