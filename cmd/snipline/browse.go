package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/chromedp/chromedp"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/chromefield"
	"pkt.systems/snipline/internal/eventbus"
	"pkt.systems/snipline/internal/trigger"
	"pkt.systems/snipline/schema"
)

const browserSurface schema.SurfaceID = "browser"

func newBrowseCmd() *cobra.Command {
	var cfgPath string
	var selector string
	var headless bool
	cmd := &cobra.Command{
		Use:   "browse <url>",
		Short: "Open a page in Chrome and expand shortcuts typed into one of its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			p, err := openPage(cmd, cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := p.rt.Start(ctx); err != nil {
				return err
			}

			opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", headless))
			allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
			defer cancelAlloc()
			tabCtx, cancelTab := chromedp.NewContext(allocCtx)
			defer cancelTab()
			if err := chromedp.Run(tabCtx, chromedp.Navigate(args[0]), chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}

			pattern, err := trigger.Pattern(p.rt.Config().Sentinel)
			if err != nil {
				return err
			}
			f, err := chromefield.Attach(tabCtx, selector,
				chromefield.WithPattern(pattern.String()),
				chromefield.WithHighlightTTL(p.rt.Config().HighlightTTL),
				chromefield.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			session := p.rt.Attach(ctx, browserSurface, f)
			defer p.rt.Blur(browserSurface)
			f.OnKey(func(key string) {
				if session.OnKey(browserKey(key)) || key == chromefield.KeyEscape {
					return
				}
				if err := f.Passthrough(key); err != nil {
					logger.Warn("browse passthrough failed", "key", key, "err", err)
				}
			})
			logger.Info("browse attached", "url", args[0], "selector", selector, "kind", f.Kind())
			return reportEvents(ctx, cmd.ErrOrStderr(), p.events, browserSurface)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&selector, "selector", "s", "textarea", "CSS selector of the field to drive")
	cmd.Flags().BoolVar(&headless, "headless", false, "run Chrome without a window")
	return cmd
}

func browserKey(key string) trigger.Key {
	switch key {
	case chromefield.KeyEnter:
		return trigger.KeyEnter
	case chromefield.KeyTab:
		return trigger.KeyTab
	case chromefield.KeySpace:
		return trigger.KeySpace
	case chromefield.KeyEscape:
		return trigger.KeyEscape
	default:
		return trigger.KeyOther
	}
}

// reportEvents prints outcome events for surface until ctx ends.
func reportEvents(ctx context.Context, w io.Writer, events <-chan eventbus.Event, surface schema.SurfaceID) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Surface != surface {
				continue
			}
			switch ev.Type {
			case eventbus.EventExpanded:
				_, _ = fmt.Fprintf(w, "expanded %s\n", ev.Trigger)
			case eventbus.EventSuggestion:
				_, _ = fmt.Fprintf(w, "no shortcut for %s\n", ev.Trigger)
			case eventbus.EventFailed:
				_, _ = fmt.Fprintf(w, "failed: %s\n", ev.Message)
			}
		}
	}
}
