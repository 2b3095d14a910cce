package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/snipline/core"
	"pkt.systems/snipline/internal/appconfig"
	"pkt.systems/snipline/internal/channel"
	"pkt.systems/snipline/internal/command"
	"pkt.systems/snipline/internal/eventbus"
	"pkt.systems/snipline/internal/templating"
	"pkt.systems/snipline/schema"
)

// page is a one-shot content runtime talking to a running supervisor over
// the websocket channel.
type page struct {
	rt     *core.Runtime
	bus    *eventbus.Bus
	events <-chan eventbus.Event
	cancel func()
}

func openPage(cmd *cobra.Command, cfgPath string) (*page, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := pslog.Ctx(cmd.Context())
	transport := channel.NewWSTransport(cfg.Channel.URL, channel.WSOptions{
		Token:  cfg.Channel.Token,
		Logger: logger,
	})
	bus := eventbus.New(logger)
	pageID := schema.PageID("cli")
	events, cancel := bus.Subscribe(pageID)
	rt, err := core.NewRuntime(cfg.EngineConfig(), core.RuntimeDeps{
		Page:      pageID,
		Transport: transport,
		Prompter:  &linePrompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.ErrOrStderr()},
		Events:    bus,
		Logger:    logger,
	})
	if err != nil {
		cancel()
		_ = transport.Close()
		return nil, err
	}
	if err := rt.Refresh(cmd.Context()); err != nil {
		cancel()
		_ = rt.Close()
		return nil, fmt.Errorf("supervisor at %s: %w", cfg.Channel.URL, err)
	}
	return &page{rt: rt, bus: bus, events: events, cancel: cancel}, nil
}

func (p *page) Close() error {
	p.cancel()
	return p.rt.Close()
}

// run executes one slash command against the page and prints its output.
func (p *page) run(ctx context.Context, w io.Writer, input string) error {
	out := &lineWriter{w: w}
	_, err := command.NewHandler(command.HandlerConfig{}).Handle(ctx, p.rt, out, input)
	return err
}

// lineWriter prints command output without the terminal markers.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) AppendLines(lines ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range lines {
		_, _ = fmt.Fprintln(l.w, plainLine(line))
	}
}

func plainLine(line string) string {
	for _, marker := range []string{schema.HeaderMarker, schema.HelpMarker, schema.SentMarker, schema.StatusMarker} {
		if rest, ok := strings.CutPrefix(line, marker); ok {
			if marker == schema.HeaderMarker {
				return "== " + rest + " =="
			}
			return rest
		}
	}
	return line
}

// linePrompter collects template variables one line at a time. An empty
// answer keeps the default; end of input cancels.
type linePrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func (p *linePrompter) Prompt(ctx context.Context, req templating.PromptRequest) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Problem != "" {
		_, _ = fmt.Fprintf(p.out, "error: %s\n", req.Problem)
	}
	values := make(map[string]string, len(req.Fields))
	for _, f := range req.Fields {
		if err := ctx.Err(); err != nil {
			return nil, schema.ErrPromptCanceled
		}
		current := f.Default
		if prev, ok := req.Previous[f.Name]; ok && prev != "" {
			current = prev
		}
		if current != "" {
			_, _ = fmt.Fprintf(p.out, "%s [%s]: ", f.Name, current)
		} else {
			_, _ = fmt.Fprintf(p.out, "%s: ", f.Name)
		}
		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			return nil, schema.ErrPromptCanceled
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			line = current
		}
		values[f.Name] = line
	}
	return values, nil
}
