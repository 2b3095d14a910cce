package templating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/snipline/schema"
)

// DefaultMaxPromptAttempts bounds re-prompts after invalid input.
const DefaultMaxPromptAttempts = 3

// Field is one value the prompter collects.
type Field struct {
	Name    string
	Default string
}

// PromptRequest describes one round of variable collection.
type PromptRequest struct {
	Shortcut schema.Shortcut
	Fields   []Field
	// Attempt starts at 1. Problem explains why the previous attempt was rejected.
	Attempt int
	Problem string
	// Previous holds the values of the rejected attempt.
	Previous map[string]string
}

// Prompter collects variable values from the user. It blocks only the
// expansion that asked. Returning schema.ErrPromptCanceled aborts the
// expansion.
type Prompter interface {
	Prompt(ctx context.Context, req PromptRequest) (map[string]string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, req PromptRequest) (map[string]string, error)

// Prompt implements Prompter.
func (f PrompterFunc) Prompt(ctx context.Context, req PromptRequest) (map[string]string, error) {
	return f(ctx, req)
}

// RemoteRenderer renders AI-enhanced shortcuts on the remote side.
type RemoteRenderer interface {
	RenderRemote(ctx context.Context, sc schema.Shortcut, vars map[string]string) (string, error)
}

// Options configures an Engine.
type Options struct {
	Prompter          Prompter
	Renderer          RemoteRenderer
	Now               func() time.Time
	User              func() *schema.User
	MaxPromptAttempts int
	Logger            pslog.Logger
}

// Engine turns a shortcut into final text.
type Engine struct {
	prompter    Prompter
	renderer    RemoteRenderer
	now         func() time.Time
	user        func() *schema.User
	maxAttempts int
	log         pslog.Logger
}

// Rendered is the outcome of a successful render.
type Rendered struct {
	Text      string
	Variables map[string]string
}

// NewEngine constructs an Engine.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		prompter:    opts.Prompter,
		renderer:    opts.Renderer,
		now:         opts.Now,
		user:        opts.User,
		maxAttempts: opts.MaxPromptAttempts,
		log:         opts.Logger,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.user == nil {
		e.user = func() *schema.User { return nil }
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxPromptAttempts
	}
	if e.log == nil {
		e.log = pslog.Ctx(context.Background())
	}
	return e
}

// Render produces the final text for sc. Dynamic shortcuts with declared
// variables go through the prompter; AI-enhanced shortcuts go to the remote
// renderer and fail with schema.ErrExpansionFailed rather than fall back to
// raw content.
func (e *Engine) Render(ctx context.Context, sc schema.Shortcut) (Rendered, error) {
	builtins := Builtins(e.now(), e.user())
	switch sc.ExpansionType {
	case schema.ExpansionStatic, "":
		return Rendered{Text: sc.Content}, nil
	case schema.ExpansionDynamic:
		values, err := e.collect(ctx, sc, builtins)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{Text: Substitute(sc.Content, sc.Variables, values, builtins), Variables: values}, nil
	case schema.ExpansionAIEnhanced:
		return e.renderRemote(ctx, sc, builtins)
	default:
		return Rendered{}, fmt.Errorf("%w: unknown expansion type %q", schema.ErrExpansionFailed, sc.ExpansionType)
	}
}

func (e *Engine) collect(ctx context.Context, sc schema.Shortcut, builtins map[string]string) (map[string]string, error) {
	if len(sc.Variables) == 0 {
		return nil, nil
	}
	fields := make([]Field, 0, len(sc.Variables))
	for _, v := range sc.Variables {
		def := v.Default
		if def == "" {
			def = builtins[v.Name]
		}
		fields = append(fields, Field{Name: v.Name, Default: def})
	}
	if e.prompter == nil {
		values := make(map[string]string, len(fields))
		for _, f := range fields {
			values[f.Name] = f.Default
		}
		return values, nil
	}
	req := PromptRequest{Shortcut: sc, Fields: fields}
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		req.Attempt = attempt
		values, err := e.prompter.Prompt(ctx, req)
		if err != nil {
			if errors.Is(err, schema.ErrPromptCanceled) {
				e.log.Debug("template prompt canceled", "shortcut", sc.ID)
			}
			return nil, err
		}
		bad := ""
		for _, f := range fields {
			if ValidateValue(values[f.Name]) != nil {
				bad = f.Name
				break
			}
		}
		if bad == "" {
			out := make(map[string]string, len(fields))
			for _, f := range fields {
				value := values[f.Name]
				if value == "" {
					value = f.Default
				}
				out[f.Name] = value
			}
			return out, nil
		}
		e.log.Debug("template prompt rejected", "shortcut", sc.ID, "variable", bad, "attempt", attempt)
		req.Problem = fmt.Sprintf("%s: value must not contain {{, }} or control characters", bad)
		req.Previous = values
	}
	return nil, fmt.Errorf("%w: too many invalid attempts", schema.ErrValidation)
}

func (e *Engine) renderRemote(ctx context.Context, sc schema.Shortcut, builtins map[string]string) (Rendered, error) {
	if e.renderer == nil {
		return Rendered{}, fmt.Errorf("%w: no remote renderer", schema.ErrExpansionFailed)
	}
	vars := make(map[string]string, len(builtins)+len(sc.Variables))
	for k, v := range builtins {
		vars[k] = v
	}
	for _, v := range sc.Variables {
		if v.Default != "" {
			vars[v.Name] = v.Default
		}
	}
	text, err := e.renderer.RenderRemote(ctx, sc, vars)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Rendered{}, ctxErr
		}
		e.log.Warn("template remote render failed", "shortcut", sc.ID, "err", err)
		return Rendered{}, fmt.Errorf("%w: %w", schema.ErrExpansionFailed, err)
	}
	return Rendered{Text: text, Variables: vars}, nil
}
