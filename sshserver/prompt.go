package sshserver

import (
	"context"
	"fmt"

	"pkt.systems/snipline/internal/field"
	"pkt.systems/snipline/internal/templating"
	"pkt.systems/snipline/schema"
)

type promptResult struct {
	values map[string]string
	err    error
}

type promptJob struct {
	ctx   context.Context
	req   templating.PromptRequest
	reply chan promptResult
}

// promptModal collects one prompt request field by field inside the terminal.
type promptModal struct {
	job    promptJob
	index  int
	values map[string]string
	input  *field.ValueField
}

func newPromptModal(job promptJob) *promptModal {
	m := &promptModal{job: job, values: make(map[string]string, len(job.req.Fields))}
	m.input = field.NewValueField(m.initial())
	return m
}

func (m *promptModal) current() templating.Field {
	return m.job.req.Fields[m.index]
}

func (m *promptModal) initial() string {
	if len(m.job.req.Fields) == 0 {
		return ""
	}
	f := m.current()
	if prev, ok := m.job.req.Previous[f.Name]; ok {
		return prev
	}
	return f.Default
}

func (m *promptModal) prefix() string {
	f := m.current()
	label := f.Name
	if len(m.job.req.Fields) > 1 {
		label = fmt.Sprintf("%s (%d/%d)", f.Name, m.index+1, len(m.job.req.Fields))
	}
	return label + ": "
}

func (m *promptModal) title() string {
	sc := m.job.req.Shortcut
	name := sc.Title
	if name == "" {
		name = sc.Trigger
	}
	return "fill in " + name
}

// advance stores the current value and reports whether every field is done.
func (m *promptModal) advance() bool {
	m.values[m.current().Name] = m.input.String()
	m.index++
	if m.index >= len(m.job.req.Fields) {
		return true
	}
	m.input = field.NewValueField(m.initial())
	return false
}

func (m *promptModal) finish(values map[string]string, err error) {
	m.job.reply <- promptResult{values: values, err: err}
}

func (m *promptModal) expired() bool {
	return m.job.ctx.Err() != nil
}

// terminalPrompter hands prompt requests to the terminal loop and waits for
// the modal to answer.
type terminalPrompter struct {
	jobs chan<- promptJob
	done <-chan struct{}
}

func (p terminalPrompter) Prompt(ctx context.Context, req templating.PromptRequest) (map[string]string, error) {
	if len(req.Fields) == 0 {
		return map[string]string{}, nil
	}
	job := promptJob{ctx: ctx, req: req, reply: make(chan promptResult, 1)}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, schema.ErrPromptCanceled
	}
	select {
	case res := <-job.reply:
		return res.values, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, schema.ErrPromptCanceled
	}
}

// editKey applies a line editing key to f and reports whether k was one.
func editKey(f *field.ValueField, k key) bool {
	switch k.kind {
	case keyRune:
		f.InsertRune(k.r)
	case keyBackspace:
		f.Backspace()
	case keyDelete:
		f.Delete()
	case keyLeft:
		f.MoveLeft()
	case keyRight:
		f.MoveRight()
	case keyHome, keyCtrlA:
		f.MoveStart()
	case keyEnd, keyCtrlE:
		f.MoveEnd()
	case keyAltB:
		f.MoveWordLeft()
	case keyAltF:
		f.MoveWordRight()
	case keyCtrlW:
		f.DeleteWordBackward()
	case keyCtrlU:
		f.KillLineStart()
	case keyCtrlK:
		f.KillLineEnd()
	default:
		return false
	}
	return true
}

func fieldCursor(f *field.ValueField) int {
	cursor, _ := f.Cursor()
	return cursor
}
