package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/snipline/schema"
)

func TestWithShortcutAddsFields(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	log := WithShortcut(logger, schema.Shortcut{ID: "sc1", Trigger: "//email"})
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["shortcut"] != "sc1" {
		t.Fatalf("expected shortcut field, got %+v", entry)
	}
	if entry["trigger"] != "//email" {
		t.Fatalf("expected trigger field, got %+v", entry)
	}
}

func TestWithShortcutSkipsEmpty(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	log := WithShortcut(logger, schema.Shortcut{ID: "sc1"})
	log.Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["trigger"]; ok {
		t.Fatalf("did not expect trigger for id-only shortcut")
	}
}

func TestWithPageSurfaceAddsFields(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	ctx := pslog.ContextWithLogger(context.Background(), logger)
	log := WithPageSurface(ctx, "page1", "editor")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["page"] != "page1" {
		t.Fatalf("expected page field, got %+v", entry)
	}
	if entry["surface"] != "editor" {
		t.Fatalf("expected surface field, got %+v", entry)
	}
}

func TestWithPageDeduplicatesByMarker(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture).With("page", "page1")
	ctx := ContextWithPageLogger(context.Background(), logger, "page1")
	WithPage(ctx, "page1").Info("hello")

	line := capture.buf.String()
	if bytes.Count([]byte(line), []byte(`"page"`)) != 1 {
		t.Fatalf("expected a single page field, got %s", line)
	}
}

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
