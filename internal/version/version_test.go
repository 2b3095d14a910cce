package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func TestCurrentPrefersBuildVersion(t *testing.T) {
	old := buildVersion
	buildVersion = "v1.2.3+dirty"
	t.Cleanup(func() { buildVersion = old })

	if got := Current(); got != "v1.2.3" {
		t.Fatalf("expected build version without dirty suffix, got %q", got)
	}
	if got := CurrentWithDirty(); got != "v1.2.3+dirty" {
		t.Fatalf("expected dirty build version, got %q", got)
	}
}

func TestPseudoFromBuildInfo(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	info := &debug.BuildInfo{
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "1234567890abcdef"},
			{Key: "vcs.time", Value: ts.Format(time.RFC3339)},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	got := pseudoFromBuildInfo(info, true)
	if want := "v0.0.0-20250102030405-1234567890ab+dirty"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if clean := pseudoFromBuildInfo(info, false); strings.HasSuffix(clean, "+dirty") {
		t.Fatalf("expected no dirty suffix, got %q", clean)
	}
	if pseudoFromBuildInfo(nil, true) != "" {
		t.Fatalf("expected empty version for nil build info")
	}
}

func TestFromBuildInfoFallsBack(t *testing.T) {
	old := buildVersion
	buildVersion = ""
	t.Cleanup(func() { buildVersion = old })

	if got := fromBuildInfo(nil, false); got != "v0.0.0-unknown" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
	info := &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}
	if got := fromBuildInfo(info, false); got != "v0.0.0-unknown" {
		t.Fatalf("expected devel builds without vcs stamps to be unknown, got %q", got)
	}
}

func TestUserAgentNamesProduct(t *testing.T) {
	if ua := UserAgent(); !strings.HasPrefix(ua, "snipline/") {
		t.Fatalf("unexpected user agent %q", ua)
	}
	if s := Summary(); !strings.HasPrefix(s, "snipline ") {
		t.Fatalf("unexpected summary %q", s)
	}
}
