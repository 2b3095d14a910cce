package schema

import (
	"errors"
	"testing"
)

func TestValidateTrigger(t *testing.T) {
	cases := []struct {
		name    string
		trigger string
		valid   bool
	}{
		{"simple", "//email", true},
		{"with-dash", "//sign-off", true},
		{"with-underscore", "//reply_2", true},
		{"unicode", "//olá", true},
		{"sentinel-only", "//", false},
		{"no-sentinel", "email", false},
		{"single-slash", "/email", false},
		{"space", "//e mail", false},
		{"trailing-space", "//email ", false},
		{"symbol", "//email!", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		err := ValidateTrigger(tc.trigger, DefaultSentinel)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid && !errors.Is(err, ErrInvalidTrigger) {
			t.Fatalf("case %q expected ErrInvalidTrigger, got %v", tc.name, err)
		}
	}
}

func TestValidateSentinel(t *testing.T) {
	for _, sentinel := range []string{"//", ";", "::", "#"} {
		if err := ValidateSentinel(sentinel); err != nil {
			t.Fatalf("sentinel %q expected valid, got %v", sentinel, err)
		}
	}
	for _, sentinel := range []string{"", " /", "/a", "x"} {
		if err := ValidateSentinel(sentinel); err == nil {
			t.Fatalf("sentinel %q expected error", sentinel)
		}
	}
}

func TestStripSentinel(t *testing.T) {
	if got := StripSentinel("//email", ""); got != "email" {
		t.Fatalf("expected email, got %q", got)
	}
	if got := StripSentinel(";sig", ";"); got != "sig" {
		t.Fatalf("expected sig, got %q", got)
	}
	if got := StripSentinel("plain", "//"); got != "plain" {
		t.Fatalf("expected plain unchanged, got %q", got)
	}
}

func TestKindRoundTrip(t *testing.T) {
	for _, sentinel := range []error{ErrAuth, ErrNotFound, ErrNetwork, ErrValidation, ErrExpansionFailed, ErrUnknownAction} {
		kind := KindOf(sentinel)
		if got := SentinelFor(kind); !errors.Is(got, sentinel) {
			t.Fatalf("kind %q mapped back to %v, want %v", kind, got, sentinel)
		}
	}
	if KindOf(nil) != "" {
		t.Fatalf("expected empty kind for nil")
	}
	if SentinelFor(ErrorKindUnknown) != nil {
		t.Fatalf("expected nil sentinel for unknown kind")
	}
}

func TestFindTriggerSkipsInactive(t *testing.T) {
	list := []Shortcut{
		{ID: "1", Trigger: "//sig", IsActive: false},
		{ID: "2", Trigger: "//sig", IsActive: true},
		{ID: "3", Trigger: "//Sig", IsActive: true},
	}
	got, ok := FindTrigger(list, "//sig")
	if !ok || got.ID != "2" {
		t.Fatalf("expected active match 2, got %+v ok=%v", got, ok)
	}
	if _, ok := FindTrigger(list, "//SIG"); ok {
		t.Fatalf("expected case-sensitive miss")
	}
	if n := len(ActiveOnly(list)); n != 2 {
		t.Fatalf("expected 2 active, got %d", n)
	}
}
