package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/snipline/internal/appconfig"
	"pkt.systems/snipline/internal/auth"
)

func writeTestConfig(t *testing.T) (string, appconfig.Config) {
	t.Helper()
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	dir := t.TempDir()
	cfg.StateDir = filepath.Join(dir, "state")
	cfg.MockBackend.UserFile = filepath.Join(dir, "users.json")
	cfg.MockBackend.SeedFile = filepath.Join(dir, "shortcuts.yaml")
	cfg.SSH.HostKeyPath = filepath.Join(dir, "ssh_host_key")
	path, err := appconfig.Write(filepath.Join(dir, "config.yaml"), cfg, true)
	if err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, cfg
}

func runUsers(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newUsersCmd()
	cmd.SetArgs(args)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return out.String(), err
}

func TestUsersAddRejectsInvalidUsername(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	if _, err := runUsers(t, "", "-c", cfgPath, "add", "BadUser", "--auto-password"); err == nil {
		t.Fatalf("expected error for invalid username")
	}
}

func TestUsersAddListAndDelete(t *testing.T) {
	cfgPath, cfg := writeTestConfig(t)
	out, err := runUsers(t, "", "-c", cfgPath, "add", "alice.dev", "--auto-password", "--name", "Alice")
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	if !strings.Contains(out, "username: alice.dev") || !strings.Contains(out, "password: ") {
		t.Fatalf("unexpected enrollment output %q", out)
	}

	out, err = runUsers(t, "", "-c", cfgPath, "list")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if !strings.Contains(out, "alice.dev\tAlice") {
		t.Fatalf("expected alice.dev in list, got %q", out)
	}

	if _, err := runUsers(t, "", "-c", cfgPath, "delete", "alice.dev"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	store, err := auth.NewStoreWithLogger(cfg.MockBackend.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if len(store.LoadUsers()) != 0 {
		t.Fatalf("expected alice.dev to be removed, got %+v", store.LoadUsers())
	}
}

func TestUsersChpasswdFromStdin(t *testing.T) {
	cfgPath, cfg := writeTestConfig(t)
	if _, err := runUsers(t, "first\n", "-c", cfgPath, "add", "bob", "--password-from-stdin"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if _, err := runUsers(t, "second\n", "-c", cfgPath, "chpasswd", "bob", "--password-from-stdin"); err != nil {
		t.Fatalf("chpasswd: %v", err)
	}
	store, err := auth.NewStoreWithLogger(cfg.MockBackend.UserFile, nil, nil)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if _, err := store.Authenticate("bob", "second"); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}
	if _, err := store.Authenticate("bob", "first"); err == nil {
		t.Fatalf("expected old password to be rejected")
	}
}

func TestResolvePasswordRejectsBothModes(t *testing.T) {
	cmd := newUsersCmd()
	if _, _, err := resolvePassword(cmd, true, true); err == nil {
		t.Fatalf("expected error")
	}
}
