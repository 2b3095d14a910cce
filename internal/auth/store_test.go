package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"pkt.systems/snipline/internal/appconfig"
)

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

func TestStoreRejectsInvalidUsername(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	store, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.AddUser(User{Username: "Alice", PasswordHash: "hash"}); err == nil {
		t.Fatalf("expected invalid username error")
	}
}

func TestStoreRejectsInvalidSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	_, err := NewStoreWithLogger(path, []appconfig.SeedUser{{Username: "BadUser", PasswordHash: "hash"}}, nil)
	if err == nil {
		t.Fatalf("expected error for invalid seed user")
	}
	_, err = NewStoreWithLogger(path, []appconfig.SeedUser{{Username: "ada"}}, nil)
	if err == nil {
		t.Fatalf("expected error for seed user without hash")
	}
}

func TestStoreSeedsOnFirstStartOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	seeds := []appconfig.SeedUser{{Username: "ada", PasswordHash: mustHash(t, "pw"), DisplayName: "Ada"}}
	store, err := NewStoreWithLogger(path, seeds, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	user, err := store.Authenticate("ada", "pw")
	if err != nil {
		t.Fatalf("authenticate seed: %v", err)
	}
	if user.ID == "" || user.Profile().DisplayName != "Ada" {
		t.Fatalf("unexpected seeded user %+v", user)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 user file, got %v", info.Mode().Perm())
	}

	again, err := NewStoreWithLogger(path, []appconfig.SeedUser{{Username: "bob", PasswordHash: mustHash(t, "pw")}}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if users := again.LoadUsers(); len(users) != 1 || users[0].ID != user.ID {
		t.Fatalf("expected existing file to win over seeds, got %+v", users)
	}
}

func TestStoreAuthenticateRejectsWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	store, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.AddUser(User{Username: "alice", PasswordHash: mustHash(t, "secret")}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if _, err := store.Authenticate("alice", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := store.Authenticate("mallory", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestStoreLookupByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	store, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	added, err := store.AddUser(User{Username: "alice", PasswordHash: mustHash(t, "pw")})
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	found, err := store.Lookup(added.ID)
	if err != nil || found.Username != "alice" {
		t.Fatalf("lookup: %+v %v", found, err)
	}
	if _, err := store.Lookup("missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreReloadsPasswordChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	writer, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := writer.AddUser(User{Username: "alice", PasswordHash: mustHash(t, "old-pass")}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	reader, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store reader: %v", err)
	}
	if _, err := reader.Authenticate("alice", "old-pass"); err != nil {
		t.Fatalf("authenticate old password: %v", err)
	}
	if err := writer.UpdatePassword("alice", mustHash(t, "new-pass")); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if _, err := reader.Authenticate("alice", "new-pass"); err != nil {
		t.Fatalf("authenticate new password: %v", err)
	}
	if _, err := reader.Authenticate("alice", "old-pass"); err == nil {
		t.Fatalf("expected old password to fail after refresh")
	}
}

func TestStoreReloadsUserAddDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	writer, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	reader, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store reader: %v", err)
	}
	if _, err := writer.AddUser(User{Username: "bob", PasswordHash: mustHash(t, "pass")}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if _, err := reader.Authenticate("bob", "pass"); err != nil {
		t.Fatalf("authenticate new user: %v", err)
	}
	if err := writer.DeleteUser("bob"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := reader.Authenticate("bob", "pass"); err == nil {
		t.Fatalf("expected deleted user login to fail")
	}
	if err := writer.DeleteUser("bob"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "pw") || CheckPassword(hash, "other") {
		t.Fatalf("hash check mismatch")
	}
	if _, err := HashPassword("  "); err == nil {
		t.Fatalf("expected blank password to be rejected")
	}
}
