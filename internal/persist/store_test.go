package persist

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"pkt.systems/snipline/schema"
)

func sampleSnapshot() schema.SessionSnapshot {
	synced := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	cat := schema.CategoryID("mail")
	return schema.SessionSnapshot{
		Credential: "tok-123",
		User:       &schema.User{ID: "u1", Username: "alice", DisplayName: "Alice", Email: "alice@example.com"},
		Shortcuts: []schema.Shortcut{
			{ID: "1", Trigger: "//email", Title: "Email", Content: "Hi there", ExpansionType: schema.ExpansionStatic, IsActive: true, CategoryID: &cat},
			{ID: "2", Trigger: "//sig", Content: "{{nome}}", ExpansionType: schema.ExpansionDynamic, Variables: []schema.Variable{{Name: "nome", Default: "X"}}, UseCount: 4},
		},
		LastSyncAt: &synced,
		Settings:   schema.Settings{Enabled: false, Mode: schema.ModeAuto},
	}
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	files, err := NewFileStore(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	db, err := OpenSQLite(filepath.Join(dir, "state.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return map[string]Store{"file": files, "sqlite": db}
}

func TestStoreLoadMissing(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			snapshot, ok, err := store.Load(context.Background())
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if ok {
				t.Fatalf("expected missing snapshot")
			}
			if snapshot.Settings != schema.DefaultSettings() || snapshot.Shortcuts == nil {
				t.Fatalf("expected empty defaults, got %+v", snapshot)
			}
		})
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleSnapshot()
			if err := store.Save(context.Background(), want); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, ok, err := store.Load(context.Background())
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if !ok {
				t.Fatalf("expected snapshot")
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("snapshot mismatch:\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestStoreSaveDropsEmptyCredential(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Save(ctx, sampleSnapshot()); err != nil {
				t.Fatalf("save: %v", err)
			}
			loggedOut := sampleSnapshot()
			loggedOut.Credential = ""
			loggedOut.User = nil
			if err := store.Save(ctx, loggedOut); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, _, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.Authenticated() || got.User != nil {
				t.Fatalf("expected credential and user removed, got %+v", got)
			}
		})
	}
}

func TestStoreClear(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Save(ctx, sampleSnapshot()); err != nil {
				t.Fatalf("save: %v", err)
			}
			if err := store.Clear(ctx); err != nil {
				t.Fatalf("clear: %v", err)
			}
			_, ok, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if ok {
				t.Fatalf("expected nothing after clear")
			}
		})
	}
}

func TestFileStoreLayoutAndPermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Save(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	for _, key := range Keys {
		info, err := os.Stat(filepath.Join(dir, string(key)+".json"))
		if err != nil {
			t.Fatalf("stat %s: %v", key, err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("expected 0600 for %s, got %v", key, info.Mode().Perm())
		}
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "state-*.json"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestFileStoreCorruptRecordFails(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "shortcuts.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := store.Load(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewFileStoreRequiresDir(t *testing.T) {
	if _, err := NewFileStore("  "); err == nil {
		t.Fatalf("expected error for blank dir")
	}
}
