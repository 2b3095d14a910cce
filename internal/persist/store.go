// Package persist stores the supervisor's session cache between runs. The
// snapshot is kept as independent records under fixed keys so a missing or
// corrupt record loses only that part of the state.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/snipline/schema"
)

// Key names one persisted record.
type Key string

const (
	KeyCredential Key = "credential"
	KeyUser       Key = "user"
	KeyShortcuts  Key = "shortcuts"
	KeyLastSyncAt Key = "lastSyncAt"
	KeySettings   Key = "settings"
)

// Keys lists every record in the layout.
var Keys = []Key{KeyCredential, KeyUser, KeyShortcuts, KeyLastSyncAt, KeySettings}

// Store is durable storage for the session snapshot.
type Store interface {
	// Load returns the stored snapshot; ok is false when nothing was stored.
	Load(ctx context.Context) (snapshot schema.SessionSnapshot, ok bool, err error)
	Save(ctx context.Context, snapshot schema.SessionSnapshot) error
	// Clear removes every record.
	Clear(ctx context.Context) error
	Close() error
}

// FileStore keeps one JSON file per key in a state directory.
type FileStore struct {
	dir string
	log pslog.Logger
}

// NewFileStore constructs a file store at the given directory.
func NewFileStore(dir string) (*FileStore, error) {
	return NewFileStoreWithLogger(dir, nil)
}

// NewFileStoreWithLogger constructs a file store with logging.
func NewFileStoreWithLogger(dir string, logger pslog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &FileStore{dir: dir, log: logger}, nil
}

// Load reads every record present on disk.
func (s *FileStore) Load(ctx context.Context) (schema.SessionSnapshot, bool, error) {
	records := make(map[Key][]byte, len(Keys))
	for _, key := range Keys {
		data, err := os.ReadFile(s.pathFor(key))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if s.log != nil {
				s.log.Warn("state load failed", "key", key, "err", err)
			}
			return schema.SessionSnapshot{}, false, err
		}
		records[key] = data
	}
	if len(records) == 0 {
		if s.log != nil {
			s.log.Debug("state load miss")
		}
		return emptySnapshot(), false, nil
	}
	snapshot, err := decodeRecords(records)
	if err != nil {
		if s.log != nil {
			s.log.Warn("state load failed", "err", err)
		}
		return schema.SessionSnapshot{}, false, err
	}
	if s.log != nil {
		s.log.Debug("state load ok", "shortcuts", len(snapshot.Shortcuts), "authenticated", snapshot.Authenticated())
	}
	return snapshot, true, nil
}

// Save writes every record. Records with no value are removed.
func (s *FileStore) Save(ctx context.Context, snapshot schema.SessionSnapshot) error {
	records, err := encodeRecords(snapshot)
	if err != nil {
		return err
	}
	for _, key := range Keys {
		data, ok := records[key]
		if !ok {
			if err := removeIfExists(s.pathFor(key)); err != nil {
				if s.log != nil {
					s.log.Warn("state save failed", "key", key, "err", err)
				}
				return err
			}
			continue
		}
		if err := writeFileAtomic(s.pathFor(key), data); err != nil {
			if s.log != nil {
				s.log.Warn("state save failed", "key", key, "err", err)
			}
			return err
		}
	}
	if s.log != nil {
		s.log.Trace("state save ok", "shortcuts", len(snapshot.Shortcuts))
	}
	return nil
}

// Clear removes every record file.
func (s *FileStore) Clear(ctx context.Context) error {
	for _, key := range Keys {
		if err := removeIfExists(s.pathFor(key)); err != nil {
			return err
		}
	}
	if s.log != nil {
		s.log.Debug("state cleared")
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) pathFor(key Key) string {
	return filepath.Join(s.dir, string(key)+".json")
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func emptySnapshot() schema.SessionSnapshot {
	return schema.SessionSnapshot{Shortcuts: []schema.Shortcut{}, Settings: schema.DefaultSettings()}
}

// encodeRecords splits a snapshot into per-key JSON records. The credential
// and user records are omitted when empty.
func encodeRecords(snapshot schema.SessionSnapshot) (map[Key][]byte, error) {
	records := make(map[Key][]byte, len(Keys))
	put := func(key Key, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		records[key] = data
		return nil
	}
	if snapshot.Credential != "" {
		if err := put(KeyCredential, snapshot.Credential); err != nil {
			return nil, err
		}
	}
	if snapshot.User != nil {
		if err := put(KeyUser, snapshot.User); err != nil {
			return nil, err
		}
	}
	shortcuts := snapshot.Shortcuts
	if shortcuts == nil {
		shortcuts = []schema.Shortcut{}
	}
	if err := put(KeyShortcuts, shortcuts); err != nil {
		return nil, err
	}
	if snapshot.LastSyncAt != nil {
		if err := put(KeyLastSyncAt, snapshot.LastSyncAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return nil, err
		}
	}
	if err := put(KeySettings, snapshot.Settings); err != nil {
		return nil, err
	}
	return records, nil
}

func decodeRecords(records map[Key][]byte) (schema.SessionSnapshot, error) {
	snapshot := emptySnapshot()
	if data, ok := records[KeyCredential]; ok {
		if err := json.Unmarshal(data, &snapshot.Credential); err != nil {
			return schema.SessionSnapshot{}, fmt.Errorf("decode %s: %w", KeyCredential, err)
		}
	}
	if data, ok := records[KeyUser]; ok {
		var user schema.User
		if err := json.Unmarshal(data, &user); err != nil {
			return schema.SessionSnapshot{}, fmt.Errorf("decode %s: %w", KeyUser, err)
		}
		snapshot.User = &user
	}
	if data, ok := records[KeyShortcuts]; ok {
		var list []schema.Shortcut
		if err := json.Unmarshal(data, &list); err != nil {
			return schema.SessionSnapshot{}, fmt.Errorf("decode %s: %w", KeyShortcuts, err)
		}
		if list != nil {
			snapshot.Shortcuts = list
		}
	}
	if data, ok := records[KeyLastSyncAt]; ok {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return schema.SessionSnapshot{}, fmt.Errorf("decode %s: %w", KeyLastSyncAt, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return schema.SessionSnapshot{}, fmt.Errorf("decode %s: %w", KeyLastSyncAt, err)
		}
		snapshot.LastSyncAt = &ts
	}
	if data, ok := records[KeySettings]; ok {
		var settings schema.Settings
		if err := json.Unmarshal(data, &settings); err != nil {
			return schema.SessionSnapshot{}, fmt.Errorf("decode %s: %w", KeySettings, err)
		}
		if settings.Mode == "" {
			settings.Mode = schema.ModeExplicit
		}
		snapshot.Settings = settings
	}
	return snapshot, nil
}
