package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/snipline/schema"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS session_state (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps the records as rows of a single key/value table.
type SQLiteStore struct {
	db  *sql.DB
	log pslog.Logger
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, logger pslog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state schema: %w", err)
	}
	if logger != nil {
		logger = logger.With("state_db", path)
	}
	return &SQLiteStore{db: db, log: logger}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (schema.SessionSnapshot, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM session_state`)
	if err != nil {
		if s.log != nil {
			s.log.Warn("state load failed", "err", err)
		}
		return schema.SessionSnapshot{}, false, err
	}
	defer rows.Close()
	records := make(map[Key][]byte, len(Keys))
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return schema.SessionSnapshot{}, false, err
		}
		records[Key(key)] = value
	}
	if err := rows.Err(); err != nil {
		return schema.SessionSnapshot{}, false, err
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

// Save replaces every record in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snapshot schema.SessionSnapshot) error {
	records, err := encodeRecords(snapshot)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, key := range Keys {
		data, ok := records[key]
		if !ok {
			if _, err := tx.ExecContext(ctx, `DELETE FROM session_state WHERE key = ?`, string(key)); err != nil {
				_ = tx.Rollback()
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_state (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			string(key), data, now); err != nil {
			_ = tx.Rollback()
			if s.log != nil {
				s.log.Warn("state save failed", "key", key, "err", err)
			}
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		if s.log != nil {
			s.log.Warn("state save failed", "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "shortcuts", len(snapshot.Shortcuts))
	}
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_state`)
	if err == nil && s.log != nil {
		s.log.Debug("state cleared")
	}
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
