// Package credstore keeps the bearer credential in the OS keychain instead
// of the state directory.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	zkr "github.com/zalando/go-keyring"
	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/persist"
	"pkt.systems/snipline/schema"
)

const (
	serviceName = "snipline"
	accountName = "credential"
)

// DisableEnv turns keychain use off for headless hosts.
const DisableEnv = "SNIPLINE_KEYRING_DISABLED"

// Get returns the stored credential; an absent entry is not an error.
func Get() (string, error) {
	value, err := zkr.Get(serviceName, accountName)
	if err != nil {
		if errors.Is(err, zkr.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return value, nil
}

// Set stores the credential.
func Set(credential string) error {
	if err := zkr.Set(serviceName, accountName, credential); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

// Delete removes the credential; an absent entry is not an error.
func Delete() error {
	if err := zkr.Delete(serviceName, accountName); err != nil && !errors.Is(err, zkr.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

// Available reports whether the OS keychain works, probing with a
// write/delete cycle.
func Available() bool {
	if os.Getenv(DisableEnv) == "1" {
		return false
	}
	const probeService = "snipline-keyring-probe"
	if err := zkr.Set(probeService, "probe", "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(probeService, "probe")
	return true
}

// Store wraps a persist.Store and diverts the credential record to the
// keychain. Everything else goes to the inner store.
type Store struct {
	inner persist.Store
	log   pslog.Logger
}

// Wrap returns inner with credential handling moved to the keychain.
func Wrap(inner persist.Store, logger pslog.Logger) *Store {
	return &Store{inner: inner, log: logger}
}

// Load implements persist.Store.
func (s *Store) Load(ctx context.Context) (schema.SessionSnapshot, bool, error) {
	snapshot, ok, err := s.inner.Load(ctx)
	if err != nil {
		return snapshot, ok, err
	}
	credential, err := Get()
	if err != nil {
		if s.log != nil {
			s.log.Warn("credential load failed", "err", err)
		}
		return snapshot, ok, err
	}
	if credential != "" {
		snapshot.Credential = credential
		ok = true
	}
	return snapshot, ok, nil
}

// Save implements persist.Store.
func (s *Store) Save(ctx context.Context, snapshot schema.SessionSnapshot) error {
	if snapshot.Credential != "" {
		if err := Set(snapshot.Credential); err != nil {
			if s.log != nil {
				s.log.Warn("credential save failed", "err", err)
			}
			return err
		}
	} else if err := Delete(); err != nil {
		return err
	}
	snapshot.Credential = ""
	return s.inner.Save(ctx, snapshot)
}

// Clear implements persist.Store.
func (s *Store) Clear(ctx context.Context) error {
	if err := Delete(); err != nil {
		return err
	}
	return s.inner.Clear(ctx)
}

// Close implements persist.Store.
func (s *Store) Close() error {
	return s.inner.Close()
}
