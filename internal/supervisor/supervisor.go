// Package supervisor owns the session cache: the credential, the signed-in
// profile, the authoritative shortcut list and the expansion settings. It is
// reached only through channel actions.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/backend"
	"pkt.systems/snipline/internal/persist"
	"pkt.systems/snipline/schema"
)

// Backend is the remote shortcut service.
type Backend interface {
	Login(ctx context.Context, username, password string) (backend.LoginResponse, error)
	Shortcuts(ctx context.Context, token string) ([]schema.Shortcut, error)
	FindByTrigger(ctx context.Context, token, trigger string) (schema.Shortcut, error)
	Search(ctx context.Context, token, query string) ([]schema.Shortcut, error)
	Use(ctx context.Context, token string, id schema.ShortcutID, variables map[string]string) (backend.UseResponse, error)
	Expand(ctx context.Context, token string, id schema.ShortcutID, content string, variables map[string]string) (string, error)
}

// Deps are the supervisor's collaborators. Store may be nil for an
// in-memory supervisor.
type Deps struct {
	Backend Backend
	Store   persist.Store
	Logger  pslog.Logger
	Now     func() time.Time
}

// Supervisor is the single owner of the session cache.
type Supervisor struct {
	cfg        schema.SupervisorConfig
	backend    Backend
	store      persist.Store
	log        pslog.Logger
	now        func() time.Time
	generation string

	ready     chan struct{}
	readyOnce sync.Once

	// shortcuts is replaced wholesale, never mutated in place.
	shortcuts atomic.Pointer[[]schema.Shortcut]

	mu         sync.Mutex
	credential string
	user       *schema.User
	lastSyncAt *time.Time
	settings   schema.Settings

	syncGroup singleflight.Group
	cron      *cronlib.Cron
	stopOnce  sync.Once
}

// New constructs a supervisor. It answers no action until Start restores
// the persisted state.
func New(cfg schema.SupervisorConfig, deps Deps) (*Supervisor, error) {
	normalized, err := schema.NormalizeSupervisorConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Backend == nil {
		return nil, errors.New("supervisor backend is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	s := &Supervisor{
		cfg:        normalized,
		backend:    deps.Backend,
		store:      deps.Store,
		now:        now,
		generation: uuid.NewString(),
		ready:      make(chan struct{}),
		settings:   schema.DefaultSettings(),
		cron:       cronlib.New(),
	}
	s.log = logger.With("generation", s.generation)
	empty := []schema.Shortcut{}
	s.shortcuts.Store(&empty)
	return s, nil
}

// Generation identifies this supervisor instance. A restarted supervisor
// has a new generation.
func (s *Supervisor) Generation() string {
	return s.generation
}

// Start restores persisted state, marks the supervisor ready and schedules
// the periodic resync.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.restore(ctx); err != nil {
		s.log.Warn("supervisor restore failed", "err", err)
	}
	s.readyOnce.Do(func() { close(s.ready) })
	spec := fmt.Sprintf("@every %s", s.cfg.ResyncInterval)
	if _, err := s.cron.AddFunc(spec, s.scheduledSync); err != nil {
		return fmt.Errorf("schedule resync: %w", err)
	}
	s.cron.Start()
	s.log.Info("supervisor started", "resync", s.cfg.ResyncInterval.String(), "authenticated", s.Authenticated(), "shortcuts", len(s.list()))
	return nil
}

// Stop halts the scheduler and waits for a running resync.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		s.log.Info("supervisor stopped")
	})
}

func (s *Supervisor) restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snapshot, ok, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("supervisor restore empty")
		return nil
	}
	s.mu.Lock()
	s.credential = snapshot.Credential
	s.user = snapshot.User
	s.lastSyncAt = snapshot.LastSyncAt
	s.settings = snapshot.Settings
	s.mu.Unlock()
	list := snapshot.Shortcuts
	if list == nil {
		list = []schema.Shortcut{}
	}
	s.shortcuts.Store(&list)
	s.log.Debug("supervisor restore ok", "shortcuts", len(list), "authenticated", snapshot.Authenticated())
	return nil
}

func (s *Supervisor) waitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Authenticated reports whether a credential is held.
func (s *Supervisor) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential != ""
}

// Snapshot returns a deep copy of the current session cache.
func (s *Supervisor) Snapshot() schema.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Supervisor) snapshotLocked() schema.SessionSnapshot {
	snap := schema.SessionSnapshot{
		Credential: s.credential,
		Shortcuts:  schema.CloneShortcuts(s.list()),
		Settings:   s.settings,
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	if s.lastSyncAt != nil {
		ts := *s.lastSyncAt
		snap.LastSyncAt = &ts
	}
	return snap
}

func (s *Supervisor) list() []schema.Shortcut {
	if p := s.shortcuts.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

// persistLocked writes the current cache. Failures are logged; the
// in-memory cache stays authoritative for this run.
func (s *Supervisor) persistLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(context.WithoutCancel(ctx), s.snapshotLocked()); err != nil {
		s.log.Warn("supervisor persist failed", "err", err)
	}
}

func (s *Supervisor) scheduledSync() {
	if !s.Authenticated() {
		s.log.Trace("supervisor resync skipped", "reason", "unauthenticated")
		return
	}
	if _, err := s.SyncNow(context.Background()); err != nil {
		s.log.Warn("supervisor resync failed", "err", err)
	}
}

// SyncNow replaces the cached list with the backend's. Concurrent callers
// share one backend fetch. A failed sync leaves the cache untouched.
func (s *Supervisor) SyncNow(ctx context.Context) (schema.SyncNowResponse, error) {
	ch := s.syncGroup.DoChan("sync", func() (any, error) {
		return s.syncOnce(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return schema.SyncNowResponse{}, res.Err
		}
		return res.Val.(schema.SyncNowResponse), nil
	case <-ctx.Done():
		return schema.SyncNowResponse{}, ctx.Err()
	}
}

func (s *Supervisor) syncOnce(ctx context.Context) (schema.SyncNowResponse, error) {
	token := s.token()
	if token == "" {
		return schema.SyncNowResponse{}, schema.ErrAuth
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()
	start := time.Now()
	list, err := s.backend.Shortcuts(ctx, token)
	if err != nil {
		s.log.Warn("supervisor sync failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		return schema.SyncNowResponse{}, err
	}
	if list == nil {
		list = []schema.Shortcut{}
	}
	list = schema.CloneShortcuts(list)
	synced := s.now().UTC()

	s.mu.Lock()
	if s.credential != token {
		// Logged out or switched user while the fetch was in flight.
		s.mu.Unlock()
		return schema.SyncNowResponse{}, schema.ErrAuth
	}
	s.shortcuts.Store(&list)
	s.lastSyncAt = &synced
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.log.Info("supervisor sync ok", "count", len(list), "duration_ms", time.Since(start).Milliseconds())
	at := synced
	return schema.SyncNowResponse{Success: true, Count: len(list), LastSyncAt: &at}, nil
}
