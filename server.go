package snipline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/pslog"
	"pkt.systems/snipline/httpapi"
	"pkt.systems/snipline/internal/appconfig"
	"pkt.systems/snipline/internal/backend"
	"pkt.systems/snipline/internal/credstore"
	"pkt.systems/snipline/internal/eventbus"
	"pkt.systems/snipline/internal/persist"
	"pkt.systems/snipline/internal/supervisor"
	"pkt.systems/snipline/schema"
	"pkt.systems/snipline/sshserver"
)

// Server composes the supervisor with its HTTP channel endpoint and the SSH
// surface.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Supervisor() *supervisor.Supervisor
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Supervisor schema.SupervisorConfig
	Engine     schema.EngineConfig
	Storage    string
	UseKeyring bool
	Backend    BackendConfig
	HTTP       httpapi.Config
	SSH        sshserver.Config
}

// BackendConfig points the supervisor at the remote shortcut service.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ServerConfigFrom maps the application config onto the compositor.
func ServerConfigFrom(cfg appconfig.Config) ServerConfig {
	return ServerConfig{
		Supervisor: cfg.SupervisorSettings(),
		Engine:     cfg.EngineConfig(),
		Storage:    cfg.Supervisor.Storage,
		UseKeyring: cfg.Supervisor.UseKeyring,
		Backend: BackendConfig{
			BaseURL: cfg.Backend.BaseURL,
			Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		},
		HTTP: httpapi.Config{
			Addr:         cfg.HTTP.Addr,
			ChannelToken: cfg.Channel.Token,
		},
		SSH: sshserver.Config{
			Addr:         cfg.SSH.Addr,
			HostKeyPath:  cfg.SSH.HostKeyPath,
			PasswordHash: cfg.SSH.PasswordHash,
			Theme:        cfg.SSH.Theme,
		},
	}
}

// ServerDeps overrides collaborators. Zero values are built from the config.
type ServerDeps struct {
	Backend supervisor.Backend
	Store   persist.Store
	Logger  pslog.Logger
	Now     func() time.Time
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
	enableSSH  bool
}

// WithHTTP enables the channel endpoint.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithSSH enables the SSH surface.
func WithSSH() ServerOption {
	return func(o *serverOptions) { o.enableSSH = true }
}

// New constructs a composable snipline server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enableSSH {
		return nil, errors.New("no services enabled")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	remote := deps.Backend
	if remote == nil {
		client, err := backend.New(cfg.Backend.BaseURL, backend.Options{Timeout: cfg.Backend.Timeout, Logger: logger})
		if err != nil {
			return nil, err
		}
		remote = client
	}

	store := deps.Store
	if store == nil {
		opened, err := openStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		store = opened
	}

	sup, err := supervisor.New(cfg.Supervisor, supervisor.Deps{
		Backend: remote,
		Store:   store,
		Logger:  logger,
		Now:     deps.Now,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var httpSrv *httpapi.Server
	var sshSrv *sshserver.Server
	if options.enableHTTP {
		httpSrv = httpapi.NewServer(cfg.HTTP, sup, nil)
	}
	if options.enableSSH {
		sshSrv = &sshserver.Server{
			Addr:         cfg.SSH.Addr,
			HostKeyPath:  cfg.SSH.HostKeyPath,
			PasswordHash: cfg.SSH.PasswordHash,
			Theme:        cfg.SSH.Theme,
			Supervisor:   sup,
			Engine:       cfg.Engine,
			EventBus:     eventbus.New(logger),
		}
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		sup:     sup,
		store:   store,
		httpSrv: httpSrv,
		sshSrv:  sshSrv,
	}, nil
}

func openStore(cfg ServerConfig, logger pslog.Logger) (persist.Store, error) {
	var store persist.Store
	switch cfg.Storage {
	case "", appconfig.StorageFile:
		fs, err := persist.NewFileStoreWithLogger(cfg.Supervisor.StateDir, logger)
		if err != nil {
			return nil, err
		}
		store = fs
	case appconfig.StorageSQLite:
		db, err := persist.OpenSQLite(filepath.Join(cfg.Supervisor.StateDir, "session.db"), logger)
		if err != nil {
			return nil, err
		}
		store = db
	default:
		return nil, fmt.Errorf("unknown supervisor storage %q", cfg.Storage)
	}
	if !cfg.UseKeyring {
		return store, nil
	}
	if !credstore.Available() {
		logger.Warn("server keyring unavailable", "fallback", cfg.Storage)
		return store, nil
	}
	return credstore.Wrap(store, logger), nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	sup     *supervisor.Supervisor
	store   persist.Store
	httpSrv *httpapi.Server
	sshSrv  *sshserver.Server
	logger  pslog.Logger

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	waitErr   error
	started   bool
	closeOnce sync.Once
}

func (s *compositeServer) Supervisor() *supervisor.Supervisor {
	return s.sup
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.done = make(chan struct{})
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"ssh", s.options.enableSSH,
		"http_addr", s.cfg.HTTP.Addr,
		"ssh_addr", s.cfg.SSH.Addr,
		"backend", s.cfg.Backend.BaseURL,
		"storage", s.cfg.Storage,
	)
	if err := s.sup.Start(s.ctx); err != nil {
		s.cancel()
		s.release()
		close(s.done)
		return err
	}

	group, gctx := errgroup.WithContext(s.ctx)
	if s.httpSrv != nil {
		group.Go(func() error {
			if err := s.httpSrv.Serve(gctx); err != nil {
				log.Error("http server failed", "err", err)
				return err
			}
			return nil
		})
	}
	if s.sshSrv != nil {
		group.Go(func() error {
			if err := s.sshSrv.ListenAndServe(gctx); err != nil {
				log.Error("ssh server failed", "err", err)
				return err
			}
			return nil
		})
	}
	go func() {
		err := group.Wait()
		s.release()
		s.mu.Lock()
		s.waitErr = err
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

// Wait blocks until every service has returned. A failing service stops the
// others.
func (s *compositeServer) Wait() error {
	s.mu.Lock()
	done := s.done
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waitErr != nil {
		pslog.Ctx(s.ctx).Error("server stopped", "err", s.waitErr)
	}
	return s.waitErr
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	done := s.done
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}

// release stops the supervisor and closes the store once the services are
// down.
func (s *compositeServer) release() {
	s.closeOnce.Do(func() {
		s.sup.Stop()
		if err := s.store.Close(); err != nil && s.logger != nil {
			s.logger.Warn("server store close failed", "err", err)
		}
	})
}
