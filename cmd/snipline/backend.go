package main

import (
	"errors"
	"io/fs"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/appconfig"
	"pkt.systems/snipline/internal/auth"
	"pkt.systems/snipline/internal/mockbackend"
)

func newBackendCmd() *cobra.Command {
	var cfgPath string
	var addr string
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Run the bundled shortcut backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.MockBackend.Addr = addr
			}
			server, err := newMockBackend(cfg, logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger.Info("backend start", "addr", cfg.MockBackend.Addr, "seed", cfg.MockBackend.SeedFile)
			return server.ListenAndServe(ctx, cfg.MockBackend.Addr)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides mock_backend.addr)")
	return cmd
}

func newMockBackend(cfg appconfig.Config, logger pslog.Logger) (*mockbackend.Server, error) {
	users, err := auth.NewStoreWithLogger(cfg.MockBackend.UserFile, cfg.MockBackend.SeedUsers, logger)
	if err != nil {
		return nil, err
	}
	seed, err := mockbackend.LoadSeed(cfg.MockBackend.SeedFile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("backend seed missing; serving defaults", "path", cfg.MockBackend.SeedFile)
		seed, err = mockbackend.DefaultSeed(), nil
	}
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(cfg.MockBackend.TokenTTLHours) * time.Hour
	issuer, err := mockbackend.NewIssuer(cfg.MockBackend.TokenSecret, ttl, nil)
	if err != nil {
		return nil, err
	}
	return mockbackend.New(mockbackend.Options{
		Users:  users,
		Seed:   seed,
		Issuer: issuer,
		Logger: logger,
	})
}
