package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/snipline"
	"pkt.systems/snipline/internal/appconfig"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var noSSH bool
	var noHTTP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the supervisor with its channel endpoint and SSH surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			var opts []snipline.ServerOption
			if !noHTTP {
				opts = append(opts, snipline.WithHTTP())
			}
			if !noSSH {
				opts = append(opts, snipline.WithSSH())
			}
			if len(opts) == 0 {
				return errors.New("--no-http and --no-ssh leave nothing to serve")
			}
			serverCfg := snipline.ServerConfigFrom(cfg)
			server, err := snipline.New(serverCfg, snipline.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&noSSH, "no-ssh", false, "disable the SSH surface")
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "disable the channel endpoint")
	return cmd
}
