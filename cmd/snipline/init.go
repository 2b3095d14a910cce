package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/snipline/bootstrap"
	"pkt.systems/snipline/internal/appconfig"
)

func newInitCmd() *cobra.Command {
	var outputDir string
	var overwrite bool
	var seedUser string
	var sets []string
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config, shortcut seed and service unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			opts := bootstrap.Options{SeedUser: seedUser}
			if seedUser != "" {
				password, _, err := resolvePassword(cmd, false, false)
				if err != nil {
					return err
				}
				opts.SeedPassword = password
			}
			for _, raw := range sets {
				override, err := bootstrap.ParseOverride(raw)
				if err != nil {
					return err
				}
				opts.Overrides = append(opts.Overrides, override)
			}
			var files bootstrap.Files
			var err error
			if outputDir == "" {
				files, err = bootstrap.DefaultFiles(opts)
			} else {
				files, err = bootstrap.Render(outputDir, opts)
			}
			if err != nil {
				return err
			}
			if printOnly {
				_, err = cmd.OutOrStdout().Write(files.ConfigYAML)
				return err
			}
			out := outputDir
			if out == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				out = filepath.Dir(path)
			}
			paths, err := bootstrap.WriteFiles(out, files, overwrite)
			if err != nil {
				return err
			}
			logger.Info("init wrote", "path", paths.ConfigPath, "name", "config.yaml")
			logger.Info("init wrote", "path", paths.SeedPath, "name", "shortcuts.yaml")
			logger.Info("init wrote", "path", paths.ServicePath, "name", "snipline.service")
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default ~/.snipline)")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite existing files")
	cmd.Flags().StringVar(&seedUser, "seed-user", "", "add a backend account and prompt for its password")
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the config to stdout instead of writing files")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "config override as path=value (repeatable)")
	return cmd
}
