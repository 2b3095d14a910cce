package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	var cfgPath string
	var passwordFromStdin bool
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign the supervisor in to the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			var err error
			if passwordFromStdin {
				password, err = readPasswordFromStdin(cmd)
			} else {
				password, err = promptPassword(cmd)
			}
			if err != nil {
				return err
			}
			return runPageCommand(cmd, cfgPath, "/login "+args[0]+" "+password)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&passwordFromStdin, "password-from-stdin", false, "read password from stdin")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return newPageCmd("logout", "Sign out and clear the cached session", cobra.NoArgs, func([]string) string {
		return "/logout"
	})
}

func newSyncCmd() *cobra.Command {
	return newPageCmd("sync", "Replace the cached shortcut list from the backend", cobra.NoArgs, func([]string) string {
		return "/sync"
	})
}

func newFindCmd() *cobra.Command {
	return newPageCmd("find <trigger>", "Look up a trigger", cobra.ExactArgs(1), func(args []string) string {
		return "/find " + args[0]
	})
}

func newSearchCmd() *cobra.Command {
	return newPageCmd("search <query>", "Search shortcuts by text", cobra.MinimumNArgs(1), func(args []string) string {
		return "/search " + strings.Join(args, " ")
	})
}

func newPageCmd(use, short string, args cobra.PositionalArgs, input func([]string) string) *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPageCommand(cmd, cfgPath, input(args))
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func runPageCommand(cmd *cobra.Command, cfgPath, input string) error {
	p, err := openPage(cmd, cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	return p.run(cmd.Context(), cmd.OutOrStdout(), input)
}

func promptPassword(cmd *cobra.Command) (string, error) {
	passphrase, err := promptSecret(cmd, "Password: ")
	if err != nil {
		return "", err
	}
	if passphrase == "" {
		return "", errors.New("password is empty")
	}
	return passphrase, nil
}
