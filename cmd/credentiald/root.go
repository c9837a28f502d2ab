// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lavendrix/credentiald/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the credentiald CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentiald",
		Short: "credentiald - account credentials and password reset service",
		Long: `credentiald registers accounts, verifies passwords with argon2id,
issues signed session tokens and runs the emailed password reset handshake.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/credentiald/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), formatVersion(version, commit, date))
			return err
		},
	}
}

// loadConfig reads configuration for a subcommand. flagKeys maps the
// subcommand's own flags to config keys; unset flags never override.
// partial skips whole-config validation for commands that need one section.
func loadConfig(flags *pflag.FlagSet, flagKeys map[string]string, partial bool) (*config.Config, string, error) {
	return config.Load(config.LoadOptions{
		Path:           configFile,
		Flags:          flags,
		FlagKeys:       flagKeys,
		SkipValidation: partial,
	})
}
