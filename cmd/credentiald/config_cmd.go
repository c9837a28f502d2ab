// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package main

import (
	"encoding/json"
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lavendrix/credentiald/internal/config"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigSchemaCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd.Flags(), nil, true)
			if err != nil {
				return err
			}
			out, err := renderConfig(cfg.Redacted(), format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "output format (yaml or json)")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, path, err := loadConfig(cmd.Flags(), nil, false)
			if err != nil {
				return err
			}
			if path == "" {
				path = "defaults and environment"
			}
			cmd.Printf("Configuration is valid (%s)\n", path)
			return nil
		},
	}
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return err
		},
	}
}

// renderConfig encodes cfg using the same key names as the config file.
func renderConfig(cfg config.Config, format string) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, oops.Code("CONFIG_RENDER_FAILED").Wrap(err)
	}
	switch format {
	case "json":
		return append(data, '\n'), nil
	case "yaml":
		var tree map[string]any
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, oops.Code("CONFIG_RENDER_FAILED").Wrap(err)
		}
		out, err := yaml.Marshal(tree)
		if err != nil {
			return nil, oops.Code("CONFIG_RENDER_FAILED").Wrap(err)
		}
		return out, nil
	default:
		return nil, oops.Code("INVALID_FORMAT").With("format", format).Errorf("format must be yaml or json")
	}
}
