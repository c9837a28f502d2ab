// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

// Package xdg resolves XDG Base Directory paths for credentiald.
package xdg

import (
	"errors"
	"os"
	"path/filepath"
)

const appName = "credentiald"

// ConfigFileName is the file looked up inside ConfigDir.
const ConfigFileName = "config.yaml"

// ErrNoHome is returned when neither the XDG variable nor HOME is set.
var ErrNoHome = errors.New("neither XDG_CONFIG_HOME nor HOME is set")

// ConfigDir returns $XDG_CONFIG_HOME/credentiald, falling back to
// ~/.config/credentiald.
func ConfigDir() (string, error) {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", ErrNoHome
	}
	return filepath.Join(home, ".config", appName), nil
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}
