package main

import (
	"os"
	"path/filepath"

	"github.com/benaskins/lectern/internal/config"
)

// lecternHome returns the lectern home directory (~/.lectern), falling back
// to the temp directory when $HOME is unavailable.
func lecternHome() string {
	if dir, err := config.Home(); err == nil {
		return dir
	}
	return filepath.Join(os.TempDir(), "lectern")
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := config.DefaultPath(); p != "" {
		return p
	}
	return filepath.Join(lecternHome(), "config.yaml")
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolvedConfigPath())
}
