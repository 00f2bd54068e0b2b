// Package paths centralizes the on-disk layout of the console. Everything
// lives under one application root so a backup or wipe of the homelab
// state is a single directory.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvRoot overrides the application root when set.
const EnvRoot = "HOMELAB_ROOT"

// AppPaths names every directory and well-known file the console uses.
type AppPaths struct {
	Root      string
	ConfigDir string
	StateDir  string
	LogsDir   string
	RunsDir   string

	ConfigFile string // console.yaml
	EnvFile    string // .env, operator-managed secrets
	HistoryDB  string // history.db
}

// Default resolves the application root: $HOMELAB_ROOT if set, otherwise
// $HOME/app/fouchger_homelab.
func Default() (AppPaths, error) {
	if root := os.Getenv(EnvRoot); root != "" {
		return At(root), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return AppPaths{}, fmt.Errorf("resolve home directory: %w", err)
	}
	return At(filepath.Join(home, "app", "fouchger_homelab")), nil
}

// At lays out the standard structure under an explicit root.
func At(root string) AppPaths {
	return AppPaths{
		Root:       root,
		ConfigDir:  filepath.Join(root, "config"),
		StateDir:   filepath.Join(root, "state"),
		LogsDir:    filepath.Join(root, "logs"),
		RunsDir:    filepath.Join(root, "runs"),
		ConfigFile: filepath.Join(root, "config", "console.yaml"),
		EnvFile:    filepath.Join(root, "config", ".env"),
		HistoryDB:  filepath.Join(root, "state", "history.db"),
	}
}

// EnsureDirs creates the directory skeleton.
func (p AppPaths) EnsureDirs() error {
	for _, dir := range []string{p.ConfigDir, p.StateDir, p.LogsDir, p.RunsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
