// Package dotdir manages the .beacon/ and ~/.beacon directories where the
// service keeps its config.toml and local state.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the beacon directory.
	dirName = ".beacon"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the target absolute path to a .beacon/ directory.
// Order of precedence is as follows:
//  1. Provided override (created if missing)
//  2. Local ./.beacon/ dir
//  3. Home ~/.beacon/ dir
//
// Returns an empty string when no override is given and neither directory
// exists; callers fall back to defaults in that case.
func (m *Manager) Target(overrideDir string) (string, error) {
	if overrideDir != "" {
		if err := os.MkdirAll(overrideDir, 0o755); err != nil {
			return "", fmt.Errorf("creating beacon directory %s: %w", overrideDir, err)
		}
		return filepath.Abs(overrideDir)
	}

	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, dirName)
		if dirExists(local) {
			return filepath.Abs(local)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	homeDir := filepath.Join(home, dirName)
	if dirExists(homeDir) {
		return filepath.Abs(homeDir)
	}

	return "", nil
}

// Create makes the .beacon/ directory at the resolved location (or override)
// and returns its path. Used by "beacon init".
func (m *Manager) Create(overrideDir string) (string, error) {
	dir := overrideDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating beacon directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
