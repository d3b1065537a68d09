// Package sqlitepath resolves where the beacon SQLite database lives.
package sqlitepath

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/beaconhq/beacon/pkg/dotdir"
)

const dbFile = "beacon.db"

// Resolve picks the SQLite database path. Order of precedence:
//  1. Explicit override (flag or config value other than the bare default)
//  2. BEACON_SQLITE environment variable
//  3. First existing candidate (./beacon.db, .beacon/beacon.db,
//     ~/.beacon/beacon.db, $XDG_DATA_HOME/beacon/beacon.db)
//  4. A fresh beacon.db inside the resolved .beacon/ directory, or the
//     current directory when none exists
//
// Unlike the candidates, the fallback path does not need to exist; the
// driver creates the file.
func Resolve(override, configDir string) (string, error) {
	if override != "" && override != dbFile {
		return override, nil
	}

	if envPath := strings.TrimSpace(os.Getenv("BEACON_SQLITE")); envPath != "" {
		return envPath, nil
	}

	for _, candidate := range candidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return "", err
	}
	if target != "" {
		return filepath.Join(target, dbFile), nil
	}

	return dbFile, nil
}

func candidates() []string {
	candidates := []string{
		dbFile,
		filepath.Join(".beacon", dbFile),
	}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".beacon", dbFile))
	}

	if xdgHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdgHome != "" {
		candidates = append(candidates, filepath.Join(xdgHome, "beacon", dbFile))
	}

	return candidates
}
