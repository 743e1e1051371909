package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// developmentFolder is the literal APP_ENVIRONMENT value that selects
// the development data folder instead of the production one.
const developmentFolder = "Development"

const (
	prodAppFolder = "Cyphersol"
	devAppFolder  = "CyphersolDev"
)

// ResolvePaths folds the APP_ENVIRONMENT value into a single
// PathsConfig at composition-root time: every file below
// `internal/app` receives an already-resolved path and never branches
// on the environment variable itself again.
func ResolvePaths(appEnvironment string) (PathsConfig, error) {
	base, err := sharedAppDataDir()
	if err != nil {
		return PathsConfig{}, fmt.Errorf("failed to resolve shared app data directory: %w", err)
	}

	folder := prodAppFolder
	if appEnvironment == developmentFolder {
		folder = devAppFolder
	}

	dataDir := filepath.Join(base, folder)
	return PathsConfig{
		Environment: appEnvironment,
		DataDir:     dataDir,
		LicenseFile: filepath.Join(dataDir, "license.enc"),
		AuditFile:   filepath.Join(dataDir, "license-audit.log"),
		LogsDir:     filepath.Join(dataDir, "logs"),
	}, nil
}

// sharedAppDataDir returns the OS-specific shared (machine-wide, not
// per-user) application data directory: %ProgramData% on Windows,
// /Library/Application Support on macOS, /var/lib on every other OS.
func sharedAppDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("ProgramData"); dir != "" {
			return dir, nil
		}
		return `C:\ProgramData`, nil
	case "darwin":
		return "/Library/Application Support", nil
	default:
		return "/var/lib", nil
	}
}

// EnsureDataDir creates the resolved data directory (and its logs
// subdirectory) if they do not already exist. It does not create the
// license file itself — a missing license file is a normal state
// (spec §4.C: "missing file yields an empty, IsValid()==false record
// without creating one").
func (p PathsConfig) EnsureDataDir() error {
	if err := os.MkdirAll(p.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", p.DataDir, err)
	}
	if err := os.MkdirAll(p.LogsDir, 0700); err != nil {
		return fmt.Errorf("failed to create logs directory %s: %w", p.LogsDir, err)
	}
	return nil
}
