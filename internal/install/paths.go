// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package install resolves the filesystem locations the daemon and CLI use
// for configuration, state, logs, backups, and the control socket.
package install

import (
	"os"
	"path/filepath"
	"strings"
)

const envPrefix = "ORCHESTRATOR"

// Defaults for a host-installed deployment. Callers embedding the daemon
// elsewhere override via the corresponding environment variable.
var (
	DefaultConfigDir = "/etc/orchestrator"
	DefaultStateDir  = "/var/lib/orchestrator"
	DefaultLogDir    = "/var/log/orchestrator"
	DefaultCacheDir  = "/var/cache/orchestrator"
	DefaultRunDir    = "/var/run/orchestrator"
	DefaultBackupDir = "/var/lib/orchestrator/backups"
)

func fromEnvOrPrefix(suffix, fallback string) string {
	if dir := os.Getenv(envPrefix + "_" + suffix); dir != "" {
		return dir
	}
	if prefix := os.Getenv(envPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, strings.ToLower(suffix))
	}
	return fallback
}

// GetConfigDir returns the configuration directory, honoring
// ORCHESTRATOR_CONFIG_DIR / ORCHESTRATOR_PREFIX overrides.
func GetConfigDir() string { return fromEnvOrPrefix("CONFIG_DIR", DefaultConfigDir) }

// GetStateDir returns the directory holding the state store's sqlite file.
func GetStateDir() string { return fromEnvOrPrefix("STATE_DIR", DefaultStateDir) }

// GetLogDir returns the directory the daemon writes its own log file to.
func GetLogDir() string { return fromEnvOrPrefix("LOG_DIR", DefaultLogDir) }

// GetCacheDir returns the directory used for threat-feed content-addressed caching.
func GetCacheDir() string { return fromEnvOrPrefix("CACHE_DIR", DefaultCacheDir) }

// GetRunDir returns the directory used for the daemon's PID file and control socket.
func GetRunDir() string { return fromEnvOrPrefix("RUN_DIR", DefaultRunDir) }

// GetBackupDir returns the directory deployment backups are written to. The
// daemon keeps the nftables adapter's single backup file, nftables.last.nft,
// here rather than one file per deployment.
func GetBackupDir() string { return fromEnvOrPrefix("BACKUP_DIR", DefaultBackupDir) }

// GetSocketPath returns the path to the facade's local control socket.
func GetSocketPath() string {
	if path := os.Getenv(envPrefix + "_CTL_SOCKET"); path != "" {
		return path
	}
	return filepath.Join(GetRunDir(), "orchestrator.sock")
}

// GetStatePath returns the path to the state store's sqlite database file.
func GetStatePath() string {
	if path := os.Getenv(envPrefix + "_STATE_PATH"); path != "" {
		return path
	}
	return filepath.Join(GetStateDir(), "orchestrator.db")
}

// EnsureDirs creates every directory the daemon needs at startup.
func EnsureDirs() error {
	for _, dir := range []string{GetConfigDir(), GetStateDir(), GetLogDir(), GetCacheDir(), GetRunDir(), GetBackupDir()} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}
	}
	return nil
}
