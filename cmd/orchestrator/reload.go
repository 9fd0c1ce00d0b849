// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/config"
)

// runReload validates configPath before signaling, so a bad edit never
// reaches the running daemon in the first place.
func runReload(configPath string) error {
	path := resolveConfigPath(configPath)
	fmt.Printf("validating configuration: %s\n", path)
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Println("configuration is valid.")

	pidFile := pidFilePath()
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file %s: %w (is the daemon running?)", pidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("invalid PID in file: %s", data)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	fmt.Printf("sending SIGHUP to process %d...\n", pid)
	if err := process.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to signal process: %w", err)
	}
	fmt.Println("reload signal sent.")
	return nil
}
