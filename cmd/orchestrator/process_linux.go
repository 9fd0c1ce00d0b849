// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package main

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// setProcessName sets the running process's name via prctl, so "ps"/"top"
// show "orchestrator" for the forked daemon rather than the binary's path.
func setProcessName(name string) error {
	b := append([]byte(name), 0)
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&b[0])), 0, 0, 0)
}
