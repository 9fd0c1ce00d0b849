// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nftables

import (
	"context"
	"hash/fnv"
	"os/exec"

	"github.com/google/nftables"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
)

// healthChecker reports adapter reachability and writability, and supplies
// the generation id recorded on apply receipts. That id is an FNV-64a hash
// of the live `nft list ruleset` text, not the kernel's own generation
// counter. Nothing compares it against an earlier value, so out-of-band
// ruleset drift is not detected here.
type healthChecker interface {
	check(ctx context.Context) (backend.Health, error)
	generationID(ctx context.Context) (uint64, error)
}

type netlinkHealthChecker struct{}

func newNetlinkHealthChecker() healthChecker {
	return netlinkHealthChecker{}
}

func (netlinkHealthChecker) check(ctx context.Context) (backend.Health, error) {
	conn, err := nftables.New()
	if err != nil {
		return backend.Health{Reachable: false, Detail: err.Error()}, nil
	}
	defer conn.CloseLasting()

	if _, err := conn.ListTables(); err != nil {
		return backend.Health{Reachable: true, Writable: false, Detail: err.Error()}, nil
	}
	return backend.Health{Reachable: true, Writable: true}, nil
}

func (netlinkHealthChecker) generationID(ctx context.Context) (uint64, error) {
	out, err := exec.CommandContext(ctx, "nft", "list", "ruleset").CombinedOutput()
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	h.Write(out)
	return h.Sum64(), nil
}
