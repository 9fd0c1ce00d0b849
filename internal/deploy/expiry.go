// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package deploy

import (
	"context"
	"time"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/logging"
)

// ExpiryReconciler periodically retracts applied rules whose
// policy.Rule.ExpiresAt has passed (§3: expiry is "enforced by controller").
// Without this sweep the Autonomy Controller's temporary autonomous blocks
// would stay in the live ruleset indefinitely; nothing else ever revisits
// them.
type ExpiryReconciler struct {
	deployCtl *Controller
	activeFor func() (backend.Adapter, error)
	interval  time.Duration
}

// NewExpiryReconciler constructs a reconciler that sweeps every interval
// (default one minute).
func NewExpiryReconciler(deployCtl *Controller, activeFor func() (backend.Adapter, error), interval time.Duration) *ExpiryReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryReconciler{deployCtl: deployCtl, activeFor: activeFor, interval: interval}
}

// Run sweeps on every tick until ctx is canceled.
func (r *ExpiryReconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		r.sweep(ctx)
	}
}

func (r *ExpiryReconciler) sweep(ctx context.Context) {
	adapter, err := r.activeFor()
	if err != nil {
		logging.Warn("expiry reconciler: no active backend", "error", err)
		return
	}
	live, err := adapter.ListRules(ctx)
	if err != nil {
		logging.Warn("expiry reconciler: failed to list live rules", "error", err)
		return
	}
	now := time.Now()
	for _, rr := range live {
		exp := rr.SourceRule.ExpiresAt
		if exp == nil || exp.After(now) {
			continue
		}
		if rr.Handle == "" {
			logging.Warn("expiry reconciler: expired rule has no tracked handle, cannot retract", "rule_id", rr.SourceRule.ID)
			continue
		}
		if err := r.deployCtl.Retract(ctx, adapter.Name(), rr); err != nil {
			logging.Error("expiry reconciler: retraction failed", "rule_id", rr.SourceRule.ID, "error", err)
		}
	}
}
