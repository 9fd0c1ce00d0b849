// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"context"
	"time"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/audit"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// TailAudit polls the audit log from afterSeq forward on interval and turns
// each record's EventType into the matching counter/gauge update. This is
// the one place the daemon's lifecycle metrics are driven from, rather than
// threading a *Metrics field through every component's constructor: every
// transition this package reports already writes an audit.Record, so
// tailing that append-only log is a faithful, side-effect-free view of them.
func TailAudit(ctx context.Context, st *store.Store, m *Metrics, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	var afterSeq int64

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		records, err := st.AuditSince(ctx, afterSeq, 500)
		if err != nil {
			continue
		}
		for _, rec := range records {
			applyAuditRecord(m, rec)
			afterSeq = rec.Sequence
		}
	}
}

func applyAuditRecord(m *Metrics, rec audit.Record) {
	backend := rec.Backend
	if backend == "" {
		backend = "unknown"
	}

	switch rec.EventType {
	case audit.EventProposalCreated:
		origin := "operator"
		if rec.AssessmentID != "" {
			origin = "daemon-auto"
		}
		m.ProposalsCreated.WithLabelValues(origin).Inc()
	case audit.EventProposalApproved:
		m.ProposalsDecided.WithLabelValues("approved").Inc()
	case audit.EventProposalRejected:
		m.ProposalsDecided.WithLabelValues("rejected").Inc()
	case audit.EventProposalSuperseded:
		m.ProposalsDecided.WithLabelValues("superseded").Inc()
	case audit.EventDeploymentApplied:
		m.DeploymentsActive.WithLabelValues(backend).Inc()
	case audit.EventDeploymentCommitted:
		m.DeploymentsActive.WithLabelValues(backend).Dec()
		m.DeploymentsApplied.WithLabelValues("committed").Inc()
	case audit.EventDeploymentRolledBack:
		m.DeploymentsActive.WithLabelValues(backend).Dec()
		m.DeploymentsApplied.WithLabelValues("rolled-back").Inc()
	case audit.EventDeploymentFailed:
		m.DeploymentsActive.WithLabelValues(backend).Dec()
		m.DeploymentsApplied.WithLabelValues("failed").Inc()
	case audit.EventDeploymentCancelled:
		m.DeploymentsActive.WithLabelValues(backend).Dec()
	case audit.EventAutonomySuppressed:
		reason := rec.Message
		if reason == "" {
			reason = "unspecified"
		}
		m.Suppressions.WithLabelValues(reason).Inc()
	case audit.EventCircuitBreakerTrip:
		m.BreakerTrips.Inc()
	case audit.EventHeartbeatMiss:
		m.HeartbeatFailures.WithLabelValues(backend).Inc()
	case audit.EventAutonomyLevelSet:
		m.AutonomyLevel.Set(AutonomyLevelValue(rec.Message))
	}
}
