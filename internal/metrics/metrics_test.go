// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/audit"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

func TestRegister_SucceedsOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))

	m.EventsIngested.WithLabelValues("auth").Inc()
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestAutonomyLevelValue_MapsKnownLevels(t *testing.T) {
	assert.Equal(t, float64(0), AutonomyLevelValue("monitor"))
	assert.Equal(t, float64(1), AutonomyLevelValue("cautious"))
	assert.Equal(t, float64(2), AutonomyLevelValue("aggressive"))
	assert.Equal(t, float64(0), AutonomyLevelValue("unknown"))
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestApplyAuditRecord_TracksDeploymentLifecycleAndAutonomyLevel(t *testing.T) {
	m := New()

	applyAuditRecord(m, audit.Record{EventType: audit.EventProposalCreated})
	assert.Equal(t, float64(1), counterValue(t, m.ProposalsCreated.WithLabelValues("operator")))

	applyAuditRecord(m, audit.Record{EventType: audit.EventProposalCreated, AssessmentID: "a-1"})
	assert.Equal(t, float64(1), counterValue(t, m.ProposalsCreated.WithLabelValues("daemon-auto")))

	applyAuditRecord(m, audit.Record{EventType: audit.EventDeploymentApplied, Backend: "nftables"})
	assert.Equal(t, float64(1), gaugeValue(t, m.DeploymentsActive.WithLabelValues("nftables")))

	applyAuditRecord(m, audit.Record{EventType: audit.EventDeploymentCommitted, Backend: "nftables"})
	assert.Equal(t, float64(0), gaugeValue(t, m.DeploymentsActive.WithLabelValues("nftables")))
	assert.Equal(t, float64(1), counterValue(t, m.DeploymentsApplied.WithLabelValues("committed")))

	applyAuditRecord(m, audit.Record{EventType: audit.EventAutonomySuppressed, Message: "subject cooldown active"})
	assert.Equal(t, float64(1), counterValue(t, m.Suppressions.WithLabelValues("subject cooldown active")))

	applyAuditRecord(m, audit.Record{EventType: audit.EventCircuitBreakerTrip})
	assert.Equal(t, float64(1), counterValue(t, m.BreakerTrips))

	applyAuditRecord(m, audit.Record{EventType: audit.EventAutonomyLevelSet, Message: "aggressive"})
	assert.Equal(t, float64(2), gaugeValue(t, m.AutonomyLevel))
}

func TestTailAudit_PollsStoreAndStopsOnContextCancel(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.AppendAudit(context.Background(), audit.Record{
		Timestamp: time.Now(), EventType: audit.EventCircuitBreakerTrip, Severity: audit.SeverityCritical,
	})
	require.NoError(t, err)

	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		TailAudit(ctx, st, m, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return counterValue(t, m.BreakerTrips) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TailAudit did not exit after context cancel")
	}
}
