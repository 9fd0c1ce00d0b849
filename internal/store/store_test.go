// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/audit"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrator.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveProposal_WritesRowAndAuditInOneTransaction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := Proposal{
		ID:        "p1",
		Rule:      policy.Rule{ID: "r1", Family: policy.FamilyIPv4, Action: policy.ActionDrop, Origin: policy.OriginDaemonAuto},
		State:     ProposalPendingApproval,
		CreatedAt: time.Now(),
	}
	seq, err := s.SaveProposal(ctx, p, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventProposalCreated, Severity: audit.SeverityInfo, ProposalID: p.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	got, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ProposalPendingApproval, got.State)
	assert.Equal(t, policy.ActionDrop, got.Rule.Action)

	records, err := s.AuditSince(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.EventProposalCreated, records[0].EventType)
}

func TestAuditSequence_GaplessAcrossMultipleWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.AppendAudit(ctx, audit.Record{
			Timestamp: time.Now(), EventType: audit.EventSecurityEventObserved, Severity: audit.SeverityInfo,
		})
		require.NoError(t, err)
	}
	records, err := s.AuditSince(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.Sequence)
	}
}

func TestGetProposal_NotFoundIsKindNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetProposal(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestSaveDeployment_OneRowPerProposal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d := Deployment{ID: "d1", ProposalID: "p1", AppliedAt: time.Now(), State: DeploymentApplying}
	_, err := s.SaveDeployment(ctx, d, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventDeploymentApplied, Severity: audit.SeverityInfo, DeploymentID: d.ID,
	})
	require.NoError(t, err)

	got, err := s.GetDeployment(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, DeploymentApplying, got.State)

	got.State = DeploymentProbation
	_, err = s.SaveDeployment(ctx, got, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventDeploymentProbation, Severity: audit.SeverityInfo, DeploymentID: d.ID,
	})
	require.NoError(t, err)

	updated, err := s.GetDeployment(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, DeploymentProbation, updated.State)
}

func TestPrune_RemovesOldEventsAndTerminalDeploymentsOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	require.NoError(t, s.RecordEvent(ctx, SecurityEvent{ID: "e-old", SourceName: "auth", Kind: "login_failed", Severity: SeverityLow, ObservedAt: old}))
	require.NoError(t, s.RecordEvent(ctx, SecurityEvent{ID: "e-new", SourceName: "auth", Kind: "login_failed", Severity: SeverityLow, ObservedAt: recent}))

	done := Deployment{ID: "d-done", ProposalID: "p-done", AppliedAt: old, State: DeploymentRolledBack}
	_, err := s.SaveDeployment(ctx, done, audit.Record{Timestamp: old, EventType: audit.EventDeploymentRolledBack, Severity: audit.SeverityInfo, DeploymentID: done.ID})
	require.NoError(t, err)

	active := Deployment{ID: "d-active", ProposalID: "p-active", AppliedAt: old, State: DeploymentProbation}
	_, err = s.SaveDeployment(ctx, active, audit.Record{Timestamp: old, EventType: audit.EventDeploymentProbation, Severity: audit.SeverityInfo, DeploymentID: active.ID})
	require.NoError(t, err)

	cutoff := time.Now().Add(-24 * time.Hour)
	n, err := s.Prune(ctx, cutoff)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))

	events, err := s.EventsSince(ctx, time.Time{}, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e-new", events[0].ID)

	_, err = s.GetDeployment(ctx, "d-done")
	assert.Error(t, err)

	still, err := s.GetDeployment(ctx, "d-active")
	require.NoError(t, err)
	assert.Equal(t, DeploymentProbation, still.State)

	records, err := s.AuditSince(ctx, 0, 100)
	require.NoError(t, err)
	assert.NotEmpty(t, records)
}

func TestNeverBlock_AddListRemove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddNeverBlock(ctx, NeverBlockEntry{ID: "n1", Value: "10.0.0.1", Kind: "cidr", AddedAt: time.Now()}))
	entries, err := s.ListNeverBlock(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, s.RemoveNeverBlock(ctx, "n1"))
	entries, err = s.ListNeverBlock(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = s.RemoveNeverBlock(ctx, "n1")
	assert.Error(t, err)
}

func TestDaemonState_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	type cursor struct{ Offset int64 }
	require.NoError(t, s.SetDaemonState(ctx, "tail:auth.log", cursor{Offset: 42}))

	var got cursor
	found, err := s.GetDaemonState(ctx, "tail:auth.log", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), got.Offset)

	var missing cursor
	found, err = s.GetDaemonState(ctx, "tail:other.log", &missing)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDiffRulesets_AddedRemovedChanged(t *testing.T) {
	before := []policy.Rule{
		{ID: "a", Family: policy.FamilyIPv4, Action: policy.ActionDrop, Source: "203.0.113.1/32", Priority: 1},
	}
	after := []policy.Rule{
		{ID: "a", Family: policy.FamilyIPv4, Action: policy.ActionDrop, Source: "203.0.113.1/32", Priority: 2},
		{ID: "b", Family: policy.FamilyIPv4, Action: policy.ActionDrop, Source: "198.51.100.1/32"},
	}
	diff := DiffRulesets(before, after)
	require.Len(t, diff.Changes, 2)

	var kinds []ChangeKind
	for _, c := range diff.Changes {
		kinds = append(kinds, c.Kind)
	}
	assert.Contains(t, kinds, ChangeChanged)
	assert.Contains(t, kinds, ChangeAdded)
}
