// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package facade

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/autonomy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/deploy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

type stubProbe struct{}

func (stubProbe) Probe(ctx context.Context) error { return nil }

type stubAdapter struct {
	name     string
	caps     backend.Capabilities
	existing []backend.RenderedRule
}

func (a *stubAdapter) Name() string                       { return a.name }
func (a *stubAdapter) Capabilities() backend.Capabilities { return a.caps }
func (a *stubAdapter) Render(r policy.Rule) (backend.RenderedRule, error) {
	return backend.RenderedRule{BackendName: a.name, SourceRule: r, Text: "rendered"}, nil
}
func (a *stubAdapter) Validate(ctx context.Context, image backend.RulesetImage) (backend.Verdict, error) {
	return backend.Verdict{Valid: true}, nil
}
func (a *stubAdapter) Snapshot(ctx context.Context) (backend.BackupRef, error) {
	return backend.BackupRef{ID: "backup-1"}, nil
}
func (a *stubAdapter) ApplyAtomic(ctx context.Context, image backend.RulesetImage) (backend.ApplyReceipt, error) {
	return backend.ApplyReceipt{Applied: true, RuleCount: len(image.Rules)}, nil
}
func (a *stubAdapter) ApplyDelta(ctx context.Context, delta backend.Delta) (backend.ApplyReceipt, error) {
	return backend.ApplyReceipt{Applied: true, RuleCount: len(delta.Add)}, nil
}
func (a *stubAdapter) Restore(ctx context.Context, ref backend.BackupRef) (bool, error) {
	return true, nil
}
func (a *stubAdapter) ListRules(ctx context.Context) ([]backend.RenderedRule, error) {
	return a.existing, nil
}
func (a *stubAdapter) ImportRules(ctx context.Context) ([]policy.Rule, []string, error) {
	return nil, nil, nil
}
func (a *stubAdapter) Health(ctx context.Context) (backend.Health, error) {
	return backend.Health{Reachable: true, Writable: true}, nil
}

type stubTranslator struct {
	rule        policy.Rule
	explanation string
	err         error
}

func (t stubTranslator) Translate(ctx context.Context, text string) (policy.Rule, string, error) {
	return t.rule, t.explanation, t.err
}

func newTestFacade(t *testing.T, adapter *stubAdapter) *Facade {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "facade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := backend.NewRegistry()
	registry.Register(adapter.name, "netfilter", func() (backend.Adapter, error) { return adapter, nil })
	_, err = registry.Activate(adapter.name)
	require.NoError(t, err)

	deployCtl := deploy.New(deploy.DefaultConfig(), st, func(name string) (backend.Adapter, error) {
		return adapter, nil
	})
	autonomyCtl := autonomy.New(autonomy.DefaultConfig(), st, deployCtl, func() (backend.Adapter, error) {
		return adapter, nil
	})

	f := New(st, registry, deployCtl, autonomyCtl, stubTranslator{}, deploy.ReachabilityProbe{Outbound: stubProbe{}})
	f.approveWaitFor = 500 * time.Millisecond
	return f
}

func testRule() policy.Rule {
	return policy.Rule{
		Direction: policy.DirectionInput, Action: policy.ActionDrop,
		Source: "198.51.100.77/32", Protocol: policy.ProtocolAny,
	}
}

func TestPropose_DirectRuleCreatesPendingApprovalProposal(t *testing.T) {
	f := newTestFacade(t, &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: true}})
	rule := testRule()

	p, err := f.Propose(context.Background(), ProposeInput{Rule: &rule})
	require.NoError(t, err)
	assert.Equal(t, store.ProposalPendingApproval, p.State)
	assert.Equal(t, policy.OriginUser, p.Rule.Origin)
}

func TestPropose_RejectsWhenBackendLacksCapability(t *testing.T) {
	f := newTestFacade(t, &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: false}})
	rule := testRule()

	_, err := f.Propose(context.Background(), ProposeInput{Rule: &rule})
	assert.Error(t, err)
}

func TestPropose_TextRoutesThroughTranslator(t *testing.T) {
	f := newTestFacade(t, &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: true}})
	f.translator = stubTranslator{rule: testRule(), explanation: "blocked per request"}

	p, err := f.Propose(context.Background(), ProposeInput{Text: "block 198.51.100.77"})
	require.NoError(t, err)
	assert.Equal(t, "blocked per request", p.Explanation)
}

func TestPropose_RequiresTextOrRule(t *testing.T) {
	f := newTestFacade(t, &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: true}})
	_, err := f.Propose(context.Background(), ProposeInput{})
	assert.Error(t, err)
}

func TestApprove_SubmitsToDeploymentControllerAndReturnsProbation(t *testing.T) {
	f := newTestFacade(t, &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: true}})
	rule := testRule()
	p, err := f.Propose(context.Background(), ProposeInput{Rule: &rule})
	require.NoError(t, err)

	d, err := f.Approve(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeploymentProbation, d.State)
}

func TestReject_NeverReachesDeploymentController(t *testing.T) {
	f := newTestFacade(t, &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: true}})
	rule := testRule()
	p, err := f.Propose(context.Background(), ProposeInput{Rule: &rule})
	require.NoError(t, err)

	require.NoError(t, f.Reject(context.Background(), p.ID, "not needed"))

	updated, err := f.store.GetProposal(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ProposalRejected, updated.State)
}

func TestCommit_EndsProbationEarly(t *testing.T) {
	f := newTestFacade(t, &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: true}})
	rule := testRule()
	p, err := f.Propose(context.Background(), ProposeInput{Rule: &rule})
	require.NoError(t, err)

	d, err := f.Approve(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, store.DeploymentProbation, d.State)

	committed, err := f.Commit(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeploymentCommitted, committed.State)
}

func TestListRules_LiftsRenderedRulesToPolicyModel(t *testing.T) {
	rule := testRule()
	adapter := &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: true},
		existing: []backend.RenderedRule{{BackendName: "nftables", SourceRule: rule}}}
	f := newTestFacade(t, adapter)

	rules, err := f.ListRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, rule.Source, rules[0].Source)
}

func TestAutonomySetLevel_PersistsAcrossStatusCheck(t *testing.T) {
	f := newTestFacade(t, &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: true}})
	require.NoError(t, f.AutonomySetLevel(context.Background(), autonomy.LevelCautious))

	status, err := f.DaemonStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, autonomy.LevelCautious, status.AutonomyLevel)
	assert.Equal(t, "nftables", status.ActiveBackend)
}

func TestNeverBlockAddRemove_RoundTrips(t *testing.T) {
	f := newTestFacade(t, &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: true}})
	entry := store.NeverBlockEntry{Value: "10.0.0.1/32", Kind: "cidr"}
	require.NoError(t, f.NeverBlockAdd(context.Background(), entry))

	entries, err := f.store.ListNeverBlock(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, f.NeverBlockRemove(context.Background(), entries[0].ID))
	entries, err = f.store.ListNeverBlock(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubscribeEvents_DeliversEventsRecordedAfterSubscribe(t *testing.T) {
	f := newTestFacade(t, &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: true}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, unsubscribe, err := f.SubscribeEvents(ctx, nil)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, f.store.RecordEvent(context.Background(), store.SecurityEvent{
		ID: "e1", SourceName: "test", Kind: "port-scan", Severity: store.SeverityLow,
		SourceIP: "198.51.100.5", ObservedAt: time.Now(),
	}))

	select {
	case e := <-events:
		assert.Equal(t, "e1", e.ID)
	case <-time.After(time.Second):
		t.Fatal("expected the recorded event to be delivered to the subscriber")
	}
}
