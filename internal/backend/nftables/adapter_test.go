// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nftables

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

type fakeRunner struct {
	calls    [][]string
	failArgs string // if an arg list joined contains this substring, Run errors
	listOut  string
}

func (f *fakeRunner) Run(ctx context.Context, stdin string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	if f.failArgs != "" && contains(joined, f.failArgs) {
		return "error: bad syntax", assertErr{}
	}
	for _, a := range args {
		if a == "ruleset" || a == "table" {
			return f.listOut, nil
		}
	}
	return "", nil
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated nft failure" }

func contains(s, sub string) bool {
	return len(sub) > 0 && (s == sub || (len(s) > len(sub) && indexOf(s, sub) >= 0))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func newTestAdapter(r runner) *Adapter {
	return &Adapter{opts: DefaultOptions(), run: r, hc: stubHealth{}}
}

type stubHealth struct{}

func (stubHealth) check(ctx context.Context) (backend.Health, error) {
	return backend.Health{Reachable: true, Writable: true}, nil
}
func (stubHealth) generationID(ctx context.Context) (uint64, error) { return 1, nil }

func TestRender_DropRuleWithPort(t *testing.T) {
	rr, err := Render(policy.Rule{
		ID:              "11111111-1111-1111-1111-111111111111",
		Family:          policy.FamilyIPv4,
		Direction:       policy.DirectionInput,
		Action:          policy.ActionDrop,
		Source:          "203.0.113.7/32",
		Protocol:        policy.ProtocolTCP,
		DestinationPort: policy.PortSpec{Single: 22},
		Origin:          policy.OriginDaemonAuto,
	})
	require.NoError(t, err)
	assert.Contains(t, rr.Text, "ip saddr 203.0.113.7/32")
	assert.Contains(t, rr.Text, "tcp dport 22")
	assert.Contains(t, rr.Text, "drop")
}

func TestRender_RejectsAcceptFromNonUserOrigin(t *testing.T) {
	_, err := Render(policy.Rule{
		ID:     "22222222-2222-2222-2222-222222222222",
		Family: policy.FamilyIPv4,
		Action: policy.ActionAccept,
		Origin: policy.OriginDaemonAuto,
	})
	assert.Error(t, err)
}

func TestBuildScript_FlushBeforeAddAndOrderedChains(t *testing.T) {
	a := New(DefaultOptions())
	rule, err := Render(policy.Rule{
		ID:        "33333333-3333-3333-3333-333333333333",
		Family:    policy.FamilyIPv4,
		Direction: policy.DirectionOutput,
		Action:    policy.ActionDrop,
		Origin:    policy.OriginDaemonAuto,
	})
	require.NoError(t, err)

	script := a.buildScript([]backend.RenderedRule{rule})
	assert.True(t, indexOf(script, "flush ruleset") < indexOf(script, "add chain"))
	assert.True(t, indexOf(script, "add chain") < indexOf(script, "add rule"))
	assert.Contains(t, script, "add rule inet afo output")
}

func TestValidate_SurfacesNftErrorsAsVerdict(t *testing.T) {
	r := &fakeRunner{failArgs: "-c"}
	a := newTestAdapter(r)
	v, err := a.Validate(context.Background(), backend.RulesetImage{})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.NotEmpty(t, v.Errors)
}

func TestApplyAtomic_UsesSingleScriptInvocation(t *testing.T) {
	r := &fakeRunner{}
	a := newTestAdapter(r)
	receipt, err := a.ApplyAtomic(context.Background(), backend.RulesetImage{})
	require.NoError(t, err)
	assert.True(t, receipt.Applied)
	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"-f", "-"}, r.calls[0])
}

func TestImportFromListing_SkipsUnparseableAndWarns(t *testing.T) {
	listing := `table inet afo {
	chain input {
		type filter hook input priority 0; policy accept;
		ip saddr 203.0.113.7 tcp dport 22 drop comment "blocked host"
		meta nftrace set 1
	}
}`
	rules, warnings, err := importFromListing(listing)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "203.0.113.7", rules[0].Source)
	assert.Equal(t, "blocked host", rules[0].Comment)
	assert.Len(t, warnings, 1)
}

func TestImportWithHandles_CapturesHandleSuffix(t *testing.T) {
	listing := `table inet afo {
	chain input {
		type filter hook input priority 0; policy accept;
		ip saddr 203.0.113.7 tcp dport 22 drop comment "blocked host" # handle 42
	}
}`
	rules, handles, warnings, err := importWithHandles(listing)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Len(t, handles, 1)
	assert.Equal(t, "42", handles[0])
	assert.Empty(t, warnings)
}

func TestImportWithHandles_MissingHandleIsEmptyNotError(t *testing.T) {
	listing := `table inet afo {
	chain input {
		type filter hook input priority 0; policy accept;
		ip saddr 203.0.113.7 tcp dport 22 drop comment "blocked host"
	}
}`
	rules, handles, _, err := importWithHandles(listing)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Len(t, handles, 1)
	assert.Empty(t, handles[0])
}

func TestListRules_PopulatesHandleFromListing(t *testing.T) {
	r := &fakeRunner{listOut: `table inet afo {
	chain input {
		type filter hook input priority 0; policy accept;
		ip saddr 203.0.113.7 tcp dport 22 drop comment "blocked host" # handle 7
	}
}`}
	a := newTestAdapter(r)
	rendered, err := a.ListRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rendered, 1)
	assert.Equal(t, "7", rendered[0].Handle)
}

func TestApplyDelta_RemoveRequiresTrackedHandle(t *testing.T) {
	r := &fakeRunner{}
	a := newTestAdapter(r)
	_, err := a.ApplyDelta(context.Background(), backend.Delta{
		Remove: []backend.RenderedRule{{SourceRule: policy.Rule{ID: "r1"}}},
	})
	require.Error(t, err)
}

func TestApplyDelta_RemoveByRealHandle(t *testing.T) {
	r := &fakeRunner{}
	a := newTestAdapter(r)
	receipt, err := a.ApplyDelta(context.Background(), backend.Delta{
		Remove: []backend.RenderedRule{{SourceRule: policy.Rule{ID: "r1", Direction: policy.DirectionInput}, Handle: "9"}},
	})
	require.NoError(t, err)
	assert.True(t, receipt.Applied)
	require.Len(t, r.calls, 1)
}
