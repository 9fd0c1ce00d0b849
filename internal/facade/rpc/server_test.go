// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/autonomy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/deploy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/facade"
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

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "facade_rpc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	adapter := &stubAdapter{name: "nftables", caps: backend.Capabilities{SupportsDeny: true}}
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
	f := facade.New(st, registry, deployCtl, autonomyCtl, nil, deploy.ReachabilityProbe{Outbound: stubProbe{}})

	return NewServer(DefaultConfig(filepath.Join(t.TempDir(), "facade.sock")), f), st
}

func testRule() policy.Rule {
	return policy.Rule{
		Direction: policy.DirectionInput, Action: policy.ActionDrop,
		Source: "198.51.100.77/32", Protocol: policy.ProtocolAny,
	}
}

func TestHandlePropose_CreatesPendingApprovalProposal(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	rule := testRule()
	body, err := json.Marshal(proposeRequest{Rule: &rule})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/propose", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var p store.Proposal
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, store.ProposalPendingApproval, p.State)
}

func TestHandlePropose_RejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/propose", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleApproveThenCommit_RoundTrips(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	rule := testRule()
	body, _ := json.Marshal(proposeRequest{Rule: &rule})
	resp, err := http.Post(srv.URL+"/propose", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var p store.Proposal
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	resp.Body.Close()

	resp, err = http.Post(srv.URL+"/approve/"+p.ID, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var d store.Deployment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
	assert.Equal(t, store.DeploymentProbation, d.State)

	resp, err = http.Post(srv.URL+"/commit/"+d.ID, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var committed store.Deployment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&committed))
	assert.Equal(t, store.DeploymentCommitted, committed.State)
}

func TestHandleStatus_ReportsActiveBackend(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status facade.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "nftables", status.ActiveBackend)
}

func TestHandleNeverBlockAddRemove_RoundTrips(t *testing.T) {
	s, st := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	entry := store.NeverBlockEntry{Value: "10.0.0.1/32", Kind: "cidr"}
	body, _ := json.Marshal(entry)
	resp, err := http.Post(srv.URL+"/never_block", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	entries, err := st.ListNeverBlock(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/never_block/"+entries[0].ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleSubscribeEvents_StreamsOverWebsocket(t *testing.T) {
	s, st := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, st.RecordEvent(context.Background(), store.SecurityEvent{
		ID: "e1", SourceName: "test", Kind: "port-scan", Severity: store.SeverityLow,
		SourceIP: "198.51.100.5", ObservedAt: time.Now(),
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e store.SecurityEvent
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "e1", e.ID)
}
