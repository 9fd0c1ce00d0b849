// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/facade"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

func startTestServerOnSocket(t *testing.T) (*Client, *store.Store) {
	t.Helper()
	s, st := newTestServer(t)
	socketPath := s.cfg.SocketPath

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c := NewClient(socketPath)
	require.Eventually(t, func() bool {
		_, err := c.Status(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	return c, st
}

func TestClient_ProposeApproveCommit_RoundTrips(t *testing.T) {
	c, _ := startTestServerOnSocket(t)
	ctx := context.Background()

	rule := testRule()
	p, err := c.Propose(ctx, facade.ProposeInput{Rule: &rule})
	require.NoError(t, err)
	assert.Equal(t, store.ProposalPendingApproval, p.State)

	d, err := c.Approve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeploymentProbation, d.State)

	committed, err := c.Commit(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeploymentCommitted, committed.State)
}

func TestClient_Status_ReportsActiveBackend(t *testing.T) {
	c, _ := startTestServerOnSocket(t)
	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nftables", status.ActiveBackend)
}

func TestClient_NeverBlockAddRemove_RoundTrips(t *testing.T) {
	c, st := startTestServerOnSocket(t)
	ctx := context.Background()

	require.NoError(t, c.NeverBlockAdd(ctx, store.NeverBlockEntry{Value: "10.0.0.1/32", Kind: "cidr"}))

	entries, err := st.ListNeverBlock(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, c.NeverBlockRemove(ctx, entries[0].ID))

	entries, err = st.ListNeverBlock(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClient_Reject_PropagatesNotFoundAsKindNotFound(t *testing.T) {
	c, _ := startTestServerOnSocket(t)
	err := c.Reject(context.Background(), "does-not-exist", "test")
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}
