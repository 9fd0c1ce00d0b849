// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/autonomy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/facade"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// Client is a thin HTTP-over-unix-socket client for the facade RPC surface,
// used by the CLI's interactive subcommands (propose, approve, status, …)
// so they never need to link the daemon's full dependency graph.
type Client struct {
	http       *http.Client
	socketPath string
}

// NewClient dials socketPath lazily: the *http.Client only opens a
// connection per request, mirroring net.Dial("unix", ...) used elsewhere in
// this codebase for local control sockets.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, fmt.Sprintf("failed to reach orchestrator at %s (is it running?)", c.socketPath))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var er errorResponse
		json.NewDecoder(resp.Body).Decode(&er)
		if er.Message == "" {
			er.Message = resp.Status
		}
		return errors.Errorf(errors.ParseKind(er.Kind), "%s", er.Message)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) Propose(ctx context.Context, in facade.ProposeInput) (store.Proposal, error) {
	var p store.Proposal
	err := c.do(ctx, http.MethodPost, "/propose", proposeRequest{Text: in.Text, Rule: in.Rule}, &p)
	return p, err
}

func (c *Client) Approve(ctx context.Context, proposalID string) (store.Deployment, error) {
	var d store.Deployment
	err := c.do(ctx, http.MethodPost, "/approve/"+proposalID, nil, &d)
	return d, err
}

func (c *Client) Reject(ctx context.Context, proposalID, reason string) error {
	return c.do(ctx, http.MethodPost, "/reject/"+proposalID, rejectRequest{Reason: reason}, nil)
}

func (c *Client) Commit(ctx context.Context, deploymentID string) (store.Deployment, error) {
	var d store.Deployment
	err := c.do(ctx, http.MethodPost, "/commit/"+deploymentID, nil, &d)
	return d, err
}

func (c *Client) Rollback(ctx context.Context, deploymentID string) (store.Deployment, error) {
	var d store.Deployment
	err := c.do(ctx, http.MethodPost, "/rollback/"+deploymentID, nil, &d)
	return d, err
}

func (c *Client) ListRules(ctx context.Context) ([]policy.Rule, error) {
	var rules []policy.Rule
	err := c.do(ctx, http.MethodGet, "/rules", nil, &rules)
	return rules, err
}

func (c *Client) Status(ctx context.Context) (facade.Status, error) {
	var s facade.Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &s)
	return s, err
}

func (c *Client) SetAutonomyLevel(ctx context.Context, level autonomy.Level) error {
	return c.do(ctx, http.MethodPut, "/autonomy/level", autonomyLevelRequest{Level: level}, nil)
}

func (c *Client) NeverBlockAdd(ctx context.Context, entry store.NeverBlockEntry) error {
	return c.do(ctx, http.MethodPost, "/never_block", entry, nil)
}

func (c *Client) NeverBlockRemove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/never_block/"+id, nil, nil)
}
