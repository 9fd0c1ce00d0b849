// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/autonomy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/facade"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/facade/rpc"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/install"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

func rpcClient() *rpc.Client {
	return rpc.NewClient(install.GetSocketPath())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStatus(ctx context.Context) error {
	status, err := rpcClient().Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func runPropose(ctx context.Context, rulePath string) error {
	data, err := os.ReadFile(rulePath)
	if err != nil {
		return fmt.Errorf("failed to read rule file: %w", err)
	}
	var rule policy.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return fmt.Errorf("failed to parse rule file: %w", err)
	}

	p, err := rpcClient().Propose(ctx, facade.ProposeInput{Rule: &rule})
	if err != nil {
		return err
	}
	return printJSON(p)
}

func runApprove(ctx context.Context, proposalID string) error {
	d, err := rpcClient().Approve(ctx, proposalID)
	if err != nil {
		return err
	}
	return printJSON(d)
}

func runReject(ctx context.Context, proposalID, reason string) error {
	if err := rpcClient().Reject(ctx, proposalID, reason); err != nil {
		return err
	}
	fmt.Println("rejected.")
	return nil
}

func runCommit(ctx context.Context, deploymentID string) error {
	d, err := rpcClient().Commit(ctx, deploymentID)
	if err != nil {
		return err
	}
	return printJSON(d)
}

func runRollback(ctx context.Context, deploymentID string) error {
	d, err := rpcClient().Rollback(ctx, deploymentID)
	if err != nil {
		return err
	}
	return printJSON(d)
}

func runSetAutonomyLevel(ctx context.Context, level string) error {
	if err := rpcClient().SetAutonomyLevel(ctx, autonomy.Level(level)); err != nil {
		return err
	}
	fmt.Printf("autonomy level set to %s\n", level)
	return nil
}
