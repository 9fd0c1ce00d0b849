// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package backend defines the capability-negotiated adapter contract (§4.2)
// every concrete firewall backend implements. Only one adapter is active per
// host at a time (§4.2); the nftables reference implementation lives in the
// nftables subpackage.
package backend

import (
	"context"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

// EvaluationOrder describes how a backend evaluates its rule list.
type EvaluationOrder string

const (
	EvaluationFirstMatch EvaluationOrder = "first-match"
	EvaluationLastMatch  EvaluationOrder = "last-match"
)

// Capabilities is the capability set a backend advertises (§4.2). The
// Service Facade checks these before accepting a policy.Rule.
type Capabilities struct {
	SupportsDeny          bool
	SupportsStateful      bool
	SupportsRateLimit     bool
	SupportsIPv6          bool
	SupportsPriority      bool
	EvaluationOrder       EvaluationOrder
	SupportsAtomicReplace bool
	SupportsDeltaOps      bool
}

// RenderedRule is the backend-specific text form of a policy.Rule, opaque to
// everything outside the adapter that produced it (§3).
type RenderedRule struct {
	BackendName string
	Text        string
	SourceRule  policy.Rule
	// Handle is the backend's kernel-assigned identifier for an already-live
	// rule, populated by ListRules (ImportRules does not set it). It is empty for a rule that
	// has only been rendered, never applied; ApplyDelta's removal path
	// requires it.
	Handle string
}

// Verdict is the result of a dry-run validation (§4.2 validate()).
type Verdict struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// BackupRef opaquely identifies a snapshot usable by Restore.
type BackupRef struct {
	ID       string
	Location string
}

// ApplyReceipt records the outcome of an apply operation.
type ApplyReceipt struct {
	Applied      bool
	RuleCount    int
	GenerationID uint64
}

// Health reports adapter reachability, used by the Service Facade and the
// Heartbeat.
type Health struct {
	Reachable bool
	Writable  bool
	// GenerationDrift marks a kernel ruleset that no longer matches what the
	// Controller last applied. The nftables adapter does not compute it and
	// always leaves it false.
	GenerationDrift bool
	Detail          string
}

// RulesetImage is a complete, ordered set of rendered rules to apply in one
// atomic transaction (§4.2 apply_atomic).
type RulesetImage struct {
	Rules []RenderedRule
}

// Delta is an additive-or-removal change set, preferred for single-rule
// autonomous responses to preserve connection-tracking state (§4.2).
type Delta struct {
	Add    []RenderedRule
	Remove []RenderedRule
}

// Adapter is the backend contract every firewall backend implements (§4.2).
// All operations may fail with a typed *errors.Error whose Kind is one of
// the AdapterError kinds in the errors package.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	Render(rule policy.Rule) (RenderedRule, error)
	Validate(ctx context.Context, rendered RulesetImage) (Verdict, error)

	Snapshot(ctx context.Context) (BackupRef, error)
	ApplyAtomic(ctx context.Context, image RulesetImage) (ApplyReceipt, error)
	ApplyDelta(ctx context.Context, delta Delta) (ApplyReceipt, error)
	Restore(ctx context.Context, ref BackupRef) (bool, error)

	ListRules(ctx context.Context) ([]RenderedRule, error)
	ImportRules(ctx context.Context) ([]policy.Rule, []string, error)

	Health(ctx context.Context) (Health, error)
}
