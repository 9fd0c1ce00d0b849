// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store is the embedded, single-file relational state store (§4.8):
// proposals, deployments, events, audit, daemon_state, never_block. The
// Service Facade is the sole writer; dashboards may query it read-only
// directly.
package store

import (
	"time"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/conflict"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

// ProposalState is a Proposal's lifecycle state (§3).
type ProposalState string

const (
	ProposalDraft           ProposalState = "draft"
	ProposalPendingApproval ProposalState = "pending-approval"
	ProposalApproved        ProposalState = "approved"
	ProposalRejected        ProposalState = "rejected"
	ProposalSuperseded      ProposalState = "superseded"
)

// DeploymentState is a Deployment's lifecycle state (§4.4).
type DeploymentState string

const (
	DeploymentApplying   DeploymentState = "applying"
	DeploymentProbation  DeploymentState = "probation"
	DeploymentCommitted  DeploymentState = "committed"
	DeploymentRolledBack DeploymentState = "rolled-back"
	DeploymentFailed     DeploymentState = "failed"
)

// Proposal is a PolicyRule plus its rendering, validation, and conflict
// analysis (§3).
type Proposal struct {
	ID             string
	Rule           policy.Rule
	Rendered       backend.RenderedRule
	Verdict        backend.Verdict
	ConflictReport conflict.Report
	Explanation    string
	State          ProposalState
	CreatedAt      time.Time
}

// Deployment is the record of applying one approved Proposal (§3, §4.4).
type Deployment struct {
	ID                string
	ProposalID        string
	BackendName       string
	BackupRef         backend.BackupRef
	AppliedAt         time.Time
	HeartbeatDeadline time.Time
	State             DeploymentState
	LastHeartbeatAt   time.Time
	FailureReason     string
}

// EventSeverity classifies a SecurityEvent (§3).
type EventSeverity string

const (
	SeverityLow      EventSeverity = "low"
	SeverityMedium   EventSeverity = "medium"
	SeverityHigh     EventSeverity = "high"
	SeverityCritical EventSeverity = "critical"
)

// SecurityEvent is an immutable observation from a Log Source (§3).
type SecurityEvent struct {
	ID         string
	SourceName string
	Kind       string
	Severity   EventSeverity
	SourceIP   string
	Target     string
	ObservedAt time.Time
	Raw        []byte
	CausalTag  string
}

// ThreatAssessment is a derived Correlator output (§3).
type ThreatAssessment struct {
	ID                string
	EventIDs          []string
	Kind              string
	Subject           string
	Score             float64
	Recommendation    string
	TemplatedRule     policy.Rule
	ExpiresSuggestion *time.Time
	CreatedAt         time.Time
}

// NeverBlockEntry is an administrator-maintained target the Autonomy
// Controller must never act against (§3).
type NeverBlockEntry struct {
	ID          string
	Value       string // IP, CIDR, or hostname
	Kind        string // "cidr", "hostname", "interface"
	Resolved    []string
	AddedAt     time.Time
	Description string
}
