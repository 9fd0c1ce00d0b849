// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package facade implements the Service Facade (§4.9): the single API
// surface and the sole writer against the store and the active backend
// adapter. No consumer bypasses it.
package facade

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/audit"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/autonomy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/conflict"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/deploy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/logging"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// Translator is the external natural-language-to-policy inference endpoint
// (§1 out-of-scope collaborator, specified here only by its contract). The
// Facade calls it to produce a draft when Propose is given free text; it
// never runs inference itself.
type Translator interface {
	Translate(ctx context.Context, text string) (draft policy.Rule, explanation string, err error)
}

// ProposeInput is either free-form intent text (routed through the
// Translator) or an already-built PolicyRule (authored directly by a
// caller that bypasses translation, e.g. an import or a scripted policy).
type ProposeInput struct {
	Text string
	Rule *policy.Rule
}

// Status is the daemon_status() snapshot (§4.9).
type Status struct {
	AutonomyLevel      autonomy.Level
	ActiveBackend      string
	BackendHealth      backend.Health
	PendingApprovals   int
	ActiveDeployment   *store.Deployment
	LastAuditSequence  int64
}

// Facade is the Service Facade (§4.9).
type Facade struct {
	store      *store.Store
	registry   *backend.Registry
	deployCtl  *deploy.Controller
	autonomy   *autonomy.Controller
	translator Translator
	probe      deploy.ReachabilityProbe

	// approveWaitFor bounds how long Approve polls the store for the
	// deployment an asynchronous Apply call produces before returning
	// whatever it has observed so far (§5 "must not block on these
	// directly" — Approve never waits out a full heartbeat window).
	approveWaitFor time.Duration
}

// New constructs a Facade. probe is passed through to every Apply call the
// Facade triggers via Approve.
func New(st *store.Store, registry *backend.Registry, deployCtl *deploy.Controller, autonomyCtl *autonomy.Controller, translator Translator, probe deploy.ReachabilityProbe) *Facade {
	return &Facade{
		store: st, registry: registry, deployCtl: deployCtl, autonomy: autonomyCtl,
		translator: translator, probe: probe, approveWaitFor: 2 * time.Second,
	}
}

func (f *Facade) activeAdapter() (backend.Adapter, error) {
	a := f.registry.Active()
	if a == nil {
		return nil, errors.New(errors.KindUnavailable, "no backend adapter is active")
	}
	return a, nil
}

// Propose composes a Proposal the way §2's control-flow narrative
// describes: draft (direct or via Translator) -> PolicyRule -> render ->
// validate -> conflict analysis. The result is always draft or
// pending-approval, never approved; Approve is a separate, explicit step.
func (f *Facade) Propose(ctx context.Context, in ProposeInput) (store.Proposal, error) {
	adapter, err := f.activeAdapter()
	if err != nil {
		return store.Proposal{}, err
	}

	var rule policy.Rule
	var explanation string
	switch {
	case in.Rule != nil:
		rule = *in.Rule
		rule.Origin = policy.OriginUser
	case in.Text != "":
		if f.translator == nil {
			return store.Proposal{}, errors.New(errors.KindUnavailable, "no translator configured for free-text intent")
		}
		draft, exp, err := f.translator.Translate(ctx, in.Text)
		if err != nil {
			return store.Proposal{}, errors.Wrap(err, errors.KindTransient, "translator call failed")
		}
		rule = draft
		rule.Origin = policy.OriginUser
		explanation = exp
	default:
		return store.Proposal{}, errors.New(errors.KindValidation, "propose requires either text or a rule")
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	if err := checkCapabilities(adapter.Capabilities(), rule); err != nil {
		return store.Proposal{}, err
	}

	rendered, err := adapter.Render(rule)
	if err != nil {
		return store.Proposal{}, errors.Wrap(err, errors.KindSyntax, "render failed")
	}
	verdict, err := adapter.Validate(ctx, backend.RulesetImage{Rules: []backend.RenderedRule{rendered}})
	if err != nil {
		return store.Proposal{}, errors.Wrap(err, errors.KindSystem, "validate failed")
	}

	existingRendered, err := adapter.ListRules(ctx)
	if err != nil {
		return store.Proposal{}, errors.Wrap(err, errors.KindSystem, "list_rules failed")
	}
	existing := make([]policy.Rule, 0, len(existingRendered))
	for _, r := range existingRendered {
		existing = append(existing, r.SourceRule)
	}
	report := conflict.Analyze(rule, existing, adapter.Capabilities().EvaluationOrder)

	p := store.Proposal{
		ID: uuid.NewString(), Rule: rule, Rendered: rendered, Verdict: verdict,
		ConflictReport: report, Explanation: explanation, State: store.ProposalPendingApproval,
		CreatedAt: time.Now(),
	}
	if _, err := f.store.SaveProposal(ctx, p, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventProposalCreated, Severity: audit.SeverityInfo,
		ProposalID: p.ID, Message: "proposal created via facade",
	}); err != nil {
		return store.Proposal{}, err
	}
	return p, nil
}

// checkCapabilities rejects a rule the active backend cannot express
// (§4.2: "the facade checks capabilities before accepting a PolicyRule").
func checkCapabilities(caps backend.Capabilities, rule policy.Rule) error {
	if rule.Action != policy.ActionAccept && !caps.SupportsDeny {
		return errors.New(errors.KindValidation, "backend does not support deny/drop/reject actions")
	}
	if rule.Stateful && !caps.SupportsStateful {
		return errors.New(errors.KindValidation, "backend does not support stateful rules")
	}
	if rule.RateLimit != nil && !caps.SupportsRateLimit {
		return errors.New(errors.KindValidation, "backend does not support rate-limited rules")
	}
	if rule.Family != policy.FamilyIPv4 && !caps.SupportsIPv6 {
		return errors.New(errors.KindValidation, "backend does not support ipv6")
	}
	if rule.Priority != 0 && !caps.SupportsPriority {
		return errors.New(errors.KindValidation, "backend does not support explicit priority")
	}
	return nil
}

// Approve transitions proposalID to approved and submits it to the
// Deployment Controller. Apply runs in the background; Approve returns as
// soon as the resulting deployment is observable in the store (typically
// once it enters probation) rather than blocking for the full heartbeat
// window (§5 suspension-point rule).
func (f *Facade) Approve(ctx context.Context, proposalID string) (store.Deployment, error) {
	p, err := f.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Deployment{}, err
	}
	if p.State != store.ProposalPendingApproval && p.State != store.ProposalDraft {
		return store.Deployment{}, errors.Errorf(errors.KindValidation, "proposal %q is not pending approval", proposalID)
	}
	p.State = store.ProposalApproved
	if _, err := f.store.SaveProposal(ctx, p, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventProposalApproved, Severity: audit.SeverityInfo,
		ProposalID: p.ID, OperatorFlag: true, Message: "approved via facade",
	}); err != nil {
		return store.Deployment{}, err
	}

	go func() {
		if _, err := f.deployCtl.Apply(context.Background(), p, f.probe); err != nil {
			logging.Error("background apply failed", "proposal_id", p.ID, "error", err)
		}
	}()

	deadline := time.Now().Add(f.approveWaitFor)
	for {
		d, err := f.store.GetDeploymentByProposal(ctx, proposalID)
		if err != nil {
			return store.Deployment{}, err
		}
		if d != nil {
			return *d, nil
		}
		if time.Now().After(deadline) {
			return store.Deployment{}, nil
		}
		select {
		case <-ctx.Done():
			return store.Deployment{}, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Reject marks a proposal rejected; it never reaches the Deployment
// Controller.
func (f *Facade) Reject(ctx context.Context, proposalID, reason string) error {
	p, err := f.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	p.State = store.ProposalRejected
	_, err = f.store.SaveProposal(ctx, p, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventProposalRejected, Severity: audit.SeverityInfo,
		ProposalID: p.ID, OperatorFlag: true, Message: reason,
	})
	return err
}

// Commit ends a deployment's probation window early (§4.9 commit()).
func (f *Facade) Commit(ctx context.Context, deploymentID string) (store.Deployment, error) {
	d, err := f.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return store.Deployment{}, err
	}
	return f.deployCtl.Commit(ctx, d)
}

// Rollback restores a deployment's pre-apply snapshot (§4.9 rollback()).
func (f *Facade) Rollback(ctx context.Context, deploymentID string) (store.Deployment, error) {
	d, err := f.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return store.Deployment{}, err
	}
	return f.deployCtl.Rollback(ctx, d)
}

// ListRules returns the active backend's current rules, lifted into the
// neutral model.
func (f *Facade) ListRules(ctx context.Context) ([]policy.Rule, error) {
	adapter, err := f.activeAdapter()
	if err != nil {
		return nil, err
	}
	rendered, err := adapter.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	rules := make([]policy.Rule, len(rendered))
	for i, r := range rendered {
		rules[i] = r.SourceRule
	}
	return rules, nil
}

// ImportRules best-effort lifts the active backend's live ruleset into the
// neutral model, surfacing any rule features that could not be expressed.
func (f *Facade) ImportRules(ctx context.Context) ([]policy.Rule, []string, error) {
	adapter, err := f.activeAdapter()
	if err != nil {
		return nil, nil, err
	}
	return adapter.ImportRules(ctx)
}

// SubscribeEvents streams SecurityEvents observed at or after since (nil
// means "now"), via repeated polling of the store's append-only event log
// (§4.9 subscribe_events). unsubscribe stops the goroutine and closes the
// channel; callers must call it to avoid a goroutine leak.
func (f *Facade) SubscribeEvents(ctx context.Context, since *time.Time) (<-chan store.SecurityEvent, func(), error) {
	from := time.Now()
	if since != nil {
		from = *since
	}
	out := make(chan store.SecurityEvent, 64)
	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		cursor := from
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				events, err := f.store.EventsSince(subCtx, cursor, 256)
				if err != nil {
					logging.Warn("subscribe_events poll failed", "error", err)
					continue
				}
				for _, e := range events {
					select {
					case out <- e:
					case <-subCtx.Done():
						return
					}
					if e.ObservedAt.After(cursor) {
						cursor = e.ObservedAt
					}
				}
			}
		}
	}()
	return out, cancel, nil
}

// DaemonStatus reports a point-in-time snapshot of daemon health (§4.9).
func (f *Facade) DaemonStatus(ctx context.Context) (Status, error) {
	st := Status{}
	if f.autonomy != nil {
		st.AutonomyLevel = f.autonomy.Level()
	}
	if adapter := f.registry.Active(); adapter != nil {
		st.ActiveBackend = adapter.Name()
		if h, err := adapter.Health(ctx); err == nil {
			st.BackendHealth = h
		}
		if d, err := f.store.ActiveDeploymentForBackend(ctx, adapter.Name()); err == nil {
			st.ActiveDeployment = d
		}
	}
	if seq, err := f.store.LatestAuditSequence(ctx); err == nil {
		st.LastAuditSequence = seq
	}
	return st, nil
}

// AutonomySetLevel changes the autonomy posture (§4.9).
func (f *Facade) AutonomySetLevel(ctx context.Context, level autonomy.Level) error {
	return f.autonomy.SetLevel(ctx, level)
}

// NeverBlockAdd registers an address/CIDR/hostname/interface that the
// Autonomy Controller and Deployment Controller must never take down
// (§4.9).
func (f *Facade) NeverBlockAdd(ctx context.Context, e store.NeverBlockEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := f.store.AddNeverBlock(ctx, e); err != nil {
		return err
	}
	f.store.AppendAudit(ctx, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventNeverBlockAdded, Severity: audit.SeverityInfo,
		OperatorFlag: true, Message: e.Value,
	})
	return nil
}

// NeverBlockRemove removes a never-block entry by id (§4.9).
func (f *Facade) NeverBlockRemove(ctx context.Context, id string) error {
	if err := f.store.RemoveNeverBlock(ctx, id); err != nil {
		return err
	}
	f.store.AppendAudit(ctx, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventNeverBlockRemoved, Severity: audit.SeverityInfo,
		OperatorFlag: true, Message: id,
	})
	return nil
}
