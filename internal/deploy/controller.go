// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package deploy implements the Deployment Controller state machine (§4.4):
// approved -> applying -> probation -> committed | rolled-back | failed.
package deploy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/audit"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/logging"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// Config configures Controller timing (§6 deploy.heartbeat.*, deploy.lock.*).
type Config struct {
	HeartbeatTimeout  time.Duration
	HeartbeatInterval time.Duration
	LockTimeout       time.Duration
}

// DefaultConfig returns the Controller's default timing.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:  2 * time.Minute,
		HeartbeatInterval: 5 * time.Second,
		LockTimeout:       30 * time.Second,
	}
}

// pendingApproval is one FIFO-queued approval waiting for its backend's
// exclusive lock (§4.4 concurrency).
type pendingApproval struct {
	proposal store.Proposal
	probe    ReachabilityProbe
	result   chan applyResult
	canceled bool
}

type applyResult struct {
	deployment store.Deployment
	err        error
}

// backendLock serializes applying|probation deployments for one backend
// name, with a FIFO queue of further approvals (§4.4 concurrency).
type backendLock struct {
	mu      sync.Mutex
	busy    bool
	queue   []*pendingApproval
	current *heartbeat
}

// CausalTagFunc publishes an active deployment's expected side effects to
// the Event Bus, so a Log Source can stamp the firewall-log entries the
// deployment itself is expected to generate and the Correlator can recognize
// and skip them (§4.5, §4.7 feedback-loop suppression). subject is the
// address the applied rule targets; validUntil is normally the deployment's
// heartbeat deadline, since that is the window in which the rule is
// provisionally live and could still be generating its own log traffic.
type CausalTagFunc func(subject string, kindMask []string, validUntil time.Time)

// Controller is the Deployment Controller (§4.4).
type Controller struct {
	cfg          Config
	store        *store.Store
	locks        sync.Map // backend name -> *backendLock
	adapter      func(name string) (backend.Adapter, error)
	tagPublisher CausalTagFunc
}

// New constructs a Controller. adapterFor resolves a backend name to its
// active Adapter (typically backend.Registry.Active wrapped by name check).
func New(cfg Config, st *store.Store, adapterFor func(name string) (backend.Adapter, error)) *Controller {
	return &Controller{cfg: cfg, store: st, adapter: adapterFor}
}

// SetCausalTagPublisher wires the Controller to the Event Bus's causal-tag
// mechanism. Left unset, applied deployments don't self-suppress their own
// log side effects.
func (c *Controller) SetCausalTagPublisher(fn CausalTagFunc) {
	c.tagPublisher = fn
}

func (c *Controller) lockFor(backendName string) *backendLock {
	v, _ := c.locks.LoadOrStore(backendName, &backendLock{})
	return v.(*backendLock)
}

// Apply submits an approved proposal for deployment against backendName. If
// that backend already has a deployment applying or in probation, the
// approval queues FIFO and Apply blocks until it's this approval's turn or
// ctx is canceled (§4.4 concurrency).
func (c *Controller) Apply(ctx context.Context, proposal store.Proposal, probe ReachabilityProbe) (store.Deployment, error) {
	adapter, err := c.adapter(proposal.Rendered.BackendName)
	if err != nil {
		return store.Deployment{}, err
	}

	lock := c.lockFor(proposal.Rendered.BackendName)
	lock.mu.Lock()
	if lock.busy {
		pa := &pendingApproval{proposal: proposal, probe: probe, result: make(chan applyResult, 1)}
		lock.queue = append(lock.queue, pa)
		lock.mu.Unlock()

		select {
		case <-ctx.Done():
			lock.mu.Lock()
			pa.canceled = true
			lock.mu.Unlock()
			c.recordAudit(ctx, audit.Record{
				Timestamp: time.Now(), EventType: audit.EventApprovalQueueCanceled,
				Severity: audit.SeverityInfo, ProposalID: proposal.ID,
			})
			return store.Deployment{}, ctx.Err()
		case res := <-pa.result:
			return res.deployment, res.err
		}
	}
	lock.busy = true
	lock.mu.Unlock()

	d, err := c.applyLocked(ctx, proposal, probe, adapter, lock)
	c.advanceQueue(lock)
	return d, err
}

// advanceQueue runs the next queued approval, if any, once the current
// backend deployment has left applying|probation.
func (c *Controller) advanceQueue(lock *backendLock) {
	lock.mu.Lock()
	for len(lock.queue) > 0 {
		next := lock.queue[0]
		lock.queue = lock.queue[1:]
		if next.canceled {
			continue
		}
		lock.mu.Unlock()

		adapter, err := c.adapter(next.proposal.Rendered.BackendName)
		if err != nil {
			next.result <- applyResult{err: err}
			lock.mu.Lock()
			continue
		}
		go func(pa *pendingApproval) {
			d, err := c.applyLocked(context.Background(), pa.proposal, pa.probe, adapter, lock)
			pa.result <- applyResult{deployment: d, err: err}
			c.advanceQueue(lock)
		}(next)
		return
	}
	lock.busy = false
	lock.mu.Unlock()
}

// applyLocked runs the apply path (§4.4) while holding the backend's
// exclusive slot. lock.busy is already true on entry.
func (c *Controller) applyLocked(ctx context.Context, proposal store.Proposal, probe ReachabilityProbe, adapter backend.Adapter, lock *backendLock) (store.Deployment, error) {
	deployment := store.Deployment{
		ID:          uuid.NewString(),
		ProposalID:  proposal.ID,
		BackendName: proposal.Rendered.BackendName,
		AppliedAt:   time.Now(),
		State:       store.DeploymentApplying,
	}

	neverBlockEntries, err := c.store.ListNeverBlock(ctx)
	if err != nil {
		return c.fail(ctx, deployment, err)
	}
	if hit, value := neverBlockMatch(proposal.Rule, neverBlockEntries); hit {
		err := errors.Errorf(errors.KindPolicy, "rule targets a never_block entry %q", value)
		return c.fail(ctx, deployment, err)
	}

	backupRef, err := adapter.Snapshot(ctx)
	if err != nil {
		return c.fail(ctx, deployment, errors.Wrap(err, errors.KindSystem, "snapshot failed"))
	}
	deployment.BackupRef = backupRef
	if _, err := c.store.SaveDeployment(ctx, deployment, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventDeploymentApplied, Severity: audit.SeverityInfo,
		DeploymentID: deployment.ID, ProposalID: proposal.ID, Backend: adapter.Name(),
	}); err != nil {
		return c.fail(ctx, deployment, err)
	}

	// A Proposal is always a single new rule, which is inherently additive;
	// prefer the delta path when the backend supports it, since it preserves
	// connection-tracking state for unrelated flows (§4.2). A transient
	// adapter error is retried, up to three attempts in all, with a pause of
	// 200ms and then 400ms between them.
	var receipt backend.ApplyReceipt
	for attempt := 1; ; attempt++ {
		if adapter.Capabilities().SupportsDeltaOps {
			receipt, err = adapter.ApplyDelta(ctx, backend.Delta{Add: []backend.RenderedRule{proposal.Rendered}})
		} else {
			receipt, err = adapter.ApplyAtomic(ctx, backend.RulesetImage{Rules: []backend.RenderedRule{proposal.Rendered}})
		}
		if !errors.IsRetryable(err) || attempt == 3 {
			break
		}
		time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
	}
	if err != nil || !receipt.Applied {
		if err == nil {
			err = errors.New(errors.KindSyntax, "adapter reported apply not applied")
		}
		return c.fail(ctx, deployment, err)
	}

	if c.tagPublisher != nil {
		kindMask := []string{"port-scan"} // netfilter-log deny lines parse to this kind
		if proposal.Rule.Source != "" {
			c.tagPublisher(proposal.Rule.Source, kindMask, time.Now().Add(c.cfg.HeartbeatTimeout))
		}
		if proposal.Rule.Destination != "" {
			c.tagPublisher(proposal.Rule.Destination, kindMask, time.Now().Add(c.cfg.HeartbeatTimeout))
		}
	}

	deployment.State = store.DeploymentProbation
	deployment.HeartbeatDeadline = time.Now().Add(c.cfg.HeartbeatTimeout)
	if _, err := c.store.SaveDeployment(ctx, deployment, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventDeploymentProbation, Severity: audit.SeverityInfo,
		DeploymentID: deployment.ID, ProposalID: proposal.ID,
	}); err != nil {
		return deployment, err
	}

	done := make(chan store.Deployment, 1)
	hb := startHeartbeat(context.Background(), deployment.ID, probe, c.cfg.HeartbeatInterval, c.cfg.HeartbeatTimeout,
		func() { done <- c.commit(context.Background(), deployment) },
		func() { done <- c.rollback(context.Background(), deployment, adapter, "heartbeat-miss") },
	)
	lock.mu.Lock()
	lock.current = hb
	lock.mu.Unlock()

	final := <-done
	return final, nil
}

func (c *Controller) fail(ctx context.Context, d store.Deployment, cause error) (store.Deployment, error) {
	d.State = store.DeploymentFailed
	d.FailureReason = cause.Error()
	c.store.SaveDeployment(ctx, d, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventDeploymentFailed, Severity: audit.SeverityHigh,
		DeploymentID: d.ID, ProposalID: d.ProposalID, ErrorKind: errors.GetKind(cause).String(), Message: cause.Error(),
	})
	logging.Error("deployment apply failed", "deployment_id", d.ID, "error", cause)
	return d, cause
}

// Commit transitions a deployment from probation to committed, either
// because the consumer called it explicitly or the Heartbeat's deadline
// elapsed with all probes green (§4.4).
func (c *Controller) commit(ctx context.Context, d store.Deployment) store.Deployment {
	d.State = store.DeploymentCommitted
	d.LastHeartbeatAt = time.Now()
	c.store.SaveDeployment(ctx, d, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventDeploymentCommitted, Severity: audit.SeverityInfo,
		DeploymentID: d.ID, ProposalID: d.ProposalID,
	})
	return d
}

// Commit transitions an in-probation deployment to committed immediately,
// ending its heartbeat early rather than waiting out the rest of the
// probation window (§4.9 facade commit()). The deployment's own in-flight
// Apply call observes the same transition and returns it to its original
// caller; Commit here only forces the timing, not a second state write.
// Committing a deployment that has already left probation is a no-op.
func (c *Controller) Commit(ctx context.Context, d store.Deployment) (store.Deployment, error) {
	if d.State != store.DeploymentProbation {
		return d, nil
	}
	lock := c.lockFor(d.BackendName)
	lock.mu.Lock()
	hb := lock.current
	lock.mu.Unlock()
	if hb != nil && hb.deploymentID == d.ID {
		hb.forceCommit()
	}
	return c.store.GetDeployment(ctx, d.ID)
}

// Rollback restores the deployment's pre-apply snapshot. It is never a
// flush-then-load sequence; Adapter.Restore is a single atomic transaction
// (§4.4). If restore itself fails, the deployment is left `failed` with a
// catastrophic audit record, requiring human intervention.
func (c *Controller) Rollback(ctx context.Context, d store.Deployment) (store.Deployment, error) {
	adapter, err := c.adapter(d.BackendName)
	if err != nil {
		return d, err
	}
	return c.rollback(ctx, d, adapter, "operator-requested"), nil
}

func (c *Controller) rollback(ctx context.Context, d store.Deployment, adapter backend.Adapter, reason string) store.Deployment {
	triggerEvent := audit.EventDeploymentCancelled
	if reason == "heartbeat-miss" {
		triggerEvent = audit.EventHeartbeatMiss
	}
	c.recordAudit(ctx, audit.Record{
		Timestamp: time.Now(), EventType: triggerEvent, Severity: audit.SeverityHigh,
		DeploymentID: d.ID, ProposalID: d.ProposalID, Message: reason,
	})

	ok, err := adapter.Restore(ctx, d.BackupRef)
	if err != nil || !ok {
		d.State = store.DeploymentFailed
		d.FailureReason = "rollback failed: " + errString(err)
		c.store.SaveDeployment(ctx, d, audit.Record{
			Timestamp: time.Now(), EventType: audit.EventCatastrophic, Severity: audit.SeverityCritical,
			DeploymentID: d.ID, ProposalID: d.ProposalID, Message: d.FailureReason,
		})
		return d
	}

	d.State = store.DeploymentRolledBack
	c.store.SaveDeployment(ctx, d, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventRollbackOK, Severity: audit.SeverityHigh,
		DeploymentID: d.ID, ProposalID: d.ProposalID,
	})
	return d
}

// Cancel cancels an in-probation deployment, which forces immediate
// rollback (§4.4 concurrency).
func (c *Controller) Cancel(ctx context.Context, d store.Deployment) (store.Deployment, error) {
	adapter, err := c.adapter(d.BackendName)
	if err != nil {
		return d, err
	}
	return c.rollback(ctx, d, adapter, "canceled"), nil
}

// Retract removes an already-applied rule whose expiry has passed (§4.4
// enforced expiry). It calls the backend's delta-removal path directly
// rather than going through Apply: retracting an expired rule enforces a
// decision already made, it isn't a new proposal going through approval.
func (c *Controller) Retract(ctx context.Context, backendName string, rendered backend.RenderedRule) error {
	adapter, err := c.adapter(backendName)
	if err != nil {
		return err
	}
	lock := c.lockFor(backendName)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	if _, err := adapter.ApplyDelta(ctx, backend.Delta{Remove: []backend.RenderedRule{rendered}}); err != nil {
		c.recordAudit(ctx, audit.Record{
			Timestamp: time.Now(), EventType: audit.EventDeploymentFailed, Severity: audit.SeverityHigh,
			Backend: backendName, Subject: rendered.SourceRule.Source, Message: "expiry retraction failed: " + err.Error(),
		})
		return err
	}
	c.recordAudit(ctx, audit.Record{
		Timestamp: time.Now(), EventType: audit.EventRuleExpired, Severity: audit.SeverityInfo,
		Backend: backendName, Subject: rendered.SourceRule.Source, Message: rendered.SourceRule.Comment,
	})
	return nil
}

func (c *Controller) recordAudit(ctx context.Context, rec audit.Record) {
	c.store.AppendAudit(ctx, rec)
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
