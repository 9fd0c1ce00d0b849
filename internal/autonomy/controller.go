// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package autonomy implements the Autonomy Controller (§4.7): it converts
// ThreatAssessments into Proposals using deterministic per-kind templates,
// runs them through an ordered chain of hard safety gates, and submits
// whatever survives to the Deployment Controller.
package autonomy

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/audit"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/conflict"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/deploy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/logging"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// Level is the autonomy posture, adjustable at runtime via the Service
// Facade's autonomy_set_level call (§4.9).
type Level string

const (
	LevelMonitor    Level = "monitor"
	LevelCautious   Level = "cautious"
	LevelAggressive Level = "aggressive"
)

const daemonStateLevelKey = "autonomy:level"

// Config tunes template defaults, the hard gates, and the circuit breaker
// and rate limiter (§4.7).
type Config struct {
	MaxCIDRPrefix        int // narrowest-allowed-to-widest; default 24 (a /24 is the broadest permitted)
	ExpiresByKind        map[string]time.Duration
	DefaultExpires       time.Duration
	CircuitBreakerMax    int
	CircuitBreakerWindow time.Duration
	SubjectCooldown      time.Duration
	RateLimitPerMinute   int
	ManagementSubjects   []string // discovered management address(es) plus configured allow-list
	CautiousMinScore     float64 // normalized ThreatAssessment.Score (0..1)
	CautiousMinSources   int
	AggressiveMinScore   float64 // normalized ThreatAssessment.Score (0..1)
	Probe                deploy.ReachabilityProbe
}

func DefaultConfig() Config {
	return Config{
		MaxCIDRPrefix: 24,
		ExpiresByKind: map[string]time.Duration{
			"port-scan":      time.Hour,
			"brute-force":    24 * time.Hour,
			"feed-hit":       24 * time.Hour,
			"rate-spike":     30 * time.Minute,
			"flood-aggregate": time.Hour,
		},
		DefaultExpires:       time.Hour,
		CircuitBreakerMax:    5,
		CircuitBreakerWindow: 10 * time.Minute,
		SubjectCooldown:      15 * time.Minute,
		RateLimitPerMinute:   10,
		CautiousMinScore:     0.8,
		CautiousMinSources:   2,
		AggressiveMinScore:   0.6,
	}
}

// Controller is the Autonomy Controller (§4.7).
type Controller struct {
	cfg       Config
	store     *store.Store
	deployCtl *deploy.Controller
	activeFor func() (backend.Adapter, error)

	mu              sync.Mutex
	level           Level
	breakerTripped  bool
	deployTimes     []time.Time
	rateTimes       []time.Time
	subjectCooldown map[string]time.Time
}

// New constructs a Controller. activeFor resolves the currently active
// backend adapter, used to render candidate rules and list existing ones
// for conflict analysis.
func New(cfg Config, st *store.Store, deployCtl *deploy.Controller, activeFor func() (backend.Adapter, error)) *Controller {
	c := &Controller{
		cfg:             cfg,
		store:           st,
		deployCtl:       deployCtl,
		activeFor:       activeFor,
		level:           LevelMonitor,
		subjectCooldown: make(map[string]time.Time),
	}
	if st != nil {
		var persisted string
		if found, err := st.GetDaemonState(context.Background(), daemonStateLevelKey, &persisted); err == nil && found {
			c.level = Level(persisted)
		}
	}
	return c
}

// Level returns the current autonomy posture.
func (c *Controller) Level() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// SetLevel changes the autonomy posture (§4.9 autonomy_set_level). This is
// the only way to raise autonomy back up after a circuit-breaker trip.
func (c *Controller) SetLevel(ctx context.Context, level Level) error {
	c.mu.Lock()
	c.level = level
	c.breakerTripped = false
	c.mu.Unlock()

	if c.store != nil {
		c.store.SetDaemonState(ctx, daemonStateLevelKey, string(level))
		c.store.AppendAudit(ctx, audit.Record{
			Timestamp: time.Now(), EventType: audit.EventAutonomyLevelSet, Severity: audit.SeverityInfo,
			Message: string(level), OperatorFlag: true,
		})
	}
	return nil
}

// Run consumes assessments until ctx is canceled or the channel closes.
func (c *Controller) Run(ctx context.Context, assessments <-chan store.ThreatAssessment) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-assessments:
			if !ok {
				return
			}
			if _, _, err := c.Evaluate(ctx, a); err != nil {
				logging.Warn("autonomy evaluation failed", "assessment_id", a.ID, "error", err)
			}
		}
	}
}

// Evaluate runs a over the deterministic templates and hard gates, and
// submits a surviving Proposal to the Deployment Controller (cautious or
// aggressive) or the pending-approval queue (monitor). submitted is false
// whenever a gate aborted the assessment or no template matches its kind.
func (c *Controller) Evaluate(ctx context.Context, a store.ThreatAssessment) (proposal store.Proposal, submitted bool, err error) {
	rule, ok := c.template(a)
	if !ok {
		return store.Proposal{}, false, nil
	}

	adapter, err := c.activeFor()
	if err != nil {
		return store.Proposal{}, false, err
	}

	if abort, reason := c.checkNeverBlock(ctx, rule); abort {
		c.audit(ctx, audit.EventSafetyGateTripped, a, "never-block: "+reason)
		return store.Proposal{}, false, nil
	}

	if c.checkCircuitBreaker(ctx) {
		return store.Proposal{}, false, nil
	}

	if c.checkCooldown(a.Subject) {
		c.audit(ctx, audit.EventAutonomySuppressed, a, "subject cooldown active")
		return store.Proposal{}, false, nil
	}

	existingRendered, err := adapter.ListRules(ctx)
	if err != nil {
		return store.Proposal{}, false, err
	}
	existing := make([]policy.Rule, 0, len(existingRendered))
	for _, r := range existingRendered {
		existing = append(existing, r.SourceRule)
	}
	report := conflict.Analyze(rule, existing, adapter.Capabilities().EvaluationOrder)
	if report.HasUserOriginShadowOrContradiction() {
		c.audit(ctx, audit.EventAutonomySuppressed, a, "shadow/contradiction against a user-origin rule")
		return store.Proposal{}, false, nil
	}

	if c.matchesManagementSubject(rule) {
		c.audit(ctx, audit.EventAutonomySuppressed, a, "rule would match the management subject")
		return store.Proposal{}, false, nil
	}

	level := c.Level()
	switch level {
	case LevelCautious:
		if a.Score < c.cfg.CautiousMinScore || len(a.EventIDs) < c.cfg.CautiousMinSources {
			c.audit(ctx, audit.EventAutonomySuppressed, a, "below cautious-level score/diversity requirement")
			return store.Proposal{}, false, nil
		}
	case LevelAggressive:
		if a.Score < c.cfg.AggressiveMinScore {
			c.audit(ctx, audit.EventAutonomySuppressed, a, "below aggressive-level score requirement")
			return store.Proposal{}, false, nil
		}
	case LevelMonitor:
		// no score gate: every surviving assessment becomes a pending-approval
		// proposal for an operator to review, never auto-applied.
	default:
		return store.Proposal{}, false, fmt.Errorf("unknown autonomy level %q", level)
	}

	if level != LevelMonitor && !c.checkRateLimit() {
		c.audit(ctx, audit.EventAutonomySuppressed, a, "global autonomous rate limit exceeded")
		return store.Proposal{}, false, nil
	}

	rendered, err := adapter.Render(rule)
	if err != nil {
		return store.Proposal{}, false, err
	}
	verdict, err := adapter.Validate(ctx, backend.RulesetImage{Rules: []backend.RenderedRule{rendered}})
	if err != nil {
		return store.Proposal{}, false, err
	}

	p := store.Proposal{
		ID:             uuid.NewString(),
		Rule:           rule,
		Rendered:       rendered,
		Verdict:        verdict,
		ConflictReport: report,
		Explanation:    fmt.Sprintf("autonomous %s response to assessment %s (score %.2f)", a.Kind, a.ID, a.Score),
		CreatedAt:      time.Now(),
	}

	if level == LevelMonitor {
		p.State = store.ProposalPendingApproval
		if c.store != nil {
			c.store.SaveProposal(ctx, p, audit.Record{
				Timestamp: time.Now(), EventType: audit.EventProposalCreated, Severity: audit.SeverityInfo,
				ProposalID: p.ID, AssessmentID: a.ID, Subject: a.Subject,
				Message: "autonomy at monitor level: queued for operator approval",
			})
		}
		return p, false, nil
	}

	p.State = store.ProposalApproved
	if c.store != nil {
		if _, err := c.store.SaveProposal(ctx, p, audit.Record{
			Timestamp: time.Now(), EventType: audit.EventProposalApproved, Severity: audit.SeverityInfo,
			ProposalID: p.ID, AssessmentID: a.ID, Subject: a.Subject, OperatorFlag: false,
			Message: "self-approved by autonomy controller",
		}); err != nil {
			return p, false, err
		}
	}

	d, err := c.deployCtl.Apply(ctx, p, c.cfg.Probe)
	if err != nil {
		return p, false, err
	}
	_ = d

	c.mu.Lock()
	c.deployTimes = append(c.deployTimes, time.Now())
	c.subjectCooldown[a.Subject] = time.Now().Add(c.cfg.SubjectCooldown)
	c.mu.Unlock()

	c.audit(ctx, audit.EventAutonomousApplied, a, "")
	return p, true, nil
}

func (c *Controller) audit(ctx context.Context, t audit.EventType, a store.ThreatAssessment, msg string) {
	if c.store == nil {
		return
	}
	c.store.AppendAudit(ctx, audit.Record{
		Timestamp: time.Now(), EventType: t, Severity: audit.SeverityWarn,
		AssessmentID: a.ID, Subject: a.Subject, Message: msg,
	})
}

func (c *Controller) checkNeverBlock(ctx context.Context, rule policy.Rule) (bool, string) {
	entries, err := c.store.ListNeverBlock(ctx)
	if err != nil {
		return true, err.Error()
	}
	canon := rule.Canonical()
	for _, e := range entries {
		candidates := e.Resolved
		if len(candidates) == 0 {
			candidates = []string{e.Value}
		}
		for _, addr := range candidates {
			if conflict.AddrsOverlap(canon.Source, addr) || conflict.AddrsOverlap(canon.Destination, addr) {
				return true, e.Value
			}
		}
	}
	return false, ""
}

// checkCircuitBreaker reports whether the breaker is (or just became)
// tripped. Tripping forces the level to monitor and requires an operator
// to explicitly SetLevel again (§4.7 gate 2).
func (c *Controller) checkCircuitBreaker(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.breakerTripped {
		return true
	}
	cutoff := time.Now().Add(-c.cfg.CircuitBreakerWindow)
	live := c.deployTimes[:0]
	for _, t := range c.deployTimes {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	c.deployTimes = live
	if len(c.deployTimes) < c.cfg.CircuitBreakerMax {
		return false
	}
	c.breakerTripped = true
	c.level = LevelMonitor
	logging.Error("autonomy circuit breaker tripped, forcing monitor level", "deployments_in_window", len(c.deployTimes))
	if c.store != nil {
		c.store.SetDaemonState(ctx, daemonStateLevelKey, string(LevelMonitor))
		c.store.AppendAudit(ctx, audit.Record{
			Timestamp: time.Now(), EventType: audit.EventCircuitBreakerTrip, Severity: audit.SeverityCritical,
			Message: "autonomous deployment rate exceeded circuit breaker threshold",
		})
	}
	return true
}

func (c *Controller) checkCooldown(subject string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.subjectCooldown[subject]
	return ok && time.Now().Before(until)
}

func (c *Controller) checkRateLimit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-time.Minute)
	live := c.rateTimes[:0]
	for _, t := range c.rateTimes {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	if len(live) >= c.cfg.RateLimitPerMinute {
		c.rateTimes = live
		return false
	}
	c.rateTimes = append(live, time.Now())
	return true
}

func (c *Controller) matchesManagementSubject(rule policy.Rule) bool {
	canon := rule.Canonical()
	for _, mgmt := range c.cfg.ManagementSubjects {
		if conflict.AddrsOverlap(canon.Source, mgmt) || conflict.AddrsOverlap(canon.Destination, mgmt) {
			return true
		}
	}
	return false
}

// template converts a ThreatAssessment into a candidate PolicyRule using
// the deterministic per-kind template (§4.7): action=drop, narrow subject,
// and a kind-specific expiry. Unmapped kinds (e.g. an unclassified ambiguous
// assessment) return ok=false.
func (c *Controller) template(a store.ThreatAssessment) (policy.Rule, bool) {
	switch a.Kind {
	case "brute-force", "port-scan", "rate-spike", "feed-hit", "flood-aggregate":
	default:
		return policy.Rule{}, false
	}

	subject := c.narrowSubject(a.Subject)
	if subject == "" {
		return policy.Rule{}, false
	}

	expires := c.cfg.ExpiresByKind[a.Kind]
	if expires == 0 {
		expires = c.cfg.DefaultExpires
	}
	expiresAt := time.Now().Add(expires)

	return policy.Rule{
		Family:      policy.FamilyBoth,
		Direction:   policy.DirectionInput,
		Action:      policy.ActionDrop,
		Source:      subject,
		Protocol:    policy.ProtocolAny,
		Log:         true,
		Priority:    0,
		ExpiresAt:   &expiresAt,
		Origin:      policy.OriginDaemonAuto,
		Comment:     fmt.Sprintf("assessment:%s", a.ID),
	}, true
}

// narrowSubject returns subject as a host or CIDR address never broader
// than cfg.MaxCIDRPrefix (§4.7 "CIDR never broader than a configured
// maximum, default /24"). A bare address becomes a single-host CIDR; a
// prefix wider than the maximum is rejected rather than silently widened.
func (c *Controller) narrowSubject(subject string) string {
	if addr, err := netip.ParseAddr(subject); err == nil {
		if addr.Is4() {
			return addr.String() + "/32"
		}
		return addr.String() + "/128"
	}
	if prefix, err := netip.ParsePrefix(subject); err == nil {
		max := c.cfg.MaxCIDRPrefix
		if prefix.Addr().Is6() {
			max += 104 // v6 bound is the v4 maximum plus 104: the default /24 becomes /128, so only single-host v6 prefixes pass
		}
		if prefix.Bits() < max {
			return ""
		}
		return prefix.String()
	}
	return ""
}
