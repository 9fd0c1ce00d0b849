// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package correlate implements the Threat Correlator (§4.6): a
// single-consumer scorer that turns a stream of SecurityEvents into
// ThreatAssessments, with a fast deterministic path for known kinds and an
// optional slow external-classification path for everything else.
package correlate

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/audit"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/ingest"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/logging"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

const (
	KindBruteForce = "brute-force"
	KindPortScan   = "port-scan"
	KindRateSpike  = "rate-spike"
	KindFeedHit    = "feed-hit"
)

// AnomalyThreshold is the Z-score above which an inter-arrival rate is
// treated as a spike, mirroring the teacher's device anomaly detector.
const AnomalyThreshold = 3.0

// Tracker keeps a running mean and variance using Welford's online
// algorithm, so rate-spike detection needs no retained history.
type Tracker struct {
	Count int64
	Mean  float64
	M2    float64
}

func (t *Tracker) Update(value float64) {
	t.Count++
	delta := value - t.Mean
	t.Mean += delta / float64(t.Count)
	t.M2 += delta * (value - t.Mean)
}

func (t *Tracker) Variance() float64 {
	if t.Count < 2 {
		return 0
	}
	return t.M2 / float64(t.Count-1)
}

func (t *Tracker) StdDev() float64 { return math.Sqrt(t.Variance()) }

func (t *Tracker) ZScore(value float64) float64 {
	sd := t.StdDev()
	if sd == 0 {
		if value == t.Mean {
			return 0
		}
		return 100
	}
	return (value - t.Mean) / sd
}

// SignedZScore is ZScore but keeps the sign in the zero-variance case
// instead of always returning a positive magnitude, so callers that care
// which direction a value deviated (e.g. "interval got shorter") can use it
// directly instead of re-deriving direction from value vs Mean themselves.
func (t *Tracker) SignedZScore(value float64) float64 {
	sd := t.StdDev()
	if sd == 0 {
		switch {
		case value == t.Mean:
			return 0
		case value < t.Mean:
			return -100
		default:
			return 100
		}
	}
	return (value - t.Mean) / sd
}

// FeedChecker reports whether subject currently appears in a threat feed's
// indicator set. internal/ingest.FeedSource satisfies this.
type FeedChecker interface {
	Lookup(value string) (ingest.FeedIndicator, bool)
}

// Evidence summarizes an ambiguous kind's window for the slow path.
type Evidence struct {
	Subject         string
	Kind            string
	EventCount      int
	DistinctSources int
	DistinctTargets int
	Since           time.Time
}

// SlowClassifier forwards an ambiguous kind to an external translator for
// classification (§4.6 "optional slow path"). Implementations must respect
// ctx's deadline; the correlator never blocks its fast path on this call.
type SlowClassifier interface {
	Classify(ctx context.Context, ev Evidence) (kind string, err error)
}

// Config tunes the Correlator's scoring and flood handling.
type Config struct {
	DecayHalfLife      time.Duration
	ThresholdByKind    map[string]float64
	DefaultThreshold   float64
	AmbiguousThreshold float64
	CooldownByKind     map[string]time.Duration
	DefaultCooldown    time.Duration
	DiversityWeight    float64
	DistinctWeight     float64
	FeedHitBonus       float64
	FloodCeiling       float64 // events/sec across all subjects
	SlowPathTimeout    time.Duration
	OutputBuffer       int
}

func DefaultConfig() Config {
	return Config{
		DecayHalfLife: 10 * time.Minute,
		ThresholdByKind: map[string]float64{
			KindBruteForce: 5,
			KindPortScan:   8,
			KindFeedHit:    1,
		},
		DefaultThreshold:   6,
		AmbiguousThreshold: 10,
		CooldownByKind: map[string]time.Duration{
			KindBruteForce: 24 * time.Hour,
			KindPortScan:   time.Hour,
			KindRateSpike:  30 * time.Minute,
			KindFeedHit:    24 * time.Hour,
		},
		DefaultCooldown: time.Hour,
		DiversityWeight: 1.5,
		DistinctWeight:  1.0,
		FeedHitBonus:    4,
		FloodCeiling:    200,
		SlowPathTimeout: 2 * time.Second,
		OutputBuffer:    128,
	}
}

type kindWindow struct {
	decayedCount    float64
	lastUpdate      time.Time
	distinctTargets map[string]struct{}
	distinctSources map[string]struct{}
	eventIDs        []string
}

func newKindWindow() *kindWindow {
	return &kindWindow{
		distinctTargets: make(map[string]struct{}),
		distinctSources: make(map[string]struct{}),
	}
}

func (w *kindWindow) update(e store.SecurityEvent, halfLife time.Duration) {
	now := e.ObservedAt
	if now.IsZero() {
		now = time.Now()
	}
	if !w.lastUpdate.IsZero() && halfLife > 0 {
		elapsed := now.Sub(w.lastUpdate).Seconds()
		if elapsed > 0 {
			w.decayedCount *= math.Exp(-elapsed * math.Ln2 / halfLife.Seconds())
		}
	}
	w.decayedCount++
	w.lastUpdate = now
	if e.Target != "" {
		w.distinctTargets[e.Target] = struct{}{}
	}
	if e.SourceName != "" {
		w.distinctSources[e.SourceName] = struct{}{}
	}
	w.eventIDs = append(w.eventIDs, e.ID)
	if len(w.eventIDs) > 50 {
		w.eventIDs = w.eventIDs[len(w.eventIDs)-50:]
	}
}

type subjectState struct {
	windows       map[string]*kindWindow
	cooldownUntil map[string]time.Time
	rateTracker   Tracker
	lastEventAt   time.Time
	floodCount    int
	floodSince    time.Time
}

func newSubjectState() *subjectState {
	return &subjectState{
		windows:       make(map[string]*kindWindow),
		cooldownUntil: make(map[string]time.Time),
	}
}

// Correlator is the single consumer over the Event Bus's output stream
// (§5). All state mutation happens on the goroutine running Run; Ingest may
// also be called directly by tests and by callers that manage their own
// read loop.
type Correlator struct {
	cfg   Config
	feed  FeedChecker
	slow  SlowClassifier
	store *store.Store

	mu       sync.Mutex
	subjects map[string]*subjectState

	out chan store.ThreatAssessment

	globalCount atomic.Int64
	floodMode   atomic.Bool
}

func New(cfg Config, st *store.Store, feed FeedChecker, slow SlowClassifier) *Correlator {
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = 128
	}
	return &Correlator{
		cfg:      cfg,
		feed:     feed,
		slow:     slow,
		store:    st,
		subjects: make(map[string]*subjectState),
		out:      make(chan store.ThreatAssessment, cfg.OutputBuffer),
	}
}

// Assessments is the stream the Autonomy Controller reads from.
func (c *Correlator) Assessments() <-chan store.ThreatAssessment {
	return c.out
}

// Run drains events until ctx is canceled or the channel closes, ticking
// once a second to evaluate flood-mode transitions (§4.6 "arrival rate
// exceeds a configured ceiling").
func (c *Correlator) Run(ctx context.Context, events <-chan store.SecurityEvent) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.Ingest(ctx, e)
		case <-ticker.C:
			c.tickFloodCheck(ctx)
			if c.floodMode.Load() {
				c.flushFloodAggregates(ctx)
			}
		}
	}
}

// flushFloodAggregates presents one collapsed assessment per subject that
// accumulated events during the last tick under flood mode, instead of
// scoring each one individually (§4.6 "only the aggregate is presented to
// the autonomy controller").
func (c *Correlator) flushFloodAggregates(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for subject, st := range c.subjects {
		if st.floodCount == 0 {
			continue
		}
		count := st.floodCount
		st.floodCount = 0
		st.floodSince = time.Time{}
		if float64(count) < c.cfg.DefaultThreshold {
			continue
		}
		c.emitLocked(ctx, subject, st, "flood-aggregate", float64(count), c.cfg.DefaultThreshold, nil)
	}
}

func (c *Correlator) tickFloodCheck(ctx context.Context) {
	rate := float64(c.globalCount.Swap(0))
	wasFlood := c.floodMode.Load()
	isFlood := rate > c.cfg.FloodCeiling
	if isFlood == wasFlood {
		return
	}
	c.floodMode.Store(isFlood)
	msg := "correlator entering flood aggregation mode"
	if !isFlood {
		msg = "correlator leaving flood aggregation mode"
	}
	logging.Warn(msg, "rate_per_sec", rate, "ceiling", c.cfg.FloodCeiling)
	if c.store != nil {
		c.store.AppendAudit(ctx, audit.Record{
			Timestamp: time.Now(), EventType: audit.EventFloodModeSwitch, Severity: audit.SeverityWarn,
			Message: msg, Attributes: map[string]any{"rate_per_sec": rate},
		})
	}
}

func subjectKey(e store.SecurityEvent) string {
	if e.SourceIP != "" {
		return e.SourceIP
	}
	return e.Target
}

var knownSourceKinds = map[string]bool{
	KindBruteForce: true,
	KindPortScan:   true,
}

// Ingest scores a single event. It never blocks on the slow path: an
// ambiguous kind's classification request is fired with its own timeout and
// simply doesn't produce an assessment if it fails or is unreachable.
func (c *Correlator) Ingest(ctx context.Context, e store.SecurityEvent) {
	c.globalCount.Add(1)
	subject := subjectKey(e)
	if subject == "" {
		return
	}

	if e.CausalTag != "" {
		// The Event Bus only stamps a causal tag on an event that matches a
		// tag an active Deployment published for its own expected side
		// effects (e.g. the firewall-log deny line a fresh autonomous block
		// produces). Scoring it would feed that deny straight back into a
		// new assessment for the same subject and re-trigger autonomy.
		return
	}

	c.mu.Lock()
	st, ok := c.subjects[subject]
	if !ok {
		st = newSubjectState()
		c.subjects[subject] = st
	}

	if c.floodMode.Load() {
		st.floodCount++
		if st.floodSince.IsZero() {
			st.floodSince = time.Now()
		}
		c.mu.Unlock()
		return
	}

	c.updateRateTracker(st, e)

	feedHit := false
	if c.feed != nil {
		_, feedHit = c.feed.Lookup(subject)
	}

	if knownSourceKinds[e.Kind] {
		c.scoreAndMaybeEmitLocked(ctx, subject, st, e.Kind, e, feedHit)
	} else if e.Kind != "" {
		c.scoreAmbiguousLocked(ctx, subject, st, e)
	}

	if feedHit {
		c.scoreAndMaybeEmitLocked(ctx, subject, st, KindFeedHit, e, false)
	}
	c.mu.Unlock()
}

// updateRateTracker folds e's inter-arrival interval into the subject's
// Welford tracker and emits a rate-spike assessment when the interval is an
// outlier short one (i.e. events are arriving much faster than usual).
func (c *Correlator) updateRateTracker(st *subjectState, e store.SecurityEvent) {
	now := e.ObservedAt
	if now.IsZero() {
		now = time.Now()
	}
	if !st.lastEventAt.IsZero() {
		interval := now.Sub(st.lastEventAt).Seconds()
		if interval > 0 {
			z := st.rateTracker.SignedZScore(interval)
			if st.rateTracker.Count >= 3 && z <= -AnomalyThreshold {
				c.emitLocked(context.Background(), subjectKey(e), st, KindRateSpike, -z, AnomalyThreshold, []string{e.ID})
			}
			st.rateTracker.Update(interval)
		}
	}
	st.lastEventAt = now
}

func (c *Correlator) scoreAndMaybeEmitLocked(ctx context.Context, subject string, st *subjectState, kind string, e store.SecurityEvent, feedHit bool) {
	w, ok := st.windows[kind]
	if !ok {
		w = newKindWindow()
		st.windows[kind] = w
	}
	w.update(e, c.cfg.DecayHalfLife)

	if until, ok := st.cooldownUntil[kind]; ok && time.Now().Before(until) {
		return
	}

	score := c.score(kind, w, feedHit)
	threshold, ok := c.cfg.ThresholdByKind[kind]
	if !ok {
		threshold = c.cfg.DefaultThreshold
	}
	if score < threshold {
		return
	}

	c.emitLocked(ctx, subject, st, kind, score, threshold, append([]string(nil), w.eventIDs...))
}

// score combines raw decayed count, distinct targets/ports (for scans),
// event diversity across sources, and feed-indicator presence (§4.6).
func (c *Correlator) score(kind string, w *kindWindow, feedHit bool) float64 {
	score := w.decayedCount
	if kind == KindPortScan && len(w.distinctTargets) > 1 {
		score += float64(len(w.distinctTargets)-1) * c.cfg.DistinctWeight
	}
	if len(w.distinctSources) > 1 {
		score += float64(len(w.distinctSources)-1) * c.cfg.DiversityWeight
	}
	if feedHit && kind != KindFeedHit {
		score += c.cfg.FeedHitBonus
	}
	return score
}

// scoreAmbiguousLocked tracks an unrecognized kind generically and, once it
// crosses the ambiguous threshold, asks the slow classifier (if any) to
// identify it. The call runs off the correlator's goroutine so a stalled or
// absent slow path can never hold up event processing.
func (c *Correlator) scoreAmbiguousLocked(ctx context.Context, subject string, st *subjectState, e store.SecurityEvent) {
	w, ok := st.windows[e.Kind]
	if !ok {
		w = newKindWindow()
		st.windows[e.Kind] = w
	}
	w.update(e, c.cfg.DecayHalfLife)

	if until, ok := st.cooldownUntil[e.Kind]; ok && time.Now().Before(until) {
		return
	}
	if w.decayedCount < c.cfg.AmbiguousThreshold {
		return
	}
	if c.slow == nil {
		return
	}

	ev := Evidence{
		Subject:         subject,
		Kind:            e.Kind,
		EventCount:      int(w.decayedCount),
		DistinctSources: len(w.distinctSources),
		DistinctTargets: len(w.distinctTargets),
		Since:           w.lastUpdate,
	}
	eventIDs := append([]string(nil), w.eventIDs...)
	st.cooldownUntil[e.Kind] = time.Now().Add(time.Minute) // avoid re-firing the slow path every event while it's in flight

	go c.classifySlow(ctx, subject, e.Kind, ev, eventIDs, w.decayedCount)
}

func (c *Correlator) classifySlow(parent context.Context, subject, originalKind string, ev Evidence, eventIDs []string, score float64) {
	timeout := c.cfg.SlowPathTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	kind, err := c.slow.Classify(ctx, ev)
	if err != nil || kind == "" {
		logging.Warn("slow-path classification unavailable, dropping ambiguous assessment", "subject", subject, "kind", originalKind, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.subjects[subject]
	if !ok {
		return
	}
	c.emitLocked(context.Background(), subject, st, kind, score, c.cfg.AmbiguousThreshold, eventIDs)
}

// normalizeScore maps a raw decayed-count-plus-bonus score onto (0, 1) via a
// saturating curve anchored at the threshold that qualified it: a score
// exactly at threshold normalizes to 0.5, with more overwhelming evidence
// asymptotically approaching 1 (§3 ThreatAssessment.Score is documented
// 0..1). threshold is floored to avoid dividing by zero for a
// zero-or-negative configured threshold.
func normalizeScore(score, threshold float64) float64 {
	if threshold < 0.001 {
		threshold = 0.001
	}
	return score / (score + threshold)
}

func (c *Correlator) emitLocked(ctx context.Context, subject string, st *subjectState, kind string, score, threshold float64, eventIDs []string) {
	cooldown, ok := c.cfg.CooldownByKind[kind]
	if !ok {
		cooldown = c.cfg.DefaultCooldown
	}
	st.cooldownUntil[kind] = time.Now().Add(cooldown)

	normalized := normalizeScore(score, threshold)

	a := store.ThreatAssessment{
		ID:        uuid.NewString(),
		EventIDs:  eventIDs,
		Kind:      kind,
		Subject:   subject,
		Score:     normalized,
		CreatedAt: time.Now(),
	}

	select {
	case c.out <- a:
	default:
		logging.Error("threat assessment dropped, autonomy controller not keeping up", "subject", subject, "kind", kind)
		return
	}

	if c.store != nil {
		c.store.AppendAudit(ctx, audit.Record{
			Timestamp: time.Now(), EventType: audit.EventThreatEscalated, Severity: audit.SeverityHigh,
			AssessmentID: a.ID, Subject: subject, Message: kind,
			Attributes: map[string]any{"score": normalized, "raw_score": score},
		})
	}
}
