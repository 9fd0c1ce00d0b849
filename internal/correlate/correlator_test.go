// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package correlate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/ingest"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

type fakeFeed struct {
	hits map[string]ingest.FeedIndicator
}

func (f *fakeFeed) Lookup(value string) (ingest.FeedIndicator, bool) {
	ind, ok := f.hits[value]
	return ind, ok
}

type fakeSlowClassifier struct {
	kind string
	err  error
}

func (f *fakeSlowClassifier) Classify(ctx context.Context, ev Evidence) (string, error) {
	return f.kind, f.err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DecayHalfLife = time.Hour
	return cfg
}

func TestIngest_BruteForceCrossesThresholdEmitsAssessment(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		c.Ingest(ctx, store.SecurityEvent{
			ID: "e" + string(rune('a'+i)), Kind: KindBruteForce, SourceIP: "198.51.100.9",
			SourceName: "auth-tail", Severity: store.SeverityHigh, ObservedAt: time.Now(),
		})
	}

	select {
	case a := <-c.Assessments():
		assert.Equal(t, KindBruteForce, a.Kind)
		assert.Equal(t, "198.51.100.9", a.Subject)
		assert.GreaterOrEqual(t, a.Score, 0.5, "a score crossing its threshold normalizes to at least 0.5")
		assert.Less(t, a.Score, 1.0)
	case <-time.After(time.Second):
		t.Fatal("expected an assessment to be emitted")
	}
}

func TestIngest_CooldownSuppressesRepeatAssessment(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)
	ctx := context.Background()

	flood := func() {
		for i := 0; i < 6; i++ {
			c.Ingest(ctx, store.SecurityEvent{
				ID: "x", Kind: KindBruteForce, SourceIP: "203.0.113.77", SourceName: "auth-tail",
				Severity: store.SeverityHigh, ObservedAt: time.Now(),
			})
		}
	}

	flood()
	select {
	case <-c.Assessments():
	case <-time.After(time.Second):
		t.Fatal("expected first assessment")
	}

	flood()
	select {
	case a := <-c.Assessments():
		t.Fatalf("expected cooldown to suppress a second assessment, got %+v", a)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIngest_FeedHitContributesScore(t *testing.T) {
	feed := &fakeFeed{hits: map[string]ingest.FeedIndicator{
		"192.0.2.55": {Value: "192.0.2.55", Kind: "botnet"},
	}}
	c := New(testConfig(), nil, feed, nil)
	ctx := context.Background()

	c.Ingest(ctx, store.SecurityEvent{
		ID: "e1", Kind: KindFeedHit, SourceIP: "192.0.2.55", SourceName: "feed",
		Severity: store.SeverityMedium, ObservedAt: time.Now(),
	})

	select {
	case a := <-c.Assessments():
		assert.Equal(t, KindFeedHit, a.Kind)
		assert.Equal(t, "192.0.2.55", a.Subject)
	case <-time.After(time.Second):
		t.Fatal("expected a feed-hit assessment")
	}
}

func TestIngest_RateSpikeDetectedViaZScore(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)
	ctx := context.Background()
	subject := "203.0.113.200"
	base := time.Now()

	for i := 0; i < 20; i++ {
		c.Ingest(ctx, store.SecurityEvent{
			ID: "steady", Kind: "connection", SourceIP: subject, SourceName: "fw",
			Severity: store.SeverityLow, ObservedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	c.Ingest(ctx, store.SecurityEvent{
		ID: "burst", Kind: "connection", SourceIP: subject, SourceName: "fw",
		Severity: store.SeverityLow, ObservedAt: base.Add(19*time.Second + time.Millisecond),
	})

	select {
	case a := <-c.Assessments():
		assert.Equal(t, KindRateSpike, a.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a rate-spike assessment from the sudden short interval")
	}
}

func TestIngest_AmbiguousKindGoesThroughSlowPath(t *testing.T) {
	cfg := testConfig()
	cfg.AmbiguousThreshold = 2
	c := New(cfg, nil, nil, &fakeSlowClassifier{kind: KindPortScan})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Ingest(ctx, store.SecurityEvent{
			ID: "u" + string(rune('a'+i)), Kind: "unusual-traffic", SourceIP: "198.51.100.20",
			SourceName: "fw", Severity: store.SeverityMedium, ObservedAt: time.Now(),
		})
	}

	select {
	case a := <-c.Assessments():
		assert.Equal(t, KindPortScan, a.Kind, "slow path should relabel the ambiguous kind")
	case <-time.After(time.Second):
		t.Fatal("expected the slow path to classify and emit an assessment")
	}
}

func TestIngest_SlowPathUnavailableNeverBlocksFastPath(t *testing.T) {
	cfg := testConfig()
	cfg.AmbiguousThreshold = 2
	c := New(cfg, nil, nil, nil) // no slow classifier wired
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			c.Ingest(ctx, store.SecurityEvent{
				ID: "u", Kind: "unusual-traffic", SourceIP: "198.51.100.21", SourceName: "fw",
				Severity: store.SeverityMedium, ObservedAt: time.Now(),
			})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ingest must not block when no slow classifier is configured")
	}
}

func TestNormalizeScore_AtThresholdIsOneHalf(t *testing.T) {
	assert.InDelta(t, 0.5, normalizeScore(6, 6), 0.0001)
}

func TestNormalizeScore_OverwhelmingEvidenceApproachesOne(t *testing.T) {
	assert.Greater(t, normalizeScore(600, 6), 0.99)
}

func TestNormalizeScore_ZeroThresholdDoesNotDivideByZero(t *testing.T) {
	assert.InDelta(t, 1.0, normalizeScore(5, 0), 0.01)
}

func TestIngest_CausalTaggedEventIsNeverScored(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		c.Ingest(ctx, store.SecurityEvent{
			ID: "tagged" + string(rune('a'+i)), Kind: KindBruteForce, SourceIP: "198.51.100.99",
			SourceName: "auth-tail", Severity: store.SeverityHigh, ObservedAt: time.Now(),
			CausalTag: "deploy-1",
		})
	}

	select {
	case a := <-c.Assessments():
		t.Fatalf("expected events carrying a causal tag to be skipped, got %+v", a)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRun_FloodModeSwitchesAndAggregates(t *testing.T) {
	cfg := testConfig()
	cfg.FloodCeiling = 5
	cfg.DefaultThreshold = 1
	c := New(cfg, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	events := make(chan store.SecurityEvent, 128)
	go c.Run(ctx, events)

	for i := 0; i < 50; i++ {
		events <- store.SecurityEvent{
			ID: "f", Kind: "flood", SourceIP: "192.0.2.200", SourceName: "fw",
			Severity: store.SeverityLow, ObservedAt: time.Now(),
		}
	}

	require.Eventually(t, func() bool {
		return c.floodMode.Load()
	}, 2*time.Second, 10*time.Millisecond, "expected flood mode to engage under high arrival rate")

	// Flood mode is now active: these events land in the per-subject
	// aggregate counter instead of being scored individually.
	for i := 0; i < 10; i++ {
		events <- store.SecurityEvent{
			ID: "f2", Kind: "flood", SourceIP: "192.0.2.200", SourceName: "fw",
			Severity: store.SeverityLow, ObservedAt: time.Now(),
		}
	}

	select {
	case a := <-c.Assessments():
		assert.Equal(t, "flood-aggregate", a.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an aggregated flood assessment")
	}
}
