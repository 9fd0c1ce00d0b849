// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

func TestBus_CriticalNeverDropped(t *testing.T) {
	b := NewBus(nil, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Publish(ctx, "auth", store.SecurityEvent{Kind: "brute-force", Severity: store.SeverityCritical})
	}

	seen := 0
	for seen < 5 {
		select {
		case <-b.Events():
			seen++
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for critical events, got %d/5", seen)
		}
	}
}

// TestBus_DropsLowSeverityTailUnderBackpressure pre-seats a source class's
// queue without starting its forwarder goroutine, so the queue never drains
// and backpressure behavior is deterministic to assert on.
func TestBus_DropsLowSeverityTailUnderBackpressure(t *testing.T) {
	b := NewBus(nil, 1)
	q := make(chan store.SecurityEvent, 1)
	b.mu.Lock()
	b.queues["scan"] = q
	b.mu.Unlock()

	q <- store.SecurityEvent{Kind: "scan-1", Severity: store.SeverityLow}

	b.Publish(context.Background(), "scan", store.SecurityEvent{Kind: "scan-2", Severity: store.SeverityLow})

	assert.Equal(t, 1, b.DropCount("scan"))
	queued := <-q
	assert.Equal(t, "scan-2", queued.Kind, "the newer event should replace the evicted low-severity one")
}

func TestBus_HighSeverityNotEvictedByLowSeverityArrival(t *testing.T) {
	b := NewBus(nil, 1)
	q := make(chan store.SecurityEvent, 1)
	b.mu.Lock()
	b.queues["scan"] = q
	b.mu.Unlock()

	q <- store.SecurityEvent{Kind: "scan-1", Severity: store.SeverityHigh}

	b.Publish(context.Background(), "scan", store.SecurityEvent{Kind: "scan-2", Severity: store.SeverityLow})

	assert.Equal(t, 1, b.DropCount("scan"))
	queued := <-q
	assert.Equal(t, "scan-1", queued.Kind, "a high-severity entry must not be evicted for an arriving low-severity one")
}

func TestBus_CausalTagStampedOnMatchingSubject(t *testing.T) {
	b := NewBus(nil, 4)
	b.PublishCausalTag(CausalTag{
		Tag: "deploy-1", Subject: "203.0.113.5", KindMask: []string{"blocked-connection"},
		ValidUntil: time.Now().Add(time.Minute),
	})

	ctx := context.Background()
	b.Publish(ctx, "fw", store.SecurityEvent{Kind: "blocked-connection", SourceIP: "203.0.113.5", Severity: store.SeverityLow})

	e := <-b.Events()
	assert.Equal(t, "deploy-1", e.CausalTag)
}

type recordingSource struct {
	name    string
	started chan struct{}
	fail    bool
}

func (r *recordingSource) Name() string { return r.name }
func (r *recordingSource) Start(ctx context.Context, emit func(store.SecurityEvent)) error {
	select {
	case r.started <- struct{}{}:
	default:
	}
	if r.fail {
		panic("boom")
	}
	<-ctx.Done()
	return nil
}

func TestBus_Run_RecoversPanickingSourceAndStopsOnCancel(t *testing.T) {
	b := NewBus(nil, 4)
	src := &recordingSource{name: "panicky", started: make(chan struct{}, 4), fail: true}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		b.Run(ctx, src)
		close(done)
	}()

	require.Eventually(t, func() bool {
		select {
		case <-src.started:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	<-done
}
