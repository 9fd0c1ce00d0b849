// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ingest implements the Event Bus and Log Sources (§4.5): a bounded
// multi-producer/single-consumer channel per source class, and the file- and
// feed-based sources that publish into it.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/audit"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/logging"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// Source is the contract every Log Source implements (§4.5): start(ctx) ->
// stream of SecurityEvent. A Source must be restartable; Bus.Run restarts a
// Source that returns an error with exponential backoff rather than letting
// a single stalled source affect any other (§5 scheduling model).
type Source interface {
	Name() string
	Start(ctx context.Context, emit func(store.SecurityEvent)) error
}

// CausalTag describes one active Deployment's expected side effects, so Log
// Sources can stamp events their own action plausibly caused (§4.5). The
// Deployment Controller publishes one of these to the Bus on every apply.
type CausalTag struct {
	Tag        string
	Subject    string // source or destination address the deployment targets
	KindMask   []string
	ValidUntil time.Time
}

// Bus is the bounded multi-producer/single-consumer event channel (§4.5). It
// holds one bounded queue per source class, each drained by its own
// forwarder goroutine into the single consumer-facing out channel, so one
// flooding class can fill its own queue (and start dropping its own
// low-severity tail) without ever blocking or starving another class.
type Bus struct {
	mu         sync.Mutex
	queueDepth int
	queues     map[string]chan store.SecurityEvent
	out        chan store.SecurityEvent
	store      *store.Store
	tagsMu     sync.RWMutex
	tags       []CausalTag
	dropMu     sync.Mutex
	dropCounts map[string]int
}

// NewBus constructs a Bus with queueDepth slots per source class.
func NewBus(st *store.Store, queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Bus{
		queueDepth: queueDepth,
		queues:     make(map[string]chan store.SecurityEvent),
		out:        make(chan store.SecurityEvent, queueDepth*4),
		store:      st,
		dropCounts: make(map[string]int),
	}
}

// Events returns the single consumer channel the Correlator reads from.
func (b *Bus) Events() <-chan store.SecurityEvent {
	return b.out
}

// PublishCausalTag records an active Deployment's expected side effects so
// Log Sources can stamp matching events (§4.5).
func (b *Bus) PublishCausalTag(tag CausalTag) {
	b.tagsMu.Lock()
	defer b.tagsMu.Unlock()
	b.tags = append(b.tags, tag)
	live := b.tags[:0]
	now := time.Now()
	for _, t := range b.tags {
		if t.ValidUntil.After(now) {
			live = append(live, t)
		}
	}
	b.tags = live
}

// stampCausalTag returns the first live tag whose subject and kind mask
// match e, or "" if none applies.
func (b *Bus) stampCausalTag(e store.SecurityEvent) string {
	b.tagsMu.RLock()
	defer b.tagsMu.RUnlock()
	now := time.Now()
	for _, t := range b.tags {
		if t.ValidUntil.Before(now) {
			continue
		}
		if t.Subject != e.SourceIP && t.Subject != e.Target {
			continue
		}
		if len(t.KindMask) == 0 {
			return t.Tag
		}
		for _, k := range t.KindMask {
			if k == e.Kind {
				return t.Tag
			}
		}
	}
	return ""
}

// Publish delivers e from sourceClass into the Bus. When sourceClass's queue
// is full, the oldest low-severity entry already queued is evicted to make
// room (§4.5: "drops events from the low-severity tail first") and a
// drop-count audit record is written. A full queue with nothing low-severity
// to evict instead drops the incoming event, unless it is itself critical —
// critical events are never dropped; Publish blocks until space frees.
func (b *Bus) Publish(ctx context.Context, sourceClass string, e store.SecurityEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CausalTag == "" {
		e.CausalTag = b.stampCausalTag(e)
	}

	q := b.queueFor(ctx, sourceClass)

	if e.Severity == store.SeverityCritical {
		select {
		case q <- e:
		case <-ctx.Done():
		}
		return
	}

	select {
	case q <- e:
		return
	default:
	}

	// Queue full: evict one entry to make room, preferring a low-severity
	// one. Channels don't support peeking, so at most one entry is drained;
	// if it turns out not to be low-severity, it's put back and the
	// newly-arriving event is dropped instead.
	select {
	case oldest := <-q:
		if oldest.Severity == store.SeverityLow {
			b.recordDrop(ctx, sourceClass, oldest)
			q <- e
		} else {
			q <- oldest
			b.recordDrop(ctx, sourceClass, e)
		}
	default:
		b.recordDrop(ctx, sourceClass, e)
	}
}

// queueFor returns sourceClass's queue, creating it and its forwarder
// goroutine on first use.
func (b *Bus) queueFor(ctx context.Context, sourceClass string) chan store.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[sourceClass]; ok {
		return q
	}
	q := make(chan store.SecurityEvent, b.queueDepth)
	b.queues[sourceClass] = q
	go b.forwardLoop(ctx, q)
	return q
}

// forwardLoop drains one source class's queue, persisting each event and
// publishing it to the single consumer channel. This is the bus's one
// logical consumer per class; Events() fans every class's forwarder into
// one stream for the Correlator (§5: "the Correlator is single-consumer
// over its input stream").
func (b *Bus) forwardLoop(ctx context.Context, q chan store.SecurityEvent) {
	for {
		select {
		case e := <-q:
			if b.store != nil {
				if err := b.store.RecordEvent(ctx, e); err != nil {
					logging.Warn("failed to persist security event", "event_id", e.ID, "error", err)
				}
			}
			select {
			case b.out <- e:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) recordDrop(ctx context.Context, sourceClass string, dropped store.SecurityEvent) {
	b.dropMu.Lock()
	b.dropCounts[sourceClass]++
	count := b.dropCounts[sourceClass]
	b.dropMu.Unlock()

	if b.store != nil {
		b.store.AppendAudit(ctx, audit.Record{
			Timestamp: time.Now(), EventType: audit.EventLowSeverityDropped, Severity: audit.SeverityWarn,
			Message: dropped.Kind, Attributes: map[string]any{"source_class": sourceClass, "total_dropped": count},
		})
	}
	logging.Warn("dropped low-severity event under backpressure", "source_class", sourceClass, "kind", dropped.Kind)
}

// DropCount returns how many events have been dropped for sourceClass so far.
func (b *Bus) DropCount(sourceClass string) int {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.dropCounts[sourceClass]
}

// Run starts src and restarts it with exponential backoff if it returns an
// error, without blocking any other source (§5 scheduling model, §5 failure
// isolation). It returns once ctx is canceled.
func (b *Bus) Run(ctx context.Context, src Source) {
	backoff := time.Second
	const maxBackoff = time.Minute

	for {
		if ctx.Err() != nil {
			return
		}
		err := runSourceGuarded(ctx, src, func(e store.SecurityEvent) {
			e.SourceName = src.Name()
			b.Publish(ctx, src.Name(), e)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Error("log source exited, restarting", "source", src.Name(), "error", err, "backoff", backoff)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runSourceGuarded invokes src.Start and recovers a panic into an error, so
// one misbehaving source can never bring down the daemon (§5 failure
// isolation).
func runSourceGuarded(ctx context.Context, src Source, emit func(store.SecurityEvent)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("log source panicked", "source", src.Name(), "panic", r)
			err = &panicError{source: src.Name(), value: r}
		}
	}()
	return src.Start(ctx, emit)
}

type panicError struct {
	source string
	value  any
}

func (e *panicError) Error() string {
	return "log source " + e.source + " panicked"
}
