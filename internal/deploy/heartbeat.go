// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// LivenessProbe checks one reachability condition for the Heartbeat.
type LivenessProbe interface {
	Probe(ctx context.Context) error
}

// ICMPProbe pings a target host to confirm the Controller's own outbound
// connectivity survived an apply (§4.4 heartbeat contract, condition a).
type ICMPProbe struct {
	Target  string
	Timeout time.Duration
}

func (p ICMPProbe) Probe(ctx context.Context) error {
	pinger, err := probing.NewPinger(p.Target)
	if err != nil {
		return fmt.Errorf("failed to create pinger: %w", err)
	}
	pinger.Count = 1
	timeout := p.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()
	select {
	case <-ctx.Done():
		pinger.Stop()
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return err
		}
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return fmt.Errorf("packet loss: no reply from %s", p.Target)
	}
	return nil
}

// InboundProbeFunc checks that a known source can still reach the
// management endpoint (§4.4 heartbeat contract, condition b). It is a
// func type rather than an interface because the inbound check is
// necessarily environment-specific (calling back through an external
// vantage point, a remote agent, or a loopback health socket).
type InboundProbeFunc func(ctx context.Context) error

// ReachabilityProbe bundles the outbound and inbound checks the Heartbeat
// runs each interval. InboundEnabled is set by the code that builds the
// probe; no configuration key sets it, and config.ResolveHeartbeatProbe
// leaves it false. When false, the inbound check is skipped and never fails the deployment
// on its own (see DESIGN.md Open Question decision on heartbeat probes) —
// but Outbound remains mandatory.
type ReachabilityProbe struct {
	Outbound       LivenessProbe
	InboundEnabled bool
	Inbound        InboundProbeFunc
}

// Check runs the outbound probe, and the inbound probe if enabled. Any
// failure is reported as a single error describing which check failed.
func (p ReachabilityProbe) Check(ctx context.Context) error {
	if p.Outbound == nil {
		return fmt.Errorf("no outbound liveness probe configured")
	}
	if err := p.Outbound.Probe(ctx); err != nil {
		return fmt.Errorf("outbound probe failed: %w", err)
	}
	if p.InboundEnabled {
		if p.Inbound == nil {
			return fmt.Errorf("inbound probe enabled but not configured")
		}
		if err := p.Inbound(ctx); err != nil {
			return fmt.Errorf("inbound probe failed: %w", err)
		}
	}
	return nil
}

// heartbeat owns the probation timer for exactly one deployment. It is
// created on entry to probation and canceled when the deployment leaves
// probation, by design never registered in a global timer table (§8 testing
// note: "keep timer ownership local to the Controller").
type heartbeat struct {
	deploymentID string
	probe        ReachabilityProbe
	interval     time.Duration
	deadline     time.Time
	onOK         func()
	onMiss       func()
	cancel       context.CancelFunc
	once         sync.Once
}

func startHeartbeat(ctx context.Context, deploymentID string, probe ReachabilityProbe, interval, timeout time.Duration, onOK, onMiss func()) *heartbeat {
	hbCtx, cancel := context.WithCancel(ctx)
	hb := &heartbeat{
		deploymentID: deploymentID,
		probe:        probe,
		interval:     interval,
		deadline:     time.Now().Add(timeout),
		onOK:         onOK,
		onMiss:       onMiss,
		cancel:       cancel,
	}
	go hb.run(hbCtx)
	return hb
}

func (h *heartbeat) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Now().After(h.deadline) {
				probeCtx, cancel := context.WithTimeout(ctx, h.interval)
				err := h.probe.Check(probeCtx)
				cancel()
				h.once.Do(func() {
					if err != nil {
						h.onMiss()
					} else {
						h.onOK()
					}
				})
				return
			}
			probeCtx, cancel := context.WithTimeout(ctx, h.interval)
			err := h.probe.Check(probeCtx)
			cancel()
			if err != nil {
				h.once.Do(h.onMiss)
				return
			}
		}
	}
}

func (h *heartbeat) stop() {
	h.cancel()
}

// forceCommit ends probation immediately rather than waiting for the
// deadline, used by a manual commit() call (§4.9). Guarded by the same
// sync.Once as the deadline and miss paths, so a commit racing an
// in-flight heartbeat tick never fires onOK/onMiss more than once.
func (h *heartbeat) forceCommit() {
	h.once.Do(func() {
		h.cancel()
		h.onOK()
	})
}
