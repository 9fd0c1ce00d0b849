// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"net/netip"
	"time"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/autonomy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/deploy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/ingest"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// ResolveAutonomy builds an autonomy.Config starting from autonomy's own
// defaults and overriding only the fields the configuration surface (§6)
// exposes, so every other tuning knob stays at the value the Autonomy
// Controller itself considers safe.
func (c *Config) ResolveAutonomy() autonomy.Config {
	cfg := autonomy.DefaultConfig()
	cfg.MaxCIDRPrefix = c.Autonomy.MaxCIDR
	cfg.RateLimitPerMinute = c.Autonomy.RatePerMin
	cfg.CircuitBreakerMax = c.Autonomy.Breaker.Count
	cfg.CircuitBreakerWindow = time.Duration(c.Autonomy.Breaker.WindowSeconds) * time.Second
	if c.NeverBlock != nil {
		cfg.ManagementSubjects = append([]string(nil), c.NeverBlock.Entries...)
	}
	return cfg
}

// AutonomyLevel parses the configured level string into an autonomy.Level.
func (c *Config) AutonomyLevel() autonomy.Level {
	return autonomy.Level(c.Autonomy.Level)
}

// ResolveDeploy builds a deploy.Config starting from deploy's own defaults
// and overriding only the fields §6 exposes.
func (c *Config) ResolveDeploy() deploy.Config {
	cfg := deploy.DefaultConfig()
	cfg.HeartbeatTimeout = time.Duration(c.Deploy.Heartbeat.TimeoutSeconds) * time.Second
	cfg.LockTimeout = time.Duration(c.Deploy.LockTimeoutSeconds) * time.Second
	return cfg
}

// ResolveHeartbeatProbe builds the ReachabilityProbe every Apply call
// passes to the Deployment Controller (§6 "deploy.heartbeat.probe").
// Inbound reachability has no generic implementation — it necessarily calls
// back through an environment-specific vantage point — so it stays disabled
// until an operator wires one in.
func (c *Config) ResolveHeartbeatProbe() deploy.ReachabilityProbe {
	return deploy.ReachabilityProbe{
		Outbound: deploy.ICMPProbe{
			Target:  c.Deploy.Heartbeat.Probe,
			Timeout: time.Second,
		},
	}
}

// ResolveNeverBlock lifts the configured never_block.entries[] into store
// entries keyed by CIDR/address (§6 "never_block.entries[]"). Each entry
// must parse as an address or CIDR; management_discovery augments this set
// at runtime with addresses the service discovers itself, so it is not
// resolved here.
func (c *Config) ResolveNeverBlock() ([]store.NeverBlockEntry, error) {
	entries := make([]store.NeverBlockEntry, 0, len(c.NeverBlock.Entries))
	for _, v := range c.NeverBlock.Entries {
		kind := "cidr"
		if _, err := netip.ParseAddr(v); err == nil {
			kind = "address"
		} else if _, err := netip.ParsePrefix(v); err != nil {
			return nil, errors.Errorf(errors.KindValidation, "never_block.entries: %q is not a valid address or CIDR", v)
		}
		entries = append(entries, store.NeverBlockEntry{Value: v, Kind: kind})
	}
	return entries, nil
}

// RetentionWindow returns the configured store retention as a Duration. The
// daemon's periodic maintenance loop subtracts this from the current time to
// get the cutoff it passes to store.Prune.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Store.RetainDays) * 24 * time.Hour
}

// ResolveSources builds one FileTailSource per enabled source.* block,
// wiring cursor persistence through st (§6 "source.<name>.*", §4.5).
func (c *Config) ResolveSources(st *store.Store) ([]*ingest.FileTailSource, error) {
	out := make([]*ingest.FileTailSource, 0, len(c.Sources))
	for _, s := range c.Sources {
		if !s.Enabled {
			continue
		}
		parser, ok := ingest.ParserByName(s.Parser)
		if !ok {
			return nil, errors.Errorf(errors.KindValidation, "source.%s.parser: unrecognized parser %q", s.Name, s.Parser)
		}
		out = append(out, &ingest.FileTailSource{
			SourceName: s.Name,
			Path:       s.Path,
			Parse:      parser,
			Cursors:    st,
		})
	}
	return out, nil
}

// ResolveFeeds builds one FeedSource per feed.* block (§6 "feeds.<name>.*").
func (c *Config) ResolveFeeds() []*ingest.FeedSource {
	out := make([]*ingest.FeedSource, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		out = append(out, &ingest.FeedSource{
			SourceName: f.Name,
			URL:        f.URL,
			Format:     ingest.FeedFormat(f.Format),
			Interval:   time.Duration(f.IntervalSeconds) * time.Second,
			AgeMax:     time.Duration(f.AgeMaxSeconds) * time.Second,
		})
	}
	return out
}
