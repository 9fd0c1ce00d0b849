// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads and validates the orchestrator's HCL configuration
// file (§6 "Configuration surface"). Only the options named there are
// recognized; hashicorp/hcl/v2's gohcl decoder rejects any other top-level
// block or attribute as a schema mismatch, so unknown keys are errors by
// construction rather than by a separate check.
package config

import (
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Config is the root of the orchestrator's HCL configuration file.
type Config struct {
	Backend    BackendConfig     `hcl:"backend,block"`
	Autonomy   *AutonomyConfig   `hcl:"autonomy,block"`
	Deploy     *DeployConfig     `hcl:"deploy,block"`
	Store      StoreConfig       `hcl:"store,block"`
	Sources    []SourceConfig    `hcl:"source,block"`
	NeverBlock *NeverBlockConfig `hcl:"never_block,block"`
	Feeds      []FeedConfig      `hcl:"feed,block"`
}

// BackendConfig selects the active backend adapter and its raw options
// (§6 "backend.name, backend.options.*"). Options is decoded as a raw
// cty.Value rather than a fixed Go type: each adapter's option set has its
// own shape (the nftables adapter wants strings, a future adapter might
// want numbers or nested objects), so the schema can't commit to one
// without constraining adapters it has never seen.
type BackendConfig struct {
	Name    string    `hcl:"name"`
	Options cty.Value `hcl:"options,optional"`
}

// StringOptions converts Options to a map[string]string for adapters that
// only need string-valued options (the nftables reference adapter among
// them). It fails if any value cannot convert to a string.
func (b BackendConfig) StringOptions() (map[string]string, error) {
	out := map[string]string{}
	if b.Options == cty.NilVal || b.Options.IsNull() {
		return out, nil
	}
	it := b.Options.ElementIterator()
	for it.Next() {
		k, v := it.Element()
		s, err := convert.Convert(v, cty.String)
		if err != nil {
			return nil, err
		}
		out[k.AsString()] = s.AsString()
	}
	return out, nil
}

// AutonomyConfig configures the Autonomy Controller's posture and safety
// gates (§6 "autonomy.*", §4.7).
type AutonomyConfig struct {
	Level      string         `hcl:"level,optional"`
	MaxCIDR    int            `hcl:"max_cidr,optional"`
	RatePerMin int            `hcl:"rate_per_min,optional"`
	Breaker    *BreakerConfig `hcl:"breaker,block"`
}

// BreakerConfig configures the circuit breaker (§6
// "autonomy.breaker.count", "autonomy.breaker.window"). WindowSeconds
// follows the teacher's convention of carrying durations as plain seconds
// counts in HCL rather than a *time.Duration field.
type BreakerConfig struct {
	Count         int `hcl:"count,optional"`
	WindowSeconds int `hcl:"window_seconds,optional"`
}

// DeployConfig configures the Deployment Controller's heartbeat and lock
// behavior (§6 "deploy.heartbeat.*", "deploy.lock.timeout").
type DeployConfig struct {
	Heartbeat          *HeartbeatConfig `hcl:"heartbeat,block"`
	LockTimeoutSeconds int              `hcl:"lock_timeout_seconds,optional"`
}

// HeartbeatConfig configures the probation window (§4.4). Probe is the
// outbound ICMP target the Heartbeat pings each interval to confirm the
// deployment didn't cut off the orchestrator's own connectivity.
type HeartbeatConfig struct {
	TimeoutSeconds int    `hcl:"timeout_seconds,optional"`
	Probe          string `hcl:"probe,optional"`
}

// StoreConfig configures the state database (§6 "store.path",
// "store.retain_days").
type StoreConfig struct {
	Path       string `hcl:"path"`
	RetainDays int    `hcl:"retain_days,optional"`
}

// SourceConfig declares one tailed log source (§6 "sources.<name>.*").
// Name is an HCL label, so multiple source blocks key by it rather than by
// a map, mirroring the teacher's labeled-block pattern for named entities.
type SourceConfig struct {
	Name    string `hcl:"name,label"`
	Enabled bool   `hcl:"enabled,optional"`
	Path    string `hcl:"path"`
	Parser  string `hcl:"parser"`
	Budget  int    `hcl:"budget,optional"`
}

// NeverBlockConfig lists subjects the Autonomy Controller and Deployment
// Controller must never take down (§6 "never_block.entries[]",
// "never_block.management_discovery").
type NeverBlockConfig struct {
	Entries             []string `hcl:"entries,optional"`
	ManagementDiscovery bool     `hcl:"management_discovery,optional"`
	// ManagementInterface overrides which network interface self-discovery
	// registers as a never-block entry. Left empty, discovery picks the
	// first non-loopback interface that is up and holds a global unicast
	// address.
	ManagementInterface string `hcl:"management_interface,optional"`
	// ResolveIntervalSeconds controls how often hostname/interface
	// never-block entries are re-resolved. Defaults to 300s.
	ResolveIntervalSeconds int `hcl:"resolve_interval_seconds,optional"`
}

// FeedConfig declares one threat feed (§6 "feeds.<name>.*").
type FeedConfig struct {
	Name            string `hcl:"name,label"`
	URL             string `hcl:"url"`
	Format          string `hcl:"format,optional"`
	IntervalSeconds int    `hcl:"interval_seconds,optional"`
	AgeMaxSeconds   int    `hcl:"age_max_seconds,optional"`
}
