// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
)

// Load reads and decodes the HCL configuration file at path, then applies
// defaults and runs Validate. An unrecognized block or attribute is a
// decode-time error, not a warning: the decoder's generated schema only
// knows the fields declared on Config and its children (§6 "unknown keys
// are errors").
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSystem, "failed to read config file")
	}
	return Parse(data, path)
}

// Parse decodes HCL source already in memory. Load calls it after reading
// the file (the HUP reload path goes through Load); tests call it directly.
func Parse(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.Errorf(errors.KindValidation, "failed to parse config: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, errors.Errorf(errors.KindValidation, "failed to decode config: %s", diags.Error())
	}

	cfg.applyDefaults()
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errors.Errorf(errors.KindValidation, "config validation failed: %s", errs.Error())
	}
	return &cfg, nil
}

// applyDefaults fills in every block and scalar the spec leaves optional,
// so the rest of the orchestrator never has to special-case a nil block.
func (c *Config) applyDefaults() {
	if c.Autonomy == nil {
		c.Autonomy = &AutonomyConfig{}
	}
	if c.Autonomy.Level == "" {
		c.Autonomy.Level = "monitor"
	}
	if c.Autonomy.MaxCIDR == 0 {
		c.Autonomy.MaxCIDR = 24
	}
	if c.Autonomy.RatePerMin == 0 {
		c.Autonomy.RatePerMin = 10
	}
	if c.Autonomy.Breaker == nil {
		c.Autonomy.Breaker = &BreakerConfig{}
	}
	if c.Autonomy.Breaker.Count == 0 {
		c.Autonomy.Breaker.Count = 5
	}
	if c.Autonomy.Breaker.WindowSeconds == 0 {
		c.Autonomy.Breaker.WindowSeconds = 600
	}

	if c.Deploy == nil {
		c.Deploy = &DeployConfig{}
	}
	if c.Deploy.Heartbeat == nil {
		c.Deploy.Heartbeat = &HeartbeatConfig{}
	}
	if c.Deploy.Heartbeat.TimeoutSeconds == 0 {
		c.Deploy.Heartbeat.TimeoutSeconds = 120
	}
	if c.Deploy.Heartbeat.Probe == "" {
		c.Deploy.Heartbeat.Probe = "1.1.1.1"
	}
	if c.Deploy.LockTimeoutSeconds == 0 {
		c.Deploy.LockTimeoutSeconds = 30
	}

	if c.Store.RetainDays == 0 {
		c.Store.RetainDays = 90
	}

	if c.NeverBlock == nil {
		c.NeverBlock = &NeverBlockConfig{ManagementDiscovery: true}
	}
	if c.NeverBlock.ResolveIntervalSeconds == 0 {
		c.NeverBlock.ResolveIntervalSeconds = 300
	}

	for i := range c.Sources {
		if c.Sources[i].Budget == 0 {
			c.Sources[i].Budget = 1000
		}
	}
	for i := range c.Feeds {
		if c.Feeds[i].IntervalSeconds == 0 {
			c.Feeds[i].IntervalSeconds = 3600
		}
		if c.Feeds[i].AgeMaxSeconds == 0 {
			c.Feeds[i].AgeMaxSeconds = 7 * 24 * 3600
		}
		if c.Feeds[i].Format == "" {
			c.Feeds[i].Format = formatFromURL(c.Feeds[i].URL)
		}
	}
}

// formatFromURL guesses a feed's wire format from its URL's extension when
// feed.format is omitted, defaulting to CSV for anything unrecognized.
func formatFromURL(url string) string {
	switch {
	case strings.HasSuffix(url, ".json"):
		return "json"
	case strings.HasSuffix(url, ".yaml"), strings.HasSuffix(url, ".yml"):
		return "yaml"
	default:
		return "csv"
	}
}
