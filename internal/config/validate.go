// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/ingest"
)

// ValidationError is one field-level configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of ValidationError, returned in full
// rather than failing fast so an operator sees every problem in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	out := msgs[0]
	for _, m := range msgs[1:] {
		out += "; " + m
	}
	return out
}

func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks the configuration against the recognized surface's
// constraints (§6, §4.7). Call after applyDefaults so zero-value fields
// have already been filled in.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, c.validateBackend()...)
	errs = append(errs, c.validateAutonomy()...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateSources()...)
	errs = append(errs, c.validateFeeds()...)

	return errs
}

func (c *Config) validateBackend() ValidationErrors {
	if c.Backend.Name == "" {
		return ValidationErrors{{Field: "backend.name", Message: "must be set"}}
	}
	return nil
}

func (c *Config) validateAutonomy() ValidationErrors {
	var errs ValidationErrors
	switch c.Autonomy.Level {
	case "monitor", "cautious", "aggressive":
	default:
		errs = append(errs, ValidationError{Field: "autonomy.level",
			Message: fmt.Sprintf("must be one of monitor, cautious, aggressive, got %q", c.Autonomy.Level)})
	}
	if c.Autonomy.MaxCIDR < 0 || c.Autonomy.MaxCIDR > 32 {
		errs = append(errs, ValidationError{Field: "autonomy.max_cidr", Message: "must be between 0 and 32"})
	}
	if c.Autonomy.RatePerMin <= 0 {
		errs = append(errs, ValidationError{Field: "autonomy.rate_per_min", Message: "must be positive"})
	}
	if c.Autonomy.Breaker.Count <= 0 {
		errs = append(errs, ValidationError{Field: "autonomy.breaker.count", Message: "must be positive"})
	}
	if c.Autonomy.Breaker.WindowSeconds <= 0 {
		errs = append(errs, ValidationError{Field: "autonomy.breaker.window_seconds", Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateStore() ValidationErrors {
	var errs ValidationErrors
	if c.Store.Path == "" {
		errs = append(errs, ValidationError{Field: "store.path", Message: "must be set"})
	}
	if c.Store.RetainDays <= 0 {
		errs = append(errs, ValidationError{Field: "store.retain_days", Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateSources() ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			errs = append(errs, ValidationError{Field: "source", Message: "name label must be set"})
			continue
		}
		if seen[s.Name] {
			errs = append(errs, ValidationError{Field: "source." + s.Name, Message: "duplicate source name"})
		}
		seen[s.Name] = true
		if s.Path == "" {
			errs = append(errs, ValidationError{Field: "source." + s.Name + ".path", Message: "must be set"})
		}
		if s.Parser == "" {
			errs = append(errs, ValidationError{Field: "source." + s.Name + ".parser", Message: "must be set"})
		} else if _, ok := ingest.ParserByName(s.Parser); !ok {
			errs = append(errs, ValidationError{Field: "source." + s.Name + ".parser", Message: fmt.Sprintf("unrecognized parser %q", s.Parser)})
		}
	}
	return errs
}

func (c *Config) validateFeeds() ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool, len(c.Feeds))
	for _, f := range c.Feeds {
		if f.Name == "" {
			errs = append(errs, ValidationError{Field: "feed", Message: "name label must be set"})
			continue
		}
		if seen[f.Name] {
			errs = append(errs, ValidationError{Field: "feed." + f.Name, Message: "duplicate feed name"})
		}
		seen[f.Name] = true
		if f.URL == "" {
			errs = append(errs, ValidationError{Field: "feed." + f.Name + ".url", Message: "must be set"})
		}
		switch f.Format {
		case "csv", "json", "yaml":
		default:
			errs = append(errs, ValidationError{Field: "feed." + f.Name + ".format",
				Message: fmt.Sprintf("must be one of csv, json, yaml, got %q", f.Format)})
		}
	}
	return errs
}
