// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"fmt"
	"time"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

// ChangeKind classifies one entry in a RulesetDiff.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeChanged ChangeKind = "changed"
)

// Change is one rule-level difference between two ruleset images, surfaced
// to operators reviewing a proposal or auditing a deployment.
type Change struct {
	Kind    ChangeKind
	RuleID  string
	Summary string
}

// RulesetDiff summarizes the difference between a before/after ruleset
// image as one Change per affected rule, each tagged with its kind; the
// order of Changes is not defined (SPEC_FULL supplemented diff/change-summary
// feature).
type RulesetDiff struct {
	Changes []Change
}

// DiffRulesets computes the rule-level difference between before and after,
// matching by canonicalized match-set rather than ID so an imported rule
// and a user-authored equivalent are recognized as unchanged.
func DiffRulesets(before, after []policy.Rule) RulesetDiff {
	beforeByKey := make(map[string]policy.Rule, len(before))
	for _, r := range before {
		beforeByKey[diffKey(r)] = r
	}
	afterByKey := make(map[string]policy.Rule, len(after))
	for _, r := range after {
		afterByKey[diffKey(r)] = r
	}

	var diff RulesetDiff
	for key, b := range beforeByKey {
		a, stillPresent := afterByKey[key]
		if !stillPresent {
			diff.Changes = append(diff.Changes, Change{
				Kind: ChangeRemoved, RuleID: b.ID,
				Summary: fmt.Sprintf("removed %s rule matching %s -> %s", b.Action, b.Source, b.Destination),
			})
			continue
		}
		if b.Priority != a.Priority || !expiresEqual(b.ExpiresAt, a.ExpiresAt) {
			diff.Changes = append(diff.Changes, Change{
				Kind: ChangeChanged, RuleID: a.ID,
				Summary: "priority or expiry changed",
			})
		}
	}
	for key, a := range afterByKey {
		if _, existed := beforeByKey[key]; !existed {
			diff.Changes = append(diff.Changes, Change{
				Kind: ChangeAdded, RuleID: a.ID,
				Summary: fmt.Sprintf("added %s rule matching %s -> %s", a.Action, a.Source, a.Destination),
			})
		}
	}
	return diff
}

func expiresEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// diffKey is the canonical-match-set identity used to correlate rules
// across two ruleset images, ignoring ID, comment, and origin.
func diffKey(r policy.Rule) string {
	c := r.Canonical()
	return fmt.Sprintf("%s|%s|%s|%s|%s|%v|%v|%s|%v",
		c.Family, c.Direction, c.Action, c.Source, c.Destination, c.SourcePort, c.DestinationPort, c.Protocol, c.Stateful)
}
