// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conflict

import (
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

// FindingKind classifies a single conflict-analyzer finding (§4.3).
type FindingKind string

const (
	// KindShadow: an earlier-evaluated rule fully subsumes the candidate's
	// match-set, so the candidate can never fire.
	KindShadow FindingKind = "shadow"
	// KindShadowedByLater: only meaningful under last-match evaluation
	// order, where a later rule overrides an earlier one it subsumes.
	KindShadowedByLater FindingKind = "shadowed-by-later"
	// KindRedundant: an exact duplicate of another rule after
	// canonicalization (same match-set and action).
	KindRedundant FindingKind = "redundant"
	// KindContradiction: identical match-set, opposite action.
	KindContradiction FindingKind = "contradiction"
	// KindOverlap: partial intersection with a differing action, that
	// doesn't fully subsume either rule.
	KindOverlap FindingKind = "overlap"
)

// Finding is one conflict-analyzer result (§4.3).
type Finding struct {
	Kind         FindingKind
	CandidateID  string
	OtherID      string
	OtherOrigin  policy.Origin
	UnknownBasis bool // true if this finding rests on an unresolved symbolic address set
	Explanation  string
}

// Report is the complete output of analyzing one candidate rule against a
// ruleset (§4.3 ConflictReport).
type Report struct {
	Findings []Finding
}

// HasUserOriginShadowOrContradiction reports whether any finding is a
// shadow or contradiction against a rule whose origin is "user" — the
// condition the Autonomy Controller must refuse to deploy over (§4.3, §8
// scenario 4).
func (r Report) HasUserOriginShadowOrContradiction() bool {
	for _, f := range r.Findings {
		if (f.Kind == KindShadow || f.Kind == KindContradiction) && f.OtherOrigin == policy.OriginUser {
			return true
		}
	}
	return false
}

// Analyze compares candidate against existing, an ordered ruleset as
// reported by Adapter.ListRules (existing[i] is evaluated before
// existing[i+1]), under the given evaluation order (§4.3). It never mutates
// anything.
func Analyze(candidate policy.Rule, existing []policy.Rule, order backend.EvaluationOrder) Report {
	cm := matchSetOf(candidate)
	var findings []Finding

	for i, other := range existing {
		if other.ID == candidate.ID {
			continue
		}
		om := matchSetOf(other)

		overlap, unknown := cm.overlaps(om)
		if !overlap {
			continue
		}

		sameAction := candidate.Action == other.Action
		exactDup := candidate.Canonical().Equal(other)

		switch {
		case exactDup && sameAction:
			findings = append(findings, Finding{
				Kind: KindRedundant, CandidateID: candidate.ID, OtherID: other.ID,
				OtherOrigin: other.Origin, UnknownBasis: unknown,
				Explanation: "identical match-set and action after canonicalization",
			})
			continue
		case exactDup && !sameAction:
			findings = append(findings, Finding{
				Kind: KindContradiction, CandidateID: candidate.ID, OtherID: other.ID,
				OtherOrigin: other.Origin, UnknownBasis: unknown,
				Explanation: "identical match-set, opposing actions",
			})
			continue
		}

		candidateEvaluatedFirst := evaluatedBefore(candidate, i, existing, order)

		if subset, subUnknown := cm.subsetOf(om); subset {
			if !candidateEvaluatedFirst {
				findings = append(findings, Finding{
					Kind: KindShadow, CandidateID: candidate.ID, OtherID: other.ID,
					OtherOrigin: other.Origin, UnknownBasis: unknown || subUnknown,
					Explanation: "candidate's match-set is fully covered by an earlier-evaluated rule",
				})
			} else if order == backend.EvaluationLastMatch {
				findings = append(findings, Finding{
					Kind: KindShadowedByLater, CandidateID: candidate.ID, OtherID: other.ID,
					OtherOrigin: other.Origin, UnknownBasis: unknown || subUnknown,
					Explanation: "under last-match evaluation, a later rule would override this one",
				})
			}
			continue
		}

		if !sameAction {
			findings = append(findings, Finding{
				Kind: KindOverlap, CandidateID: candidate.ID, OtherID: other.ID,
				OtherOrigin: other.Origin, UnknownBasis: unknown,
				Explanation: "partial match-set intersection with a differing action",
			})
		}
	}

	return Report{Findings: findings}
}

// evaluatedBefore reports whether candidate is evaluated before existing[idx]
// under order. Priority is the primary key (lower Priority evaluates first);
// equal priority falls back to candidate being a new proposal, which is
// always appended after the existing rule at the same priority (§4.3 "tie-
// break on identical priority falls back to insertion order reported by
// list_rules").
func evaluatedBefore(candidate policy.Rule, idx int, existing []policy.Rule, order backend.EvaluationOrder) bool {
	other := existing[idx]
	if candidate.Priority != other.Priority {
		return candidate.Priority < other.Priority
	}
	return false
}
