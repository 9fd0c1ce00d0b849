// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package deploy

import (
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/conflict"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// neverBlockMatch reports whether rule's source or destination intersects
// any NeverBlockEntry (§4.4 apply step 3: the Controller must refuse to
// apply a rule that would block a never-block target, regardless of the
// rule's origin).
func neverBlockMatch(rule policy.Rule, entries []store.NeverBlockEntry) (bool, string) {
	c := rule.Canonical()
	for _, e := range entries {
		if e.Kind == "hostname" || e.Kind == "interface" {
			for _, addr := range e.Resolved {
				if conflict.AddrsOverlap(c.Source, addr) || conflict.AddrsOverlap(c.Destination, addr) {
					return true, e.Value
				}
			}
			continue
		}
		if conflict.AddrsOverlap(c.Source, e.Value) || conflict.AddrsOverlap(c.Destination, e.Value) {
			return true, e.Value
		}
	}
	return false, ""
}
