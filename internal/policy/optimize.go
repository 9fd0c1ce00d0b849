// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import "sort"

// Dedup removes rules that are exact duplicates of an earlier rule after
// canonicalization (same match fields, same action), keeping the
// lowest-priority (earliest-evaluated) occurrence. This is a pure
// rendering-time optimization pass over a ruleset image; it never changes
// semantics, only coalesces noise before handing the image to an adapter.
func Dedup(rules []Rule) []Rule {
	ordered := append([]Rule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	out := make([]Rule, 0, len(ordered))
	for _, r := range ordered {
		dup := false
		for _, kept := range out {
			if kept.Action == r.Action && kept.Equal(r) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, r)
		}
	}
	return out
}
