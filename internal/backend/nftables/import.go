// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nftables

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

var (
	chainLineRe = regexp.MustCompile(`^\s*chain\s+(\w+)\s*\{`)
	saddrRe     = regexp.MustCompile(`ip6?\s+saddr\s+(\S+)`)
	daddrRe     = regexp.MustCompile(`ip6?\s+daddr\s+(\S+)`)
	protoRe     = regexp.MustCompile(`\b(tcp|udp|icmp)\b`)
	dportRe     = regexp.MustCompile(`dport\s+(\d+)`)
	sportRe     = regexp.MustCompile(`sport\s+(\d+)`)
	verdictRe   = regexp.MustCompile(`\b(accept|drop|reject)\b`)
	commentRe   = regexp.MustCompile(`comment\s+"([^"]*)"`)
	handleRe    = regexp.MustCompile(`#\s*handle\s+(\d+)\s*$`)
)

func chainToDirection(chain string) policy.Direction {
	switch chain {
	case "output":
		return policy.DirectionOutput
	case "forward":
		return policy.DirectionForward
	default:
		return policy.DirectionInput
	}
}

// importFromListing best-effort lifts a `nft -a list table` rendering back
// into policy.Rule values. Any rule whose verdict or match clauses it cannot
// confidently interpret is skipped and reported as a warning, never
// silently dropped (§4.2 import_rules()).
func importFromListing(listing string) ([]policy.Rule, []string, error) {
	rules, _, warnings, err := importWithHandles(listing)
	return rules, warnings, err
}

// importWithHandles is importFromListing plus each surviving rule's
// kernel-assigned handle (the `# handle N` suffix `nft -a list` appends to
// every rule line), parallel to the returned rule slice. ListRules uses this
// so ApplyDelta's removal path has a real handle to delete by, instead of
// the placeholder "handle 0" that can never match a live rule.
func importWithHandles(listing string) ([]policy.Rule, []string, []string, error) {
	var rules []policy.Rule
	var handles []string
	var warnings []string

	chain := "input"
	for _, line := range strings.Split(listing, "\n") {
		if m := chainLineRe.FindStringSubmatch(line); m != nil {
			chain = m[1]
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "}" || strings.HasSuffix(trimmed, "{") ||
			strings.HasPrefix(trimmed, "type ") || strings.HasPrefix(trimmed, "policy ") {
			continue
		}
		if !verdictRe.MatchString(trimmed) {
			warnings = append(warnings, fmt.Sprintf("skipped rule in chain %q with no accept/drop/reject verdict: %s", chain, trimmed))
			continue
		}

		verdict := verdictRe.FindString(trimmed)
		r := policy.Rule{
			ID:        uuid.NewString(),
			Family:    policy.FamilyBoth,
			Direction: chainToDirection(chain),
			Origin:    policy.OriginImported,
		}
		switch verdict {
		case "accept":
			r.Action = policy.ActionAccept
		case "reject":
			r.Action = policy.ActionReject
		default:
			r.Action = policy.ActionDrop
		}

		if m := saddrRe.FindStringSubmatch(trimmed); m != nil {
			r.Source = m[1]
		}
		if m := daddrRe.FindStringSubmatch(trimmed); m != nil {
			r.Destination = m[1]
		}
		if m := protoRe.FindStringSubmatch(trimmed); m != nil {
			r.Protocol = policy.Protocol(m[1])
		}
		if m := dportRe.FindStringSubmatch(trimmed); m != nil {
			p, _ := strconv.Atoi(m[1])
			r.DestinationPort = policy.PortSpec{Single: p}
		}
		if m := sportRe.FindStringSubmatch(trimmed); m != nil {
			p, _ := strconv.Atoi(m[1])
			r.SourcePort = policy.PortSpec{Single: p}
		}
		if m := commentRe.FindStringSubmatch(trimmed); m != nil {
			r.Comment = m[1]
		}
		if strings.Contains(trimmed, "limit rate") {
			warnings = append(warnings, fmt.Sprintf("imported rule in chain %q carries a rate limit this importer does not parse; rate limit dropped", chain))
		}
		if strings.Contains(trimmed, "ct state") {
			r.Stateful = true
		}

		if err := r.Validate(); err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped unparseable rule in chain %q: %v (%q)", chain, err, trimmed))
			continue
		}
		rules = append(rules, r)
		handle := ""
		if m := handleRe.FindStringSubmatch(trimmed); m != nil {
			handle = m[1]
		}
		handles = append(handles, handle)
	}
	return rules, handles, warnings, nil
}
