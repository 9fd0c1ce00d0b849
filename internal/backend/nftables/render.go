// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nftables is the reference backend.Adapter implementation, driving
// the nft(8) binary for atomic script application (§4.4), ruleset listing
// and the generation-id hash, and the google/nftables netlink client for the
// reachability health check.
package nftables

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/backend"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// quote returns s unquoted if it is a bare nft identifier, else a quoted
// string literal.
func quote(s string) string {
	if identifierRegex.MatchString(s) {
		return s
	}
	return strconv.Quote(s)
}

func directionToChain(d policy.Direction) string {
	switch d {
	case policy.DirectionInput:
		return "input"
	case policy.DirectionOutput:
		return "output"
	case policy.DirectionForward:
		return "forward"
	default:
		return "input"
	}
}

func familyToNft(f policy.Family) string {
	switch f {
	case policy.FamilyIPv4:
		return "ip"
	case policy.FamilyIPv6:
		return "ip6"
	default:
		return "inet"
	}
}

func actionToVerdict(a policy.Action) string {
	switch a {
	case policy.ActionAccept:
		return "accept"
	case policy.ActionReject:
		return "reject"
	default:
		return "drop"
	}
}

func portExpr(field string, p policy.PortSpec) string {
	switch {
	case p.Range != nil:
		return fmt.Sprintf("%s %d-%d", field, p.Range.Start, p.Range.End)
	case len(p.List) > 0:
		parts := make([]string, len(p.List))
		for i, v := range p.List {
			parts[i] = strconv.Itoa(v)
		}
		return fmt.Sprintf("%s { %s }", field, strings.Join(parts, ", "))
	case p.Single != 0:
		return fmt.Sprintf("%s %d", field, p.Single)
	default:
		return ""
	}
}

// renderMatch builds the match-expression portion of a statement, excluding
// the trailing verdict, for a canonicalized rule.
func renderMatch(r policy.Rule) string {
	var parts []string

	if r.Source != "" {
		parts = append(parts, fmt.Sprintf("%s saddr %s", familyKeyword(r.Family, r.Source), r.Source))
	}
	if r.Destination != "" {
		parts = append(parts, fmt.Sprintf("%s daddr %s", familyKeyword(r.Family, r.Destination), r.Destination))
	}
	if r.Protocol != "" && r.Protocol != policy.ProtocolAny {
		parts = append(parts, string(r.Protocol))
		if expr := portExpr("sport", r.SourcePort); expr != "" {
			parts = append(parts, expr)
		}
		if expr := portExpr("dport", r.DestinationPort); expr != "" {
			parts = append(parts, expr)
		}
	}
	if r.Stateful {
		parts = append(parts, "ct state new,established")
	}
	if r.RateLimit != nil {
		parts = append(parts, fmt.Sprintf("limit rate %d/%s", r.RateLimit.Count, nftWindow(r.RateLimit.Window.Seconds())))
	}
	if r.Log {
		parts = append(parts, fmt.Sprintf("log prefix %q", "afo-"+r.ID[:minInt(8, len(r.ID))]))
	}
	return strings.Join(parts, " ")
}

func nftWindow(seconds float64) string {
	switch {
	case seconds <= 1:
		return "second"
	case seconds <= 60:
		return "minute"
	case seconds <= 3600:
		return "hour"
	default:
		return "day"
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// familyKeyword chooses the saddr/daddr keyword family based on whether the
// address itself looks like an IPv6 literal, falling back to the rule's
// declared family.
func familyKeyword(fam policy.Family, addr string) string {
	if strings.Contains(addr, ":") {
		return "ip6"
	}
	if fam == policy.FamilyIPv6 {
		return "ip6"
	}
	return "ip"
}

// Render builds the nft statement text for a single canonicalized rule
// (§4.2 render()). The statement is a bare rule body; Adapter.buildScript
// wraps it in the table/chain/rule add command.
func Render(rule policy.Rule) (backend.RenderedRule, error) {
	c := rule.Canonical()
	if err := rule.Validate(); err != nil {
		return backend.RenderedRule{}, errors.Wrap(err, errors.KindValidation, "render: invalid rule")
	}

	match := renderMatch(c)
	verdict := actionToVerdict(c.Action)

	var text string
	if match == "" {
		text = verdict
	} else {
		text = fmt.Sprintf("%s %s", match, verdict)
	}
	if c.Comment != "" {
		text = fmt.Sprintf("%s comment %q", text, c.Comment)
	}

	return backend.RenderedRule{
		BackendName: Name,
		Text:        text,
		SourceRule:  rule,
	}, nil
}
