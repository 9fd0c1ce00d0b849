// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy is the backend-neutral rule model (§3, §4.1). It never
// produces backend text itself; rendering is always delegated to the active
// backend.Adapter.
package policy

import (
	"net/netip"
	"strings"
	"time"
)

// Family selects which IP family a rule matches.
type Family string

const (
	FamilyIPv4 Family = "ipv4"
	FamilyIPv6 Family = "ipv6"
	FamilyBoth Family = "both"
)

// Direction selects which traffic direction a rule matches.
type Direction string

const (
	DirectionInput   Direction = "input"
	DirectionOutput  Direction = "output"
	DirectionForward Direction = "forward"
)

// Action is the verdict a matching packet receives. Accept is restricted to
// user-origin rules (§3 invariant); autonomous rules are always Drop or
// Reject.
type Action string

const (
	ActionDrop   Action = "drop"
	ActionReject Action = "reject"
	ActionAccept Action = "accept"
)

// Protocol constrains the transport protocol a rule matches.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolICMP Protocol = "icmp"
	ProtocolAny  Protocol = "any"
)

// Origin records who/what produced a rule, and gates which actions it may
// carry (§3 invariant: action=accept requires origin=user).
type Origin string

const (
	OriginUser          Origin = "user"
	OriginDaemonAuto    Origin = "daemon-auto"
	OriginDaemonPropose Origin = "daemon-propose"
	OriginImported      Origin = "imported"
)

// PortRange is an inclusive [Start, End] port range.
type PortRange struct {
	Start int
	End   int
}

// PortSpec expresses a port match as exactly one of: unset (any port),
// a single port, a contiguous range, or an explicit list. List and Range
// are mutually exclusive (§4.1).
type PortSpec struct {
	Single int
	Range  *PortRange
	List   []int
}

// IsZero reports whether the port spec constrains nothing (matches any port).
func (p PortSpec) IsZero() bool {
	return p.Single == 0 && p.Range == nil && len(p.List) == 0
}

// Canonical returns a copy with its List sorted and deduplicated, for
// equality/comparison purposes (§4.1).
func (p PortSpec) Canonical() PortSpec {
	if len(p.List) == 0 {
		return p
	}
	out := append([]int(nil), p.List...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	dedup := out[:0]
	for i, v := range out {
		if i == 0 || v != dedup[len(dedup)-1] {
			dedup = append(dedup, v)
		}
	}
	return PortSpec{Single: p.Single, Range: p.Range, List: dedup}
}

// RateLimit bounds the number of matches permitted per time window.
type RateLimit struct {
	Count  int
	Window time.Duration
}

// Rule is the backend-neutral policy intent described in §3. Its ID is
// immutable once assigned.
type Rule struct {
	ID              string
	Family          Family
	Direction       Direction
	Action          Action
	Source          string // address, CIDR, or symbolic set name; optional
	Destination     string // same; optional
	Protocol        Protocol
	SourcePort      PortSpec
	DestinationPort PortSpec
	Stateful        bool
	RateLimit       *RateLimit
	Log             bool
	Priority        int
	ExpiresAt       *time.Time
	Origin          Origin
	Comment         string
}

// Canonical returns a copy of r with fields normalized for deduplication
// comparison (§4.1): sorted port lists, normalized CIDRs, case-folded
// protocol.
func (r Rule) Canonical() Rule {
	c := r
	c.Protocol = Protocol(strings.ToLower(string(r.Protocol)))
	c.SourcePort = r.SourcePort.Canonical()
	c.DestinationPort = r.DestinationPort.Canonical()
	c.Source = canonicalAddr(r.Source)
	c.Destination = canonicalAddr(r.Destination)
	return c
}

func canonicalAddr(addr string) string {
	if addr == "" {
		return ""
	}
	if p, err := netip.ParsePrefix(addr); err == nil {
		return p.Masked().String()
	}
	if ip, err := netip.ParseAddr(addr); err == nil {
		return ip.String()
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// Equal reports whether r and other match the same traffic after
// canonicalization (§4.1: equality is over match fields only, not over ID,
// comment, log, or origin).
func (r Rule) Equal(other Rule) bool {
	a, b := r.Canonical(), other.Canonical()
	return a.Family == b.Family &&
		a.Direction == b.Direction &&
		a.Protocol == b.Protocol &&
		a.Source == b.Source &&
		a.Destination == b.Destination &&
		portSpecEqual(a.SourcePort, b.SourcePort) &&
		portSpecEqual(a.DestinationPort, b.DestinationPort) &&
		a.Stateful == b.Stateful &&
		rateLimitEqual(a.RateLimit, b.RateLimit)
}

func portSpecEqual(a, b PortSpec) bool {
	if a.Single != b.Single || !rangeEqual(a.Range, b.Range) || len(a.List) != len(b.List) {
		return false
	}
	for i := range a.List {
		if a.List[i] != b.List[i] {
			return false
		}
	}
	return true
}

func rangeEqual(a, b *PortRange) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func rateLimitEqual(a, b *RateLimit) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
