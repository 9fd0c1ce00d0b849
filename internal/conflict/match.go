// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package conflict implements the match-set algebra and shadow/redundancy/
// contradiction/overlap analysis of §4.3. It is pure with respect to the
// store: Analyze never mutates anything, only reports findings.
package conflict

import (
	"net/netip"
	"strings"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

// addrSet describes the address dimension of a rule's match-set: either
// "any" (empty string, matches everything), a single CIDR prefix, or an
// opaque symbolic set name the analyzer cannot resolve.
type addrSet struct {
	any     bool
	prefix  netip.Prefix
	symbol  string
	unknown bool
}

func parseAddrSet(addr string) addrSet {
	if addr == "" {
		return addrSet{any: true}
	}
	if strings.HasPrefix(addr, "@") {
		return addrSet{symbol: addr, unknown: true}
	}
	if p, err := netip.ParsePrefix(addr); err == nil {
		return addrSet{prefix: p}
	}
	if ip, err := netip.ParseAddr(addr); err == nil {
		bits := 32
		if ip.Is6() {
			bits = 128
		}
		p, _ := ip.Prefix(bits)
		return addrSet{prefix: p}
	}
	return addrSet{unknown: true}
}

// overlaps reports whether two address sets can both match the same packet.
// Symbolic sets the analyzer cannot resolve are treated conservatively: they
// are reported as an unknown overlap rather than assumed disjoint, so the
// analyzer never silently misses a real conflict.
func (a addrSet) overlaps(b addrSet) (overlap bool, unknown bool) {
	if a.any || b.any {
		return true, false
	}
	if a.unknown || b.unknown {
		return true, true
	}
	return a.prefix.Overlaps(b.prefix), false
}

// subsetOf reports whether every address a matches is also matched by b.
func (a addrSet) subsetOf(b addrSet) (subset bool, unknown bool) {
	if b.any {
		return true, false
	}
	if a.any {
		return false, false
	}
	if a.unknown || b.unknown {
		return false, true
	}
	return b.prefix.Contains(a.prefix.Addr()) && a.prefix.Bits() >= b.prefix.Bits(), false
}

// portInterval is an inclusive port range.
type portInterval struct{ lo, hi int }

// AddrsOverlap reports whether two address expressions (CIDR, single
// address, or "@"-prefixed symbolic set name) can match the same host.
// Unresolved symbolic sets are treated conservatively as overlapping, so
// callers like the Deployment Controller's NeverBlock pre-check and the
// Autonomy Controller's self-lockout gate never silently miss a real
// collision just because a set couldn't be resolved.
func AddrsOverlap(a, b string) bool {
	overlap, _ := parseAddrSet(a).overlaps(parseAddrSet(b))
	return overlap
}

func portSetFromSpec(p policy.PortSpec) []portInterval {
	switch {
	case p.Range != nil:
		return []portInterval{{p.Range.Start, p.Range.End}}
	case len(p.List) > 0:
		out := make([]portInterval, len(p.List))
		for i, v := range p.List {
			out[i] = portInterval{v, v}
		}
		return out
	case p.Single != 0:
		return []portInterval{{p.Single, p.Single}}
	default:
		return []portInterval{{0, 65535}} // any port
	}
}

func portsOverlap(a, b policy.PortSpec) bool {
	as, bs := portSetFromSpec(a), portSetFromSpec(b)
	for _, x := range as {
		for _, y := range bs {
			if x.lo <= y.hi && y.lo <= x.hi {
				return true
			}
		}
	}
	return false
}

// portsSubsetOf reports whether every port a matches is matched by b.
func portsSubsetOf(a, b policy.PortSpec) bool {
	as, bs := portSetFromSpec(a), portSetFromSpec(b)
	for _, x := range as {
		covered := false
		for _, y := range bs {
			if y.lo <= x.lo && x.hi <= y.hi {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

func protoOverlaps(a, b policy.Protocol) bool {
	if a == policy.ProtocolAny || a == "" || b == policy.ProtocolAny || b == "" {
		return true
	}
	return a == b
}

func familyOverlaps(a, b policy.Family) bool {
	if a == policy.FamilyBoth || b == policy.FamilyBoth {
		return true
	}
	return a == b
}

// matchSet is the full constraint tuple a canonicalized rule contributes,
// per the dimensions named in §4.3: family, direction, src/dst address sets,
// protocol, src/dst port sets, stateful, rate.
type matchSet struct {
	family    policy.Family
	direction policy.Direction
	srcAddr   addrSet
	dstAddr   addrSet
	protocol  policy.Protocol
	srcPort   policy.PortSpec
	dstPort   policy.PortSpec
	stateful  bool
}

func matchSetOf(r policy.Rule) matchSet {
	c := r.Canonical()
	return matchSet{
		family:    c.Family,
		direction: c.Direction,
		srcAddr:   parseAddrSet(c.Source),
		dstAddr:   parseAddrSet(c.Destination),
		protocol:  c.Protocol,
		srcPort:   c.SourcePort,
		dstPort:   c.DestinationPort,
		stateful:  c.Stateful,
	}
}

// overlaps reports whether the intersection of every dimension is non-empty
// (§4.3: "two rules overlap iff the intersection of every dimension is
// non-empty"). unknown is true if the result rests on an unresolved
// symbolic address set.
func (m matchSet) overlaps(o matchSet) (overlap bool, unknown bool) {
	if m.direction != o.direction {
		return false, false
	}
	if !familyOverlaps(m.family, o.family) {
		return false, false
	}
	if !protoOverlaps(m.protocol, o.protocol) {
		return false, false
	}
	if !portsOverlap(m.srcPort, o.srcPort) || !portsOverlap(m.dstPort, o.dstPort) {
		return false, false
	}
	srcOK, srcUnknown := m.srcAddr.overlaps(o.srcAddr)
	if !srcOK {
		return false, false
	}
	dstOK, dstUnknown := m.dstAddr.overlaps(o.dstAddr)
	if !dstOK {
		return false, false
	}
	return true, srcUnknown || dstUnknown
}

// subsetOf reports whether m's match-set is entirely contained in o's
// (§4.3: "candidate's match-set ⊆ other's match-set").
func (m matchSet) subsetOf(o matchSet) (subset bool, unknown bool) {
	if m.direction != o.direction {
		return false, false
	}
	if o.family != policy.FamilyBoth && m.family != o.family {
		return false, false
	}
	if o.protocol != policy.ProtocolAny && o.protocol != "" && m.protocol != o.protocol {
		return false, false
	}
	if !portsSubsetOf(m.srcPort, o.srcPort) || !portsSubsetOf(m.dstPort, o.dstPort) {
		return false, false
	}
	srcOK, srcUnknown := m.srcAddr.subsetOf(o.srcAddr)
	if !srcOK {
		return false, srcUnknown
	}
	dstOK, dstUnknown := m.dstAddr.subsetOf(o.dstAddr)
	if !dstOK {
		return false, dstUnknown
	}
	return true, srcUnknown || dstUnknown
}
