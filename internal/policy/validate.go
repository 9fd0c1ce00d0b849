// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"net/netip"
	"strings"
	"unicode"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
)

// renderDelimiter is the delimiter the nftables renderer uses between
// statements; comments must not carry it, matching §4.1's escape-safety
// requirement.
const renderDelimiter = ";"

// Validate enforces the field-level invariants in §4.1: consistent
// family/address forms, port ranges, rate windows, comment safety, and
// mutually exclusive port fields.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.New(errors.KindValidation, "rule id is required")
	}

	switch r.Family {
	case FamilyIPv4, FamilyIPv6, FamilyBoth:
	default:
		return errors.Errorf(errors.KindValidation, "invalid family %q", r.Family)
	}

	switch r.Direction {
	case DirectionInput, DirectionOutput, DirectionForward:
	default:
		return errors.Errorf(errors.KindValidation, "invalid direction %q", r.Direction)
	}

	switch r.Action {
	case ActionDrop, ActionReject, ActionAccept:
	default:
		return errors.Errorf(errors.KindValidation, "invalid action %q", r.Action)
	}

	if r.Action == ActionAccept && r.Origin != OriginUser {
		return errors.New(errors.KindValidation, "action=accept requires origin=user")
	}

	switch r.Protocol {
	case ProtocolTCP, ProtocolUDP, ProtocolICMP, ProtocolAny, "":
	default:
		return errors.Errorf(errors.KindValidation, "invalid protocol %q", r.Protocol)
	}

	if err := validateAddress(r.Family, r.Source); err != nil {
		return errors.Wrap(err, errors.KindValidation, "invalid source")
	}
	if err := validateAddress(r.Family, r.Destination); err != nil {
		return errors.Wrap(err, errors.KindValidation, "invalid destination")
	}

	if err := validatePortSpec(r.SourcePort); err != nil {
		return errors.Wrap(err, errors.KindValidation, "invalid source_port")
	}
	if err := validatePortSpec(r.DestinationPort); err != nil {
		return errors.Wrap(err, errors.KindValidation, "invalid destination_port")
	}

	if r.RateLimit != nil && r.RateLimit.Window <= 0 {
		return errors.New(errors.KindValidation, "rate_limit window must be > 0")
	}

	if err := validateComment(r.Comment); err != nil {
		return err
	}

	return nil
}

func validateAddress(family Family, addr string) error {
	if addr == "" {
		return nil
	}
	var ip netip.Addr
	var err error
	if p, perr := netip.ParsePrefix(addr); perr == nil {
		ip = p.Addr()
	} else if a, aerr := netip.ParseAddr(addr); aerr == nil {
		ip = a
	} else if isSymbolicSet(addr) {
		return nil
	} else {
		err = perr
	}
	if err != nil && !ip.IsValid() {
		return errors.Errorf(errors.KindValidation, "not a valid address/CIDR/set name: %q", addr)
	}
	switch family {
	case FamilyIPv4:
		if ip.Is6() {
			return errors.Errorf(errors.KindValidation, "ipv6 address %q used with family=ipv4", addr)
		}
	case FamilyIPv6:
		if ip.Is4() {
			return errors.Errorf(errors.KindValidation, "ipv4 address %q used with family=ipv6", addr)
		}
	}
	return nil
}

// isSymbolicSet reports whether addr looks like a named set reference
// (e.g. "@blocklist") rather than a literal address or CIDR.
func isSymbolicSet(addr string) bool {
	return strings.HasPrefix(addr, "@")
}

func validatePortSpec(p PortSpec) error {
	if p.Range != nil && len(p.List) > 0 {
		return errors.New(errors.KindValidation, "source_port/destination_port cannot set both a range and a list")
	}
	check := func(port int) error {
		if port < 1 || port > 65535 {
			return errors.Errorf(errors.KindValidation, "port %d out of range 1..65535", port)
		}
		return nil
	}
	if p.Single != 0 {
		if err := check(p.Single); err != nil {
			return err
		}
	}
	if p.Range != nil {
		if err := check(p.Range.Start); err != nil {
			return err
		}
		if err := check(p.Range.End); err != nil {
			return err
		}
		if p.Range.Start > p.Range.End {
			return errors.New(errors.KindValidation, "port range start must be <= end")
		}
	}
	for _, port := range p.List {
		if err := check(port); err != nil {
			return err
		}
	}
	return nil
}

func validateComment(comment string) error {
	if strings.Contains(comment, renderDelimiter) {
		return errors.Errorf(errors.KindValidation, "comment must not contain %q", renderDelimiter)
	}
	for _, r := range comment {
		if unicode.IsControl(r) {
			return errors.New(errors.KindValidation, "comment must not contain control characters")
		}
	}
	return nil
}
