// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// Event kinds a LineParser may assign. authFail and portScan match the
// Correlator's known fast-path kinds; everything else falls to its slow
// ambiguous-classification path.
const (
	kindAuthFail = "brute-force"
	kindPortScan = "port-scan"
)

var (
	sshdFailedPassword = regexp.MustCompile(`sshd\[\d+\]: Failed password for (?:invalid user )?\S+ from (\d+\.\d+\.\d+\.\d+) port (\d+)`)
	sshdInvalidUser    = regexp.MustCompile(`sshd\[\d+\]: Invalid user \S+ from (\d+\.\d+\.\d+\.\d+)`)
	netfilterLogLine   = regexp.MustCompile(`SRC=(\d+\.\d+\.\d+\.\d+)\s.*DST=(\d+\.\d+\.\d+\.\d+)\s.*DPT=(\d+)`)
)

// ParserByName resolves a configured source.parser name (§6 "source.parser")
// to a LineParser. It reports false for an unrecognized name so Load-time
// wiring can fail fast rather than silently dropping a source.
func ParserByName(name string) (LineParser, bool) {
	switch name {
	case "syslog":
		return ParseSyslogAuth, true
	case "netfilter-log":
		return ParseNetfilterLog, true
	default:
		return nil, false
	}
}

// ParseSyslogAuth recognizes sshd authentication failures in a standard
// syslog/auth.log line, the source the brute-force template is keyed on.
func ParseSyslogAuth(line string) (store.SecurityEvent, bool) {
	if m := sshdFailedPassword.FindStringSubmatch(line); m != nil {
		return store.SecurityEvent{
			ID:       uuid.NewString(),
			Kind:     kindAuthFail,
			Severity: store.SeverityMedium,
			SourceIP: m[1],
			Target:   fmt.Sprintf("tcp/%s", m[2]),
			Raw:      []byte(line),
		}, true
	}
	if m := sshdInvalidUser.FindStringSubmatch(line); m != nil {
		return store.SecurityEvent{
			ID:       uuid.NewString(),
			Kind:     kindAuthFail,
			Severity: store.SeverityMedium,
			SourceIP: m[1],
			Raw:      []byte(line),
		}, true
	}
	return store.SecurityEvent{}, false
}

// ParseNetfilterLog recognizes kernel netfilter LOG target lines (the
// SRC=/DST=/DPT= format iptables/nftables emit), the source the port-scan
// template is keyed on.
func ParseNetfilterLog(line string) (store.SecurityEvent, bool) {
	m := netfilterLogLine.FindStringSubmatch(line)
	if m == nil {
		return store.SecurityEvent{}, false
	}
	return store.SecurityEvent{
		ID:       uuid.NewString(),
		Kind:     kindPortScan,
		Severity: store.SeverityLow,
		SourceIP: m[1],
		Target:   fmt.Sprintf("%s:%s", m[2], m[3]),
		Raw:      []byte(line),
	}, true
}
