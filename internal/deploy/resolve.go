// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package deploy

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/logging"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/store"
)

// NeverBlockResolver keeps NeverBlockEntry.Resolved current for "hostname"
// and "interface" entries, and, when enabled, registers the host's own
// management interface as a never-block entry so the orchestrator can never
// cut itself off (§3, §6 "never_block.management_discovery"). Address-based
// and CIDR-based entries need no resolution; they're skipped.
type NeverBlockResolver struct {
	store               *store.Store
	interval            time.Duration
	managementDiscovery bool
	managementIface     string
	dnsClient           *dns.Client
	dnsServer           string
}

// NewNeverBlockResolver constructs a resolver. managementIface overrides
// which interface self-discovery registers; left empty, discoverManagement
// picks the first non-loopback interface that is up and carries a global
// unicast address.
func NewNeverBlockResolver(st *store.Store, interval time.Duration, managementDiscovery bool, managementIface string) *NeverBlockResolver {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &NeverBlockResolver{
		store:               st,
		interval:            interval,
		managementDiscovery: managementDiscovery,
		managementIface:     managementIface,
		dnsClient:           &dns.Client{Timeout: 5 * time.Second},
		dnsServer:           systemResolverAddr(),
	}
}

// Run sweeps immediately, then on every tick until ctx is canceled.
func (r *NeverBlockResolver) Run(ctx context.Context) {
	r.sweep(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		r.sweep(ctx)
	}
}

func (r *NeverBlockResolver) sweep(ctx context.Context) {
	if r.managementDiscovery {
		r.discoverManagement(ctx)
	}

	entries, err := r.store.ListNeverBlock(ctx)
	if err != nil {
		logging.Warn("never-block resolver: failed to list entries", "error", err)
		return
	}
	for _, e := range entries {
		var resolved []string
		switch e.Kind {
		case "hostname":
			resolved = r.resolveHostname(e.Value)
		case "interface":
			resolved = resolveInterfaceAddrs(e.Value)
		default:
			continue
		}
		if len(resolved) == 0 {
			continue
		}
		if err := r.store.SetNeverBlockResolved(ctx, e.ID, resolved); err != nil {
			logging.Warn("never-block resolver: failed to persist resolved addresses", "entry", e.Value, "error", err)
		}
	}
}

// discoverManagement registers the host's own management interface as an
// "interface"-kind never-block entry, if one isn't already tracked.
func (r *NeverBlockResolver) discoverManagement(ctx context.Context) {
	name := r.managementIface
	if name == "" {
		name = defaultManagementInterface()
	}
	if name == "" {
		return
	}

	existing, err := r.store.ListNeverBlock(ctx)
	if err != nil {
		logging.Warn("never-block resolver: failed to check existing entries", "error", err)
		return
	}
	for _, e := range existing {
		if e.Kind == "interface" && e.Value == name {
			return
		}
	}

	if err := r.store.AddNeverBlock(ctx, store.NeverBlockEntry{
		ID: uuid.NewString(), Value: name, Kind: "interface",
		AddedAt: time.Now(), Description: "discovered management interface",
	}); err != nil {
		logging.Warn("never-block resolver: failed to register discovered management interface", "interface", name, "error", err)
	}
}

// resolveHostname looks up host's A and AAAA records against the system
// resolver using a direct miekg/dns exchange, rather than the net package's
// resolver, so a CNAME chain and both record types are visible in one pass.
func (r *NeverBlockResolver) resolveHostname(host string) []string {
	var out []string
	for _, qtype := range [...]uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		resp, _, err := r.dnsClient.Exchange(m, r.dnsServer)
		if err != nil || resp == nil {
			continue
		}
		for _, ans := range resp.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				out = append(out, rr.A.String())
			case *dns.AAAA:
				out = append(out, rr.AAAA.String())
			}
		}
	}
	return out
}

// resolveInterfaceAddrs returns every address currently bound to the named
// interface.
func resolveInterfaceAddrs(name string) []string {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok {
			out = append(out, ipNet.IP.String())
		}
	}
	return out
}

// defaultManagementInterface picks the first non-loopback, up interface
// carrying a global unicast address, a reasonable default for "the
// interface this host is managed through" absent an explicit override.
func defaultManagementInterface() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.IsGlobalUnicast() {
				return iface.Name
			}
		}
	}
	return ""
}

// systemResolverAddr reads /etc/resolv.conf for the host's configured
// resolver, falling back to loopback if it can't be read.
func systemResolverAddr() string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return "127.0.0.1:53"
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}
