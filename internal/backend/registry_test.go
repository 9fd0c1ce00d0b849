// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/policy"
)

type stubAdapter struct{ name string }

func (s *stubAdapter) Name() string             { return s.name }
func (s *stubAdapter) Capabilities() Capabilities { return Capabilities{} }
func (s *stubAdapter) Render(policy.Rule) (RenderedRule, error) { return RenderedRule{}, nil }
func (s *stubAdapter) Validate(context.Context, RulesetImage) (Verdict, error) {
	return Verdict{Valid: true}, nil
}
func (s *stubAdapter) Snapshot(context.Context) (BackupRef, error) { return BackupRef{}, nil }
func (s *stubAdapter) ApplyAtomic(context.Context, RulesetImage) (ApplyReceipt, error) {
	return ApplyReceipt{}, nil
}
func (s *stubAdapter) ApplyDelta(context.Context, Delta) (ApplyReceipt, error) {
	return ApplyReceipt{}, nil
}
func (s *stubAdapter) Restore(context.Context, BackupRef) (bool, error) { return true, nil }
func (s *stubAdapter) ListRules(context.Context) ([]RenderedRule, error) { return nil, nil }
func (s *stubAdapter) ImportRules(context.Context) ([]policy.Rule, []string, error) {
	return nil, nil, nil
}
func (s *stubAdapter) Health(context.Context) (Health, error) { return Health{Reachable: true}, nil }

func TestRegistry_ActivateUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Activate("nope")
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestRegistry_CoexistenceRefusal(t *testing.T) {
	r := NewRegistry()
	r.Register("nftables", "netfilter", func() (Adapter, error) { return &stubAdapter{name: "nftables"}, nil })
	r.Register("legacy-iptables", "netfilter", func() (Adapter, error) { return &stubAdapter{name: "legacy-iptables"}, nil })

	_, err := r.Activate("nftables")
	require.NoError(t, err)

	_, err = r.Activate("legacy-iptables")
	require.Error(t, err)
	assert.Equal(t, errors.KindCoexistence, errors.GetKind(err))

	// original adapter remains active
	assert.Equal(t, "nftables", r.Active().Name())
}

func TestRegistry_DifferentKernelSubsystemsCoexist(t *testing.T) {
	r := NewRegistry()
	r.Register("nftables", "netfilter", func() (Adapter, error) { return &stubAdapter{name: "nftables"}, nil })
	r.Register("other-backend", "other-subsystem", func() (Adapter, error) { return &stubAdapter{name: "other-backend"}, nil })

	_, err := r.Activate("nftables")
	require.NoError(t, err)
	_, err = r.Activate("other-backend")
	require.NoError(t, err)
}
