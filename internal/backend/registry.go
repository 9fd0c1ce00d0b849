// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package backend

import (
	"sync"

	"github.com/CipherSaber/Autonomous-Firewall-Orchestrator/internal/errors"
)

// Registry is an explicit, in-process, name-keyed adapter registry (§4.2).
// There is no host-provided plugin loading: every adapter is registered by
// code that imports this package and calls Register; the daemon does so
// at startup in runDaemon.
type Registry struct {
	mu          sync.Mutex
	factories   map[string]func() (Adapter, error)
	kernelGroup map[string]string // adapter name -> kernel subsystem key

	active     Adapter
	activeName string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:   make(map[string]func() (Adapter, error)),
		kernelGroup: make(map[string]string),
	}
}

// Register adds a named adapter factory. kernelSubsystem identifies the
// underlying kernel packet-filtering subsystem the adapter programs (e.g.
// "netfilter"); two adapters sharing a kernelSubsystem cannot be active
// simultaneously (§4.2 coexistence).
func (r *Registry) Register(name, kernelSubsystem string, factory func() (Adapter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	r.kernelGroup[name] = kernelSubsystem
}

// Activate instantiates and activates the named adapter. It fails with a
// KindCoexistence error if an adapter is already active for the same kernel
// subsystem under a different name.
func (r *Registry) Activate(name string) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "no adapter registered with name %q", name)
	}

	if r.active != nil && r.activeName != name {
		if r.kernelGroup[r.activeName] == r.kernelGroup[name] {
			return nil, errors.Errorf(errors.KindCoexistence,
				"adapter %q collides with already-active adapter %q on kernel subsystem %q",
				name, r.activeName, r.kernelGroup[name])
		}
	}

	adapter, err := factory()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to activate adapter")
	}

	r.active = adapter
	r.activeName = name
	return adapter, nil
}

// Active returns the currently active adapter, or nil if none is active.
func (r *Registry) Active() Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
