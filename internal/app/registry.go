package app

import (
	"sort"
	"sync"

	"discordrelay/internal/runtime/supervisor"
)

// SupervisorRegistry is a thread-safe registry of subsystem supervisors,
// read by the health endpoint while the reload loop may replace entries.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]*supervisor.Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]*supervisor.Supervisor{}}
}

// Set registers (or replaces) a supervisor under name. If sup is nil, it deletes.
func (r *SupervisorRegistry) Set(name string, sup *supervisor.Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

// Snapshots returns the state of every registered supervisor and the sorted
// names of those that recorded an error.
func (r *SupervisorRegistry) Snapshots() (map[string]supervisor.Snapshot, []string) {
	if r == nil {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]supervisor.Snapshot, len(r.m))
	var failing []string
	for k, v := range r.m {
		snap := v.Snapshot()
		out[k] = snap
		if snap.FirstError != "" {
			failing = append(failing, k)
		}
	}
	sort.Strings(failing)
	return out, failing
}
