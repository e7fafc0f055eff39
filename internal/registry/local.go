package registry

import (
	"context"
	"sync"

	"github.com/bugtrackr/realtime/internal/event"
)

// LocalRegistry is a process-local Registry. It backs single-node
// deployments and tests; multi-instance deployments use RedisRegistry.
type LocalRegistry struct {
	mu     sync.RWMutex
	groups map[Group]map[string]Member
}

func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{groups: make(map[Group]map[string]Member)}
}

func (r *LocalRegistry) Join(_ context.Context, g Group, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groups[g] == nil {
		r.groups[g] = make(map[string]Member)
	}
	r.groups[g][m.ID()] = m
	return nil
}

func (r *LocalRegistry) Leave(_ context.Context, g Group, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.groups[g]; ok {
		delete(members, m.ID())
		if len(members) == 0 {
			delete(r.groups, g)
		}
	}
	return nil
}

func (r *LocalRegistry) Publish(_ context.Context, g Group, env *event.Envelope) error {
	r.mu.RLock()
	members := make([]Member, 0, len(r.groups[g]))
	for _, m := range r.groups[g] {
		members = append(members, m)
	}
	r.mu.RUnlock()

	for _, m := range members {
		m.Deliver(env)
	}
	return nil
}

// MemberCount reports the current membership of a group.
func (r *LocalRegistry) MemberCount(g Group) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[g])
}
