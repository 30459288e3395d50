// Package registry keeps the dispatcher-side cache of agent objects known
// to the monitoring server, fed by object lifecycle events.
package registry

import "sync"

// Agent is one monitored object as last reported by the server.
type Agent struct {
	ID    int64
	Name  string
	Type  string
	Alive bool
}

// Registry is a concurrency-safe agent table.
type Registry struct {
	agents sync.Map // int64 -> *Agent
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Get returns a copy of the agent for id, if known.
func (r *Registry) Get(id int64) (*Agent, bool) {
	v, ok := r.agents.Load(id)
	if !ok {
		return nil, false
	}
	cp := *v.(*Agent)
	return &cp, true
}

// Name returns the registered agent name for id, or "" when unknown.
func (r *Registry) Name(id int64) string {
	if a, ok := r.Get(id); ok {
		return a.Name
	}
	return ""
}

// Upsert stores or replaces the agent entry.
func (r *Registry) Upsert(a *Agent) {
	cp := *a
	r.agents.Store(a.ID, &cp)
}

// SetAlive updates the liveness flag for a known agent.
func (r *Registry) SetAlive(id int64, alive bool) {
	if a, ok := r.Get(id); ok {
		cp := *a
		cp.Alive = alive
		r.agents.Store(id, &cp)
	}
}
