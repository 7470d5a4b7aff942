// Package registry tracks the pool of downstream agents. It holds the
// primary agent map plus a capability index (tag -> agent IDs) and keeps the
// two consistent across every mutation. Semantic matching is not done here;
// routing decides which healthy agent serves a query.
package registry

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ProviderInfo is one LLM provider an agent advertises.
type ProviderInfo struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Models []string `json:"models,omitempty"`
}

// Agent is a registered downstream agent.
type Agent struct {
	ID           string         `json:"agentId"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	BaseURL      string         `json:"url"`
	Capabilities []string       `json:"capabilities"`
	Providers    []ProviderInfo `json:"providers,omitempty"`
	Healthy      bool           `json:"healthy"`
	LastSeen     time.Time      `json:"lastSeen"`
}

// ErrDuplicateName is returned when a registration reuses another agent's
// display name. Names must be unique because routing selects agents by name.
var ErrDuplicateName = errors.New("agent display name already registered")

// ErrNotFound is returned by operations addressing an unknown agent ID.
var ErrNotFound = errors.New("agent not found")

// Registry is safe for concurrent use. Reads dominate; mutations happen on
// registration, heartbeats and health probes.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string            // registration order of live agent IDs
	byCap  map[string][]string // capability tag -> agent IDs
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]*Agent),
		byCap:  make(map[string][]string),
	}
}

// Register inserts an agent. Re-registering the same ID replaces the record
// and reindexes its capabilities; a different agent claiming an existing
// display name is rejected.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.agents {
		if id != a.ID && strings.EqualFold(existing.Name, a.Name) {
			return ErrDuplicateName
		}
	}

	if old, exists := r.agents[a.ID]; exists {
		r.dropCapabilities(old)
	} else {
		r.order = append(r.order, a.ID)
	}

	a.Healthy = true
	a.LastSeen = time.Now()
	stored := a
	r.agents[a.ID] = &stored
	for _, tag := range a.Capabilities {
		r.byCap[tag] = append(r.byCap[tag], a.ID)
	}

	slog.Info("Agent registered",
		"agent_id", a.ID, "name", a.Name, "url", a.BaseURL,
		"capabilities", a.Capabilities)
	return nil
}

// Unregister removes the agent from the primary map and every capability set.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.agents[agentID]
	if !exists {
		return ErrNotFound
	}
	r.dropCapabilities(a)
	delete(r.agents, agentID)
	for i, id := range r.order {
		if id == agentID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	slog.Info("Agent unregistered", "agent_id", agentID, "name", a.Name)
	return nil
}

// dropCapabilities removes the agent from the capability index. Caller holds
// the write lock.
func (r *Registry) dropCapabilities(a *Agent) {
	for _, tag := range a.Capabilities {
		ids := r.byCap[tag]
		for i, id := range ids {
			if id == a.ID {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(r.byCap, tag)
		} else {
			r.byCap[tag] = ids
		}
	}
}

// UpdateHealth mutates the agent's health flag and last-seen timestamp.
func (r *Registry) UpdateHealth(agentID string, healthy bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.agents[agentID]
	if !exists {
		return ErrNotFound
	}
	if a.Healthy != healthy {
		slog.Info("Agent health changed",
			"agent_id", agentID, "name", a.Name, "healthy", healthy)
	}
	a.Healthy = healthy
	a.LastSeen = time.Now()
	return nil
}

// Heartbeat refreshes the agent's last-seen timestamp and marks it healthy.
func (r *Registry) Heartbeat(agentID string) error {
	return r.UpdateHealth(agentID, true)
}

// Get returns a copy of the agent record.
func (r *Registry) Get(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// FindByName does a case-insensitive exact match on display name.
func (r *Registry) FindByName(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		a := r.agents[id]
		if strings.EqualFold(a.Name, name) {
			return *a, true
		}
	}
	return Agent{}, false
}

// FindCandidates returns every healthy agent in registration order. When no
// agent is healthy it falls back to a default: the agent named "general" if
// present, else the first registered agent, else nothing.
func (r *Registry) FindCandidates() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var healthy []Agent
	for _, id := range r.order {
		if a := r.agents[id]; a.Healthy {
			healthy = append(healthy, *a)
		}
	}
	if len(healthy) > 0 {
		return healthy
	}

	for _, id := range r.order {
		if a := r.agents[id]; strings.EqualFold(a.Name, "general") {
			return []Agent{*a}
		}
	}
	if len(r.order) > 0 {
		return []Agent{*r.agents[r.order[0]]}
	}
	return nil
}

// FindByCapability returns the agents indexed under the capability tag.
func (r *Registry) FindByCapability(tag string) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Agent
	for _, id := range r.byCap[tag] {
		out = append(out, *r.agents[id])
	}
	return out
}

// List returns every agent in registration order.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.agents[id])
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// AdvertisedProviders returns the union of provider catalogs across agents,
// deduplicated by provider ID with the first occurrence winning.
func (r *Registry) AdvertisedProviders() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ProviderInfo
	seen := make(map[string]bool)
	for _, id := range r.order {
		for _, p := range r.agents[id].Providers {
			if !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Capabilities returns all indexed capability tags, sorted.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.byCap))
	for tag := range r.byCap {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
