package agents

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownAgent is returned when no agent is registered under an id.
var ErrUnknownAgent = errors.New("unknown agent")

// Info describes a registered agent for selection and planning.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry maps stable agent ids to implementations. New agents register
// without the orchestrator changing.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	infos  map[string]Info
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Agent),
		infos:  make(map[string]Info),
	}
}

// Register adds an agent under info.ID, replacing any previous registration.
func (r *Registry) Register(info Info, agent Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[info.ID] = agent
	r.infos[info.ID] = info
}

// Get returns the agent registered under id.
func (r *Registry) Get(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return agent, nil
}

// Has reports whether an agent is registered under id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// Infos returns the descriptions of all registered agents, sorted by id.
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Describe returns the descriptions for the given ids, skipping unknown ones.
func (r *Registry) Describe(ids []string) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		if info, ok := r.infos[id]; ok {
			out = append(out, info)
		}
	}
	return out
}
