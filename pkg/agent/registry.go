package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrDuplicateID is returned when registering an agent whose id is taken.
	ErrDuplicateID = errors.New("agent id already registered")
	// ErrNotFound is returned when looking up an unknown agent.
	ErrNotFound = errors.New("agent not found")
)

// Snapshot is a point-in-time view of one agent's invocation counters.
type Snapshot struct {
	AgentID      string   `json:"agentId"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Invocations  int      `json:"invocations"`
	SuccessRate  float64  `json:"successRate"`
	AvgElapsedMs int64    `json:"avgElapsedMs"`
}

type agentStats struct {
	invocations int
	successes   int
	elapsed     time.Duration
}

// Registry holds the set of known agents, indexed by id. Registration
// happens during setup; lookups are safe for concurrent use during runs.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	order  []string
	stats  map[string]*agentStats
}

func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Agent),
		stats:  make(map[string]*agentStats),
	}
}

// Register adds an agent. The id must be unique.
func (r *Registry) Register(a Agent) error {
	if a == nil || a.ID() == "" {
		return errors.New("agent must have a non-empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.ID()]; ok {
		return errors.Wrap(ErrDuplicateID, fmt.Sprintf("'%s'", a.ID()))
	}
	r.agents[a.ID()] = a
	r.order = append(r.order, a.ID())
	r.stats[a.ID()] = &agentStats{}
	return nil
}

// Get returns the agent registered under id.
func (r *Registry) Get(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, fmt.Sprintf("'%s'", id))
	}
	return a, nil
}

// FindByCapability returns all agents advertising the given capability tag.
func (r *Registry) FindByCapability(tag string) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Agent
	for _, id := range r.order {
		a := r.agents[id]
		for _, c := range a.Capabilities() {
			if c == tag {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// List returns all agents in registration order.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// RecordInvocation updates the agent's counters after a step invocation
// settles. Unknown ids are ignored.
func (r *Registry) RecordInvocation(id string, success bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[id]
	if !ok {
		return
	}
	st.invocations++
	if success {
		st.successes++
	}
	st.elapsed += elapsed
}

// Snapshots returns per-agent counters in registration order.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		a := r.agents[id]
		st := r.stats[id]
		snap := Snapshot{
			AgentID:      id,
			Name:         a.Name(),
			Capabilities: a.Capabilities(),
			Invocations:  st.invocations,
		}
		if st.invocations > 0 {
			snap.SuccessRate = float64(st.successes) / float64(st.invocations)
			snap.AvgElapsedMs = st.elapsed.Milliseconds() / int64(st.invocations)
		}
		out = append(out, snap)
	}
	return out
}
