package agent

import "sync"

// DefaultMemoryCapacity bounds an agent's short-term memory.
const DefaultMemoryCapacity = 1000

// Record is one remembered interaction.
type Record map[string]any

// Memory is the private memory of a single agent: a bounded short-term
// sequence of interaction records (oldest evicted first) and a long-term
// key/value map of learned adjustments. It lives as long as the process
// and is mutated only by the owning agent.
type Memory struct {
	mu        sync.Mutex
	capacity  int
	shortTerm []Record
	longTerm  map[string]any
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{
		capacity: capacity,
		longTerm: make(map[string]any),
	}
}

// StoreShortTerm appends a record, evicting the oldest past capacity.
func (m *Memory) StoreShortTerm(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortTerm = append(m.shortTerm, r)
	if len(m.shortTerm) > m.capacity {
		m.shortTerm = m.shortTerm[1:]
	}
}

// StoreLongTerm stores a learned value under a key, replacing any previous one.
func (m *Memory) StoreLongTerm(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.longTerm[key] = value
}

// Retrieve returns a long-term value by key.
func (m *Memory) Retrieve(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.longTerm[key]
	return v, ok
}

// SearchShortTerm returns the short-term records matching the filter,
// oldest first.
func (m *Memory) SearchShortTerm(filter func(Record) bool) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.shortTerm {
		if filter(r) {
			out = append(out, r)
		}
	}
	return out
}

// Len reports the number of short-term records currently held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shortTerm)
}
