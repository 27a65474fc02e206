package breaker

import (
	"sync"
	"time"
)

// Settings tunes a single breaker
type Settings struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Registry holds one breaker per agent type for the process lifetime.
// Constructed once at startup and passed by reference so tests can
// substitute their own.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	settings map[string]Settings
	defaults Settings
}

// NewRegistry creates a registry. Per-agent settings override defaults;
// agents absent from the map get the defaults.
func NewRegistry(defaults Settings, perAgent map[string]Settings) *Registry {
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = 3
	}
	if defaults.Cooldown <= 0 {
		defaults.Cooldown = 30 * time.Second
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		settings: perAgent,
		defaults: defaults,
	}
}

// For returns the breaker for an agent type, creating it on first use
func (r *Registry) For(agentType string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[agentType]; ok {
		return b
	}
	s, ok := r.settings[agentType]
	if !ok {
		s = r.defaults
	}
	b := New(agentType, s.FailureThreshold, s.Cooldown)
	r.breakers[agentType] = b
	return b
}

// Snapshots returns monitoring views for every breaker created so far
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Stats())
	}
	return out
}
