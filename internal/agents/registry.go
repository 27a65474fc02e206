package agents

import (
	"fmt"
	"log"
	"sync"
)

// Factory constructs one agent instance
type Factory func() (Agent, error)

// Registry creates and caches one agent instance per type. The
// registration table is fixed at construction; there is no dynamic
// registration at runtime. Constructed once at startup and passed by
// reference so tests can substitute fakes.
type Registry struct {
	defaultType string
	factories   map[string]Factory

	mutex     sync.Mutex
	instances map[string]Agent
}

// NewRegistry builds a registry from the factory table. Fails fast if
// the default agent cannot be constructed, since the orchestrator's
// never-dead-end guarantee depends on it.
func NewRegistry(defaultType string, factories map[string]Factory) (*Registry, error) {
	r := &Registry{
		defaultType: defaultType,
		factories:   factories,
		instances:   make(map[string]Agent),
	}
	if _, ok := factories[defaultType]; !ok {
		return nil, fmt.Errorf("default agent %q has no factory", defaultType)
	}
	if _, err := r.GetAgent(defaultType); err != nil {
		return nil, fmt.Errorf("failed to construct default agent: %w", err)
	}
	return r, nil
}

// GetAgent returns the cached instance for agentType, creating it on
// first use. An unknown type resolves to the default agent so a
// classification miss never dead-ends a request.
func (r *Registry) GetAgent(agentType string) (Agent, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if agent, ok := r.instances[agentType]; ok {
		return agent, nil
	}

	factory, ok := r.factories[agentType]
	if !ok {
		log.Printf("⚠️  [REGISTRY] Unknown agent type %q, substituting %q", agentType, r.defaultType)
		if agent, ok := r.instances[r.defaultType]; ok {
			return agent, nil
		}
		factory = r.factories[r.defaultType]
		agentType = r.defaultType
	}

	agent, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create agent %q: %w", agentType, err)
	}
	r.instances[agentType] = agent
	return agent, nil
}

// DefaultType returns the registry's default agent type
func (r *Registry) DefaultType() string {
	return r.defaultType
}

// Types returns all registered agent types
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}
