package orchestrator

import (
	"fmt"
	"sync"
)

// Registry holds the specialist catalog. List preserves registration order,
// which is also the routing tie-break order.
type Registry struct {
	agents map[string]AgentConfig
	order  []string
	mu     sync.RWMutex
}

// NewRegistry creates a new agent registry
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]AgentConfig),
	}
}

// NewRegistryFrom registers every config in order
func NewRegistryFrom(configs []AgentConfig) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range configs {
		if err := r.Register(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register registers a new agent configuration
func (r *Registry) Register(config AgentConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid agent config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[config.ID]; exists {
		return fmt.Errorf("agent already registered: %s", config.ID)
	}

	r.agents[config.ID] = config
	r.order = append(r.order, config.ID)
	return nil
}

// Get retrieves an agent configuration by ID
func (r *Registry) Get(id string) (AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, exists := r.agents[id]
	if !exists {
		return AgentConfig{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}

	return config, nil
}

// List returns all registered agent configurations in catalog order
func (r *Registry) List() []AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := make([]AgentConfig, 0, len(r.order))
	for _, id := range r.order {
		configs = append(configs, r.agents[id])
	}

	return configs
}

// Index returns the catalog position of id, or -1
func (r *Registry) Index(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, known := range r.order {
		if known == id {
			return i
		}
	}
	return -1
}

// Exists checks if an agent is registered
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agents[id]
	return exists
}

// Count returns the number of registered agents
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.agents)
}
