package config

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so agents.yaml can say "30s" or "2m"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BreakerSpec is the per-agent circuit breaker tuning
type BreakerSpec struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
}

// AgentSpec describes one agent in agents.yaml: its routing signals,
// confidence floor and breaker tuning.
type AgentSpec struct {
	Type              string      `yaml:"type"`
	Description       string      `yaml:"description"`
	Keywords          []string    `yaml:"keywords"`
	KeywordConfidence float64     `yaml:"keyword_confidence"`
	MinConfidence     float64     `yaml:"min_confidence"`
	NeedsRetrieval    bool        `yaml:"needs_retrieval"`
	Fallbacks         []string    `yaml:"fallbacks"`
	Breaker           BreakerSpec `yaml:"breaker"`
}

// AgentsConfig is the parsed agents.yaml
type AgentsConfig struct {
	DefaultAgent string      `yaml:"default_agent"`
	Agents       []AgentSpec `yaml:"agents"`
}

// AgentConfigStore holds the current agent roster and supports hot reload.
// Reads vastly outnumber reloads, so a plain RWMutex is enough.
type AgentConfigStore struct {
	mu      sync.RWMutex
	cfg     *AgentsConfig
	byType  map[string]AgentSpec
	path    string
	watcher *fsnotify.Watcher
}

// LoadAgents parses agents.yaml at path. A missing file falls back to the
// built-in roster so a bare checkout still boots.
func LoadAgents(path string) (*AgentConfigStore, error) {
	store := &AgentConfigStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("⚠️  [CONFIG] %s not found, using built-in agent roster", path)
			store.swap(DefaultAgentsConfig())
			return store, nil
		}
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}

	cfg, err := parseAgents(data)
	if err != nil {
		return nil, err
	}
	store.swap(cfg)
	return store, nil
}

func parseAgents(data []byte) (*AgentsConfig, error) {
	var cfg AgentsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agents YAML: %w", err)
	}
	if cfg.DefaultAgent == "" {
		cfg.DefaultAgent = "general_conversation"
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].Breaker.FailureThreshold <= 0 {
			cfg.Agents[i].Breaker.FailureThreshold = 3
		}
		if cfg.Agents[i].Breaker.Cooldown <= 0 {
			cfg.Agents[i].Breaker.Cooldown = Duration(30 * time.Second)
		}
	}
	return &cfg, nil
}

func (s *AgentConfigStore) swap(cfg *AgentsConfig) {
	byType := make(map[string]AgentSpec, len(cfg.Agents))
	for _, a := range cfg.Agents {
		byType[a.Type] = a
	}
	s.mu.Lock()
	s.cfg = cfg
	s.byType = byType
	s.mu.Unlock()
}

// DefaultAgent returns the configured terminal fallback agent type
func (s *AgentConfigStore) DefaultAgent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.DefaultAgent
}

// Agent returns the spec for an agent type and whether it is registered
func (s *AgentConfigStore) Agent(agentType string) (AgentSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.byType[agentType]
	return spec, ok
}

// Agents returns the full roster in file order
func (s *AgentConfigStore) Agents() []AgentSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentSpec, len(s.cfg.Agents))
	copy(out, s.cfg.Agents)
	return out
}

// Watch reloads the roster whenever agents.yaml changes on disk.
// Parse failures keep the previous roster.
func (s *AgentConfigStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				data, err := os.ReadFile(s.path)
				if err != nil {
					log.Printf("⚠️  [CONFIG] Reload read failed: %v", err)
					continue
				}
				cfg, err := parseAgents(data)
				if err != nil {
					log.Printf("⚠️  [CONFIG] Reload parse failed, keeping previous roster: %v", err)
					continue
				}
				s.swap(cfg)
				log.Printf("🔄 [CONFIG] Reloaded agent roster (%d agents)", len(cfg.Agents))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  [CONFIG] Watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher if one is running
func (s *AgentConfigStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// DefaultAgentsConfig is the built-in roster used when agents.yaml is
// absent (and by tests). Mirrors the shipped agents.yaml.
func DefaultAgentsConfig() *AgentsConfig {
	return &AgentsConfig{
		DefaultAgent: "general_conversation",
		Agents: []AgentSpec{
			{
				Type:              "general_conversation",
				Description:       "Small talk, help, anything without a better home",
				Keywords:          []string{"hello", "hi", "thanks", "thank you", "how are you", "help", "who are you", "joke"},
				KeywordConfidence: 0.95,
				MinConfidence:     0.0,
				NeedsRetrieval:    true,
				Breaker:           BreakerSpec{FailureThreshold: 3, Cooldown: Duration(30 * time.Second)},
			},
			{
				Type:              "chef",
				Description:       "Recipes, cooking, meal planning",
				Keywords:          []string{"recipe", "cook", "cooking", "bake", "dinner", "breakfast", "meal", "ingredients", "kitchen"},
				KeywordConfidence: 0.8,
				MinConfidence:     0.6,
				NeedsRetrieval:    true,
				Fallbacks:         []string{"search", "general_conversation"},
				Breaker:           BreakerSpec{FailureThreshold: 3, Cooldown: Duration(30 * time.Second)},
			},
			{
				Type:              "shopping",
				Description:       "Purchases, receipts, expenses, budgets",
				Keywords:          []string{"shopping", "receipt", "bought", "spent", "price", "cost", "store", "expenses", "budget", "discount"},
				KeywordConfidence: 0.9,
				MinConfidence:     0.6,
				NeedsRetrieval:    true,
				Fallbacks:         []string{"general_conversation"},
				Breaker:           BreakerSpec{FailureThreshold: 3, Cooldown: Duration(30 * time.Second)},
			},
			{
				Type:              "search",
				Description:       "Information lookups needing fresh external data",
				Keywords:          []string{"what is", "who is", "where", "when", "why", "how", "information", "statistics", "news"},
				KeywordConfidence: 0.7,
				MinConfidence:     0.5,
				NeedsRetrieval:    true,
				Fallbacks:         []string{"general_conversation"},
				Breaker:           BreakerSpec{FailureThreshold: 3, Cooldown: Duration(30 * time.Second)},
			},
			{
				Type:              "weather",
				Description:       "Current weather and forecasts",
				Keywords:          []string{"weather", "forecast", "temperature", "rain", "snow", "sunny", "wind"},
				KeywordConfidence: 0.9,
				MinConfidence:     0.6,
				NeedsRetrieval:    false,
				Fallbacks:         []string{"search", "general_conversation"},
				Breaker:           BreakerSpec{FailureThreshold: 5, Cooldown: Duration(60 * time.Second)},
			},
		},
	}
}
