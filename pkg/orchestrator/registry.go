package orchestrator

import (
	"fmt"
	"sort"
	"sync"
)

// Strategy pairs a classifier and a synthesizer under one name. Adding
// an orchestration strategy is a registration, not a branch.
type Strategy struct {
	Name        string
	Classifier  Classifier
	Synthesizer Synthesizer
}

// Registry holds the available strategies. It is populated at startup
// and read-only afterwards.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy. Registering an incomplete strategy or a
// duplicate name is an error.
func (r *Registry) Register(s Strategy) error {
	if s.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	if s.Classifier == nil || s.Synthesizer == nil {
		return fmt.Errorf("strategy %q needs both a classifier and a synthesizer", s.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.strategies[s.Name]; dup {
		return fmt.Errorf("strategy %q already registered", s.Name)
	}
	r.strategies[s.Name] = s
	return nil
}

// Get looks up a strategy by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Names lists registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
