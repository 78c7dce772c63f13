package patterns

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Registry looks generators up by name.
type Registry struct {
	byName map[string]Generator
	order  []Generator
}

// NewRegistry indexes gens. Names must be unique.
func NewRegistry(gens ...Generator) (*Registry, error) {
	r := &Registry{byName: make(map[string]Generator, len(gens))}
	for _, g := range gens {
		if _, dup := r.byName[g.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate pattern %s", domain.ErrConfiguration, g.Name())
		}
		r.byName[g.Name()] = g
		r.order = append(r.order, g)
	}
	return r, nil
}

// Default returns the registry of every built-in archetype.
func Default() *Registry {
	var gens []Generator
	gens = append(gens, benignGenerators()...)
	gens = append(gens, takeoverGenerators()...)
	gens = append(gens, ringGenerators()...)
	gens = append(gens, fishyGenerators()...)
	r, err := NewRegistry(gens...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the generator called name.
func (r *Registry) Get(name string) (Generator, error) {
	g, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: pattern %s", domain.ErrNotFound, name)
	}
	return g, nil
}

// All returns the generators in registration order.
func (r *Registry) All() []Generator { return r.order }

// Names returns the sorted names of the generators of family.
func (r *Registry) Names(family Family) []string {
	var names []string
	for _, g := range r.order {
		if g.Family() == family {
			names = append(names, g.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Check verifies that every weighted pattern exists and has the right family.
func (r *Registry) Check(cfg domain.GenerationConfig) error {
	for _, set := range []struct {
		field   string
		family  Family
		weights map[string]float64
	}{
		{"fraudWeights", Adversarial, cfg.FraudWeights},
		{"benignWeights", Benign, cfg.BenignWeights},
	} {
		for _, name := range sortedNames(set.weights) {
			g, ok := r.byName[name]
			if !ok {
				return &domain.ConfigurationError{Field: set.field + "." + name, Reason: "unknown pattern"}
			}
			if g.Family() != set.family {
				return &domain.ConfigurationError{Field: set.field + "." + name, Reason: fmt.Sprintf("pattern is %s", g.Family())}
			}
		}
	}
	for _, name := range sortedNames(cfg.Patterns) {
		if _, ok := r.byName[name]; !ok {
			return &domain.ConfigurationError{Field: "patterns." + name, Reason: "unknown pattern"}
		}
	}
	for _, c := range cfg.Constraints {
		for _, name := range c.Patterns {
			if _, ok := r.byName[name]; !ok {
				return &domain.ConfigurationError{Field: "constraints." + c.Name, Reason: fmt.Sprintf("unknown pattern %s", name)}
			}
		}
	}
	return nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
