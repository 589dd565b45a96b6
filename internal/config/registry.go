package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned when a provider entry names an
// implementation nobody registered.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory constructs a provider from its configuration entry.
type Factory[P any] func(ProviderEntry) (P, error)

// Built is a constructed provider together with its configured name.
type Built[P any] struct {
	Name     string
	Provider P
}

// Factories maps implementation names to constructors for one provider kind.
// It is safe for concurrent use.
type Factories[P any] struct {
	kind string

	mu sync.RWMutex
	m  map[string]Factory[P]
}

func newFactories[P any](kind string) *Factories[P] {
	return &Factories[P]{kind: kind, m: make(map[string]Factory[P])}
}

// Register binds name to fn, replacing any earlier binding.
func (f *Factories[P]) Register(name string, fn Factory[P]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[name] = fn
}

// Create builds the provider entry names.
func (f *Factories[P]) Create(entry ProviderEntry) (P, error) {
	f.mu.RLock()
	fn, ok := f.m[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s %q (known: %v)", ErrProviderNotRegistered, f.kind, entry.Name, f.Names())
	}
	return fn(entry)
}

// Chain builds primary followed by its fallbacks in order. An unnamed
// primary means the kind is not configured and yields an empty chain. Every
// failing entry is reported, not just the first.
func (f *Factories[P]) Chain(primary ProviderEntry, fallbacks []ProviderEntry) ([]Built[P], error) {
	if primary.Name == "" {
		return nil, nil
	}
	entries := append([]ProviderEntry{primary}, fallbacks...)
	chain := make([]Built[P], 0, len(entries))
	var errs []error
	for i, e := range entries {
		p, err := f.Create(e)
		if err != nil {
			role := "primary"
			if i > 0 {
				role = fmt.Sprintf("fallback %d", i)
			}
			errs = append(errs, fmt.Errorf("%s %s %q: %w", f.kind, role, e.Name, err))
			continue
		}
		chain = append(chain, Built[P]{Name: e.Name, Provider: p})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return chain, nil
}

// Names returns the registered implementation names, sorted.
func (f *Factories[P]) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.m))
}

// Registry holds the provider factories of every kind the server uses.
type Registry struct {
	LLM *Factories[llm.Provider]
	STT *Factories[stt.Provider]
}

// NewRegistry returns a [Registry] with no factories registered.
func NewRegistry() *Registry {
	return &Registry{
		LLM: newFactories[llm.Provider]("llm"),
		STT: newFactories[stt.Provider]("stt"),
	}
}

// OptString returns the string option key, or "".
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptFloat returns the numeric option key, or 0. YAML integers are accepted.
func (e ProviderEntry) OptFloat(key string) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// OptDuration parses the option key as a duration such as "30s". Missing or
// malformed values yield 0.
func (e ProviderEntry) OptDuration(key string) time.Duration {
	d, err := time.ParseDuration(e.OptString(key))
	if err != nil {
		return 0
	}
	return d
}
