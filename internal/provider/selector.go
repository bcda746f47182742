package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/observability"
)

// Choice is a caller's provider preference: a registered name, a ready-made
// instance, or neither for automatic selection.
type Choice[T any] struct {
	Name     string
	Instance T
}

// Named prefers the registered provider called name.
func Named[T any](name string) Choice[T] { return Choice[T]{Name: name} }

// Use selects inst as-is.
func Use[T any](inst T) Choice[T] { return Choice[T]{Instance: inst} }

func (c Choice[T]) hasInstance() bool { return any(c.Instance) != nil }

// Selector picks and remembers the default provider of one role.
type Selector[T any] struct {
	role     string
	registry *Registry[T]
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu          sync.Mutex
	current     T
	currentName string
	hasCurrent  bool
}

// NewSelector creates a selector for role over registry.
func NewSelector[T any](role string, registry *Registry[T], logger *slog.Logger, metrics *observability.Metrics) *Selector[T] {
	return &Selector[T]{
		role:     role,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

// Registry returns the catalog this selector scans.
func (s *Selector[T]) Registry() *Registry[T] { return s.registry }

// Select resolves c to a provider instance:
//
//  1. a registered name whose probe passes is instantiated;
//  2. otherwise an explicit instance is used without probing;
//  3. otherwise the remembered default is reused;
//  4. otherwise the first available entry in registry order is instantiated.
//
// The result of steps 1, 2 and 4 becomes the remembered default. When no
// candidate exists Select returns domain.ErrNoProvider. An unknown or
// unavailable name is not an error; it falls through to the later steps.
func (s *Selector[T]) Select(c Choice[T]) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Name != "" {
		if f, ok := s.registry.Lookup(c.Name); ok && f.concrete() && f.Available() {
			return s.remember(f.New(), f.Name, "named"), nil
		}
		s.logger.Debug("requested provider unavailable, falling back",
			"role", s.role, "provider", c.Name)
	}

	if c.hasInstance() {
		return s.remember(c.Instance, fmt.Sprintf("%T", c.Instance), "instance"), nil
	}

	if s.hasCurrent {
		s.metrics.ProviderSelections.WithLabelValues(s.role, s.currentName, "memo").Inc()
		return s.current, nil
	}

	for _, f := range s.registry.Entries() {
		if f.concrete() && f.Available() {
			return s.remember(f.New(), f.Name, "scan"), nil
		}
	}

	var zero T
	return zero, fmt.Errorf("%s: %w", s.role, domain.ErrNoProvider)
}

func (s *Selector[T]) remember(inst T, name, method string) T {
	s.current = inst
	s.currentName = name
	s.hasCurrent = true
	s.metrics.ProviderSelections.WithLabelValues(s.role, name, method).Inc()
	s.logger.Debug("provider selected", "role", s.role, "provider", name, "method", method)
	return inst
}

// Current returns the remembered default and its name, if any.
func (s *Selector[T]) Current() (T, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.currentName, s.hasCurrent
}

// Reset forgets the remembered default.
func (s *Selector[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	s.current = zero
	s.currentName = ""
	s.hasCurrent = false
}
