package audit

import (
	"sync"

	"github.com/wardenhq/warden/pkg/errdefs"
)

// Registration describes one auditable business type.
type Registration struct {
	// Label is the human-readable name used in logs.
	Label string

	// Operations lists the operation types valid for this business type.
	// Empty means any operation is accepted.
	Operations []string
}

// Registry maps business types to their registrations. Registration
// happens once at bootstrap; lookups are read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds a business type. Registering the same type twice is a
// bootstrap bug and fails.
func (r *Registry) Register(businessType string, reg Registration) error {
	if businessType == "" {
		return &errdefs.ConfigurationError{Detail: "audit business type must not be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[businessType]; exists {
		return &errdefs.ConfigurationError{Detail: "audit business type " + businessType + " registered twice"}
	}
	r.entries[businessType] = reg
	return nil
}

// Lookup returns the registration for a business type.
func (r *Registry) Lookup(businessType string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[businessType]
	if !ok {
		return Registration{}, &errdefs.ConfigurationError{Detail: "audit business type " + businessType + " not registered"}
	}
	return reg, nil
}

// Allows reports whether the registration accepts the operation type.
func (reg Registration) Allows(operationType string) bool {
	if len(reg.Operations) == 0 {
		return true
	}
	for _, op := range reg.Operations {
		if op == operationType {
			return true
		}
	}
	return false
}
