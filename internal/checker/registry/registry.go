// Package registry provides checker registration and ordered lookup.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/prosecheck/internal/checker/sdk"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// Registry manages checker registration and lookup.
//
// Registration order is preserved. A checker's position is its ordinal,
// used for deterministic tie-breaking downstream.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]*CheckerEntry
	order    []string
	logger   *slog.Logger
}

// CheckerEntry holds a registered checker and its metadata.
type CheckerEntry struct {
	// Checker is the checker instance.
	Checker sdk.Checker

	// Name is the unique checker name.
	Name string

	// Ordinal is the registration position, starting at 0.
	Ordinal int

	// Categories is a snapshot of the declared categories.
	Categories []types.Category

	// Status is the lifecycle status of the checker.
	Status CheckerStatus
}

// CheckerStatus represents the lifecycle state of a registered checker.
type CheckerStatus string

const (
	// StatusReady means the checker accepts work.
	StatusReady CheckerStatus = "ready"

	// StatusShutdown means the checker has been shut down.
	StatusShutdown CheckerStatus = "shutdown"
)

// NewRegistry creates a new checker registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		checkers: make(map[string]*CheckerEntry),
		logger:   logger,
	}
}

// Register adds a checker. Duplicate names are rejected.
func (r *Registry) Register(checker sdk.Checker) error {
	if checker == nil {
		return fmt.Errorf("checker is required")
	}
	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.checkers[name]; exists {
		return fmt.Errorf("%w: %s", sdk.ErrCheckerAlreadyExists, name)
	}

	cats := append([]types.Category(nil), checker.Categories()...)
	r.checkers[name] = &CheckerEntry{
		Checker:    checker,
		Name:       name,
		Ordinal:    len(r.order),
		Categories: cats,
		Status:     StatusReady,
	}
	r.order = append(r.order, name)

	r.logger.Info("registered checker",
		"engine", name,
		"ordinal", len(r.order)-1,
		"categories", cats,
	)
	return nil
}

// MustRegister registers every checker and panics on the first error.
// Intended for static wiring at startup.
func (r *Registry) MustRegister(checkers ...sdk.Checker) {
	for _, c := range checkers {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Get returns a checker by name.
func (r *Registry) Get(name string) (sdk.Checker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.checkers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", sdk.ErrCheckerNotFound, name)
	}
	return entry.Checker, nil
}

// Ordinal returns the registration position of a checker, or -1.
func (r *Registry) Ordinal(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.checkers[name]; ok {
		return entry.Ordinal
	}
	return -1
}

// Ordinals returns a name → ordinal map.
func (r *Registry) Ordinals() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.checkers))
	for name, entry := range r.checkers {
		out[name] = entry.Ordinal
	}
	return out
}

// List returns all ready checkers in registration order.
func (r *Registry) List() []CheckerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]CheckerEntry, 0, len(r.order))
	for _, name := range r.order {
		entry := r.checkers[name]
		if entry.Status != StatusReady {
			continue
		}
		entries = append(entries, *entry)
	}
	return entries
}

// Select returns ready checkers whose categories intersect requested, in
// registration order. An empty request selects every checker.
func (r *Registry) Select(requested []types.Category) []CheckerEntry {
	all := r.List()
	selected := all[:0]
	for _, entry := range all {
		if sdk.Covers(entry.Checker, requested) {
			selected = append(selected, entry)
		}
	}
	return selected
}

// Names returns checker names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Has checks if a checker is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.checkers[name]
	return exists
}

// Count returns the number of registered checkers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.checkers)
}

// ShutdownAll closes every checker that holds resources.
func (r *Registry) ShutdownAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, name := range r.order {
		entry := r.checkers[name]
		if entry.Status == StatusShutdown {
			continue
		}
		if closer, ok := entry.Checker.(io.Closer); ok {
			r.logger.Info("shutting down checker", "engine", name)
			if err := closer.Close(); err != nil {
				r.logger.Error("failed to shutdown checker",
					"engine", name,
					"error", err,
				)
				errs = append(errs, fmt.Errorf("checker %s: %w", name, err))
			}
		}
		entry.Status = StatusShutdown
	}
	return errors.Join(errs...)
}
