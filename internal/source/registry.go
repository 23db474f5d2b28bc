package source

import (
	"sync"

	"codeberg.org/halvard/fieldlink/internal/errors"
)

// Registry holds the monitor adapters registered at startup. Registration
// order is preserved for deterministic polling.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Source
	order []Source
}

func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]Source),
	}
}

// Register adds a source. Duplicate source IDs are rejected since sequence
// numbering is keyed per source.
func (r *Registry) Register(s Source) error {
	errFactory := errors.New()

	id := s.SourceID()
	if id == "" {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "source ID must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return errFactory.WithData(ErrDuplicateSource, id)
	}

	r.byID[id] = s
	r.order = append(r.order, s)

	return nil
}

// Sources returns registered sources in registration order.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, len(r.order))
	copy(out, r.order)

	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
