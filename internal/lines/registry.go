// Package lines holds the line segments published by the upstream detector
// for one instrument, indexed by line identifier.
package lines

import (
	"fmt"
	"sort"

	"github.com/barisx/Indicators/internal/model"
)

// Registry is an arena of lines keyed by Index.
// Single-goroutine usage: the owner applies a tick's updates and then runs
// the classifier, so every read within a tick sees a consistent state.
type Registry struct {
	id map[int]model.Line
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{id: make(map[int]model.Line, 32)}
}

// Line returns the line with the given identifier.
func (r *Registry) Line(id int) (model.Line, bool) {
	l, ok := r.id[id]
	return l, ok
}

// Put inserts or replaces a line.
func (r *Registry) Put(l model.Line) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", l.Index, err)
	}
	r.id[l.Index] = l
	return nil
}

// Remove drops a line. Removing an unknown id is a no-op.
func (r *Registry) Remove(id int) {
	delete(r.id, id)
}

// Apply validates every update first and then applies updates followed by
// removals, so a rejected tick leaves the registry untouched.
func (r *Registry) Apply(updates []model.Line, remove []int) error {
	for _, l := range updates {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", l.Index, err)
		}
	}
	for _, l := range updates {
		r.id[l.Index] = l
	}
	for _, id := range remove {
		delete(r.id, id)
	}
	return nil
}

// Len returns the number of live lines.
func (r *Registry) Len() int { return len(r.id) }

// IDs returns the identifiers of live lines of type t in ascending order.
func (r *Registry) IDs(t model.LineType) []int {
	ids := make([]int, 0, len(r.id))
	for id, l := range r.id {
		if l.Type == t {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}
