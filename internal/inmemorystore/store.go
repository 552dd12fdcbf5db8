// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the store.Store interface.
//
// Programs live for the lifetime of the process. The implementation uses
// sync.Map because the key space is stable (programs are created once) while
// lookups happen concurrently with running orchestrations.
package inmemorystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vk/migwave/internal/program"
	"github.com/vk/migwave/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	programs sync.Map // Key: program id string, Value: *program.Program
}

// New creates a new, empty in-memory program store.
func New() store.Store {
	return &Store{}
}

// SaveProgram stores or replaces a program.
func (s *Store) SaveProgram(ctx context.Context, p *program.Program) error {
	s.programs.Store(p.ID.String(), p)
	return nil
}

// GetProgram retrieves a program by id.
func (s *Store) GetProgram(ctx context.Context, id uuid.UUID) (*program.Program, error) {
	p, ok := s.programs.Load(id.String())
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return p.(*program.Program), nil
}

// ListPrograms returns all stored programs.
func (s *Store) ListPrograms(ctx context.Context) ([]*program.Program, error) {
	var out []*program.Program
	s.programs.Range(func(_, v any) bool {
		out = append(out, v.(*program.Program))
		return true
	})
	return out, nil
}
