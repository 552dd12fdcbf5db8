// Package store defines the repository port for migration programs. The
// engine is storage-technology agnostic: anything satisfying Store works,
// from the bundled in-memory implementation to a persistent backend.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/vk/migwave/internal/program"
)

// ErrNotFound is returned when a program id is unknown to the store.
var ErrNotFound = errors.New("program not found")

// Store persists migration programs across facade operations.
//
// Implementations must be safe for concurrent use; the facade reads
// snapshots while a run mutates workload state through the orchestrator.
type Store interface {
	// SaveProgram stores or replaces a program.
	SaveProgram(ctx context.Context, p *program.Program) error

	// GetProgram retrieves a program by id. Unknown ids yield an error
	// wrapping ErrNotFound.
	GetProgram(ctx context.Context, id uuid.UUID) (*program.Program, error)

	// ListPrograms returns all stored programs.
	ListPrograms(ctx context.Context) ([]*program.Program, error)
}
