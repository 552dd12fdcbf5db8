// Package permit implements the fixed-size admission gate bounding how many
// stage executions run at once. Permits are granted in strict FIFO order and
// the pool never over-issues: the (N+1)-th acquire blocks until a release.
package permit

import (
	"context"
	"sync"

	"github.com/vk/migwave/internal/migerr"
)

// Pool is a FIFO counting semaphore with explicit accounting. A release
// without a matching acquire is an internal error, not a silent no-op.
type Pool struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  []chan struct{}
}

// NewPool creates a pool issuing at most capacity concurrent permits.
func NewPool(capacity int) (*Pool, error) {
	if capacity < 1 {
		return nil, migerr.Validationf("concurrency limit must be at least 1, got %d", capacity)
	}
	return &Pool{capacity: capacity}, nil
}

// TryAcquire takes a permit if one is free, without blocking. It returns
// false when the pool is exhausted or other acquirers are already queued.
func (p *Pool) TryAcquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse >= p.capacity || len(p.waiters) > 0 {
		return false
	}
	p.inUse++
	return true
}

// Acquire takes a permit, blocking in FIFO order behind earlier acquirers
// until one is released or the context is cancelled.
func (p *Pool) Acquire(ctx context.Context) error {
	p.mu.Lock()
	if p.inUse < p.capacity && len(p.waiters) == 0 {
		p.inUse++
		p.mu.Unlock()
		return nil
	}
	grant := make(chan struct{})
	p.waiters = append(p.waiters, grant)
	p.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		for i, w := range p.waiters {
			if w == grant {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		p.mu.Unlock()
		// The grant raced with the cancellation: the permit is ours, so it
		// must be handed back before reporting the cancellation.
		<-grant
		if err := p.Release(); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// Release returns a permit to the pool, waking the oldest waiter if any.
// Releasing more than was acquired indicates corrupted accounting inside the
// caller and yields an InternalError.
func (p *Pool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse == 0 {
		return migerr.Internalf("permit released without a matching acquire")
	}
	if len(p.waiters) > 0 {
		// Hand the permit directly to the head of the queue; inUse is
		// unchanged because ownership transfers.
		grant := p.waiters[0]
		p.waiters = p.waiters[1:]
		close(grant)
		return nil
	}
	p.inUse--
	return nil
}

// InUse reports the number of permits currently held.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Capacity reports the configured permit limit.
func (p *Pool) Capacity() int {
	return p.capacity
}
