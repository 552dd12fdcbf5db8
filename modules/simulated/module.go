// Package simulated provides the default stage executor. It performs no real
// migration work: every stage sleeps for a configurable duration and reports
// success. It is the executor used by demos and by most of the test suite.
package simulated

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/migwave/internal/ctxlog"
	"github.com/vk/migwave/internal/registry"
	"github.com/vk/migwave/internal/workload"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// StageDelay is how long each simulated stage takes. Zero means the
	// stage completes immediately.
	StageDelay time.Duration
}

// Register registers the simulated executor as the default for all
// strategies without a dedicated one.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterExecutor(registry.DefaultExecutorKey, &Executor{StageDelay: m.StageDelay})
}

// Executor simulates stage work with a fixed delay.
type Executor struct {
	StageDelay time.Duration
}

// Execute sleeps for the configured delay and reports success. A context
// expiry during the sleep is reported as the context error so the
// orchestrator records a timeout.
func (e *Executor) Execute(ctx context.Context, w workload.Workload, stage workload.Stage) (registry.Result, error) {
	logger := ctxlog.FromContext(ctx).With("workload", w.Name, "stage", stage.String())
	logger.Debug("Simulating stage.")

	if e.StageDelay > 0 {
		select {
		case <-time.After(e.StageDelay):
		case <-ctx.Done():
			return registry.Result{Outcome: workload.OutcomeFailure}, ctx.Err()
		}
	}

	return registry.Result{
		Outcome:     workload.OutcomeSuccess,
		Diagnostics: fmt.Sprintf("simulated %s of %s -> %s", stage, w.Source, w.Target),
		Duration:    e.StageDelay,
	}, nil
}
