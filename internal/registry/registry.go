// Package registry holds the pluggable stage-executor capabilities and
// progress sinks for a single application instance.
//
// Executors are selected through an explicit dispatch table keyed by the
// workload's recommended 6R strategy, with a default executor as fallback.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vk/migwave/internal/progress"
	"github.com/vk/migwave/internal/scorer"
	"github.com/vk/migwave/internal/workload"
)

// DefaultExecutorKey is the dispatch-table key of the fallback executor.
const DefaultExecutorKey = ""

// Result is what a stage executor reports back for one invocation.
type Result struct {
	Outcome     workload.Outcome
	Diagnostics string
	Duration    time.Duration
}

// StageExecutor performs the actual work of one pipeline stage for one
// workload. Implementations run outside the orchestrator's serialization
// point and receive a read-only snapshot of the workload. A returned error is
// treated the same as a failure outcome.
type StageExecutor interface {
	Execute(ctx context.Context, w workload.Workload, stage workload.Stage) (Result, error)
}

// Module is the interface all executor modules implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry maps 6R strategies to stage executors and fans progress events
// out to registered sinks.
type Registry struct {
	executors map[string]StageExecutor
	sinks     []progress.Sink
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{executors: make(map[string]StageExecutor)}
}

// RegisterExecutor binds an executor to a strategy name. Use
// DefaultExecutorKey for the fallback. Double registration is a programmer
// error and panics, matching module wiring expectations.
func (r *Registry) RegisterExecutor(strategy string, ex StageExecutor) {
	if _, exists := r.executors[strategy]; exists {
		panic(fmt.Sprintf("stage executor for strategy '%s' already registered", strategy))
	}
	slog.Debug("Registering stage executor.", "strategy", strategy)
	r.executors[strategy] = ex
}

// ExecutorFor resolves the executor for a strategy, falling back to the
// default entry when no strategy-specific one is registered.
func (r *Registry) ExecutorFor(strategy scorer.Strategy) (StageExecutor, error) {
	if ex, ok := r.executors[string(strategy)]; ok {
		return ex, nil
	}
	if ex, ok := r.executors[DefaultExecutorKey]; ok {
		return ex, nil
	}
	return nil, fmt.Errorf("no stage executor registered for strategy '%s' and no default available", strategy)
}

// RegisterSink adds a progress sink. Sinks receive every event the
// orchestrator emits, in order.
func (r *Registry) RegisterSink(s progress.Sink) {
	r.sinks = append(r.sinks, s)
}

// Sinks returns the registered progress sinks.
func (r *Registry) Sinks() []progress.Sink {
	return r.sinks
}
