package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/migwave/internal/registry"
	"github.com/vk/migwave/internal/workload"
)

// RecordingExecutor is a scriptable stage executor for orchestration tests.
// It records every invocation, tracks the concurrency high-water mark, and
// can be told to fail or hang specific workload stages.
type RecordingExecutor struct {
	// Delay is how long each stage takes unless it fails or hangs.
	Delay time.Duration
	// FailAt maps workload name to the stage that must report a failure.
	FailAt map[string]workload.Stage
	// HangAt maps workload name to the stage that must block until the
	// stage context expires, simulating a stuck executor.
	HangAt map[string]workload.Stage
	// Completions, when non-nil, receives "name/stage" after every
	// invocation returns.
	Completions chan<- string

	mu        sync.Mutex
	order     []string
	records   map[string]*ExecutionRecord
	active    int
	maxActive int
}

// Execute implements registry.StageExecutor.
func (e *RecordingExecutor) Execute(ctx context.Context, w workload.Workload, stage workload.Stage) (registry.Result, error) {
	key := fmt.Sprintf("%s/%s", w.Name, stage)
	start := time.Now()

	e.mu.Lock()
	e.order = append(e.order, key)
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		if e.records == nil {
			e.records = make(map[string]*ExecutionRecord)
		}
		e.records[key] = &ExecutionRecord{Start: start, End: time.Now()}
		e.mu.Unlock()
		if e.Completions != nil {
			e.Completions <- key
		}
	}()

	if s, ok := e.HangAt[w.Name]; ok && s == stage {
		<-ctx.Done()
		return registry.Result{Outcome: workload.OutcomeFailure}, ctx.Err()
	}

	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return registry.Result{Outcome: workload.OutcomeFailure}, ctx.Err()
		}
	}

	if s, ok := e.FailAt[w.Name]; ok && s == stage {
		return registry.Result{
			Outcome:     workload.OutcomeFailure,
			Diagnostics: fmt.Sprintf("scripted failure at %s", stage),
			Duration:    time.Since(start),
		}, nil
	}

	return registry.Result{
		Outcome:     workload.OutcomeSuccess,
		Diagnostics: key,
		Duration:    time.Since(start),
	}, nil
}

// Order returns the invocation order as "name/stage" keys.
func (e *RecordingExecutor) Order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// MaxActive returns the highest number of concurrently running invocations
// observed so far.
func (e *RecordingExecutor) MaxActive() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxActive
}

// Record returns the timing record for "name/stage", or nil.
func (e *RecordingExecutor) Record(name string, stage workload.Stage) *ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.records[fmt.Sprintf("%s/%s", name, stage)]
}

// Module registers the executor as the default for all strategies.
type Module struct {
	Executor *RecordingExecutor
}

// Register implements the registry.Module interface.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterExecutor(registry.DefaultExecutorKey, m.Executor)
}
