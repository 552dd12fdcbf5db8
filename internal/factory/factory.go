// Package factory composes scorer, program builder, store and orchestrator
// into the migration program lifecycle: assess and score, partition into
// waves, orchestrate, report progress.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/migwave/internal/ctxlog"
	"github.com/vk/migwave/internal/migerr"
	"github.com/vk/migwave/internal/orchestrator"
	"github.com/vk/migwave/internal/program"
	"github.com/vk/migwave/internal/progress"
	"github.com/vk/migwave/internal/registry"
	"github.com/vk/migwave/internal/scorer"
	"github.com/vk/migwave/internal/store"
	"github.com/vk/migwave/internal/workload"
)

// Options tunes factory-wide policies.
type Options struct {
	// RetryCeiling bounds manual retries per workload.
	RetryCeiling int
	// DefaultStageTimeout applies to workloads without their own timeout.
	DefaultStageTimeout time.Duration
}

// Factory is the facade the rest of the platform talks to.
type Factory struct {
	store  store.Store
	reg    *registry.Registry
	scorer *scorer.Scorer
	opts   Options

	mu      sync.Mutex
	runs    map[uuid.UUID]*activeRun
	lastErr map[uuid.UUID]error
}

type activeRun struct {
	orch        *orchestrator.Orchestrator
	cancel      context.CancelFunc
	concurrency int
}

// New wires up a factory.
func New(st store.Store, reg *registry.Registry, sc *scorer.Scorer, opts Options) *Factory {
	return &Factory{
		store:   st,
		reg:     reg,
		scorer:  sc,
		opts:    opts,
		runs:    make(map[uuid.UUID]*activeRun),
		lastErr: make(map[uuid.UUID]error),
	}
}

// CreateProgram validates and scores the given workload specs, partitions
// them into waves and persists the resulting program. Malformed input is
// rejected with a ValidationError before anything is stored.
func (f *Factory) CreateProgram(ctx context.Context, specs []program.WorkloadSpec, waves []program.WaveSpec) (uuid.UUID, error) {
	p, err := program.Build(specs, waves, f.scorer, f.opts.RetryCeiling)
	if err != nil {
		return uuid.Nil, err
	}
	if err := f.store.SaveProgram(ctx, p); err != nil {
		return uuid.Nil, err
	}
	logger := ctxlog.FromContext(ctx)
	logger.Info("Program created.", "program", p.ID, "workloads", len(p.Workloads), "waves", len(p.Waves))
	return p.ID, nil
}

// Run starts orchestrating a program and returns its progress event stream.
// The stream carries one event per state transition and closes when every
// workload has settled or, after Cancel, when in-flight work has drained.
// Individual workload failures are events on the stream, never an error
// from Run.
func (f *Factory) Run(ctx context.Context, id uuid.UUID, concurrency int) (<-chan progress.Event, error) {
	p, err := f.store.GetProgram(ctx, id)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(p, f.reg, orchestrator.Options{
		Concurrency:         concurrency,
		DefaultStageTimeout: f.opts.DefaultStageTimeout,
	})
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if _, running := f.runs[id]; running {
		f.mu.Unlock()
		return nil, fmt.Errorf("program %s is already running", id)
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.runs[id] = &activeRun{orch: orch, cancel: cancel, concurrency: concurrency}
	f.mu.Unlock()

	events := orch.Run(runCtx)
	out := make(chan progress.Event, cap(events))
	go func() {
		defer close(out)
		for ev := range events {
			out <- ev
		}
		cancel()
		f.mu.Lock()
		delete(f.runs, id)
		f.lastErr[id] = orch.Err()
		f.mu.Unlock()
		if err := orch.Err(); err != nil {
			ctxlog.FromContext(ctx).Error("Run aborted on internal error.", "program", id, "error", err)
		}
	}()
	return out, nil
}

// Cancel stops admitting new work for a running program. In-flight stage
// executions finish and record their outcomes; everything not yet started
// stays pending for a later resume.
func (f *Factory) Cancel(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return fmt.Errorf("program %s is not running", id)
	}
	run.cancel()
	return nil
}

// Err exposes the internal error of the most recent finished run, if the
// orchestrator aborted defensively. While the program is still running it
// reports nil; the orchestrator's error is only readable once its event
// stream has closed.
func (f *Factory) Err(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, running := f.runs[id]; running {
		return nil
	}
	return f.lastErr[id]
}

// RetryWorkload resets a failed workload to its failing stage, bounded by
// the configured retry ceiling, and returns its blocked dependents to the
// queue. The program must not be running.
func (f *Factory) RetryWorkload(ctx context.Context, id uuid.UUID, name string) error {
	f.mu.Lock()
	if _, running := f.runs[id]; running {
		f.mu.Unlock()
		return fmt.Errorf("program %s is running, cancel or wait before retrying", id)
	}
	f.mu.Unlock()

	p, err := f.store.GetProgram(ctx, id)
	if err != nil {
		return err
	}

	p.Lock()
	defer p.Unlock()
	w, ok := p.Workloads[name]
	if !ok {
		return migerr.Validationf("unknown workload %q", name)
	}
	now := time.Now()
	if err := w.ResetForRetry(p.RetryCeiling, now); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Workload reset for retry.", "program", id, "workload", name, "stage", w.Stage, "attempt", w.Retries)
	f.unblockDependents(p, name)

	// Retries happen between runs, so there is no event stream to carry
	// them; registered sinks still get notified.
	ev := progress.Event{
		Kind:      progress.KindWorkloadRetried,
		ProgramID: p.ID,
		Workload:  w.Name,
		Wave:      w.Wave,
		Stage:     w.Stage,
		Status:    w.Status,
		At:        now,
	}
	for _, sink := range f.reg.Sinks() {
		sink.Publish(ctx, ev)
	}
	return nil
}

// unblockDependents transitively returns blocked downstream workloads to
// pending. A later run re-evaluates them and re-blocks whatever is still
// doomed by another failed dependency.
func (f *Factory) unblockDependents(p *program.Program, name string) {
	dependents, _ := p.Graph.Dependents(name)
	for _, dep := range dependents {
		d := p.Workloads[dep]
		if d.Status != workload.StatusBlocked {
			continue
		}
		if err := d.Unblock(); err != nil {
			continue
		}
		f.unblockDependents(p, dep)
	}
}

// WorkloadProgress is the read-only status of one workload.
type WorkloadProgress struct {
	Name     string
	Wave     string
	Stage    workload.Stage
	Status   workload.Status
	Percent  int
	Strategy scorer.Strategy
	Retries  int
}

// WaveProgress is the derived status of one wave.
type WaveProgress struct {
	Name    string
	Status  workload.Status
	Percent int
}

// Snapshot is a point-in-time view of a program.
type Snapshot struct {
	ProgramID uuid.UUID
	Workloads []WorkloadProgress
	Waves     []WaveProgress
	// ETA estimates time to completion from historical per-stage durations.
	// Zero when there is no history to extrapolate from.
	ETA time.Duration
}

// Progress returns a consistent snapshot of per-workload and per-wave status.
func (f *Factory) Progress(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	p, err := f.store.GetProgram(ctx, id)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	concurrency := 1
	if run, ok := f.runs[id]; ok {
		concurrency = run.concurrency
	}
	f.mu.Unlock()

	p.RLock()
	defer p.RUnlock()

	snap := &Snapshot{ProgramID: p.ID}
	for _, name := range p.Order {
		w := p.Workloads[name]
		snap.Workloads = append(snap.Workloads, WorkloadProgress{
			Name:     w.Name,
			Wave:     w.Wave,
			Stage:    w.Stage,
			Status:   w.Status,
			Percent:  w.Progress(),
			Strategy: w.Score.Strategy,
			Retries:  w.Retries,
		})
	}
	for _, wv := range p.Waves {
		snap.Waves = append(snap.Waves, WaveProgress{
			Name:    wv.Name,
			Status:  waveStatus(p, wv),
			Percent: wavePercent(p, wv),
		})
	}
	snap.ETA = estimateETA(p, concurrency)
	return snap, nil
}

// wavePercent is the mean progress of the wave's members.
func wavePercent(p *program.Program, wv *program.Wave) int {
	if len(wv.Members) == 0 {
		return 0
	}
	total := 0
	for _, name := range wv.Members {
		total += p.Workloads[name].Progress()
	}
	return total / len(wv.Members)
}

// waveStatus derives a wave's status from its members.
func waveStatus(p *program.Program, wv *program.Wave) workload.Status {
	completed := 0
	var anyInProgress, anyFailed, anyBlocked bool
	for _, name := range wv.Members {
		switch p.Workloads[name].Status {
		case workload.StatusCompleted:
			completed++
		case workload.StatusInProgress:
			anyInProgress = true
		case workload.StatusFailed:
			anyFailed = true
		case workload.StatusBlocked:
			anyBlocked = true
		}
	}
	switch {
	case completed == len(wv.Members):
		return workload.StatusCompleted
	case anyInProgress:
		return workload.StatusInProgress
	case anyFailed:
		return workload.StatusFailed
	case anyBlocked:
		return workload.StatusBlocked
	default:
		return workload.StatusPending
	}
}

// estimateETA extrapolates remaining runtime from the average duration of
// stages recorded so far, divided across the run's concurrency.
func estimateETA(p *program.Program, concurrency int) time.Duration {
	var recorded time.Duration
	samples := 0
	for _, w := range p.Workloads {
		for _, h := range w.History {
			if h.Outcome == workload.OutcomeSuccess && h.Duration > 0 {
				recorded += h.Duration
				samples++
			}
		}
	}
	if samples == 0 {
		return 0
	}
	perStage := recorded / time.Duration(samples)

	remainingStages := 0
	for _, w := range p.Workloads {
		if w.Status.Settled() {
			continue
		}
		remainingStages += len(workload.Pipeline) - int(w.Stage)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return perStage * time.Duration((remainingStages+concurrency-1)/concurrency)
}
