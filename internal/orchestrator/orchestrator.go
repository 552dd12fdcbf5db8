// Package orchestrator drives every workload of a program to a settled state.
//
// One scheduler goroutine owns all mutable state. Stage executors run in
// their own goroutines outside that serialization point; only their
// completion messages re-enter the loop. Admission is FIFO by time of
// eligibility (declaration order breaks ties) and bounded by the program-wide
// permit pool, optionally tightened per wave.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/migwave/internal/ctxlog"
	"github.com/vk/migwave/internal/migerr"
	"github.com/vk/migwave/internal/permit"
	"github.com/vk/migwave/internal/program"
	"github.com/vk/migwave/internal/progress"
	"github.com/vk/migwave/internal/registry"
	"github.com/vk/migwave/internal/workload"
)

// Options configures a single run.
type Options struct {
	// Concurrency is the program-wide cap on simultaneous stage executions.
	Concurrency int
	// DefaultStageTimeout bounds stage invocations for workloads that do not
	// carry their own timeout. Zero disables the default bound.
	DefaultStageTimeout time.Duration
}

// completion is the message a finished stage execution sends back to the loop.
type completion struct {
	name     string
	result   registry.Result
	execErr  error
	timedOut bool
	duration time.Duration
}

// Orchestrator executes one program. It is single-use: construct, Run, then
// inspect Err once the event stream closes.
type Orchestrator struct {
	prog *program.Program
	reg  *registry.Registry
	pool *permit.Pool
	opts Options

	events chan progress.Event
	done   chan completion

	// err is written by the scheduler loop before the events channel closes.
	err error
}

// New prepares a run of the given program.
func New(prog *program.Program, reg *registry.Registry, opts Options) (*Orchestrator, error) {
	pool, err := permit.NewPool(opts.Concurrency)
	if err != nil {
		return nil, err
	}
	// Generous buffer: the loop must never block on its own event stream.
	buffer := len(prog.Workloads)*2*(len(workload.Pipeline)+1) + 4
	return &Orchestrator{
		prog:   prog,
		reg:    reg,
		pool:   pool,
		opts:   opts,
		events: make(chan progress.Event, buffer),
		done:   make(chan completion, opts.Concurrency),
	}, nil
}

// Run starts the scheduler loop and returns the progress event stream. The
// stream closes when every workload has settled or, after a cancellation,
// when the in-flight executions have drained. Per-workload failures are
// events, never errors; Err reports only internal defects.
func (o *Orchestrator) Run(ctx context.Context) <-chan progress.Event {
	go o.loop(ctx)
	return o.events
}

// Err reports an internal error that aborted the run. Valid once the event
// stream has closed.
func (o *Orchestrator) Err() error {
	return o.err
}

func (o *Orchestrator) loop(ctx context.Context) {
	logger := ctxlog.FromContext(ctx).With("program", o.prog.ID)
	defer close(o.events)

	ready := make([]string, 0, len(o.prog.Workloads))
	inFlight := 0
	waveInFlight := make(map[string]int)
	cancelled := false
	cancelling := ctx.Done()

	// Seed the queue. On a resumed run some workloads are already settled,
	// and pending workloads downstream of a failed one get blocked up front.
	o.prog.Lock()
	for _, name := range o.prog.Order {
		w := o.prog.Workloads[name]
		if w.Status != workload.StatusPending {
			continue
		}
		switch o.dependencyState(name) {
		case depsReady:
			ready = append(ready, name)
		case depsDoomed:
			if !o.block(ctx, name, "dependency failed before this run") {
				o.prog.Unlock()
				return
			}
		}
	}
	o.prog.Unlock()

	logger.Debug("Scheduler loop started.", "ready", len(ready), "limit", o.opts.Concurrency)

	for {
		if !cancelled {
			var aborted bool
			o.prog.Lock()
			ready, inFlight, aborted = o.admit(ctx, ready, inFlight, waveInFlight)
			o.prog.Unlock()
			if aborted {
				o.drain(inFlight)
				return
			}
		}

		if inFlight == 0 {
			if cancelled || len(ready) == 0 {
				break
			}
		}

		// True idle: the loop suspends until a completion or cancellation.
		select {
		case c := <-o.done:
			if err := o.pool.Release(); err != nil {
				o.err = err
				o.drain(inFlight - 1)
				return
			}
			inFlight--
			o.prog.Lock()
			waveInFlight[o.prog.Workloads[c.name].Wave]--
			next, ok := o.settle(ctx, c)
			o.prog.Unlock()
			if !ok {
				o.drain(inFlight)
				return
			}
			ready = append(ready, next...)
		case <-cancelling:
			cancelled = true
			// The closed Done channel would win every subsequent select; nil
			// it so the loop sleeps on completions while in-flight work drains.
			cancelling = nil
			logger.Info("Cancellation requested, no further admissions.", "in_flight", inFlight)
		}
	}

	o.emit(ctx, progress.Event{
		Kind:      progress.KindProgramFinished,
		ProgramID: o.prog.ID,
		At:        time.Now(),
	})
	logger.Debug("Scheduler loop finished.", "remaining", o.prog.Remaining())
}

// admit walks the ready queue in FIFO order and dispatches every workload a
// permit can be granted to. Entries capped by their wave stay queued without
// starving later entries from other waves.
func (o *Orchestrator) admit(ctx context.Context, ready []string, inFlight int, waveInFlight map[string]int) ([]string, int, bool) {
	i := 0
	for i < len(ready) {
		name := ready[i]
		w := o.prog.Workloads[name]
		if limit := o.waveCap(w.Wave); limit > 0 && waveInFlight[w.Wave] >= limit {
			i++
			continue
		}
		if !o.pool.TryAcquire() {
			break
		}
		if err := o.dispatch(ctx, w); err != nil {
			o.err = err
			return ready, inFlight, true
		}
		inFlight++
		waveInFlight[w.Wave]++
		ready = append(ready[:i], ready[i+1:]...)
	}
	return ready, inFlight, false
}

// waveCap returns the effective sub-limit for a wave: never above the
// program-wide limit, zero meaning no extra restriction.
func (o *Orchestrator) waveCap(name string) int {
	wv := o.prog.Wave(name)
	if wv == nil || wv.Concurrency == 0 {
		return 0
	}
	if wv.Concurrency > o.opts.Concurrency {
		return o.opts.Concurrency
	}
	return wv.Concurrency
}

// dispatch marks the workload in progress and launches its current stage on
// a fresh goroutine. The goroutine only ever reports back through o.done.
func (o *Orchestrator) dispatch(ctx context.Context, w *workload.Workload) error {
	if err := w.Begin(); err != nil {
		return err
	}
	ex, err := o.reg.ExecutorFor(w.Score.Strategy)
	if err != nil {
		return migerr.Internalf("%v", err)
	}

	o.emit(ctx, progress.Event{
		Kind:      progress.KindStageStarted,
		ProgramID: o.prog.ID,
		Workload:  w.Name,
		Wave:      w.Wave,
		Stage:     w.Stage,
		Status:    w.Status,
		At:        time.Now(),
	})

	snapshot := w.Snapshot()
	stage := w.Stage
	timeout := w.StageTimeout
	if timeout == 0 {
		timeout = o.opts.DefaultStageTimeout
	}

	go func() {
		execCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			// Cancellation of the run must not interrupt in-flight work, so
			// only the timeout is derived from the caller's context values.
			execCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), timeout)
		} else {
			execCtx = context.WithoutCancel(ctx)
		}
		defer cancel()

		start := time.Now()
		resCh := make(chan completion, 1)
		go func() {
			res, execErr := ex.Execute(execCtx, snapshot, stage)
			resCh <- completion{name: snapshot.Name, result: res, execErr: execErr}
		}()

		select {
		case c := <-resCh:
			c.duration = time.Since(start)
			if c.execErr != nil && errors.Is(c.execErr, context.DeadlineExceeded) {
				c.timedOut = true
			}
			o.done <- c
		case <-execCtx.Done():
			o.done <- completion{
				name:     snapshot.Name,
				timedOut: true,
				duration: time.Since(start),
				execErr:  execCtx.Err(),
			}
		}
	}()

	return nil
}

// dependency states as seen from a pending workload.
const (
	depsWaiting = iota
	depsReady
	depsDoomed
)

// dependencyState classifies whether a workload can be admitted, must keep
// waiting, or can never proceed because an upstream workload failed.
func (o *Orchestrator) dependencyState(name string) int {
	deps, _ := o.prog.Graph.Dependencies(name)
	state := depsReady
	for _, dep := range deps {
		switch o.prog.Workloads[dep].Status {
		case workload.StatusCompleted:
		case workload.StatusFailed, workload.StatusBlocked:
			return depsDoomed
		default:
			state = depsWaiting
		}
	}
	return state
}

// settle applies the state transition for a finished stage execution and
// returns the names that became eligible as a consequence, in declaration
// order. ok is false when the run must abort on an internal error.
func (o *Orchestrator) settle(ctx context.Context, c completion) ([]string, bool) {
	logger := ctxlog.FromContext(ctx)
	w := o.prog.Workloads[c.name]
	now := time.Now()

	failed := c.execErr != nil || c.timedOut || c.result.Outcome != workload.OutcomeSuccess
	diagnostics := c.result.Diagnostics
	if c.timedOut {
		diagnostics = fmt.Sprintf("stage %s timed out", w.Stage)
	} else if c.execErr != nil && diagnostics == "" {
		diagnostics = c.execErr.Error()
	}

	if failed {
		logger.Warn("Stage failed.", "workload", w.Name, "stage", w.Stage, "diagnostics", diagnostics)
		if err := w.RecordFailure(diagnostics, c.duration, now); err != nil {
			o.err = err
			return nil, false
		}
		o.emit(ctx, progress.Event{
			Kind:        progress.KindStageFailed,
			ProgramID:   o.prog.ID,
			Workload:    w.Name,
			Wave:        w.Wave,
			Stage:       w.Stage,
			Status:      w.Status,
			Diagnostics: diagnostics,
			Duration:    c.duration,
			At:          now,
		})
		if !o.blockDependents(ctx, w.Name) {
			return nil, false
		}
		return nil, true
	}

	completedStage := w.Stage
	if err := w.RecordSuccess(diagnostics, c.duration, now); err != nil {
		o.err = err
		return nil, false
	}
	o.emit(ctx, progress.Event{
		Kind:        progress.KindStageSucceeded,
		ProgramID:   o.prog.ID,
		Workload:    w.Name,
		Wave:        w.Wave,
		Stage:       completedStage,
		Status:      w.Status,
		Diagnostics: diagnostics,
		Duration:    c.duration,
		At:          now,
	})

	if w.Status == workload.StatusCompleted {
		logger.Info("Workload completed.", "workload", w.Name)
		o.emit(ctx, progress.Event{
			Kind:      progress.KindWorkloadCompleted,
			ProgramID: o.prog.ID,
			Workload:  w.Name,
			Wave:      w.Wave,
			Stage:     w.Stage,
			Status:    w.Status,
			At:        now,
		})
		// Completion may unlock dependents; check them in declaration order
		// so ties keep a stable admission order.
		var unlocked []string
		dependents, _ := o.prog.Graph.Dependents(w.Name)
		for _, dep := range dependents {
			d := o.prog.Workloads[dep]
			if d.Status == workload.StatusPending && o.dependencyState(dep) == depsReady {
				unlocked = append(unlocked, dep)
			}
		}
		return unlocked, true
	}

	// More stages ahead: back to the queue tail for a fresh permit.
	return []string{w.Name}, true
}

// blockDependents transitively marks every downstream pending workload as
// blocked, distinguishing them from workloads merely waiting on in-progress
// dependencies. Returns false on an internal error.
func (o *Orchestrator) blockDependents(ctx context.Context, name string) bool {
	dependents, _ := o.prog.Graph.Dependents(name)
	for _, dep := range dependents {
		d := o.prog.Workloads[dep]
		if d.Status != workload.StatusPending {
			continue
		}
		if !o.block(ctx, dep, fmt.Sprintf("dependency %q failed", name)) {
			return false
		}
		if !o.blockDependents(ctx, dep) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) block(ctx context.Context, name, diagnostics string) bool {
	w := o.prog.Workloads[name]
	now := time.Now()
	if err := w.Block(diagnostics, now); err != nil {
		o.err = err
		return false
	}
	o.emit(ctx, progress.Event{
		Kind:        progress.KindWorkloadBlocked,
		ProgramID:   o.prog.ID,
		Workload:    w.Name,
		Wave:        w.Wave,
		Stage:       w.Stage,
		Status:      w.Status,
		Diagnostics: diagnostics,
		At:          now,
	})
	return true
}

// drain waits for the remaining in-flight executions after an abort so their
// goroutines do not leak, discarding their results.
func (o *Orchestrator) drain(inFlight int) {
	for ; inFlight > 0; inFlight-- {
		<-o.done
	}
}

// emit delivers an event to the run stream and to every registered sink.
func (o *Orchestrator) emit(ctx context.Context, ev progress.Event) {
	o.events <- ev
	for _, sink := range o.reg.Sinks() {
		sink.Publish(ctx, ev)
	}
}
