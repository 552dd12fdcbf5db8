package orchestrator_test

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/migwave/internal/orchestrator"
	"github.com/vk/migwave/internal/program"
	"github.com/vk/migwave/internal/progress"
	"github.com/vk/migwave/internal/registry"
	"github.com/vk/migwave/internal/testutil"
	"github.com/vk/migwave/internal/workload"
)

func newRegistry(ex *testutil.RecordingExecutor) *registry.Registry {
	reg := registry.New()
	(&testutil.Module{Executor: ex}).Register(reg)
	return reg
}

func run(t *testing.T, p *program.Program, reg *registry.Registry, opts orchestrator.Options) []progress.Event {
	t.Helper()
	orch, err := orchestrator.New(p, reg, opts)
	require.NoError(t, err)
	events := testutil.Drain(orch.Run(context.Background()))
	require.NoError(t, orch.Err())
	return events
}

// Three independent workloads under a limit of two: never more than two
// stages in flight, and the third workload starts as soon as a permit frees.
func TestRun_ConcurrencyLimit(t *testing.T) {
	p := testutil.MustBuild(t, []program.WorkloadSpec{
		testutil.Spec("a"), testutil.Spec("b"), testutil.Spec("c"),
	}, nil, 0)
	ex := &testutil.RecordingExecutor{Delay: 30 * time.Millisecond}

	events := run(t, p, newRegistry(ex), orchestrator.Options{Concurrency: 2})

	assert.LessOrEqual(t, ex.MaxActive(), 2, "the permit pool must bound concurrency")
	assert.Equal(t, 2, ex.MaxActive(), "free permits must not idle while work is queued")

	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, workload.StatusCompleted, p.Workloads[name].Status)
	}
	assert.Len(t, testutil.EventsOfKind(events, progress.KindWorkloadCompleted), 3)
	assert.Len(t, testutil.EventsOfKind(events, progress.KindStageStarted), 3*len(workload.Pipeline))

	last := events[len(events)-1]
	assert.Equal(t, progress.KindProgramFinished, last.Kind, "the finished event closes the stream")
}

// A single permit serializes everything; admission is FIFO by eligibility, so
// workloads round-robin through the pipeline in declaration order.
func TestRun_FIFOAdmission(t *testing.T) {
	p := testutil.MustBuild(t, []program.WorkloadSpec{
		testutil.Spec("a"), testutil.Spec("b"), testutil.Spec("c"),
	}, nil, 0)
	ex := &testutil.RecordingExecutor{}

	run(t, p, newRegistry(ex), orchestrator.Options{Concurrency: 1})

	var want []string
	for _, stage := range workload.Pipeline {
		for _, name := range []string{"a", "b", "c"} {
			want = append(want, name+"/"+stage.String())
		}
	}
	assert.Equal(t, want, ex.Order(),
		"a workload returns to the queue tail between stages instead of hogging its permit")
}

// A failed dependency blocks its dependents, transitively, and the blocked
// workloads never execute a single stage.
func TestRun_DependencyFailureBlocks(t *testing.T) {
	p := testutil.MustBuild(t, []program.WorkloadSpec{
		testutil.Spec("w1"),
		testutil.Spec("w2", "w1"),
		testutil.Spec("w3", "w2"),
	}, nil, 0)
	ex := &testutil.RecordingExecutor{
		FailAt: map[string]workload.Stage{"w1": workload.StageExecute},
	}

	events := run(t, p, newRegistry(ex), orchestrator.Options{Concurrency: 2})

	w1 := p.Workloads["w1"]
	assert.Equal(t, workload.StatusFailed, w1.Status)
	assert.Equal(t, workload.StageExecute, w1.Stage, "the stage pointer stays at the failing stage")

	for _, name := range []string{"w2", "w3"} {
		w := p.Workloads[name]
		assert.Equal(t, workload.StatusBlocked, w.Status, name)
		assert.Equal(t, workload.StageAssess, w.Stage, "%s must never have executed", name)
	}
	for _, key := range ex.Order() {
		assert.NotContains(t, key, "w2/")
		assert.NotContains(t, key, "w3/")
	}

	blocked := testutil.EventsOfKind(events, progress.KindWorkloadBlocked)
	require.Len(t, blocked, 2)
	assert.Equal(t, "w2", blocked[0].Workload)
	assert.Contains(t, blocked[0].Diagnostics, `dependency "w1" failed`)

	failed := testutil.EventsOfKind(events, progress.KindStageFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Diagnostics, "scripted failure")

	last := events[len(events)-1]
	assert.Equal(t, progress.KindProgramFinished, last.Kind,
		"blocked workloads count as settled, the run must terminate")
}

func TestRun_DependentWaitsForCompletion(t *testing.T) {
	p := testutil.MustBuild(t, []program.WorkloadSpec{
		testutil.Spec("db"),
		testutil.Spec("api", "db"),
	}, nil, 0)
	ex := &testutil.RecordingExecutor{Delay: 5 * time.Millisecond}

	run(t, p, newRegistry(ex), orchestrator.Options{Concurrency: 4})

	dbDone := ex.Record("db", workload.StageCutover)
	apiStart := ex.Record("api", workload.StageAssess)
	require.NotNil(t, dbDone)
	require.NotNil(t, apiStart)
	assert.False(t, apiStart.Start.Before(dbDone.End),
		"a dependent must not begin before its dependency completed the full pipeline")
}

// Cancellation mid-run: the in-flight stage drains and records its outcome,
// nothing new is admitted afterwards.
func TestRun_Cancel(t *testing.T) {
	p := testutil.MustBuild(t, []program.WorkloadSpec{
		testutil.Spec("a"), testutil.Spec("b"),
	}, nil, 0)
	ex := &testutil.RecordingExecutor{Delay: 150 * time.Millisecond}
	reg := newRegistry(ex)

	orch, err := orchestrator.New(p, reg, orchestrator.Options{Concurrency: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []progress.Event
	for ev := range orch.Run(ctx) {
		events = append(events, ev)
		if ev.Kind == progress.KindStageStarted {
			cancel()
		}
	}
	require.NoError(t, orch.Err())

	started := testutil.EventsOfKind(events, progress.KindStageStarted)
	require.Len(t, started, 1, "no admissions may happen after cancellation")
	assert.Equal(t, "a", started[0].Workload)

	succeeded := testutil.EventsOfKind(events, progress.KindStageSucceeded)
	require.Len(t, succeeded, 1, "the in-flight execution completes and records its outcome")

	a := p.Workloads["a"]
	assert.Equal(t, workload.StatusPending, a.Status)
	assert.Equal(t, workload.StagePlan, a.Stage)
	require.Len(t, a.History, 1)
	assert.Equal(t, workload.OutcomeSuccess, a.History[0].Outcome)

	b := p.Workloads["b"]
	assert.Equal(t, workload.StatusPending, b.Status)
	assert.Empty(t, b.History)
}

// Once cancelled, the scheduler must sleep until the in-flight execution
// reports back instead of spinning on the already-closed run context.
func TestRun_CancelDrainStaysIdle(t *testing.T) {
	p := testutil.MustBuild(t, []program.WorkloadSpec{
		testutil.Spec("a"), testutil.Spec("b"),
	}, nil, 0)
	ex := &testutil.RecordingExecutor{Delay: 500 * time.Millisecond}

	orch, err := orchestrator.New(p, newRegistry(ex), orchestrator.Options{Concurrency: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cpuAtCancel time.Duration
	for ev := range orch.Run(ctx) {
		if ev.Kind == progress.KindStageStarted {
			cpuAtCancel = processCPUTime(t)
			cancel()
		}
	}
	require.NoError(t, orch.Err())
	usedDuringDrain := processCPUTime(t) - cpuAtCancel

	assert.Less(t, usedDuringDrain, 150*time.Millisecond,
		"draining an in-flight stage after cancel must not burn a core")
}

func processCPUTime(t *testing.T) time.Duration {
	t.Helper()
	var ru syscall.Rusage
	require.NoError(t, syscall.Getrusage(syscall.RUSAGE_SELF, &ru))
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
}

func TestRun_StageTimeout(t *testing.T) {
	spec := testutil.Spec("stuck")
	spec.StageTimeout = 40 * time.Millisecond
	p := testutil.MustBuild(t, []program.WorkloadSpec{spec}, nil, 0)
	ex := &testutil.RecordingExecutor{
		HangAt: map[string]workload.Stage{"stuck": workload.StageAssess},
	}

	events := run(t, p, newRegistry(ex), orchestrator.Options{Concurrency: 1})

	w := p.Workloads["stuck"]
	assert.Equal(t, workload.StatusFailed, w.Status)
	assert.Equal(t, workload.StageAssess, w.Stage)

	failed := testutil.EventsOfKind(events, progress.KindStageFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Diagnostics, "timed out")
}

func TestRun_WaveConcurrencyCap(t *testing.T) {
	specs := []program.WorkloadSpec{
		{Name: "w-a", Readiness: testutil.Readiness(50), Wave: "careful"},
		{Name: "w-b", Readiness: testutil.Readiness(50), Wave: "careful"},
	}
	waves := []program.WaveSpec{{Name: "careful", Concurrency: 1}}
	p := testutil.MustBuild(t, specs, waves, 0)
	ex := &testutil.RecordingExecutor{Delay: 30 * time.Millisecond}

	run(t, p, newRegistry(ex), orchestrator.Options{Concurrency: 4})

	assert.Equal(t, 1, ex.MaxActive(),
		"a wave sub-limit tightens admission below the program-wide cap")
	assert.Equal(t, workload.StatusCompleted, p.Workloads["w-a"].Status)
	assert.Equal(t, workload.StatusCompleted, p.Workloads["w-b"].Status)
}

func TestRun_ResumeAfterRetryReset(t *testing.T) {
	p := testutil.MustBuild(t, []program.WorkloadSpec{
		testutil.Spec("flaky"),
		testutil.Spec("down", "flaky"),
	}, nil, 3)
	ex := &testutil.RecordingExecutor{
		FailAt: map[string]workload.Stage{"flaky": workload.StagePlan},
	}
	run(t, p, newRegistry(ex), orchestrator.Options{Concurrency: 2})

	require.Equal(t, workload.StatusFailed, p.Workloads["flaky"].Status)
	require.Equal(t, workload.StatusBlocked, p.Workloads["down"].Status)

	// Operator intervention between runs: reset the failure, requeue the
	// blocked dependent.
	require.NoError(t, p.Workloads["flaky"].ResetForRetry(3, time.Now()))
	require.NoError(t, p.Workloads["down"].Unblock())

	// Second run with a healthy executor picks up where the first stopped.
	healthy := &testutil.RecordingExecutor{}
	run(t, p, newRegistry(healthy), orchestrator.Options{Concurrency: 2})

	assert.Equal(t, workload.StatusCompleted, p.Workloads["flaky"].Status)
	assert.Equal(t, workload.StatusCompleted, p.Workloads["down"].Status)
	assert.Equal(t, "flaky/plan", healthy.Order()[0],
		"the retried workload resumes at its failing stage, not from scratch")
}

func TestRun_NoExecutorAborts(t *testing.T) {
	p := testutil.MustBuild(t, []program.WorkloadSpec{testutil.Spec("a")}, nil, 0)
	reg := registry.New() // nothing registered

	orch, err := orchestrator.New(p, reg, orchestrator.Options{Concurrency: 1})
	require.NoError(t, err)
	testutil.Drain(orch.Run(context.Background()))

	require.Error(t, orch.Err())
	assert.Contains(t, orch.Err().Error(), "no stage executor registered")
}

func TestNew_InvalidConcurrency(t *testing.T) {
	p := testutil.MustBuild(t, []program.WorkloadSpec{testutil.Spec("a")}, nil, 0)
	_, err := orchestrator.New(p, registry.New(), orchestrator.Options{Concurrency: 0})
	assert.Error(t, err)
}
