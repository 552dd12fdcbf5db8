package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/migwave/internal/progress"
	"github.com/vk/migwave/internal/registry"
	"github.com/vk/migwave/internal/scorer"
	"github.com/vk/migwave/internal/workload"
)

type nopExecutor struct{ name string }

func (e *nopExecutor) Execute(ctx context.Context, w workload.Workload, stage workload.Stage) (registry.Result, error) {
	return registry.Result{Outcome: workload.OutcomeSuccess}, nil
}

func TestExecutorFor(t *testing.T) {
	reg := registry.New()
	def := &nopExecutor{name: "default"}
	rehost := &nopExecutor{name: "rehost"}
	reg.RegisterExecutor(registry.DefaultExecutorKey, def)
	reg.RegisterExecutor(string(scorer.Rehost), rehost)

	got, err := reg.ExecutorFor(scorer.Rehost)
	require.NoError(t, err)
	assert.Same(t, rehost, got, "strategy-specific executors win")

	got, err = reg.ExecutorFor(scorer.Refactor)
	require.NoError(t, err)
	assert.Same(t, def, got, "unmapped strategies fall back to the default")
}

func TestExecutorFor_NothingRegistered(t *testing.T) {
	reg := registry.New()
	_, err := reg.ExecutorFor(scorer.Rehost)
	assert.ErrorContains(t, err, "no stage executor registered")
}

func TestRegisterExecutor_PanicsOnDuplicate(t *testing.T) {
	reg := registry.New()
	reg.RegisterExecutor("rehost", &nopExecutor{})

	assert.PanicsWithValue(t,
		"stage executor for strategy 'rehost' already registered",
		func() { reg.RegisterExecutor("rehost", &nopExecutor{}) },
	)
}

type recordingSink struct{ events []progress.Event }

func (s *recordingSink) Publish(ctx context.Context, ev progress.Event) {
	s.events = append(s.events, ev)
}

func TestSinks(t *testing.T) {
	reg := registry.New()
	assert.Empty(t, reg.Sinks())

	sink := &recordingSink{}
	reg.RegisterSink(sink)
	require.Len(t, reg.Sinks(), 1)

	reg.Sinks()[0].Publish(context.Background(), progress.Event{Kind: progress.KindProgramFinished})
	assert.Len(t, sink.events, 1)
}
