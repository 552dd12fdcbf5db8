package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/migwave/internal/program"
	"github.com/vk/migwave/internal/progress"
	"github.com/vk/migwave/internal/scorer"
)

// Readiness builds a full six-dimension readiness map with every dimension
// set to v. Tests that do not care about scoring use this to satisfy input
// validation.
func Readiness(v float64) map[string]float64 {
	return map[string]float64{
		scorer.DimTechnicalComplexity:     v,
		scorer.DimBusinessCriticality:     v,
		scorer.DimComplianceExposure:      v,
		scorer.DimTeamSkillFit:            v,
		scorer.DimCostDelta:               v,
		scorer.DimArchitecturePortability: v,
	}
}

// Spec builds a minimal workload spec with balanced readiness values.
func Spec(name string, dependsOn ...string) program.WorkloadSpec {
	return program.WorkloadSpec{
		Name:      name,
		Source:    "dc1/" + name,
		Target:    "cloud/" + name,
		DependsOn: dependsOn,
		Readiness: Readiness(50),
	}
}

// MustBuild builds a program with the default scorer, failing the test on
// any validation error.
func MustBuild(t *testing.T, specs []program.WorkloadSpec, waves []program.WaveSpec, retryCeiling int) *program.Program {
	t.Helper()
	sc, err := scorer.New(scorer.Weights{}, scorer.Thresholds{})
	require.NoError(t, err)
	p, err := program.Build(specs, waves, sc, retryCeiling)
	require.NoError(t, err)
	return p
}

// Drain consumes an event stream until it closes and returns every event.
func Drain(ch <-chan progress.Event) []progress.Event {
	var events []progress.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

// EventsOfKind filters a drained event slice by kind.
func EventsOfKind(events []progress.Event, kind progress.Kind) []progress.Event {
	var out []progress.Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
