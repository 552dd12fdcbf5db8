// Package progress defines the event stream emitted by the orchestrator:
// one event per workload state transition, transport-independent.
package progress

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vk/migwave/internal/workload"
)

// Kind classifies a progress event.
type Kind string

const (
	KindStageStarted      Kind = "stage_started"
	KindStageSucceeded    Kind = "stage_succeeded"
	KindStageFailed       Kind = "stage_failed"
	KindWorkloadBlocked   Kind = "workload_blocked"
	KindWorkloadCompleted Kind = "workload_completed"
	KindWorkloadRetried   Kind = "workload_retried"
	KindProgramFinished   Kind = "program_finished"
)

// Event is a single state transition in a running program.
type Event struct {
	Kind        Kind
	ProgramID   uuid.UUID
	Workload    string
	Wave        string
	Stage       workload.Stage
	Status      workload.Status
	Diagnostics string
	Duration    time.Duration
	At          time.Time
}

// Sink receives events pushed out-of-band, for example to a live dashboard.
// Publish must not block the caller for long; slow transports should buffer
// or drop internally.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}
