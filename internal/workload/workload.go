// Package workload defines the migration workload entity and the stage state
// machine that drives it through the six-stage pipeline.
package workload

import (
	"time"

	"github.com/google/uuid"

	"github.com/vk/migwave/internal/migerr"
	"github.com/vk/migwave/internal/scorer"
)

// Stage is one step of the fixed migration pipeline.
type Stage int

const (
	StageAssess Stage = iota
	StagePlan
	StageExecute
	StageValidate
	StageCutover
	// StageComplete is the terminal stage reached after a successful cutover.
	StageComplete
)

// Pipeline lists the executable stages in order. StageComplete is not
// executable, it only marks the end of the pipeline.
var Pipeline = []Stage{StageAssess, StagePlan, StageExecute, StageValidate, StageCutover}

func (s Stage) String() string {
	switch s {
	case StageAssess:
		return "assess"
	case StagePlan:
		return "plan"
	case StageExecute:
		return "execute"
	case StageValidate:
		return "validate"
	case StageCutover:
		return "cutover"
	case StageComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Next returns the stage following s, and false once the pipeline is done.
func (s Stage) Next() (Stage, bool) {
	if s >= StageCutover {
		return StageComplete, s == StageCutover
	}
	return s + 1, true
}

// Status is the scheduling state of a workload.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusBlocked
	StatusFailed
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusBlocked:
		return "blocked"
	case StatusFailed:
		return "failed"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Settled reports whether the workload can make no further progress in the
// current run. Blocked counts as settled: it only resumes after the failed
// dependency is manually reset and completes.
func (s Status) Settled() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

// Outcome classifies a single history entry.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeBlocked
	OutcomeRetried
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeRetried:
		return "retried"
	default:
		return "unknown"
	}
}

// HistoryEntry is one immutable record in a workload's audit trail.
type HistoryEntry struct {
	Stage       Stage
	Outcome     Outcome
	Diagnostics string
	Duration    time.Duration
	At          time.Time
}

// Workload is a single unit of migration work within a wave.
//
// All mutation goes through the state machine methods below; the orchestrator
// is the only caller and serializes them. Everything else reads snapshots.
type Workload struct {
	ID     uuid.UUID
	Name   string
	Source string
	Target string

	// Wave is the name of the wave this workload belongs to. Assigned at
	// program build time; every workload belongs to exactly one wave.
	Wave string

	// DependsOn names the workloads that must complete before this one may
	// begin executing.
	DependsOn []string

	// Score is the readiness assessment computed at creation time.
	Score scorer.Score

	// StageTimeout bounds each stage invocation. Zero means the program
	// default applies.
	StageTimeout time.Duration

	Stage   Stage
	Status  Status
	Retries int
	History []HistoryEntry
}

// New creates a workload at the assess stage with a freshly computed score.
func New(name, source, target string, dependsOn []string, score scorer.Score) *Workload {
	return &Workload{
		ID:        uuid.New(),
		Name:      name,
		Source:    source,
		Target:    target,
		DependsOn: dependsOn,
		Score:     score,
		Stage:     StageAssess,
		Status:    StatusPending,
	}
}

// Begin marks the workload in progress for its current stage.
func (w *Workload) Begin() error {
	if w.Status != StatusPending {
		return migerr.Internalf("workload %q began stage %s from status %s", w.Name, w.Stage, w.Status)
	}
	w.Status = StatusInProgress
	return nil
}

// RecordSuccess appends a success entry for the current stage and advances
// the pipeline. Reaching the end of the pipeline completes the workload;
// otherwise it returns to pending, awaiting admission for the next stage.
func (w *Workload) RecordSuccess(diagnostics string, duration time.Duration, at time.Time) error {
	if w.Status != StatusInProgress {
		return migerr.Internalf("workload %q recorded success while %s", w.Name, w.Status)
	}
	w.History = append(w.History, HistoryEntry{
		Stage:       w.Stage,
		Outcome:     OutcomeSuccess,
		Diagnostics: diagnostics,
		Duration:    duration,
		At:          at,
	})
	next, _ := w.Stage.Next()
	w.Stage = next
	if next == StageComplete {
		w.Status = StatusCompleted
	} else {
		w.Status = StatusPending
	}
	return nil
}

// RecordFailure appends a failure entry and marks the workload failed. The
// stage pointer stays at the failing stage so a later retry resumes there.
func (w *Workload) RecordFailure(diagnostics string, duration time.Duration, at time.Time) error {
	if w.Status != StatusInProgress {
		return migerr.Internalf("workload %q recorded failure while %s", w.Name, w.Status)
	}
	w.History = append(w.History, HistoryEntry{
		Stage:       w.Stage,
		Outcome:     OutcomeFailure,
		Diagnostics: diagnostics,
		Duration:    duration,
		At:          at,
	})
	w.Status = StatusFailed
	return nil
}

// Block marks the workload blocked on a failed upstream dependency.
func (w *Workload) Block(diagnostics string, at time.Time) error {
	if w.Status.Settled() {
		return migerr.Internalf("workload %q blocked while already %s", w.Name, w.Status)
	}
	w.History = append(w.History, HistoryEntry{
		Stage:       w.Stage,
		Outcome:     OutcomeBlocked,
		Diagnostics: diagnostics,
		At:          at,
	})
	w.Status = StatusBlocked
	return nil
}

// Unblock returns a blocked workload to the scheduling queue, typically after
// its failed dependency has been reset for retry.
func (w *Workload) Unblock() error {
	if w.Status != StatusBlocked {
		return migerr.Internalf("workload %q unblocked while %s", w.Name, w.Status)
	}
	w.Status = StatusPending
	return nil
}

// ResetForRetry returns a failed workload to pending at its failing stage.
// The reset never rewinds the pipeline, and it is bounded by ceiling; once
// exhausted the workload stays permanently failed.
func (w *Workload) ResetForRetry(ceiling int, at time.Time) error {
	if w.Status != StatusFailed {
		return migerr.Validationf("workload %q is %s, only failed workloads can be retried", w.Name, w.Status)
	}
	if w.Retries >= ceiling {
		return &migerr.RetryExhausted{Workload: w.Name, Attempts: w.Retries}
	}
	w.Retries++
	w.History = append(w.History, HistoryEntry{
		Stage:   w.Stage,
		Outcome: OutcomeRetried,
		At:      at,
	})
	w.Status = StatusPending
	return nil
}

// Progress reports pipeline completion as a percentage. Each successfully
// finished stage contributes an equal share.
func (w *Workload) Progress() int {
	if w.Status == StatusCompleted {
		return 100
	}
	return int(w.Stage) * 100 / len(Pipeline)
}

// Snapshot returns a copy safe to hand to code running outside the
// orchestrator's serialization point. The history slice is cloned so later
// appends never race with readers.
func (w *Workload) Snapshot() Workload {
	c := *w
	c.History = append([]HistoryEntry(nil), w.History...)
	c.DependsOn = append([]string(nil), w.DependsOn...)
	return c
}
