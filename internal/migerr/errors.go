// Package migerr defines the typed error taxonomy of the engine.
//
// ValidationError marks defects in user-supplied input, reported before any
// side effect. InternalError marks broken invariants inside the engine
// itself; an orchestration run aborts on one. Per-workload stage failures are
// deliberately NOT errors: they are outcomes on the progress stream.
package migerr

import "fmt"

// ValidationError reports malformed user input: program definitions,
// readiness assessments, configuration values.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// InternalError reports a broken engine invariant, a programmer error rather
// than a user one.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal: %s", e.Reason)
}

// Internalf builds an InternalError from a format string.
func Internalf(format string, args ...any) error {
	return &InternalError{Reason: fmt.Sprintf(format, args...)}
}

// RetryExhausted is returned when a failed workload has been reset as many
// times as the program's retry ceiling allows.
type RetryExhausted struct {
	Workload string
	Attempts int
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("workload %q exhausted its %d retries", e.Workload, e.Attempts)
}
