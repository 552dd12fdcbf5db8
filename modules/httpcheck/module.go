// Package httpcheck provides the stage executor for lift-and-shift
// strategies. It behaves like the simulated executor for most stages, but
// during the validate stage it probes the workload's target over HTTP when
// the target is a URL, so a rehosted service must actually answer before
// the migration proceeds to cutover.
package httpcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vk/migwave/internal/ctxlog"
	"github.com/vk/migwave/internal/registry"
	"github.com/vk/migwave/internal/scorer"
	"github.com/vk/migwave/internal/workload"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// StageDelay is the simulated duration of non-validate stages.
	StageDelay time.Duration
}

// Register binds the executor to the lift-and-shift strategies.
func (m *Module) Register(r *registry.Registry) {
	ex := &Executor{
		StageDelay: m.StageDelay,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
	r.RegisterExecutor(string(scorer.Rehost), ex)
	r.RegisterExecutor(string(scorer.Replatform), ex)
}

// Executor probes rehosted targets during validation.
type Executor struct {
	StageDelay time.Duration
	Client     *http.Client
}

// Execute runs one stage. Validation of a URL target issues a GET and treats
// any non-2xx answer as a failure outcome.
func (e *Executor) Execute(ctx context.Context, w workload.Workload, stage workload.Stage) (registry.Result, error) {
	logger := ctxlog.FromContext(ctx).With("workload", w.Name, "stage", stage.String())

	if stage == workload.StageValidate {
		if target, ok := probeURL(w.Target); ok {
			return e.probe(ctx, logger.With("target", target), target)
		}
		logger.Debug("Target is not a URL, skipping HTTP probe.")
	}

	if e.StageDelay > 0 {
		select {
		case <-time.After(e.StageDelay):
		case <-ctx.Done():
			return registry.Result{Outcome: workload.OutcomeFailure}, ctx.Err()
		}
	}
	return registry.Result{
		Outcome:     workload.OutcomeSuccess,
		Diagnostics: fmt.Sprintf("%s of %s -> %s", stage, w.Source, w.Target),
		Duration:    e.StageDelay,
	}, nil
}

func (e *Executor) probe(ctx context.Context, logger *slog.Logger, target string) (registry.Result, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return registry.Result{Outcome: workload.OutcomeFailure, Diagnostics: err.Error()}, nil
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		return registry.Result{
			Outcome:     workload.OutcomeFailure,
			Diagnostics: fmt.Sprintf("target probe failed: %v", err),
			Duration:    time.Since(start),
		}, nil
	}
	defer resp.Body.Close()

	logger.Debug("Probe finished.", "status", resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return registry.Result{
			Outcome:     workload.OutcomeFailure,
			Diagnostics: fmt.Sprintf("target answered %s", resp.Status),
			Duration:    time.Since(start),
		}, nil
	}
	return registry.Result{
		Outcome:     workload.OutcomeSuccess,
		Diagnostics: fmt.Sprintf("target healthy (%s)", resp.Status),
		Duration:    time.Since(start),
	}, nil
}

// probeURL reports whether the target is an HTTP endpoint worth probing.
func probeURL(target string) (string, bool) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return target, true
}
