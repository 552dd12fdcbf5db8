package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vk/migwave/internal/ctxlog"
	"github.com/vk/migwave/internal/progress"
	"github.com/vk/migwave/internal/workload"
	"github.com/vk/migwave/modules/socketio"
)

// Run executes one full migration program based on the provided configuration.
// Cancelling ctx stops admitting new stage work; in-flight stages drain and
// record their outcomes before Run returns.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if appConfig.HealthcheckPort > 0 {
		a.startHealthcheckServer(appConfig.HealthcheckPort)
	}

	if appConfig.ProgressURL != "" {
		fwd, err := socketio.NewForwarder(ctx, socketio.Options{URL: appConfig.ProgressURL})
		if err != nil {
			return fmt.Errorf("failed to set up progress forwarding: %w", err)
		}
		defer fwd.Close()
		a.registry.RegisterSink(fwd)
	}

	id, err := a.factory.CreateProgram(ctx, a.model.Workloads, a.model.Waves)
	if err != nil {
		return fmt.Errorf("failed to create migration program: %w", err)
	}

	a.logger.Info("🚀 Starting migration program.", "program", id, "concurrency", appConfig.Concurrency)
	events, err := a.factory.Run(ctx, id, appConfig.Concurrency)
	if err != nil {
		return fmt.Errorf("failed to start migration program: %w", err)
	}

	for ev := range events {
		a.logEvent(ev)
	}

	if err := a.factory.Err(id); err != nil {
		return fmt.Errorf("orchestration aborted: %w", err)
	}
	return a.summarize(ctx, id)
}

// logEvent renders one progress event to the application log.
func (a *App) logEvent(ev progress.Event) {
	attrs := []any{"workload", ev.Workload, "wave", ev.Wave, "stage", ev.Stage.String()}
	switch ev.Kind {
	case progress.KindStageStarted:
		a.logger.Info("▶️  Stage started.", attrs...)
	case progress.KindStageSucceeded:
		a.logger.Info("✅ Stage succeeded.", append(attrs, "duration", ev.Duration)...)
	case progress.KindStageFailed:
		a.logger.Warn("❌ Stage failed.", append(attrs, "diagnostics", ev.Diagnostics)...)
	case progress.KindWorkloadBlocked:
		a.logger.Warn("⛔ Workload blocked.", append(attrs, "diagnostics", ev.Diagnostics)...)
	case progress.KindWorkloadCompleted:
		a.logger.Info("🏁 Workload completed.", attrs...)
	case progress.KindProgramFinished:
		a.logger.Info("🏁 Program finished.", "program", ev.ProgramID)
	default:
		a.logger.Debug("Progress event.", append(attrs, "kind", string(ev.Kind))...)
	}
}

// summarize reports the final per-wave state. The CLI treats any failed or
// blocked workload as an unsuccessful run; a user-initiated cancellation is
// not an error.
func (a *App) summarize(ctx context.Context, id uuid.UUID) error {
	snap, err := a.factory.Progress(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}

	var failed, blocked, completed, pending int
	for _, w := range snap.Workloads {
		switch w.Status {
		case workload.StatusFailed:
			failed++
		case workload.StatusBlocked:
			blocked++
		case workload.StatusCompleted:
			completed++
		default:
			pending++
		}
	}
	for _, wv := range snap.Waves {
		a.logger.Info("Wave summary.", "wave", wv.Name, "status", wv.Status.String(), "percent", wv.Percent)
	}
	a.logger.Info("Program summary.",
		"completed", completed, "failed", failed, "blocked", blocked, "pending", pending)

	if ctx.Err() != nil {
		a.logger.Warn("Run was cancelled, unfinished workloads stay pending.", "pending", pending)
		return nil
	}
	if failed > 0 || blocked > 0 {
		return fmt.Errorf("migration finished with %d failed and %d blocked workloads", failed, blocked)
	}
	return nil
}
