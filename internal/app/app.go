package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/migwave/internal/ctxlog"
	"github.com/vk/migwave/internal/factory"
	"github.com/vk/migwave/internal/hclconfig"
	"github.com/vk/migwave/internal/inmemorystore"
	"github.com/vk/migwave/internal/registry"
	"github.com/vk/migwave/internal/scorer"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	model    *hclconfig.Model
	factory  *factory.Factory
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Loading a broken program definition is a fatal startup error and panics.
func NewApp(outW io.Writer, appConfig *Config, loader *hclconfig.Loader, modules ...registry.Module) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, appConfig.ProgramPath)
	if err != nil {
		panic(fmt.Errorf("failed to load program definition: %w", err))
	}
	logger.Debug("Program definition loaded and translated into unified model.")

	sc, err := scorer.New(model.Weights, model.Thresholds)
	if err != nil {
		panic(fmt.Errorf("invalid scoring configuration: %w", err))
	}

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules(appConfig.StageDelay)
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All executor modules registered.", "count", len(modules))

	fac := factory.New(inmemorystore.New(), reg, sc, factory.Options{
		RetryCeiling:        model.RetryLimit,
		DefaultStageTimeout: model.StageTimeout,
	})

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		model:    model,
		factory:  fac,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Factory returns the application's migration factory. This is primarily for
// testing.
func (a *App) Factory() *factory.Factory {
	return a.factory
}
