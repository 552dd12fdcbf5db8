package app

import (
	"errors"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ProgramPath string // hcl file or directory of hcl files

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	// Concurrency caps the number of workloads migrating at once.
	Concurrency int
	// StageDelay is the simulated duration of each stage for the built-in
	// executors.
	StageDelay time.Duration
	// ProgressURL, when set, forwards progress events to a Socket.IO
	// endpoint.
	ProgressURL string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ProgramPath == "" {
		return nil, errors.New("ProgramPath is a required configuration field and cannot be empty")
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("Concurrency must be at least 1")
	}

	return &cfg, nil
}
