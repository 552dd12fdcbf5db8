package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	out := &bytes.Buffer{}

	cfg, shouldExit, err := Parse([]string{"program.hcl"}, out)
	require.NoError(t, err)
	require.False(t, shouldExit)

	assert.Equal(t, "program.hcl", cfg.ProgramPath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 0, cfg.HealthcheckPort)
	assert.Equal(t, 100*time.Millisecond, cfg.StageDelay)
	assert.Empty(t, cfg.ProgressURL)
}

func TestParse_Flags(t *testing.T) {
	out := &bytes.Buffer{}

	cfg, shouldExit, err := Parse([]string{
		"-program", "migration/",
		"-concurrency", "8",
		"-log-format", "text",
		"-log-level", "debug",
		"-healthcheck-port", "8080",
		"-stage-delay", "2s",
		"-progress-url", "http://dashboard:3000/socket.io",
	}, out)
	require.NoError(t, err)
	require.False(t, shouldExit)

	assert.Equal(t, "migration/", cfg.ProgramPath)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.HealthcheckPort)
	assert.Equal(t, 2*time.Second, cfg.StageDelay)
	assert.Equal(t, "http://dashboard:3000/socket.io", cfg.ProgressURL)
}

func TestParse_ShorthandAndPositional(t *testing.T) {
	out := &bytes.Buffer{}

	cfg, _, err := Parse([]string{"-p", "short.hcl"}, out)
	require.NoError(t, err)
	assert.Equal(t, "short.hcl", cfg.ProgramPath)

	// The long flag wins over the positional argument.
	cfg, _, err = Parse([]string{"-program", "flag.hcl", "positional.hcl"}, out)
	require.NoError(t, err)
	assert.Equal(t, "flag.hcl", cfg.ProgramPath)
}

func TestParse_NoPathPrintsUsage(t *testing.T) {
	out := &bytes.Buffer{}

	cfg, shouldExit, err := Parse(nil, out)
	require.NoError(t, err)
	assert.True(t, shouldExit)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParse_InvalidValues(t *testing.T) {
	cases := []struct {
		name     string
		args     []string
		contains string
	}{
		{"bad log format", []string{"-log-format", "xml", "p.hcl"}, "invalid log-format"},
		{"bad log level", []string{"-log-level", "verbose", "p.hcl"}, "invalid log-level"},
		{"zero concurrency", []string{"-concurrency", "0", "p.hcl"}, "invalid concurrency"},
		{"unknown flag", []string{"--not-a-flag"}, "flag provided but not defined"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			_, _, err := Parse(tc.args, out)
			require.Error(t, err)

			exitErr, ok := err.(*ExitError)
			require.True(t, ok, "CLI failures carry an exit code")
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.contains)
		})
	}
}
