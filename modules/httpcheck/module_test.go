package httpcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/migwave/internal/registry"
	"github.com/vk/migwave/internal/scorer"
	"github.com/vk/migwave/internal/workload"
)

func TestRegister(t *testing.T) {
	reg := registry.New()
	(&Module{}).Register(reg)

	for _, strategy := range []scorer.Strategy{scorer.Rehost, scorer.Replatform} {
		ex, err := reg.ExecutorFor(strategy)
		require.NoError(t, err)
		assert.IsType(t, &Executor{}, ex)
	}

	_, err := reg.ExecutorFor(scorer.Refactor)
	assert.Error(t, err, "no default is registered by this module")
}

func newExecutor() *Executor {
	return &Executor{Client: http.DefaultClient}
}

func TestExecute_ValidateProbesTarget(t *testing.T) {
	t.Run("healthy target passes", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		w := workload.Workload{Name: "api", Target: srv.URL}
		res, err := newExecutor().Execute(context.Background(), w, workload.StageValidate)
		require.NoError(t, err)
		assert.Equal(t, workload.OutcomeSuccess, res.Outcome)
		assert.Contains(t, res.Diagnostics, "target healthy")
	})

	t.Run("error status fails validation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		w := workload.Workload{Name: "api", Target: srv.URL}
		res, err := newExecutor().Execute(context.Background(), w, workload.StageValidate)
		require.NoError(t, err, "a failed probe is an outcome, not an error")
		assert.Equal(t, workload.OutcomeFailure, res.Outcome)
		assert.Contains(t, res.Diagnostics, "502")
	})

	t.Run("unreachable target fails validation", func(t *testing.T) {
		w := workload.Workload{Name: "api", Target: "http://127.0.0.1:1/nope"}
		res, err := newExecutor().Execute(context.Background(), w, workload.StageValidate)
		require.NoError(t, err)
		assert.Equal(t, workload.OutcomeFailure, res.Outcome)
		assert.Contains(t, res.Diagnostics, "probe failed")
	})
}

func TestExecute_NonURLTargetSkipsProbe(t *testing.T) {
	w := workload.Workload{Name: "batch", Target: "cloud/ecs/batch"}
	res, err := newExecutor().Execute(context.Background(), w, workload.StageValidate)
	require.NoError(t, err)
	assert.Equal(t, workload.OutcomeSuccess, res.Outcome)
}

func TestExecute_OtherStagesDoNotProbe(t *testing.T) {
	// An unreachable URL target must not matter outside the validate stage.
	w := workload.Workload{Name: "api", Target: "http://127.0.0.1:1/nope"}
	res, err := newExecutor().Execute(context.Background(), w, workload.StageExecute)
	require.NoError(t, err)
	assert.Equal(t, workload.OutcomeSuccess, res.Outcome)
}

func TestProbeURL(t *testing.T) {
	cases := []struct {
		target string
		ok     bool
	}{
		{"https://api.example.com/health", true},
		{"http://localhost:8080", true},
		{"cloud/ecs/batch", false},
		{"ftp://example.com", false},
		{"http://", false},
	}
	for _, tc := range cases {
		_, ok := probeURL(tc.target)
		assert.Equal(t, tc.ok, ok, tc.target)
	}
}
