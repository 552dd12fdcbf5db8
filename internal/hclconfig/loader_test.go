package hclconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/migwave/internal/migerr"
	"github.com/vk/migwave/internal/scorer"
)

func writeProgram(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

const validProgram = `
defaults {
  stage_timeout = "5m"
  retry_limit   = 2
}

wave "foundation" {
  concurrency = 2
}

workload "db" {
  source = "dc1/db-04"
  target = "cloud/rds/db"
  wave   = "foundation"

  readiness {
    technical_complexity     = 35
    business_criticality     = 80
    compliance_exposure      = 40
    team_skill_fit           = 70
    cost_delta               = 25
    architecture_portability = 60
  }
}

workload "api" {
  source        = "dc1/app-12"
  target        = "https://api.example.internal/health"
  depends_on    = ["db"]
  stage_timeout = "15m"

  readiness {
    technical_complexity     = 45
    business_criticality     = 70
    compliance_exposure      = 35
    team_skill_fit           = 60
    cost_delta               = 30
    architecture_portability = 55
  }
}
`

func TestLoad_SingleFile(t *testing.T) {
	dir := writeProgram(t, map[string]string{"main.hcl": validProgram})

	model, err := NewLoader().Load(context.Background(), filepath.Join(dir, "main.hcl"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, model.StageTimeout)
	assert.Equal(t, 2, model.RetryLimit)

	require.Len(t, model.Waves, 1)
	assert.Equal(t, "foundation", model.Waves[0].Name)
	assert.Equal(t, 2, model.Waves[0].Concurrency)

	require.Len(t, model.Workloads, 2)
	db := model.Workloads[0]
	assert.Equal(t, "db", db.Name)
	assert.Equal(t, "dc1/db-04", db.Source)
	assert.Equal(t, "foundation", db.Wave)
	assert.Equal(t, 80.0, db.Readiness[scorer.DimBusinessCriticality])
	assert.Len(t, db.Readiness, 6)

	api := model.Workloads[1]
	assert.Equal(t, []string{"db"}, api.DependsOn)
	assert.Equal(t, 15*time.Minute, api.StageTimeout)
}

func TestLoad_Directory(t *testing.T) {
	dir := writeProgram(t, map[string]string{
		"10-waves.hcl": `
			wave "w" {}
		`,
		"20-workloads.hcl": `
			workload "a" {
				source = "dc1/a"
				target = "cloud/a"
				wave   = "w"
				readiness {
					technical_complexity     = 10
					business_criticality     = 10
					compliance_exposure      = 10
					team_skill_fit           = 10
					cost_delta               = 10
					architecture_portability = 10
				}
			}
		`,
		"ignored.txt": "not hcl",
	})

	model, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, model.Waves, 1)
	assert.Len(t, model.Workloads, 1)
	assert.Equal(t, defaultRetryLimit, model.RetryLimit, "files without a defaults block fall back")
}

func TestLoad_ScoringOverrides(t *testing.T) {
	dir := writeProgram(t, map[string]string{"main.hcl": `
		scoring {
			weights {
				technical_complexity = 3.0
			}
			thresholds {
				rehost = 90
			}
		}
		workload "a" {
			source = "dc1/a"
			target = "cloud/a"
			readiness {
				technical_complexity     = 10
				business_criticality     = 10
				compliance_exposure      = 10
				team_skill_fit           = 10
				cost_delta               = 10
				architecture_portability = 10
			}
		}
	`})

	model, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)

	// Overridden values stick, everything else keeps the defaults.
	assert.Equal(t, 3.0, model.Weights.TechnicalComplexity)
	assert.Equal(t, scorer.DefaultWeights().BusinessCriticality, model.Weights.BusinessCriticality)
	assert.Equal(t, 90.0, model.Thresholds.Rehost)
	assert.Equal(t, scorer.DefaultThresholds().Replatform, model.Thresholds.Replatform)
}

func TestLoad_EnvInterpolation(t *testing.T) {
	t.Setenv("MIGWAVE_TEST_REGION", "eu-west-1")
	dir := writeProgram(t, map[string]string{"main.hcl": `
		workload "a" {
			source = "dc1/a"
			target = "cloud/${env.MIGWAVE_TEST_REGION}/a"
			readiness {
				technical_complexity     = 10
				business_criticality     = 10
				compliance_exposure      = 10
				team_skill_fit           = 10
				cost_delta               = 10
				architecture_portability = 10
			}
		}
	`})

	model, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, model.Workloads, 1)
	assert.Equal(t, "cloud/eu-west-1/a", model.Workloads[0].Target)
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name     string
		files    map[string]string
		contains string
	}{
		{
			name:     "syntax error",
			files:    map[string]string{"main.hcl": `workload "a" {`},
			contains: "parse",
		},
		{
			name: "missing readiness block",
			files: map[string]string{"main.hcl": `
				workload "a" {
					source = "dc1/a"
					target = "cloud/a"
				}
			`},
			contains: "missing its readiness block",
		},
		{
			name: "incomplete readiness block",
			files: map[string]string{"main.hcl": `
				workload "a" {
					source = "dc1/a"
					target = "cloud/a"
					readiness {
						technical_complexity = 10
					}
				}
			`},
			contains: "decode",
		},
		{
			name: "bad stage timeout",
			files: map[string]string{"main.hcl": `
				defaults { stage_timeout = "soon" }
			`},
			contains: "stage_timeout",
		},
		{
			name: "duplicate defaults across files",
			files: map[string]string{
				"a.hcl": `defaults { retry_limit = 1 }`,
				"b.hcl": `defaults { retry_limit = 2 }`,
			},
			contains: "duplicate defaults block",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeProgram(t, tc.files)
			_, err := NewLoader().Load(context.Background(), dir)
			require.Error(t, err)
			var verr *migerr.ValidationError
			assert.ErrorAs(t, err, &verr, "loader defects are validation errors")
			assert.ErrorContains(t, err, tc.contains)
		})
	}
}

func TestLoad_MissingPath(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.hcl"))
	var verr *migerr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestLoad_EmptyDirectory(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), t.TempDir())
	assert.ErrorContains(t, err, "no .hcl program files")
}
