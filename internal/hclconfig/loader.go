// Package hclconfig loads migration program definitions from HCL files and
// translates them into the engine's format-agnostic model.
package hclconfig

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/migwave/internal/ctxlog"
	"github.com/vk/migwave/internal/migerr"
	"github.com/vk/migwave/internal/program"
	"github.com/vk/migwave/internal/scorer"
)

// Model is the fully translated content of a program definition.
type Model struct {
	Workloads    []program.WorkloadSpec
	Waves        []program.WaveSpec
	Weights      scorer.Weights
	Thresholds   scorer.Thresholds
	StageTimeout time.Duration
	RetryLimit   int
}

// defaultRetryLimit applies when the program file does not set one.
const defaultRetryLimit = 3

// Loader parses HCL program files. Attribute expressions may reference
// process environment variables as env.NAME.
type Loader struct {
	parser  *hclparse.Parser
	evalCtx *hcl.EvalContext
}

// NewLoader creates a new program file loader.
func NewLoader() *Loader {
	return &Loader{
		parser:  hclparse.NewParser(),
		evalCtx: &hcl.EvalContext{Variables: map[string]cty.Value{"env": envVariables()}},
	}
}

// envVariables exposes the process environment to program files as an object
// keyed by variable name, so targets and sources can be parameterized per
// deployment without editing the file.
func envVariables() cty.Value {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			vars[kv[:i]] = cty.StringVal(kv[i+1:])
		}
	}
	if len(vars) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(vars)
}

// Load reads a single .hcl file or every .hcl file under a directory,
// merging all blocks into one model. Malformed definitions are reported as
// ValidationErrors.
func (l *Loader) Load(ctx context.Context, path string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := findProgramFiles(path)
	if err != nil {
		return nil, migerr.Validationf("cannot read program path %q: %v", path, err)
	}
	if len(files) == 0 {
		return nil, migerr.Validationf("no .hcl program files found under %q", path)
	}
	logger.Debug("Program files discovered.", "count", len(files))

	merged := &ProgramConfig{}
	for _, file := range files {
		cfg, err := l.parseFile(file)
		if err != nil {
			return nil, err
		}
		if cfg.Defaults != nil {
			if merged.Defaults != nil {
				return nil, migerr.Validationf("duplicate defaults block in %s", file)
			}
			merged.Defaults = cfg.Defaults
		}
		if cfg.Scoring != nil {
			if merged.Scoring != nil {
				return nil, migerr.Validationf("duplicate scoring block in %s", file)
			}
			merged.Scoring = cfg.Scoring
		}
		merged.Waves = append(merged.Waves, cfg.Waves...)
		merged.Workloads = append(merged.Workloads, cfg.Workloads...)
	}

	return translate(merged)
}

func (l *Loader) parseFile(path string) (*ProgramConfig, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, migerr.Validationf("cannot read %s: %v", path, err)
	}
	file, diags := l.parser.ParseHCL(src, path)
	if diags.HasErrors() {
		return nil, migerr.Validationf("parse %s: %v", path, diags)
	}
	var cfg ProgramConfig
	if diags := gohcl.DecodeBody(file.Body, l.evalCtx, &cfg); diags.HasErrors() {
		return nil, migerr.Validationf("decode %s: %v", path, diags)
	}
	return &cfg, nil
}

// translate converts the raw HCL structures into the engine model.
func translate(cfg *ProgramConfig) (*Model, error) {
	model := &Model{RetryLimit: defaultRetryLimit}

	if cfg.Defaults != nil {
		if cfg.Defaults.StageTimeout != "" {
			d, err := time.ParseDuration(cfg.Defaults.StageTimeout)
			if err != nil {
				return nil, migerr.Validationf("defaults.stage_timeout: %v", err)
			}
			model.StageTimeout = d
		}
		if cfg.Defaults.RetryLimit != nil {
			model.RetryLimit = *cfg.Defaults.RetryLimit
		}
	}

	if cfg.Scoring != nil {
		model.Weights = translateWeights(cfg.Scoring.Weights)
		model.Thresholds = translateThresholds(cfg.Scoring.Thresholds)
	}

	for _, wv := range cfg.Waves {
		model.Waves = append(model.Waves, program.WaveSpec{
			Name:        wv.Name,
			Concurrency: wv.Concurrency,
		})
	}

	for _, wl := range cfg.Workloads {
		spec := program.WorkloadSpec{
			Name:      wl.Name,
			Source:    wl.Source,
			Target:    wl.Target,
			DependsOn: wl.DependsOn,
			Wave:      wl.Wave,
		}
		if wl.StageTimeout != "" {
			d, err := time.ParseDuration(wl.StageTimeout)
			if err != nil {
				return nil, migerr.Validationf("workload %q stage_timeout: %v", wl.Name, err)
			}
			spec.StageTimeout = d
		}
		if wl.Readiness == nil {
			return nil, migerr.Validationf("workload %q is missing its readiness block", wl.Name)
		}
		spec.Readiness = map[string]float64{
			scorer.DimTechnicalComplexity:     wl.Readiness.TechnicalComplexity,
			scorer.DimBusinessCriticality:     wl.Readiness.BusinessCriticality,
			scorer.DimComplianceExposure:      wl.Readiness.ComplianceExposure,
			scorer.DimTeamSkillFit:            wl.Readiness.TeamSkillFit,
			scorer.DimCostDelta:               wl.Readiness.CostDelta,
			scorer.DimArchitecturePortability: wl.Readiness.ArchitecturePortability,
		}
		model.Workloads = append(model.Workloads, spec)
	}

	return model, nil
}

func translateWeights(w *ScoringWeights) scorer.Weights {
	if w == nil {
		return scorer.Weights{}
	}
	defaults := scorer.DefaultWeights()
	pick := func(v, fallback float64) float64 {
		if v != 0 {
			return v
		}
		return fallback
	}
	return scorer.Weights{
		TechnicalComplexity:     pick(w.TechnicalComplexity, defaults.TechnicalComplexity),
		BusinessCriticality:     pick(w.BusinessCriticality, defaults.BusinessCriticality),
		ComplianceExposure:      pick(w.ComplianceExposure, defaults.ComplianceExposure),
		TeamSkillFit:            pick(w.TeamSkillFit, defaults.TeamSkillFit),
		CostDelta:               pick(w.CostDelta, defaults.CostDelta),
		ArchitecturePortability: pick(w.ArchitecturePortability, defaults.ArchitecturePortability),
	}
}

func translateThresholds(t *ScoringThresholds) scorer.Thresholds {
	if t == nil {
		return scorer.Thresholds{}
	}
	defaults := scorer.DefaultThresholds()
	pick := func(v, fallback float64) float64 {
		if v != 0 {
			return v
		}
		return fallback
	}
	return scorer.Thresholds{
		Rehost:     pick(t.Rehost, defaults.Rehost),
		Replatform: pick(t.Replatform, defaults.Replatform),
		Refactor:   pick(t.Refactor, defaults.Refactor),
		Repurchase: pick(t.Repurchase, defaults.Repurchase),
	}
}

// findProgramFiles resolves a path to the list of .hcl files it denotes,
// sorted for deterministic merge order.
func findProgramFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
