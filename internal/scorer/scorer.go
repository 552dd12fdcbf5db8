// Package scorer computes cloud readiness scores and 6R strategy
// recommendations from six normalized workload dimensions.
//
// The composite score is a weighted average on a 0-100 scale where higher
// means more cloud-ready. The four "friction" dimensions (technical
// complexity, business criticality, compliance exposure, cost delta) are
// inverted before weighting so that, for example, a highly complex workload
// drags the composite down. The two "fit" dimensions (team skill fit,
// architecture portability) contribute directly.
//
// Strategy selection walks the threshold ladder top-down:
//
//	composite >= 80  -> rehost
//	composite >= 60  -> replatform
//	composite >= 40  -> refactor
//	composite >= 20  -> repurchase
//	composite >  0   -> retire
//	all-zero input   -> retain (nothing is known about the workload, keep it)
//
// Scoring is pure: the same input always produces the same output.
package scorer

import (
	"fmt"
	"math"

	"github.com/vk/migwave/internal/migerr"
)

// Strategy is one of the 6R migration approaches.
type Strategy string

const (
	Rehost     Strategy = "rehost"
	Replatform Strategy = "replatform"
	Refactor   Strategy = "refactor"
	Repurchase Strategy = "repurchase"
	Retire     Strategy = "retire"
	Retain     Strategy = "retain"
)

// Dimension names accepted by ParseInput. Every dimension is required.
const (
	DimTechnicalComplexity     = "technical_complexity"
	DimBusinessCriticality     = "business_criticality"
	DimComplianceExposure      = "compliance_exposure"
	DimTeamSkillFit            = "team_skill_fit"
	DimCostDelta               = "cost_delta"
	DimArchitecturePortability = "architecture_portability"
)

// dimensionNames lists all required dimensions in canonical order.
var dimensionNames = []string{
	DimTechnicalComplexity,
	DimBusinessCriticality,
	DimComplianceExposure,
	DimTeamSkillFit,
	DimCostDelta,
	DimArchitecturePortability,
}

// Input holds the six normalized (0-100) readiness dimensions of a workload.
type Input struct {
	TechnicalComplexity     float64
	BusinessCriticality     float64
	ComplianceExposure      float64
	TeamSkillFit            float64
	CostDelta               float64
	ArchitecturePortability float64
}

// ParseInput validates a raw dimension map. Every dimension must be present
// and within [0, 100]; a missing or out-of-range value is a ValidationError.
func ParseInput(raw map[string]float64) (Input, error) {
	for _, name := range dimensionNames {
		v, ok := raw[name]
		if !ok {
			return Input{}, migerr.Validationf("missing readiness dimension %q", name)
		}
		if v < 0 || v > 100 {
			return Input{}, migerr.Validationf("readiness dimension %q is %v, must be within [0, 100]", name, v)
		}
	}
	return Input{
		TechnicalComplexity:     raw[DimTechnicalComplexity],
		BusinessCriticality:     raw[DimBusinessCriticality],
		ComplianceExposure:      raw[DimComplianceExposure],
		TeamSkillFit:            raw[DimTeamSkillFit],
		CostDelta:               raw[DimCostDelta],
		ArchitecturePortability: raw[DimArchitecturePortability],
	}, nil
}

// Weights controls the relative contribution of each dimension.
type Weights struct {
	TechnicalComplexity     float64
	BusinessCriticality     float64
	ComplianceExposure      float64
	TeamSkillFit            float64
	CostDelta               float64
	ArchitecturePortability float64
}

// DefaultWeights returns the documented reference weight set.
func DefaultWeights() Weights {
	return Weights{
		TechnicalComplexity:     1.5,
		BusinessCriticality:     1.2,
		ComplianceExposure:      1.3,
		TeamSkillFit:            0.8,
		CostDelta:               1.0,
		ArchitecturePortability: 1.0,
	}
}

func (w Weights) total() float64 {
	return w.TechnicalComplexity + w.BusinessCriticality + w.ComplianceExposure +
		w.TeamSkillFit + w.CostDelta + w.ArchitecturePortability
}

// Thresholds is the strategy ladder, expressed as minimum composite scores.
// Each bound must be strictly below the one above it.
type Thresholds struct {
	Rehost     float64
	Replatform float64
	Refactor   float64
	Repurchase float64
}

// DefaultThresholds returns the documented reference ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{Rehost: 80, Replatform: 60, Refactor: 40, Repurchase: 20}
}

// baseEffortDays is the per-strategy effort baseline, scaled by complexity.
var baseEffortDays = map[Strategy]int{
	Rehost:     30,
	Replatform: 60,
	Refactor:   120,
	Repurchase: 45,
	Retire:     15,
	Retain:     5,
}

// riskThreshold is the readiness level below which a dimension is flagged
// as a risk factor.
const riskThreshold = 30.0

// Score is the composite readiness assessment of a single workload.
type Score struct {
	Composite   float64
	Strategy    Strategy
	EffortDays  int
	RiskFactors []string
}

// Scorer computes readiness scores using a fixed weight set and threshold
// ladder. The zero value is not usable; construct one with New.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// New builds a Scorer. Zero-valued weights or thresholds select the
// documented defaults.
func New(w Weights, t Thresholds) (*Scorer, error) {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	if t == (Thresholds{}) {
		t = DefaultThresholds()
	}
	if w.total() <= 0 {
		return nil, migerr.Validationf("scoring weights must sum to a positive value")
	}
	if !(t.Rehost > t.Replatform && t.Replatform > t.Refactor && t.Refactor > t.Repurchase && t.Repurchase > 0) {
		return nil, migerr.Validationf("strategy thresholds must be strictly descending and positive")
	}
	return &Scorer{weights: w, thresholds: t}, nil
}

// Score computes the composite readiness of the given input. It is
// deterministic and never fails on a validated Input.
func (s *Scorer) Score(in Input) Score {
	if in == (Input{}) {
		// An all-zero assessment carries no signal. By definition the
		// lowest-tier strategy applies: keep the workload where it is.
		return Score{Composite: 0, Strategy: Retain, EffortDays: effortDays(Retain, 0)}
	}

	// Friction dimensions are inverted so that high friction lowers readiness.
	readiness := map[string]float64{
		DimTechnicalComplexity:     100 - in.TechnicalComplexity,
		DimBusinessCriticality:     100 - in.BusinessCriticality,
		DimComplianceExposure:      100 - in.ComplianceExposure,
		DimTeamSkillFit:            in.TeamSkillFit,
		DimCostDelta:               100 - in.CostDelta,
		DimArchitecturePortability: in.ArchitecturePortability,
	}
	weights := map[string]float64{
		DimTechnicalComplexity:     s.weights.TechnicalComplexity,
		DimBusinessCriticality:     s.weights.BusinessCriticality,
		DimComplianceExposure:      s.weights.ComplianceExposure,
		DimTeamSkillFit:            s.weights.TeamSkillFit,
		DimCostDelta:               s.weights.CostDelta,
		DimArchitecturePortability: s.weights.ArchitecturePortability,
	}

	var weighted float64
	var risks []string
	for _, name := range dimensionNames {
		weighted += readiness[name] * weights[name]
		if readiness[name] < riskThreshold {
			risks = append(risks, fmt.Sprintf("low readiness on %s (%.0f)", name, readiness[name]))
		}
	}
	composite := weighted / s.weights.total()

	strategy := s.recommend(composite)
	return Score{
		Composite:   composite,
		Strategy:    strategy,
		EffortDays:  effortDays(strategy, composite),
		RiskFactors: risks,
	}
}

// ScoreValues validates a raw dimension map and scores it in one step.
func (s *Scorer) ScoreValues(raw map[string]float64) (Score, error) {
	in, err := ParseInput(raw)
	if err != nil {
		return Score{}, err
	}
	return s.Score(in), nil
}

func (s *Scorer) recommend(composite float64) Strategy {
	switch {
	case composite >= s.thresholds.Rehost:
		return Rehost
	case composite >= s.thresholds.Replatform:
		return Replatform
	case composite >= s.thresholds.Refactor:
		return Refactor
	case composite >= s.thresholds.Repurchase:
		return Repurchase
	default:
		return Retire
	}
}

// effortDays estimates migration effort: the strategy baseline scaled by a
// complexity factor that grows as readiness shrinks, floored at 0.5x.
func effortDays(strategy Strategy, composite float64) int {
	base := baseEffortDays[strategy]
	factor := math.Max(0.5, 2.0-composite/100)
	return int(float64(base) * factor)
}
