package hclconfig

// --- Program File Structures ---

// Workload represents a `workload` block from a user's program file.
type Workload struct {
	Name         string     `hcl:"name,label"`
	Source       string     `hcl:"source"`
	Target       string     `hcl:"target"`
	DependsOn    []string   `hcl:"depends_on,optional"`
	Wave         string     `hcl:"wave,optional"`
	StageTimeout string     `hcl:"stage_timeout,optional"`
	Readiness    *Readiness `hcl:"readiness,block"`
}

// Readiness carries the six normalized scoring dimensions. Every attribute
// is required; a missing one fails the program at load time.
type Readiness struct {
	TechnicalComplexity     float64 `hcl:"technical_complexity"`
	BusinessCriticality     float64 `hcl:"business_criticality"`
	ComplianceExposure      float64 `hcl:"compliance_exposure"`
	TeamSkillFit            float64 `hcl:"team_skill_fit"`
	CostDelta               float64 `hcl:"cost_delta"`
	ArchitecturePortability float64 `hcl:"architecture_portability"`
}

// Wave represents a `wave` block declaring a named wave and its optional
// concurrency sub-limit.
type Wave struct {
	Name        string `hcl:"name,label"`
	Concurrency int    `hcl:"concurrency,optional"`
}

// ScoringWeights overrides the default dimension weights.
type ScoringWeights struct {
	TechnicalComplexity     float64 `hcl:"technical_complexity,optional"`
	BusinessCriticality     float64 `hcl:"business_criticality,optional"`
	ComplianceExposure      float64 `hcl:"compliance_exposure,optional"`
	TeamSkillFit            float64 `hcl:"team_skill_fit,optional"`
	CostDelta               float64 `hcl:"cost_delta,optional"`
	ArchitecturePortability float64 `hcl:"architecture_portability,optional"`
}

// ScoringThresholds overrides the default strategy ladder.
type ScoringThresholds struct {
	Rehost     float64 `hcl:"rehost,optional"`
	Replatform float64 `hcl:"replatform,optional"`
	Refactor   float64 `hcl:"refactor,optional"`
	Repurchase float64 `hcl:"repurchase,optional"`
}

// Scoring represents the optional `scoring` block.
type Scoring struct {
	Weights    *ScoringWeights    `hcl:"weights,block"`
	Thresholds *ScoringThresholds `hcl:"thresholds,block"`
}

// Defaults represents the optional `defaults` block with program-wide knobs.
type Defaults struct {
	StageTimeout string `hcl:"stage_timeout,optional"`
	RetryLimit   *int   `hcl:"retry_limit,optional"`
}

// ProgramConfig represents the top-level structure of a program file.
type ProgramConfig struct {
	Defaults  *Defaults   `hcl:"defaults,block"`
	Scoring   *Scoring    `hcl:"scoring,block"`
	Waves     []*Wave     `hcl:"wave,block"`
	Workloads []*Workload `hcl:"workload,block"`
}
