// Package program defines the migration program aggregate: the full set of
// workloads, their dependency graph, and the wave partitioning. Programs are
// validated entirely at build time; a program that builds is guaranteed free
// of cycles, duplicate ids and dangling references.
package program

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/migwave/internal/graph"
	"github.com/vk/migwave/internal/migerr"
	"github.com/vk/migwave/internal/scorer"
	"github.com/vk/migwave/internal/workload"
)

// WorkloadSpec is the declarative description of one workload, as parsed
// from a program file or handed in through the API.
type WorkloadSpec struct {
	Name         string
	Source       string
	Target       string
	DependsOn    []string
	Wave         string
	Readiness    map[string]float64
	StageTimeout time.Duration
}

// WaveSpec declares a wave and its optional concurrency sub-limit.
type WaveSpec struct {
	Name        string
	Concurrency int
}

// Wave groups workloads that execute together under a shared concurrency
// policy. Concurrency zero means the program-wide limit applies unchanged.
type Wave struct {
	Name        string
	Members     []string
	Concurrency int
}

// Program is a fully validated migration program ready for orchestration.
//
// The embedded RWMutex is the program's serialization point: the scheduler
// loop write-locks around every state transition, readers such as progress
// snapshots take the read lock.
type Program struct {
	sync.RWMutex

	ID           uuid.UUID
	Workloads    map[string]*workload.Workload
	Order        []string
	Graph        *graph.Graph
	Waves        []*Wave
	RetryCeiling int
}

// Wave returns the wave a workload belongs to.
func (p *Program) Wave(name string) *Wave {
	for _, w := range p.Waves {
		if w.Name == name {
			return w
		}
	}
	return nil
}

// Build validates the specs, scores every workload, assigns waves and
// returns the assembled program. Any defect is reported as a ValidationError
// before a single side effect happens.
func Build(specs []WorkloadSpec, waves []WaveSpec, sc *scorer.Scorer, retryCeiling int) (*Program, error) {
	if len(specs) == 0 {
		return nil, migerr.Validationf("a program needs at least one workload")
	}
	if retryCeiling < 0 {
		return nil, migerr.Validationf("retry ceiling cannot be negative")
	}

	byName := make(map[string]WorkloadSpec, len(specs))
	order := make([]string, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, migerr.Validationf("workload with empty name")
		}
		if _, dup := byName[spec.Name]; dup {
			return nil, migerr.Validationf("duplicate workload id %q", spec.Name)
		}
		byName[spec.Name] = spec
		order = append(order, spec.Name)
	}

	declaredWaves := make(map[string]WaveSpec, len(waves))
	for _, w := range waves {
		if _, dup := declaredWaves[w.Name]; dup {
			return nil, migerr.Validationf("duplicate wave %q", w.Name)
		}
		if w.Concurrency < 0 {
			return nil, migerr.Validationf("wave %q has negative concurrency", w.Name)
		}
		declaredWaves[w.Name] = w
	}

	g := graph.New()
	for _, name := range order {
		g.AddNode(name)
	}
	for _, name := range order {
		spec := byName[name]
		for _, dep := range spec.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, migerr.Validationf("workload %q depends on unknown workload %q", name, dep)
			}
			if err := g.AddEdge(dep, name); err != nil {
				return nil, migerr.Validationf("workload %q: %v", name, err)
			}
		}
		if spec.Wave != "" {
			if _, ok := declaredWaves[spec.Wave]; !ok {
				return nil, migerr.Validationf("workload %q references undeclared wave %q", name, spec.Wave)
			}
		}
	}

	if err := g.DetectCycles(); err != nil {
		return nil, migerr.Validationf("%v", err)
	}

	workloads := make(map[string]*workload.Workload, len(specs))
	for _, name := range order {
		spec := byName[name]
		score, err := sc.ScoreValues(spec.Readiness)
		if err != nil {
			return nil, migerr.Validationf("workload %q: %v", name, err)
		}
		w := workload.New(spec.Name, spec.Source, spec.Target, spec.DependsOn, score)
		w.StageTimeout = spec.StageTimeout
		workloads[name] = w
	}

	assembled := assignWaves(order, byName, declaredWaves, waves, g)
	for _, wv := range assembled {
		for _, member := range wv.Members {
			workloads[member].Wave = wv.Name
		}
	}

	return &Program{
		ID:           uuid.New(),
		Workloads:    workloads,
		Order:        order,
		Graph:        g,
		Waves:        assembled,
		RetryCeiling: retryCeiling,
	}, nil
}

// assignWaves honors explicit wave assignments and partitions the remaining
// workloads into one wave per weakly connected dependency component.
func assignWaves(order []string, byName map[string]WorkloadSpec, declared map[string]WaveSpec, waveOrder []WaveSpec, g *graph.Graph) []*Wave {
	assembled := make([]*Wave, 0, len(waveOrder))
	index := make(map[string]*Wave, len(waveOrder))
	for _, spec := range waveOrder {
		wv := &Wave{Name: spec.Name, Concurrency: spec.Concurrency}
		assembled = append(assembled, wv)
		index[spec.Name] = wv
	}

	assigned := make(map[string]bool, len(order))
	for _, name := range order {
		if waveName := byName[name].Wave; waveName != "" {
			wv := index[waveName]
			wv.Members = append(wv.Members, name)
			assigned[name] = true
		}
	}

	auto := 0
	for _, component := range g.Components() {
		var members []string
		for _, name := range component {
			if !assigned[name] {
				members = append(members, name)
			}
		}
		if len(members) == 0 {
			continue
		}
		auto++
		assembled = append(assembled, &Wave{
			Name:    fmt.Sprintf("wave-%d", auto),
			Members: members,
		})
	}

	// Drop declared waves that ended up empty.
	out := assembled[:0]
	for _, wv := range assembled {
		if len(wv.Members) > 0 {
			out = append(out, wv)
		}
	}
	return out
}

// Remaining counts workloads that have not yet settled.
func (p *Program) Remaining() int {
	n := 0
	for _, w := range p.Workloads {
		if !w.Status.Settled() {
			n++
		}
	}
	return n
}
