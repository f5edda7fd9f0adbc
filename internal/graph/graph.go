package graph

import (
	"fmt"
	"strings"

	"github.com/aescanero/phaseline/internal/spec"
	"github.com/aescanero/phaseline/pkg/domain"
)

// producer records which stage writes an artifact and in which phase.
// Seeds are producers at phase -1 so they always resolve for readers.
type producer struct {
	stage string
	phase int
}

// Graph is the validated execution plan for a pipeline. It is built
// once per run, before any side effect, and is immutable afterwards.
type Graph struct {
	pipeline *spec.Pipeline

	phases     []string
	order      map[string][]string
	stages     map[string]spec.Stage
	phaseOf    map[string]string
	phaseIndex map[string]int

	producers map[string]producer
	deps      map[string][]string
}

// Build validates the pipeline's artifact flow and returns its plan.
// It fails with ErrDuplicateStage, ErrDuplicateWriter, ErrDanglingInput
// or ErrCycle without touching stores or tools, so a rejected manifest
// leaves no trace.
func Build(p *spec.Pipeline) (*Graph, error) {
	if p == nil || len(p.Phases) == 0 {
		return nil, ErrEmptyPipeline
	}

	g := &Graph{
		pipeline:   p,
		order:      make(map[string][]string),
		stages:     make(map[string]spec.Stage),
		phaseOf:    make(map[string]string),
		phaseIndex: make(map[string]int),
		producers:  make(map[string]producer),
		deps:       make(map[string][]string),
	}

	for _, name := range p.Seeds {
		if _, ok := g.producers[name]; ok {
			return nil, fmt.Errorf("%w: seed %q declared twice", ErrDuplicateWriter, name)
		}
		g.producers[name] = producer{stage: domain.SeedProducer, phase: -1}
	}

	for i, phase := range p.Phases {
		if len(phase.Stages) == 0 {
			return nil, fmt.Errorf("%w: phase %q has no stages", ErrEmptyPipeline, phase.Name)
		}
		g.phases = append(g.phases, phase.Name)

		for _, st := range phase.Stages {
			if _, ok := g.stages[st.ID]; ok {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateStage, st.ID)
			}
			g.stages[st.ID] = st
			g.phaseOf[st.ID] = phase.Name
			g.phaseIndex[st.ID] = i
			g.order[phase.Name] = append(g.order[phase.Name], st.ID)

			for _, out := range st.Outputs {
				if prev, ok := g.producers[out.Name]; ok {
					return nil, fmt.Errorf("%w: artifact %q written by both %q and %q",
						ErrDuplicateWriter, out.Name, prev.stage, st.ID)
				}
				g.producers[out.Name] = producer{stage: st.ID, phase: i}
			}
		}
	}

	// Every input must come from a seed or from a stage in a non-later
	// phase. Same-phase producers become scheduling dependencies.
	for i, phase := range p.Phases {
		for _, st := range phase.Stages {
			for _, in := range st.Inputs {
				prod, ok := g.producers[in.Name]
				if !ok {
					return nil, fmt.Errorf("%w: stage %q reads %q which nothing produces",
						ErrDanglingInput, st.ID, in.Name)
				}
				if prod.phase > i {
					return nil, fmt.Errorf("%w: stage %q reads %q produced in the later phase %q",
						ErrDanglingInput, st.ID, in.Name, g.phases[prod.phase])
				}
				if prod.stage == st.ID {
					return nil, fmt.Errorf("%w: stage %q reads its own output %q",
						ErrCycle, st.ID, in.Name)
				}
				if prod.phase == i {
					g.deps[st.ID] = append(g.deps[st.ID], prod.stage)
				}
			}
		}
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkCycles walks the same-phase dependency edges. Cross-phase edges
// always point backwards in phase order, so only same-phase loops can
// exist at this point.
func (g *Graph) checkCycles() error {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		onPath[id] = true
		path = append(path, id)

		for _, dep := range g.deps[id] {
			if onPath[dep] {
				return fmt.Errorf("%w: %s", ErrCycle, formatCycle(path, dep))
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		onPath[id] = false
		return nil
	}

	for _, phase := range g.phases {
		for _, id := range g.order[phase] {
			if !visited[id] {
				if err := visit(id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func formatCycle(path []string, start string) string {
	from := 0
	for i, id := range path {
		if id == start {
			from = i
			break
		}
	}
	cycle := append([]string{}, path[from:]...)
	return strings.Join(append(cycle, start), " -> ")
}

// Pipeline returns the manifest this plan was built from.
func (g *Graph) Pipeline() *spec.Pipeline { return g.pipeline }

// Phases returns the phase names in execution order.
func (g *Graph) Phases() []string { return g.phases }

// PhaseStages returns the stages of a phase in declaration order.
func (g *Graph) PhaseStages(phase string) []spec.Stage {
	ids := g.order[phase]
	stages := make([]spec.Stage, 0, len(ids))
	for _, id := range ids {
		stages = append(stages, g.stages[id])
	}
	return stages
}

// Stage looks up a stage declaration by id.
func (g *Graph) Stage(id string) (spec.Stage, bool) {
	st, ok := g.stages[id]
	return st, ok
}

// PhaseOf returns the phase a stage belongs to.
func (g *Graph) PhaseOf(id string) string { return g.phaseOf[id] }

// SamePhaseDeps returns the ids of same-phase stages whose outputs the
// given stage consumes. The stage may only start once all of them have
// finished.
func (g *Graph) SamePhaseDeps(id string) []string { return g.deps[id] }

// Producer returns the stage id that writes an artifact, or
// domain.SeedProducer when the artifact is a declared seed.
func (g *Graph) Producer(name string) (string, bool) {
	prod, ok := g.producers[name]
	return prod.stage, ok
}

// IsSeed reports whether an artifact name is a declared seed.
func (g *Graph) IsSeed(name string) bool {
	prod, ok := g.producers[name]
	return ok && prod.phase < 0
}

// StageCount returns the total number of declared stages.
func (g *Graph) StageCount() int { return len(g.stages) }
