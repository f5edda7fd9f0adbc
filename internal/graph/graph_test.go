package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aescanero/phaseline/internal/spec"
	"github.com/aescanero/phaseline/pkg/domain"
)

func pipeline(seeds []string, phases ...spec.Phase) *spec.Pipeline {
	return &spec.Pipeline{Name: "test", Seeds: seeds, Phases: phases}
}

func stage(id string, inputs, outputs []string) spec.Stage {
	st := spec.Stage{ID: id, Run: []string{"true"}}
	for _, name := range inputs {
		st.Inputs = append(st.Inputs, spec.ArtifactRef{Name: name})
	}
	for _, name := range outputs {
		st.Outputs = append(st.Outputs, spec.ArtifactRef{Name: name})
	}
	return st
}

func TestBuildResolvesProducers(t *testing.T) {
	p := pipeline([]string{"source"},
		spec.Phase{Name: "build", Stages: []spec.Stage{
			stage("compile", []string{"source"}, []string{"binary"}),
		}},
		spec.Phase{Name: "scan", Stages: []spec.Stage{
			stage("vuln-scan", []string{"binary"}, []string{"report"}),
			stage("lint", []string{"source"}, nil),
		}},
	)

	g, err := Build(p)
	require.NoError(t, err)

	require.Equal(t, []string{"build", "scan"}, g.Phases())
	require.Equal(t, 3, g.StageCount())
	require.Equal(t, "scan", g.PhaseOf("vuln-scan"))

	prod, ok := g.Producer("binary")
	require.True(t, ok)
	require.Equal(t, "compile", prod)

	prod, ok = g.Producer("source")
	require.True(t, ok)
	require.Equal(t, domain.SeedProducer, prod)
	require.True(t, g.IsSeed("source"))
	require.False(t, g.IsSeed("binary"))

	stages := g.PhaseStages("scan")
	require.Len(t, stages, 2)
	require.Equal(t, "vuln-scan", stages[0].ID)
	require.Equal(t, "lint", stages[1].ID)

	require.Empty(t, g.SamePhaseDeps("vuln-scan"))
}

func TestBuildRecordsSamePhaseDependencies(t *testing.T) {
	p := pipeline(nil,
		spec.Phase{Name: "build", Stages: []spec.Stage{
			stage("gen", nil, []string{"data"}),
			stage("use", []string{"data"}, nil),
		}},
	)

	g, err := Build(p)
	require.NoError(t, err)
	require.Equal(t, []string{"gen"}, g.SamePhaseDeps("use"))
	require.Empty(t, g.SamePhaseDeps("gen"))
}

func TestBuildRejectsDuplicateStage(t *testing.T) {
	p := pipeline(nil,
		spec.Phase{Name: "build", Stages: []spec.Stage{stage("x", nil, nil)}},
		spec.Phase{Name: "test", Stages: []spec.Stage{stage("x", nil, nil)}},
	)

	_, err := Build(p)
	require.ErrorIs(t, err, ErrDuplicateStage)
}

func TestBuildRejectsDuplicateWriter(t *testing.T) {
	t.Run("two stages", func(t *testing.T) {
		p := pipeline(nil,
			spec.Phase{Name: "build", Stages: []spec.Stage{
				stage("a", nil, []string{"out"}),
				stage("b", nil, []string{"out"}),
			}},
		)
		_, err := Build(p)
		require.ErrorIs(t, err, ErrDuplicateWriter)
	})

	t.Run("stage shadowing a seed", func(t *testing.T) {
		p := pipeline([]string{"source"},
			spec.Phase{Name: "build", Stages: []spec.Stage{
				stage("a", nil, []string{"source"}),
			}},
		)
		_, err := Build(p)
		require.ErrorIs(t, err, ErrDuplicateWriter)
	})
}

func TestBuildRejectsDanglingInput(t *testing.T) {
	t.Run("no producer", func(t *testing.T) {
		p := pipeline(nil,
			spec.Phase{Name: "build", Stages: []spec.Stage{
				stage("a", []string{"ghost"}, nil),
			}},
		)
		_, err := Build(p)
		require.ErrorIs(t, err, ErrDanglingInput)
		require.Contains(t, err.Error(), "ghost")
	})

	t.Run("producer in a later phase", func(t *testing.T) {
		p := pipeline(nil,
			spec.Phase{Name: "build", Stages: []spec.Stage{
				stage("early", []string{"late-out"}, nil),
			}},
			spec.Phase{Name: "package", Stages: []spec.Stage{
				stage("late", nil, []string{"late-out"}),
			}},
		)
		_, err := Build(p)
		require.ErrorIs(t, err, ErrDanglingInput)
		require.Contains(t, err.Error(), "later phase")
	})
}

func TestBuildRejectsCycles(t *testing.T) {
	t.Run("mutual same-phase dependency", func(t *testing.T) {
		p := pipeline(nil,
			spec.Phase{Name: "build", Stages: []spec.Stage{
				stage("a", []string{"from-b"}, []string{"from-a"}),
				stage("b", []string{"from-a"}, []string{"from-b"}),
			}},
		)
		_, err := Build(p)
		require.ErrorIs(t, err, ErrCycle)
	})

	t.Run("self loop", func(t *testing.T) {
		p := pipeline(nil,
			spec.Phase{Name: "build", Stages: []spec.Stage{
				stage("a", []string{"out"}, []string{"out"}),
			}},
		)
		_, err := Build(p)
		require.ErrorIs(t, err, ErrCycle)
	})

	t.Run("three stage ring", func(t *testing.T) {
		p := pipeline(nil,
			spec.Phase{Name: "build", Stages: []spec.Stage{
				stage("a", []string{"c-out"}, []string{"a-out"}),
				stage("b", []string{"a-out"}, []string{"b-out"}),
				stage("c", []string{"b-out"}, []string{"c-out"}),
			}},
		)
		_, err := Build(p)
		require.ErrorIs(t, err, ErrCycle)
	})
}

func TestBuildRejectsEmptyPipelines(t *testing.T) {
	_, err := Build(nil)
	require.ErrorIs(t, err, ErrEmptyPipeline)

	_, err = Build(&spec.Pipeline{Name: "p"})
	require.ErrorIs(t, err, ErrEmptyPipeline)

	_, err = Build(pipeline(nil, spec.Phase{Name: "build"}))
	require.ErrorIs(t, err, ErrEmptyPipeline)
}
