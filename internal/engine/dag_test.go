package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metalab-io/moshpit/internal/config"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

func step(id string, deps ...string) config.Step {
	return config.Step{
		ID:        id,
		Action:    "stub-produce",
		DependsOn: deps,
		Enabled:   true,
		Outputs:   map[string]string{"out": "./" + id},
	}
}

func TestBuildDAGComputesLevels(t *testing.T) {
	steps := []config.Step{
		step("fetch"),
		step("classify", "fetch"),
		step("bracken", "classify"),
		step("features", "classify"),
	}

	graph, err := BuildDAG(steps)
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"fetch"},
		{"classify"},
		{"bracken", "features"},
	}, graph.Levels)
}

func TestBuildDAGUsesInputReferencesAsEdges(t *testing.T) {
	produce := step("produce")
	consume := config.Step{
		ID:      "consume",
		Action:  "stub-consume",
		Enabled: true,
		Inputs:  map[string]string{"in": "produce:out"},
		Outputs: map[string]string{"out": "./consume"},
	}

	graph, err := BuildDAG([]config.Step{consume, produce})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"produce"}, {"consume"}}, graph.Levels)
}

func TestBuildDAGSkipsDisabledSteps(t *testing.T) {
	disabled := step("off")
	disabled.Enabled = false

	graph, err := BuildDAG([]config.Step{step("on"), disabled})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"on"}}, graph.Levels)
}

func TestBuildDAGRejectsDependencyOnDisabledStep(t *testing.T) {
	disabled := step("off")
	disabled.Enabled = false

	_, err := BuildDAG([]config.Step{disabled, step("on", "off")})
	var valErr *moshpiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestBuildDAGRejectsCycle(t *testing.T) {
	_, err := BuildDAG([]config.Step{step("a", "b"), step("b", "a")})
	var valErr *moshpiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Contains(t, valErr.Message, "cycle")
}
