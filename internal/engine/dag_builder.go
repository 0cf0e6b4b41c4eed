package engine

import (
	"fmt"

	"github.com/metalab-io/moshpit/internal/config"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

// BuildDAG constructs the execution graph from the provided steps.
// Disabled steps are excluded; depending on one is an error.
func BuildDAG(steps []config.Step) (*Graph, error) {
	graph := NewGraph()
	stepMap := make(map[string]*config.Step, len(steps))

	for i := range steps {
		step := &steps[i]
		if !step.Enabled {
			continue
		}
		if _, err := graph.AddNode(step); err != nil {
			return nil, err
		}
		stepMap[step.ID] = step
	}

	for _, step := range steps {
		if !step.Enabled {
			continue
		}
		for _, dependency := range step.Dependencies() {
			if _, ok := stepMap[dependency]; !ok {
				return nil, moshpiterrors.NewValidationError("steps",
					fmt.Sprintf("step %q depends on disabled or unknown step %q", step.ID, dependency), nil)
			}
			if err := graph.AddEdge(dependency, step.ID); err != nil {
				return nil, err
			}
		}
	}

	if err := graph.TopologicalSort(); err != nil {
		return nil, err
	}

	return graph, nil
}
