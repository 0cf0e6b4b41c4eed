package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/config"
	"github.com/metalab-io/moshpit/internal/model"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

// Execute runs the graph level by level and returns step results in
// completion order. Steps within a level run concurrently, bounded by the
// worker pool.
func Execute(execCtx *ExecutionContext, graph *Graph) ([]model.StepResult, error) {
	if execCtx == nil {
		return nil, moshpiterrors.NewActionError("", fmt.Errorf("execution context is nil"))
	}
	if execCtx.Config == nil {
		return nil, moshpiterrors.NewActionError("", fmt.Errorf("execution context config is nil"))
	}
	if graph == nil {
		return nil, moshpiterrors.NewActionError("", fmt.Errorf("execution graph is nil"))
	}

	baseCtx := execCtx.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	timeout := time.Duration(execCtx.Config.Settings.Timeout) * time.Second

	if execCtx.Results == nil {
		execCtx.Results = make(map[string]*model.StepResult)
	}

	var allResults []model.StepResult
	var firstErr error

	for _, level := range graph.Levels {
		levelResults := make([]model.StepResult, len(level))
		var levelErr error
		var once sync.Once
		var wg sync.WaitGroup

		for idx, stepID := range level {
			node, ok := graph.Nodes[stepID]
			if !ok {
				return allResults, moshpiterrors.NewActionError(stepID, fmt.Errorf("step not found in graph"))
			}

			wg.Add(1)
			go func(idx int, node *Node) {
				defer wg.Done()

				res, err := executeStep(ctx, execCtx, node, timeout)
				if res != nil {
					levelResults[idx] = *res
					execCtx.setResult(node.ID, res)
					if execCtx.OnComplete != nil {
						execCtx.OnComplete(*res)
					}
				}

				if err != nil {
					once.Do(func() {
						levelErr = err
						if !execCtx.ContinueOnError {
							cancel()
						}
					})
				}
			}(idx, node)
		}

		wg.Wait()

		for _, res := range levelResults {
			if res.StepID != "" {
				allResults = append(allResults, res)
			}
		}

		if levelErr != nil {
			if firstErr == nil {
				firstErr = levelErr
			}
			if !execCtx.ContinueOnError {
				return allResults, levelErr
			}
		}
	}

	return allResults, firstErr
}

func executeStep(ctx context.Context, execCtx *ExecutionContext, node *Node, timeout time.Duration) (*model.StepResult, error) {
	step := node.Step

	if skipped := dependencySkip(execCtx, node); skipped != nil {
		return skipped, nil
	}

	if ctx.Err() != nil {
		return failedResult(step, ctx.Err()), moshpiterrors.NewActionError(step.ID, ctx.Err())
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if execCtx.WorkerPool != nil {
		select {
		case execCtx.WorkerPool <- struct{}{}:
			defer func() { <-execCtx.WorkerPool }()
		case <-stepCtx.Done():
			err := stepCtx.Err()
			return failedResult(step, err), moshpiterrors.NewActionError(step.ID, err)
		}
	}

	if execCtx.OnStart != nil {
		execCtx.OnStart(step.ID)
	}

	act, err := action.Get(step.Action)
	if err != nil {
		return failedResult(step, err), moshpiterrors.NewActionError(step.ID, err)
	}

	req, err := buildRequest(execCtx, step)
	if err != nil {
		return failedResult(step, err), moshpiterrors.NewActionError(step.ID, err)
	}

	start := time.Now()
	res, err := act.Run(stepCtx, req)
	duration := time.Since(start)

	if err != nil {
		result := failedResult(step, err)
		result.Duration = duration
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			result.Message = "timeout exceeded"
		}
		return result, moshpiterrors.NewActionError(step.ID, err)
	}

	message := "completed"
	if res != nil && res.Summary != "" {
		message = res.Summary
	}
	return &model.StepResult{
		StepID:    step.ID,
		Action:    step.Action,
		Status:    model.StatusSuccess,
		Message:   message,
		Duration:  duration,
		Timestamp: time.Now(),
	}, nil
}

// dependencySkip returns a skipped result when any dependency did not
// succeed, so one failure does not cascade into misleading errors.
func dependencySkip(execCtx *ExecutionContext, node *Node) *model.StepResult {
	for _, dep := range node.DependsOn {
		res, ok := execCtx.result(dep.ID)
		if !ok || res.Status == model.StatusSuccess {
			continue
		}
		return &model.StepResult{
			StepID:    node.ID,
			Action:    node.Step.Action,
			Status:    model.StatusSkipped,
			Message:   fmt.Sprintf("dependency %s %s", dep.ID, res.Status),
			Timestamp: time.Now(),
		}
	}
	return nil
}

// buildRequest resolves the step's input references to artifacts on disk
// and assembles the action request.
func buildRequest(execCtx *ExecutionContext, step *config.Step) (*action.Request, error) {
	inputs := make(map[string]*artifact.Artifact, len(step.Inputs))
	for name, value := range step.Inputs {
		path := value
		if refStep, port, ok := config.InputRef(value); ok {
			producer, found := config.StepMap(execCtx.Config.Steps)[refStep]
			if !found {
				return nil, moshpiterrors.NewValidationError(name, fmt.Sprintf("references unknown step %q", refStep), nil)
			}
			outPath, produced := producer.Outputs[port]
			if !produced {
				return nil, moshpiterrors.NewValidationError(name, fmt.Sprintf("step %q has no output %q", refStep, port), nil)
			}
			path = outPath
		}

		art, err := artifact.Load(path)
		if err != nil {
			return nil, err
		}
		inputs[name] = art
	}

	var log = execCtx.Logger
	if log != nil {
		log = log.WithAction(step.Action)
	}

	return &action.Request{
		Inputs:      inputs,
		OutputPaths: step.Outputs,
		Params:      step.Params,
		Runner:      execCtx.Runner,
		Log:         log,
	}, nil
}

func failedResult(step *config.Step, err error) *model.StepResult {
	return &model.StepResult{
		StepID:    step.ID,
		Action:    step.Action,
		Status:    model.StatusFailed,
		Message:   err.Error(),
		Error:     err,
		Timestamp: time.Now(),
	}
}
