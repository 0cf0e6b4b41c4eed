package engine

import (
	"context"
	"sync"

	"github.com/metalab-io/moshpit/internal/config"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/logger"
	"github.com/metalab-io/moshpit/internal/model"
)

// ExecutionContext carries the shared state for one pipeline run.
type ExecutionContext struct {
	Context         context.Context
	Config          *config.Config
	Runner          invoke.Runner
	Logger          *logger.Logger
	WorkerPool      chan struct{}
	ContinueOnError bool
	Results         map[string]*model.StepResult

	// OnStart and OnComplete, when set, are called from worker goroutines
	// as steps change state.
	OnStart    func(stepID string)
	OnComplete func(model.StepResult)

	mu sync.Mutex
}

func (c *ExecutionContext) setResult(id string, res *model.StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Results[id] = res
}

func (c *ExecutionContext) result(id string) (*model.StepResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.Results[id]
	return res, ok
}
