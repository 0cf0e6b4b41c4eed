package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/metalab-io/moshpit/internal/config"
	"github.com/metalab-io/moshpit/internal/engine"
	"github.com/metalab-io/moshpit/internal/model"
)

// StepStartMsg indicates a step has started executing.
type StepStartMsg struct {
	ID   string
	Time time.Time
}

// StepCompleteMsg reports that a step has finished execution.
type StepCompleteMsg struct {
	Result model.StepResult
}

// RunDoneMsg signals that the whole pipeline run has finished.
type RunDoneMsg struct{}

// Model contains the Bubbletea state for the pipeline run view.
type Model struct {
	cfg            *config.Config
	steps          map[string]model.StepResult
	order          []string
	spin           spinner.Model
	total          int
	completed      int
	failed         int
	skipped        int
	finished       bool
	cancelled      bool
	nonInteractive bool
}

// NewModel constructs a TUI model for the given pipeline and graph.
func NewModel(cfg *config.Config, graph *engine.Graph, nonInteractive bool) Model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = spinnerStyle

	m := Model{
		cfg:            cfg,
		steps:          make(map[string]model.StepResult),
		order:          make([]string, 0),
		spin:           spin,
		nonInteractive: nonInteractive,
	}

	if graph != nil {
		for _, level := range graph.Levels {
			for _, id := range level {
				if _, exists := m.steps[id]; !exists {
					result := model.StepResult{StepID: id, Status: model.StatusPending}
					if node, ok := graph.Nodes[id]; ok && node.Step != nil {
						result.Action = node.Step.Action
					}
					m.steps[id] = result
					m.order = append(m.order, id)
					m.total++
				}
			}
		}
	}

	return m
}

// Init starts the Bubbletea program.
func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

// TotalSteps returns the total number of steps tracked by the model.
func (m Model) TotalSteps() int {
	return m.total
}

// CompletedSteps returns the number of completed steps.
func (m Model) CompletedSteps() int {
	return m.completed
}

// FailedSteps returns the number of failed steps.
func (m Model) FailedSteps() int {
	return m.failed
}

// IsFinished reports whether execution has completed.
func (m Model) IsFinished() bool {
	return m.finished
}

func (m *Model) ensureStep(id string) {
	if id == "" {
		return
	}
	if _, exists := m.steps[id]; !exists {
		m.steps[id] = model.StepResult{StepID: id, Status: model.StatusPending}
		m.order = append(m.order, id)
		m.total++
	}
}

func (m *Model) markFinishedIfComplete() {
	if m.total > 0 && m.completed >= m.total {
		m.finished = true
	}
}
