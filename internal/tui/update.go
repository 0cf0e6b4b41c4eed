package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/metalab-io/moshpit/internal/model"
)

// Update handles Bubbletea messages and updates model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case StepStartMsg:
		m.ensureStep(msg.ID)
		step := m.steps[msg.ID]
		step.Status = model.StatusRunning
		m.steps[msg.ID] = step
		return m, nil
	case StepCompleteMsg:
		id := msg.Result.StepID
		if id == "" {
			return m, nil
		}
		m.ensureStep(id)
		existing := m.steps[id]
		previouslyCompleted := existing.Status == model.StatusSuccess ||
			existing.Status == model.StatusSkipped ||
			existing.Status == model.StatusFailed
		m.steps[id] = msg.Result
		if !previouslyCompleted {
			m.completed++
			switch msg.Result.Status {
			case model.StatusFailed:
				m.failed++
			case model.StatusSkipped:
				m.skipped++
			}
			m.markFinishedIfComplete()
		}
		return m, nil
	case RunDoneMsg:
		m.finished = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.cancelled = true
			m.finished = true
			return m, tea.Quit
		}
	case tea.QuitMsg:
		m.finished = true
		return m, nil
	}

	return m, nil
}
