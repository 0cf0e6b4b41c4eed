package components

import (
	"fmt"
	"strings"
)

// SummaryData aggregates counts for rendering summaries.
type SummaryData struct {
	Total     int
	Completed int
	Failed    int
	Skipped   int
	Finished  bool
	Cancelled bool
}

// Summary renders a textual run summary.
type Summary struct {
	data SummaryData
}

// NewSummary creates a new Summary component.
func NewSummary(data SummaryData) Summary {
	return Summary{data: data}
}

// View renders the summary.
func (s Summary) View() string {
	var lines []string
	if s.data.Total > 0 {
		line := fmt.Sprintf("Steps: %d/%d completed", s.data.Completed, s.data.Total)
		if s.data.Failed > 0 {
			line += fmt.Sprintf(", %d failed", s.data.Failed)
		}
		if s.data.Skipped > 0 {
			line += fmt.Sprintf(", %d skipped", s.data.Skipped)
		}
		lines = append(lines, line)
	}

	if s.data.Cancelled {
		lines = append(lines, "Run cancelled")
	} else if s.data.Finished && s.data.Total > 0 {
		if s.data.Failed == 0 && s.data.Completed == s.data.Total {
			lines = append(lines, "Run finished successfully")
		} else if s.data.Failed > 0 {
			lines = append(lines, "Run finished with failures")
		} else {
			lines = append(lines, "Run finished with pending steps")
		}
	}

	return strings.Join(lines, "\n")
}
