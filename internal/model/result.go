package model

import "time"

// Status describes the outcome of a pipeline step.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StepResult records the outcome of one pipeline step.
type StepResult struct {
	StepID    string
	Action    string
	Status    Status
	Message   string
	Error     error
	Duration  time.Duration
	Timestamp time.Time
}

// RunSummary aggregates step results for reporting.
type RunSummary struct {
	Total    int
	Success  int
	Failed   int
	Skipped  int
	Duration time.Duration
	Results  []StepResult
}

// Summarize builds a RunSummary from step results.
func Summarize(results []StepResult, duration time.Duration) RunSummary {
	summary := RunSummary{Total: len(results), Duration: duration, Results: results}
	for _, res := range results {
		switch res.Status {
		case StatusSuccess:
			summary.Success++
		case StatusFailed:
			summary.Failed++
		case StatusSkipped:
			summary.Skipped++
		}
	}
	return summary
}
