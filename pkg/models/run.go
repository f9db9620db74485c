package models

import "time"

type RunStatus string

const (
	SuccessRunStatus RunStatus = "SUCCESS"
	FailedRunStatus  RunStatus = "FAILED"
)

// RunContext is the immutable input bag passed to every step of a run.
// Steps read it but never mutate it; data flows between steps only through
// declared step outputs.
type RunContext map[string]any

// RunResult aggregates the step results of one workflow run. It is
// immutable once produced.
type RunResult struct {
	RunID             string                `json:"runId"`
	WorkflowID        string                `json:"workflowId"`
	Status            RunStatus             `json:"status"`
	Steps             map[string]StepResult `json:"steps"`
	OverallConfidence float64               `json:"overallConfidence"`
	ElapsedMs         int64                 `json:"elapsedMs"`
	StartedAt         time.Time             `json:"startedAt"`
	FinishedAt        time.Time             `json:"finishedAt"`
}
