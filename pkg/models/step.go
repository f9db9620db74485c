package models

import "time"

type StepStatus string

const (
	SuccessStepStatus StepStatus = "SUCCESS"
	FailedStepStatus  StepStatus = "FAILED"
	SkippedStepStatus StepStatus = "SKIPPED"
)

// FailureKind classifies why a step attempt failed.
type FailureKind string

const (
	TimeoutFailure    FailureKind = "TIMEOUT"
	CancelledFailure  FailureKind = "CANCELLED"
	InvocationFailure FailureKind = "INVOCATION"
)

// Step declares one unit of work inside a workflow: which agent runs it,
// which steps must finish first, and the per-step execution policy.
type Step struct {
	ID         string         `json:"id" yaml:"id"`
	AgentID    string         `json:"agentId" yaml:"agent"`
	DependsOn  []string       `json:"dependsOn,omitempty" yaml:"depends_on"`
	Optional   bool           `json:"optional,omitempty" yaml:"optional"`
	MaxRetries int            `json:"maxRetries,omitempty" yaml:"max_retries"`
	Timeout    *time.Duration `json:"timeout,omitempty" yaml:"-"`
	Params     map[string]any `json:"params,omitempty" yaml:"params"`
}

// StepResult is the recorded outcome of one step in a run. Payload and
// Confidence are meaningful only when Status is SUCCESS.
type StepResult struct {
	StepID      string      `json:"-"`
	AgentID     string      `json:"agentId"`
	Status      StepStatus  `json:"status"`
	Payload     any         `json:"payload,omitempty"`
	Confidence  float64     `json:"confidence"`
	FailureKind FailureKind `json:"failureKind,omitempty"`
	Error       string      `json:"error,omitempty"`
	Attempts    int         `json:"attempts"`
	ElapsedMs   int64       `json:"elapsedMs"`
}
