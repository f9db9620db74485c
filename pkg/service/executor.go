package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/agent"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
)

const (
	// DefaultStepTimeout bounds a single invocation attempt when the step
	// declares no timeout of its own.
	DefaultStepTimeout = 60 * time.Second
	// DefaultBackoffBase seeds the exponential backoff between retries.
	DefaultBackoffBase = 100 * time.Millisecond
	// DefaultBackoffCap caps a single backoff pause.
	DefaultBackoffCap = 5 * time.Second
)

// Logger defines the logging interface for the orchestration engine.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// ExecutorConfig tunes the per-step execution policy. Zero values fall
// back to the package defaults.
type ExecutorConfig struct {
	DefaultTimeout time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultStepTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	return c
}

// executor drives the layers of one workflow run. Agents are borrowed from
// the registry for the duration of an invocation and never mutated.
type executor struct {
	registry *agent.Registry
	cfg      ExecutorConfig
	logger   Logger
}

func newExecutor(registry *agent.Registry, cfg ExecutorConfig, logger Logger) *executor {
	return &executor{
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

type invokeOutcome struct {
	res agent.TaskResult
	err error
}

// runSteps executes every layer in resolver order and returns a result for
// each declared step. A layer never starts before its predecessor fully
// resolves, including skip and failure bookkeeping. Step failures are
// contained in the returned results; they are never returned as errors.
func (e *executor) runSteps(ctx context.Context, wf models.Workflow, layers [][]string, runCtx models.RunContext) map[string]models.StepResult {
	results := make(map[string]models.StepResult, len(wf.Steps))
	var mu sync.Mutex

	for _, layer := range layers {
		if ctx.Err() != nil {
			// Run-level cancellation: later layers never start. Their
			// steps are still recorded so the caller sees every step.
			for _, id := range layer {
				step, _ := wf.Step(id)
				results[id] = models.StepResult{
					StepID:  id,
					AgentID: step.AgentID,
					Status:  models.SkippedStepStatus,
					Error:   "run cancelled before step started",
				}
			}
			continue
		}

		// Steps within a layer are mutually independent, so they only
		// read results of earlier layers. Snapshot those before any
		// member of this layer starts writing.
		prior := make(map[string]models.StepResult, len(results))
		for k, v := range results {
			prior[k] = v
		}

		if wf.Parallel {
			var wg sync.WaitGroup
			for _, id := range layer {
				step, _ := wf.Step(id)
				wg.Add(1)
				go func(step models.Step) {
					defer wg.Done()
					res := e.executeStep(ctx, wf, step, runCtx, prior)
					mu.Lock()
					results[step.ID] = res
					mu.Unlock()
				}(step)
			}
			wg.Wait()
		} else {
			for _, id := range layer {
				step, _ := wf.Step(id)
				results[id] = e.executeStep(ctx, wf, step, runCtx, prior)
			}
		}
	}
	return results
}

// executeStep applies the dependency gate and then invokes the step's agent
// under the configured timeout/retry policy.
func (e *executor) executeStep(ctx context.Context, wf models.Workflow, step models.Step, runCtx models.RunContext, prior map[string]models.StepResult) models.StepResult {
	inputs := make(map[string]agent.TaskResult, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		dres, ok := prior[dep]
		if ok && dres.Status == models.SuccessStepStatus {
			inputs[dep] = agent.TaskResult{Payload: dres.Payload, Confidence: dres.Confidence}
			continue
		}
		depStep, _ := wf.Step(dep)
		if depStep.Optional || step.Optional {
			// Optional dependencies are satisfied-but-empty, and optional
			// steps tolerate missing inputs altogether.
			continue
		}
		e.logger.Infof("Skipping step '%s': dependency '%s' did not succeed", step.ID, dep)
		return models.StepResult{
			StepID:  step.ID,
			AgentID: step.AgentID,
			Status:  models.SkippedStepStatus,
			Error:   fmt.Sprintf("dependency '%s' did not succeed", dep),
		}
	}

	ag, err := e.registry.Get(step.AgentID)
	if err != nil {
		e.logger.Errorf("Step '%s' references unknown agent '%s'", step.ID, step.AgentID)
		return models.StepResult{
			StepID:      step.ID,
			AgentID:     step.AgentID,
			Status:      models.FailedStepStatus,
			FailureKind: models.InvocationFailure,
			Error:       err.Error(),
		}
	}

	timeout := e.cfg.DefaultTimeout
	if step.Timeout != nil {
		timeout = *step.Timeout
	}
	tc := agent.TaskContext{Run: runCtx, Params: step.Params, Inputs: inputs}

	backoff := retry.WithMaxRetries(uint64(step.MaxRetries),
		retry.WithCappedDuration(e.cfg.BackoffCap, retry.NewExponential(e.cfg.BackoffBase)))

	var out agent.TaskResult
	var kind models.FailureKind
	attempts := 0
	started := time.Now()

	invokeErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		e.logger.Infof("Starting step '%s' attempt %d", step.ID, attempts)

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resCh := make(chan invokeOutcome, 1)
		go func() {
			res, err := ag.Invoke(attemptCtx, tc)
			resCh <- invokeOutcome{res, err}
		}()

		select {
		case o := <-resCh:
			if o.err != nil {
				kind = models.InvocationFailure
				e.logger.Infof("Step '%s' attempt %d failed: %v", step.ID, attempts, o.err)
				return retry.RetryableError(o.err)
			}
			out = o.res
			return nil
		case <-attemptCtx.Done():
			if ctx.Err() != nil {
				kind = models.CancelledFailure
				return ctx.Err()
			}
			kind = models.TimeoutFailure
			e.logger.Infof("Step '%s' attempt %d timed out after %s", step.ID, attempts, timeout)
			return retry.RetryableError(attemptCtx.Err())
		}
	})
	elapsed := time.Since(started)

	if invokeErr != nil && ctx.Err() != nil {
		// Cancellation can also surface from the backoff sleep between
		// attempts; classify it as such rather than as the last attempt.
		kind = models.CancelledFailure
	}

	e.registry.RecordInvocation(step.AgentID, invokeErr == nil, elapsed)

	if invokeErr != nil {
		status := models.FailedStepStatus
		if step.Optional {
			// Optional steps degrade gracefully: the run carries on and
			// dependents see an absent input.
			status = models.SkippedStepStatus
		}
		e.logger.Infof("Step '%s' ended %s after %d attempt(s): %v", step.ID, status, attempts, invokeErr)
		return models.StepResult{
			StepID:      step.ID,
			AgentID:     step.AgentID,
			Status:      status,
			FailureKind: kind,
			Error:       invokeErr.Error(),
			Attempts:    attempts,
			ElapsedMs:   elapsed.Milliseconds(),
		}
	}

	e.logger.Infof("Step '%s' completed in %s (confidence %.2f)", step.ID, elapsed, out.Confidence)
	return models.StepResult{
		StepID:     step.ID,
		AgentID:    step.AgentID,
		Status:     models.SuccessStepStatus,
		Payload:    out.Payload,
		Confidence: clampConfidence(out.Confidence),
		Attempts:   attempts,
		ElapsedMs:  elapsed.Milliseconds(),
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
