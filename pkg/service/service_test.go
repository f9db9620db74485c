package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/agent"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/service"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/storage"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

// fastConfig keeps retry backoff out of test runtime.
func fastConfig() service.Config {
	return service.Config{
		Executor: service.ExecutorConfig{
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
		},
	}
}

func staticAgent(id string, confidence float64, payload any) agent.Agent {
	return agent.New(id, id, nil, func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
		return agent.TaskResult{Payload: payload, Confidence: confidence}, nil
	})
}

func failingAgent(id string) agent.Agent {
	return agent.New(id, id, nil, func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
		return agent.TaskResult{}, errors.New("boom")
	})
}

func sleepingAgent(id string, d time.Duration) agent.Agent {
	return agent.New(id, id, nil, func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
		select {
		case <-time.After(d):
			return agent.TaskResult{Confidence: 1}, nil
		case <-ctx.Done():
			return agent.TaskResult{}, ctx.Err()
		}
	})
}

func durationPtr(d time.Duration) *time.Duration { return &d }

func TestOrchestratorService_RegisterWorkflow(t *testing.T) {
	newService := func() *service.OrchestratorService {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register(staticAgent("worker", 0.9, "ok")))
		return service.NewOrchestratorService(registry, fastConfig(), logger{})
	}

	t.Run("Valid", func(t *testing.T) {
		svc := newService()
		err := svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "a", AgentID: "worker"},
			models.Step{ID: "b", AgentID: "worker", DependsOn: []string{"a"}},
		))
		assert.NoError(t, err)
		assert.Len(t, svc.Workflows(), 1)
	})

	t.Run("NoSteps", func(t *testing.T) {
		svc := newService()
		err := svc.RegisterWorkflow(models.Workflow{ID: "empty"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "declares no steps")
	})

	t.Run("Cycle", func(t *testing.T) {
		svc := newService()
		err := svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "a", AgentID: "worker", DependsOn: []string{"b"}},
			models.Step{ID: "b", AgentID: "worker", DependsOn: []string{"a"}},
		))
		var cycleErr *service.CycleError
		assert.True(t, errors.As(err, &cycleErr))
	})

	t.Run("UnknownDependency", func(t *testing.T) {
		svc := newService()
		err := svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "a", AgentID: "worker", DependsOn: []string{"ghost"}},
		))
		var unknownErr *service.UnknownDependencyError
		assert.True(t, errors.As(err, &unknownErr))
	})

	t.Run("UnknownAgent", func(t *testing.T) {
		svc := newService()
		err := svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "a", AgentID: "nobody"},
		))
		assert.True(t, errors.Is(err, agent.ErrNotFound))
	})

	t.Run("ReplaceExisting", func(t *testing.T) {
		svc := newService()
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf", models.Step{ID: "a", AgentID: "worker"})))
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "a", AgentID: "worker"},
			models.Step{ID: "b", AgentID: "worker", DependsOn: []string{"a"}},
		)))
		assert.Len(t, svc.Workflows(), 1)
		wf, err := svc.Workflow("wf")
		assert.NoError(t, err)
		assert.Len(t, wf.Steps, 2)
	})
}

func TestOrchestratorService_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownWorkflow", func(t *testing.T) {
		svc := service.NewOrchestratorService(agent.NewRegistry(), fastConfig(), logger{})
		_, err := svc.Execute(ctx, "nope", nil)
		assert.True(t, errors.Is(err, service.ErrWorkflowNotFound))
	})

	t.Run("TwoParallelSteps", func(t *testing.T) {
		// Scenario B: two independent required steps, confidences 0.9 and 1.0.
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register(staticAgent("x", 0.9, "x-out")))
		assert.NoError(t, registry.Register(staticAgent("y", 1.0, "y-out")))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "x", AgentID: "x"},
			models.Step{ID: "y", AgentID: "y"},
		)))

		run, err := svc.Execute(ctx, "wf", models.RunContext{"sku": "S1"})
		assert.NoError(t, err)
		assert.Equal(t, models.SuccessRunStatus, run.Status)
		assert.InDelta(t, 0.95, run.OverallConfidence, 1e-9)
		assert.Len(t, run.Steps, 2)
		assert.Equal(t, models.SuccessStepStatus, run.Steps["x"].Status)
		assert.Equal(t, "x-out", run.Steps["x"].Payload)
		assert.NotEmpty(t, run.RunID)
	})

	t.Run("RequiredFailureCascades", func(t *testing.T) {
		// Scenario A: a fails; required b is skipped, optional c still runs.
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register(failingAgent("fail")))
		assert.NoError(t, registry.Register(staticAgent("ok", 0.8, "fine")))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "a", AgentID: "fail"},
			models.Step{ID: "b", AgentID: "ok", DependsOn: []string{"a"}},
			models.Step{ID: "c", AgentID: "ok", DependsOn: []string{"a"}, Optional: true},
		)))

		run, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.FailedRunStatus, run.Status)
		assert.Equal(t, models.FailedStepStatus, run.Steps["a"].Status)
		assert.Equal(t, models.InvocationFailure, run.Steps["a"].FailureKind)
		assert.Equal(t, models.SkippedStepStatus, run.Steps["b"].Status)
		assert.Zero(t, run.Steps["b"].Attempts)
		assert.Equal(t, models.SuccessStepStatus, run.Steps["c"].Status)
	})

	t.Run("TransitiveSkip", func(t *testing.T) {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register(failingAgent("fail")))
		assert.NoError(t, registry.Register(staticAgent("ok", 0.8, nil)))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "a", AgentID: "fail"},
			models.Step{ID: "b", AgentID: "ok", DependsOn: []string{"a"}},
			models.Step{ID: "c", AgentID: "ok", DependsOn: []string{"b"}},
			models.Step{ID: "side", AgentID: "ok"},
		)))

		run, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.SkippedStepStatus, run.Steps["b"].Status)
		assert.Equal(t, models.SkippedStepStatus, run.Steps["c"].Status)
		// Unrelated branch keeps running.
		assert.Equal(t, models.SuccessStepStatus, run.Steps["side"].Status)
	})

	t.Run("OptionalFailureDoesNotCascade", func(t *testing.T) {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register(failingAgent("fail")))
		var sawInput atomic.Bool
		dependent := agent.New("dep", "dep", nil, func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
			_, ok := tc.Input("opt")
			sawInput.Store(ok)
			return agent.TaskResult{Confidence: 0.8}, nil
		})
		assert.NoError(t, registry.Register(dependent))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "opt", AgentID: "fail", Optional: true},
			models.Step{ID: "after", AgentID: "dep", DependsOn: []string{"opt"}},
		)))

		run, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.SuccessRunStatus, run.Status)
		assert.Equal(t, models.SkippedStepStatus, run.Steps["opt"].Status)
		assert.Equal(t, models.SuccessStepStatus, run.Steps["after"].Status)
		assert.False(t, sawInput.Load(), "dependent must see an absent input for the failed optional step")
	})

	t.Run("RetrySucceedsOnThirdAttempt", func(t *testing.T) {
		// Scenario C: two failures, then success, with MaxRetries=2.
		registry := agent.NewRegistry()
		var calls atomic.Int32
		flaky := agent.New("flaky", "flaky", nil, func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
			if calls.Add(1) < 3 {
				return agent.TaskResult{}, errors.New("transient")
			}
			return agent.TaskResult{Payload: "third time lucky", Confidence: 0.7}, nil
		})
		assert.NoError(t, registry.Register(flaky))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "s", AgentID: "flaky", MaxRetries: 2},
		)))

		run, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.SuccessRunStatus, run.Status)
		assert.Equal(t, models.SuccessStepStatus, run.Steps["s"].Status)
		assert.Equal(t, 3, run.Steps["s"].Attempts)
		assert.Equal(t, "third time lucky", run.Steps["s"].Payload)
	})

	t.Run("RetriesExhausted", func(t *testing.T) {
		registry := agent.NewRegistry()
		var calls atomic.Int32
		counting := agent.New("counting", "counting", nil, func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
			calls.Add(1)
			return agent.TaskResult{}, errors.New("always down")
		})
		assert.NoError(t, registry.Register(counting))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "s", AgentID: "counting", MaxRetries: 2},
		)))

		run, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.FailedRunStatus, run.Status)
		assert.Equal(t, models.FailedStepStatus, run.Steps["s"].Status)
		assert.Equal(t, int32(3), calls.Load())
		assert.Contains(t, run.Steps["s"].Error, "always down")
	})

	t.Run("StepTimeout", func(t *testing.T) {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register(sleepingAgent("slow", time.Second)))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "s", AgentID: "slow", Timeout: durationPtr(30 * time.Millisecond)},
		)))

		run, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.FailedRunStatus, run.Status)
		assert.Equal(t, models.FailedStepStatus, run.Steps["s"].Status)
		assert.Equal(t, models.TimeoutFailure, run.Steps["s"].FailureKind)
	})

	t.Run("RunCancellation", func(t *testing.T) {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register(sleepingAgent("slow", time.Second)))
		assert.NoError(t, registry.Register(staticAgent("ok", 0.9, nil)))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "first", AgentID: "slow"},
			models.Step{ID: "second", AgentID: "ok", DependsOn: []string{"first"}},
		)))

		runCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		run, err := svc.Execute(runCtx, "wf", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.FailedRunStatus, run.Status)
		assert.Equal(t, models.FailedStepStatus, run.Steps["first"].Status)
		assert.Equal(t, models.CancelledFailure, run.Steps["first"].FailureKind)
		// The next layer never starts but is still accounted for.
		assert.Equal(t, models.SkippedStepStatus, run.Steps["second"].Status)
		assert.Zero(t, run.Steps["second"].Attempts)
	})

	t.Run("ParallelStepsRunConcurrently", func(t *testing.T) {
		registry := agent.NewRegistry()
		barrier := make(chan struct{})
		rendezvous := func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
			select {
			case barrier <- struct{}{}:
			case <-barrier:
			case <-ctx.Done():
				return agent.TaskResult{}, ctx.Err()
			}
			return agent.TaskResult{Confidence: 1}, nil
		}
		assert.NoError(t, registry.Register(agent.New("p1", "p1", nil, rendezvous)))
		assert.NoError(t, registry.Register(agent.New("p2", "p2", nil, rendezvous)))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "p1", AgentID: "p1", Timeout: durationPtr(time.Second)},
			models.Step{ID: "p2", AgentID: "p2", Timeout: durationPtr(time.Second)},
		)))

		run, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)
		// The rendezvous only completes when both invocations are in
		// flight at the same time.
		assert.Equal(t, models.SuccessRunStatus, run.Status)
	})

	t.Run("SequentialModeDeclarationOrder", func(t *testing.T) {
		registry := agent.NewRegistry()
		var mu sync.Mutex
		var order []string
		recordingAgent := func(id string) agent.Agent {
			return agent.New(id, id, nil, func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return agent.TaskResult{Confidence: 1}, nil
			})
		}
		assert.NoError(t, registry.Register(recordingAgent("third")))
		assert.NoError(t, registry.Register(recordingAgent("first")))
		assert.NoError(t, registry.Register(recordingAgent("second")))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		wf := models.Workflow{ID: "wf", Parallel: false, Steps: []models.Step{
			{ID: "third", AgentID: "third"},
			{ID: "first", AgentID: "first"},
			{ID: "second", AgentID: "second"},
		}}
		assert.NoError(t, svc.RegisterWorkflow(wf))

		_, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)
		assert.Equal(t, []string{"third", "first", "second"}, order)
	})

	t.Run("DependencyOutputsFlowDownstream", func(t *testing.T) {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register(staticAgent("producer", 0.9, map[string]any{"value": 41})))
		consumer := agent.New("consumer", "consumer", nil, func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
			in, ok := tc.Input("produce")
			if !ok {
				return agent.TaskResult{}, errors.New("missing input")
			}
			m := in.Payload.(map[string]any)
			return agent.TaskResult{Payload: m["value"].(int) + 1, Confidence: 1}, nil
		})
		assert.NoError(t, registry.Register(consumer))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "produce", AgentID: "producer"},
			models.Step{ID: "consume", AgentID: "consumer", DependsOn: []string{"produce"}},
		)))

		run, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.SuccessRunStatus, run.Status)
		assert.Equal(t, 42, run.Steps["consume"].Payload)
	})

	t.Run("ArchiveMirrorsRuns", func(t *testing.T) {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register(staticAgent("w", 0.9, "done")))
		store := storage.NewMockStore()
		cfg := fastConfig()
		cfg.Archive = store
		svc := service.NewOrchestratorService(registry, cfg, logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf", models.Step{ID: "s", AgentID: "w"})))

		run, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)

		archived, err := store.GetRun(run.RunID)
		assert.NoError(t, err)
		assert.Equal(t, run.RunID, archived.RunID)
		assert.Equal(t, models.SuccessRunStatus, archived.Status)
		assert.Len(t, archived.Steps, 1)
	})

	t.Run("AgentSnapshotsTrackInvocations", func(t *testing.T) {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register(staticAgent("w", 0.9, nil)))
		assert.NoError(t, registry.Register(failingAgent("f")))
		svc := service.NewOrchestratorService(registry, fastConfig(), logger{})
		assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf",
			models.Step{ID: "good", AgentID: "w"},
			models.Step{ID: "bad", AgentID: "f"},
		)))

		_, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)

		snaps := svc.AgentSnapshots()
		assert.Len(t, snaps, 2)
		assert.Equal(t, "w", snaps[0].AgentID)
		assert.Equal(t, 1, snaps[0].Invocations)
		assert.Equal(t, 1.0, snaps[0].SuccessRate)
		assert.Equal(t, 0.0, snaps[1].SuccessRate)
	})
}

func TestOrchestratorService_History(t *testing.T) {
	ctx := context.Background()
	registry := agent.NewRegistry()
	assert.NoError(t, registry.Register(staticAgent("w", 0.9, nil)))
	cfg := fastConfig()
	cfg.Aggregator = service.AggregatorConfig{HistoryCapacity: 3}
	svc := service.NewOrchestratorService(registry, cfg, logger{})
	assert.NoError(t, svc.RegisterWorkflow(wfWithSteps("wf", models.Step{ID: "s", AgentID: "w"})))

	var runIDs []string
	for i := 0; i < 5; i++ {
		run, err := svc.Execute(ctx, "wf", nil)
		assert.NoError(t, err)
		runIDs = append(runIDs, run.RunID)
	}

	// Capacity 3: the two oldest runs are evicted, most recent first.
	history := svc.History(10)
	assert.Len(t, history, 3)
	assert.Equal(t, runIDs[4], history[0].RunID)
	assert.Equal(t, runIDs[3], history[1].RunID)
	assert.Equal(t, runIDs[2], history[2].RunID)

	limited := svc.History(2)
	assert.Len(t, limited, 2)
	assert.Equal(t, runIDs[4], limited[0].RunID)
}
