package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/agent"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/storage"
)

// ErrWorkflowNotFound is returned when executing an unregistered workflow.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Config bundles the tunables of an OrchestratorService. The zero value
// uses the package defaults and no archive store.
type Config struct {
	Executor   ExecutorConfig
	Aggregator AggregatorConfig
	// Archive, when set, mirrors completed runs to persistent storage.
	Archive storage.Store
}

// OrchestratorService coordinates registered agents through declared
// workflows: it resolves execution order, drives layered execution, and
// aggregates per-step results into one RunResult per run.
type OrchestratorService struct {
	registry *agent.Registry
	logger   Logger
	exec     *executor
	agg      *Aggregator

	mu        sync.RWMutex
	workflows map[string]models.Workflow
	order     []string
}

func NewOrchestratorService(registry *agent.Registry, cfg Config, logger Logger) *OrchestratorService {
	agg := NewAggregator(cfg.Aggregator, logger)
	if cfg.Archive != nil {
		agg.SetArchive(cfg.Archive)
	}
	return &OrchestratorService{
		registry:  registry,
		logger:    logger,
		exec:      newExecutor(registry, cfg.Executor, logger),
		agg:       agg,
		workflows: make(map[string]models.Workflow),
	}
}

// Registry returns the agent registry this service executes against.
func (s *OrchestratorService) Registry() *agent.Registry {
	return s.registry
}

// RegisterWorkflow validates and registers a workflow definition.
// Malformed graphs (unknown dependencies, cycles) and references to
// unregistered agents are rejected here, before any run starts.
// Re-registering an id replaces the previous definition.
func (s *OrchestratorService) RegisterWorkflow(wf models.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	if _, err := ResolveLayers(wf); err != nil {
		return err
	}
	for _, step := range wf.Steps {
		if _, err := s.registry.Get(step.AgentID); err != nil {
			return errors.Wrap(err, fmt.Sprintf("step '%s'", step.ID))
		}
	}
	s.mu.Lock()
	if _, ok := s.workflows[wf.ID]; !ok {
		s.order = append(s.order, wf.ID)
	}
	s.workflows[wf.ID] = wf
	s.mu.Unlock()
	s.logger.Infof("Registered workflow '%s' with %d steps", wf.ID, len(wf.Steps))
	return nil
}

// Workflow returns a registered workflow by id.
func (s *OrchestratorService) Workflow(id string) (models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return models.Workflow{}, errors.Wrap(ErrWorkflowNotFound, fmt.Sprintf("'%s'", id))
	}
	return wf, nil
}

// Workflows lists registered workflows in registration order.
func (s *OrchestratorService) Workflows() []models.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Workflow, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.workflows[id])
	}
	return out
}

// Execute runs a registered workflow against the given run context. The
// caller always receives a RunResult with every declared step accounted
// for, even when branches fail; the returned error is non-nil only for
// structural problems (unknown workflow, malformed graph).
func (s *OrchestratorService) Execute(ctx context.Context, workflowID string, runCtx models.RunContext) (models.RunResult, error) {
	wf, err := s.Workflow(workflowID)
	if err != nil {
		return models.RunResult{}, err
	}
	layers, err := ResolveLayers(wf)
	if err != nil {
		return models.RunResult{}, err
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	s.logger.Infof("Executing workflow '%s' (run %s, %d layers)", wf.ID, runID, len(layers))

	steps := s.exec.runSteps(ctx, wf, layers, runCtx)
	run := s.agg.Aggregate(wf, runID, startedAt, steps)

	s.logger.Infof("Run %s finished with status %s (confidence %.2f, %dms)",
		run.RunID, run.Status, run.OverallConfidence, run.ElapsedMs)
	return run, nil
}

// History returns the most recent runs, most recent first.
func (s *OrchestratorService) History(limit int) []models.RunResult {
	return s.agg.History(limit)
}

// AgentSnapshots reports per-agent invocation counters.
func (s *OrchestratorService) AgentSnapshots() []agent.Snapshot {
	return s.registry.Snapshots()
}
