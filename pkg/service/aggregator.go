package service

import (
	"sync"
	"time"

	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/storage"
)

const (
	// DefaultOptionalWeight is the aggregation weight of optional steps, so
	// a skipped optional step does not zero out the overall confidence.
	DefaultOptionalWeight = 0.5
	// DefaultHistoryCapacity bounds the in-memory run history.
	DefaultHistoryCapacity = 50
	// DefaultHistoryLimit is used when a history query gives no limit.
	DefaultHistoryLimit = 10
)

// AggregatorConfig tunes result aggregation. Zero values fall back to the
// package defaults.
type AggregatorConfig struct {
	OptionalWeight  float64
	HistoryCapacity int
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	if c.OptionalWeight <= 0 {
		c.OptionalWeight = DefaultOptionalWeight
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = DefaultHistoryCapacity
	}
	return c
}

// Aggregator merges per-step results into a RunResult and records runs in a
// bounded in-memory history, oldest evicted first. Appends are serialized;
// an optional archive store mirrors completed runs.
type Aggregator struct {
	cfg     AggregatorConfig
	logger  Logger
	archive storage.Store

	mu      sync.Mutex
	history []models.RunResult
}

func NewAggregator(cfg AggregatorConfig, logger Logger) *Aggregator {
	return &Aggregator{
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// SetArchive mirrors every recorded run to a persistent store. Archive
// failures are logged, never propagated: the in-memory history is the
// source of truth for a running engine.
func (a *Aggregator) SetArchive(store storage.Store) {
	a.archive = store
}

// Aggregate builds the immutable RunResult for one finished run and
// appends it to the history.
func (a *Aggregator) Aggregate(wf models.Workflow, runID string, startedAt time.Time, steps map[string]models.StepResult) models.RunResult {
	var weightSum, confSum float64
	successes := 0
	failedRequired := false
	for id, sr := range steps {
		step, _ := wf.Step(id)
		switch sr.Status {
		case models.SuccessStepStatus:
			successes++
			w := 1.0
			if step.Optional {
				w = a.cfg.OptionalWeight
			}
			weightSum += w
			confSum += w * sr.Confidence
		case models.FailedStepStatus:
			if !step.Optional {
				failedRequired = true
			}
		}
	}

	status := models.SuccessRunStatus
	confidence := 0.0
	if successes == 0 {
		status = models.FailedRunStatus
	} else {
		confidence = confSum / weightSum
		if failedRequired {
			status = models.FailedRunStatus
		}
	}

	finishedAt := time.Now()
	run := models.RunResult{
		RunID:             runID,
		WorkflowID:        wf.ID,
		Status:            status,
		Steps:             steps,
		OverallConfidence: confidence,
		ElapsedMs:         finishedAt.Sub(startedAt).Milliseconds(),
		StartedAt:         startedAt,
		FinishedAt:        finishedAt,
	}
	a.record(run)
	return run
}

func (a *Aggregator) record(run models.RunResult) {
	a.mu.Lock()
	a.history = append(a.history, run)
	if len(a.history) > a.cfg.HistoryCapacity {
		a.history = a.history[len(a.history)-a.cfg.HistoryCapacity:]
	}
	a.mu.Unlock()

	if a.archive == nil {
		return
	}
	if err := archiveRun(a.archive, run); err != nil {
		a.logger.Errorf("Failed to archive run %s: %v", run.RunID, err)
	}
}

func archiveRun(store storage.Store, run models.RunResult) error {
	txStore, err := store.Begin()
	if err != nil {
		return err
	}
	if err := txStore.SaveRun(run); err != nil {
		if rollbackErr := txStore.Rollback(); rollbackErr != nil {
			return rollbackErr
		}
		return err
	}
	return txStore.Commit()
}

// History returns the most recent runs, most recent first.
func (a *Aggregator) History(limit int) []models.RunResult {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit > len(a.history) {
		limit = len(a.history)
	}
	out := make([]models.RunResult, 0, limit)
	for i := len(a.history) - 1; i >= len(a.history)-limit; i-- {
		out = append(out, a.history[i])
	}
	return out
}
