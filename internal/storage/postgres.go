package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore archives completed runs in Postgres.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

type runRow struct {
	RunID             string    `db:"run_id"`
	WorkflowID        string    `db:"workflow_id"`
	Status            string    `db:"status"`
	OverallConfidence float64   `db:"overall_confidence"`
	ElapsedMs         int64     `db:"elapsed_ms"`
	StartedAt         time.Time `db:"started_at"`
	FinishedAt        time.Time `db:"finished_at"`
}

type stepRow struct {
	RunID       string  `db:"run_id"`
	StepID      string  `db:"step_id"`
	AgentID     string  `db:"agent_id"`
	Status      string  `db:"status"`
	Payload     []byte  `db:"payload"`
	Confidence  float64 `db:"confidence"`
	FailureKind string  `db:"failure_kind"`
	ErrorMsg    string  `db:"error_msg"`
	Attempts    int     `db:"attempts"`
	ElapsedMs   int64   `db:"elapsed_ms"`
}

func (r runRow) toModel() models.RunResult {
	return models.RunResult{
		RunID:             r.RunID,
		WorkflowID:        r.WorkflowID,
		Status:            models.RunStatus(r.Status),
		OverallConfidence: r.OverallConfidence,
		ElapsedMs:         r.ElapsedMs,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
	}
}

// SaveRun persists the run row and one row per step result. Step payloads
// are stored as JSON.
func (s *PostgresStore) SaveRun(run models.RunResult) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, workflow_id, status, overall_confidence, elapsed_ms, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.RunID, run.WorkflowID, run.Status, run.OverallConfidence, run.ElapsedMs, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	for stepID, sr := range run.Steps {
		var payload []byte
		if sr.Payload != nil {
			payload, err = json.Marshal(sr.Payload)
			if err != nil {
				return fmt.Errorf("save run %s: marshal payload of step '%s': %w", run.RunID, stepID, err)
			}
		}
		_, err = s.db.Exec(`
			INSERT INTO step_results (run_id, step_id, agent_id, status, payload, confidence, failure_kind, error_msg, attempts, elapsed_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			run.RunID, stepID, sr.AgentID, sr.Status, payload, sr.Confidence, sr.FailureKind, sr.Error, sr.Attempts, sr.ElapsedMs)
		if err != nil {
			return fmt.Errorf("save run %s: step '%s': %w", run.RunID, stepID, err)
		}
	}
	return nil
}

// GetRun retrieves a run by id, including its step results.
func (s *PostgresStore) GetRun(runID string) (models.RunResult, error) {
	var row runRow
	err := s.db.Get(&row, "SELECT * FROM runs WHERE run_id = $1", runID)
	if err == sql.ErrNoRows {
		return models.RunResult{}, storage.ErrNotFound
	}
	if err != nil {
		return models.RunResult{}, err
	}
	run := row.toModel()

	var stepRows []stepRow
	err = s.db.Select(&stepRows, "SELECT * FROM step_results WHERE run_id = $1 ORDER BY step_id", runID)
	if err != nil {
		return models.RunResult{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	run.Steps = make(map[string]models.StepResult, len(stepRows))
	for _, sr := range stepRows {
		res := models.StepResult{
			StepID:      sr.StepID,
			AgentID:     sr.AgentID,
			Status:      models.StepStatus(sr.Status),
			Confidence:  sr.Confidence,
			FailureKind: models.FailureKind(sr.FailureKind),
			Error:       sr.ErrorMsg,
			Attempts:    sr.Attempts,
			ElapsedMs:   sr.ElapsedMs,
		}
		if len(sr.Payload) > 0 {
			var payload any
			if err := json.Unmarshal(sr.Payload, &payload); err != nil {
				return models.RunResult{}, fmt.Errorf("get run %s: unmarshal payload of step '%s': %w", runID, sr.StepID, err)
			}
			res.Payload = payload
		}
		run.Steps[sr.StepID] = res
	}
	return run, nil
}

// ListRuns returns the most recent runs without step results.
func (s *PostgresStore) ListRuns(limit int) ([]models.RunResult, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []runRow
	err := s.db.Select(&rows, "SELECT * FROM runs ORDER BY started_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.RunResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
