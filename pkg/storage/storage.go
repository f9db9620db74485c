package storage

import (
	"github.com/pkg/errors"

	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
)

// ErrNotFound is returned when a run does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the run-archive operations. The engine itself keeps its
// history in memory; a Store mirrors completed runs for later inspection.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// SaveRun persists a completed run with all of its step results.
	SaveRun(run models.RunResult) error
	// GetRun retrieves one run by id, including step results.
	GetRun(runID string) (models.RunResult, error)
	// ListRuns returns the most recent runs, most recent first, without
	// step results.
	ListRuns(limit int) ([]models.RunResult, error)
}
