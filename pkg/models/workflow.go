package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// Workflow is a static declaration of steps forming a dependency graph.
// When Parallel is set, independent steps within a layer run concurrently;
// otherwise steps run one at a time in declaration order.
type Workflow struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Parallel    bool   `json:"parallel" yaml:"parallel"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Step returns the step with the given id, if declared.
func (w Workflow) Step(id string) (Step, bool) {
	for _, s := range w.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Validate checks the structural basics of a workflow declaration. Graph
// properties (unknown dependencies, cycles) are checked by the resolver.
func (w Workflow) Validate() error {
	if w.ID == "" {
		return errors.New("workflow id cannot be empty")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow '%s' declares no steps", w.ID)
	}
	seen := make(map[string]struct{}, len(w.Steps))
	for _, s := range w.Steps {
		if s.ID == "" {
			return fmt.Errorf("workflow '%s' contains a step with an empty id", w.ID)
		}
		if s.AgentID == "" {
			return fmt.Errorf("step '%s' does not reference an agent", s.ID)
		}
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("duplicate step id '%s' in workflow '%s'", s.ID, w.ID)
		}
		if s.MaxRetries < 0 {
			return fmt.Errorf("step '%s' has negative max_retries", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
