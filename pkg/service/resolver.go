package service

import (
	"fmt"
	"strings"

	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
)

// CycleError reports a workflow whose dependency relation is not acyclic.
// Remaining lists the step ids that could not be placed in any layer.
type CycleError struct {
	WorkflowID string
	Remaining  []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected in workflow '%s' involving steps [%s]",
		e.WorkflowID, strings.Join(e.Remaining, ", "))
}

// UnknownDependencyError reports a step depending on an undeclared step id.
type UnknownDependencyError struct {
	WorkflowID string
	StepID     string
	DependsOn  string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("step '%s' in workflow '%s' depends on unknown step '%s'",
		e.StepID, e.WorkflowID, e.DependsOn)
}

// ResolveLayers computes a topological layering of the workflow's steps.
// Each layer holds the ids of steps whose dependencies are all satisfied by
// earlier layers, so members of one layer are mutually independent. Within
// a layer, ids keep the workflow's declaration order so sequential
// execution and logs stay deterministic.
func ResolveLayers(wf models.Workflow) ([][]string, error) {
	declared := make(map[string]struct{}, len(wf.Steps))
	for _, s := range wf.Steps {
		declared[s.ID] = struct{}{}
	}

	inDegree := make(map[string]int, len(wf.Steps))
	dependents := make(map[string][]string, len(wf.Steps))
	for _, s := range wf.Steps {
		inDegree[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			if _, ok := declared[dep]; !ok {
				return nil, &UnknownDependencyError{
					WorkflowID: wf.ID,
					StepID:     s.ID,
					DependsOn:  dep,
				}
			}
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	placed := make(map[string]struct{}, len(wf.Steps))
	var layers [][]string
	for len(placed) < len(wf.Steps) {
		var layer []string
		for _, s := range wf.Steps {
			if _, done := placed[s.ID]; done {
				continue
			}
			if inDegree[s.ID] == 0 {
				layer = append(layer, s.ID)
			}
		}
		if len(layer) == 0 {
			var remaining []string
			for _, s := range wf.Steps {
				if _, done := placed[s.ID]; !done {
					remaining = append(remaining, s.ID)
				}
			}
			return nil, &CycleError{WorkflowID: wf.ID, Remaining: remaining}
		}
		for _, id := range layer {
			placed[id] = struct{}{}
			for _, dep := range dependents[id] {
				inDegree[dep]--
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
