package agent

import (
	"context"

	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
)

// TaskResult is the output of a single agent invocation. Confidence is the
// agent's own estimate of how reliable the payload is, in [0,1].
type TaskResult struct {
	Payload    any
	Confidence float64
}

// TaskContext carries everything an agent may read during an invocation:
// the run-wide input bag, the step's declared parameters, and the outputs
// of the dependency steps that completed successfully. A dependency that
// failed or was skipped is simply absent from Inputs.
type TaskContext struct {
	Run    models.RunContext
	Params map[string]any
	Inputs map[string]TaskResult
}

// Input returns the output of a dependency step, if it succeeded.
func (tc TaskContext) Input(stepID string) (TaskResult, bool) {
	res, ok := tc.Inputs[stepID]
	return res, ok
}

// Agent is the uniform contract every unit of work implements. Agents are
// stateless between invocations; any memory they keep is their own.
type Agent interface {
	ID() string
	Name() string
	Capabilities() []string
	Invoke(ctx context.Context, tc TaskContext) (TaskResult, error)
}

// InvokeFunc adapts a plain function to the invocation contract.
type InvokeFunc func(ctx context.Context, tc TaskContext) (TaskResult, error)

// FuncAgent is a function-backed Agent with an optional private memory.
type FuncAgent struct {
	id           string
	name         string
	capabilities []string
	fn           InvokeFunc
	memory       *Memory
}

func New(id, name string, capabilities []string, fn InvokeFunc) *FuncAgent {
	return &FuncAgent{
		id:           id,
		name:         name,
		capabilities: capabilities,
		fn:           fn,
		memory:       NewMemory(DefaultMemoryCapacity),
	}
}

func (a *FuncAgent) ID() string   { return a.id }
func (a *FuncAgent) Name() string { return a.name }

func (a *FuncAgent) Capabilities() []string { return a.capabilities }

// Memory exposes the agent's own memory so its invocation function can
// record and recall interactions. The engine never touches it.
func (a *FuncAgent) Memory() *Memory { return a.memory }

func (a *FuncAgent) Invoke(ctx context.Context, tc TaskContext) (TaskResult, error) {
	return a.fn(ctx, tc)
}
