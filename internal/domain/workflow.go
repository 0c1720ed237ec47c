package domain

import "context"

// Activity is one named step of a reconciliation pass. A durable engine
// may run a step more than once (after a crash, say), so each step must
// tolerate being repeated with the same input.
type Activity[I any, O any] interface {
	Name() string
	Run(ctx context.Context, in I) (O, error)
}

// DurableRunner is what a pass body sees of the engine executing it.
type DurableRunner interface {
	// ID names the execution, e.g. a go-workflows instance or DBOS
	// workflow ID.
	ID() string

	// Context is the context pure code in the pass body should use. A
	// replaying engine hands out its own workflow context here; the
	// inline engine hands out the caller's.
	Context() context.Context

	// Run executes a step. Pass bodies call [RunActivity] instead, which
	// keeps the step's types.
	Run(activity Activity[any, any], in any) (any, error)
}

// RunActivity executes a typed step through runner.
func RunActivity[I any, O any](runner DurableRunner, activity Activity[I, O], in I) (O, error) {
	out, err := runner.Run(erased[I, O]{step: activity}, in)
	if err != nil {
		var zero O
		return zero, err
	}
	return out.(O), nil
}

// WorkflowHandle refers to a started execution.
type WorkflowHandle[O any] interface {
	WorkflowID() string
	AwaitResult(ctx context.Context) (O, error)
}

// ReconcileRunner starts reconciliation passes on an engine.
type ReconcileRunner interface {
	Run(ctx context.Context, in ReconcileInput) (WorkflowHandle[ReconcileOutcome], error)
}

// WorkflowEngine is implemented by each engine package (inline,
// go-workflows, DBOS).
type WorkflowEngine interface {
	ReconcileRunner(wf *ReconcileWorkflow) (ReconcileRunner, error)
}

// NewActivity names fn as a step. Durable engines register steps under
// this name, so it must not change between releases.
func NewActivity[I, O any](name string, fn func(context.Context, I) (O, error)) Activity[I, O] {
	return step[I, O]{name: name, fn: fn}
}

type step[I, O any] struct {
	name string
	fn   func(context.Context, I) (O, error)
}

func (s step[I, O]) Name() string                             { return s.name }
func (s step[I, O]) Run(ctx context.Context, in I) (O, error) { return s.fn(ctx, in) }

// erased presents a typed step as an Activity[any, any].
type erased[I, O any] struct{ step Activity[I, O] }

func (e erased[I, O]) Name() string { return e.step.Name() }

func (e erased[I, O]) Run(ctx context.Context, in any) (any, error) {
	return e.step.Run(ctx, in.(I))
}
