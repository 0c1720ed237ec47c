// Package syncworkflow runs reconciliation passes inline on the calling
// goroutine. Nothing is persisted; a pass interrupted by a crash is not
// resumed, the next pass simply starts over.
package syncworkflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

var _ domain.WorkflowEngine = (*Engine)(nil)

// Engine is the inline [domain.WorkflowEngine].
type Engine struct {
	// NewID names each pass. Defaults to a random UUID.
	NewID func() string
}

func (e *Engine) ReconcileRunner(wf *domain.ReconcileWorkflow) (domain.ReconcileRunner, error) {
	newID := e.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &runner{wf: wf, newID: newID}, nil
}

type runner struct {
	wf    *domain.ReconcileWorkflow
	newID func() string
}

// Run executes the whole pass before returning; the handle only reports
// the finished result.
func (r *runner) Run(ctx context.Context, in domain.ReconcileInput) (domain.WorkflowHandle[domain.ReconcileOutcome], error) {
	p := &pass{id: "inline-" + r.newID(), ctx: ctx}
	out, err := r.wf.Run(p, in)
	return done{id: p.id, out: out, err: err}, nil
}

// pass is the [domain.DurableRunner] of one inline execution.
type pass struct {
	id  string
	ctx context.Context
}

func (p *pass) ID() string               { return p.id }
func (p *pass) Context() context.Context { return p.ctx }

func (p *pass) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(p.ctx, in)
}

type done struct {
	id  string
	out domain.ReconcileOutcome
	err error
}

func (d done) WorkflowID() string { return d.id }

func (d done) AwaitResult(context.Context) (domain.ReconcileOutcome, error) {
	return d.out, d.err
}
