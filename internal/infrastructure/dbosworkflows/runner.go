// Package dbosworkflows runs reconciliation passes as DBOS Transact
// workflows. Pass state is checkpointed in Postgres after every step, so a
// pass interrupted by a crash resumes where it stopped once DBOS is
// relaunched.
package dbosworkflows

import (
	"context"
	"fmt"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

var _ domain.WorkflowEngine = (*Engine)(nil)

// Engine is the DBOS [domain.WorkflowEngine]. Create all runners before
// calling [dbos.Launch]; run passes only after it.
type Engine struct {
	DBOSCtx dbos.DBOSContext
}

// ReconcileRunner registers the pass with DBOS. Steps are not retried by
// DBOS; a failed pass is re-run whole by the caller. Typed pass errors
// are carried as [domain.Failure] records, so they keep their types in a
// recovered workflow too.
func (e *Engine) ReconcileRunner(wf *domain.ReconcileWorkflow) (domain.ReconcileRunner, error) {
	s := steps{}
	addStep(s, wf.CollectDefinition())
	addStep(s, wf.LoadPreviousDeployment())
	addStep(s, wf.ReconcileDeployment())
	addStep(s, wf.ResolveStage())
	addStep(s, wf.ReconcileStage())
	addStep(s, wf.AttachUsagePlan())

	body := func(ctx dbos.DBOSContext, in domain.ReconcileInput) (domain.ReconcileOutcome, error) {
		return domain.SealOutcome(wf.Run(&execution{ctx: ctx, steps: s}, in))
	}
	dbos.RegisterWorkflow(e.DBOSCtx, body, dbos.WithWorkflowName(wf.Name()))

	return &runner{dbosCtx: e.DBOSCtx, body: body}, nil
}

// steps maps a step name to a function that runs it as a checkpointed
// DBOS step.
type steps map[string]func(ctx dbos.DBOSContext, in any) (any, error)

// addStep records step under its name. RunAsStep is instantiated with the
// concrete output type so that a recovered workflow decodes checkpointed
// outputs into the right type.
func addStep[I, O any](s steps, step domain.Activity[I, O]) {
	s[step.Name()] = func(ctx dbos.DBOSContext, in any) (any, error) {
		return dbos.RunAsStep(ctx, func(stepCtx context.Context) (O, error) {
			return step.Run(stepCtx, in.(I))
		}, dbos.WithStepName(step.Name()))
	}
}

// execution is the [domain.DurableRunner] of one DBOS workflow.
type execution struct {
	ctx   dbos.DBOSContext
	steps steps
}

func (x *execution) ID() string {
	id, _ := dbos.GetWorkflowID(x.ctx)
	return id
}

func (x *execution) Context() context.Context { return x.ctx }

func (x *execution) Run(activity domain.Activity[any, any], in any) (any, error) {
	run, ok := x.steps[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return run(x.ctx, in)
}

type runner struct {
	dbosCtx dbos.DBOSContext
	body    dbos.Workflow[domain.ReconcileInput, domain.ReconcileOutcome]
}

// Run starts the pass under the engine's DBOS context; ctx is not
// propagated into the workflow.
func (r *runner) Run(_ context.Context, in domain.ReconcileInput) (domain.WorkflowHandle[domain.ReconcileOutcome], error) {
	h, err := dbos.RunWorkflow(r.dbosCtx, r.body, in)
	if err != nil {
		return nil, fmt.Errorf("start reconcile workflow for %s/%s: %w", in.APIID, in.StageName, err)
	}
	return handle{h: h}, nil
}

type handle struct {
	h dbos.WorkflowHandle[domain.ReconcileOutcome]
}

func (h handle) WorkflowID() string { return h.h.GetWorkflowID() }

func (h handle) AwaitResult(ctx context.Context) (domain.ReconcileOutcome, error) {
	type result struct {
		out domain.ReconcileOutcome
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := h.h.GetResult()
		ch <- result{out, err}
	}()
	select {
	case r := <-ch:
		return domain.OpenOutcome(r.out, r.err)
	case <-ctx.Done():
		return domain.ReconcileOutcome{}, fmt.Errorf("wait for workflow %s: %w", h.h.GetWorkflowID(), ctx.Err())
	}
}
