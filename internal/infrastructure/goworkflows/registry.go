// Package goworkflows runs reconciliation passes as cschleiden/go-workflows
// workflow instances, so that a pass interrupted by a crash resumes after
// its last completed gateway call.
package goworkflows

import (
	"context"
	"fmt"
	"time"

	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/registry"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/google/uuid"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

var _ domain.WorkflowEngine = (*Engine)(nil)

// Engine is the go-workflows [domain.WorkflowEngine].
type Engine struct {
	Worker *worker.Worker
	Client *client.Client
	// Timeout bounds how long a caller waits for a pass. Defaults to 30s.
	Timeout time.Duration
}

// ReconcileRunner registers the pass and its steps with the worker. Call
// it before starting the worker.
//
// Typed pass errors travel as [domain.Failure] records inside step and
// workflow results, so callers see the same error types as with the
// inline engine.
func (e *Engine) ReconcileRunner(wf *domain.ReconcileWorkflow) (domain.ReconcileRunner, error) {
	acts := &activities{wf: wf}
	if err := e.Worker.RegisterActivity(acts); err != nil {
		return nil, fmt.Errorf("register activities: %w", err)
	}
	s := acts.schedules()

	body := func(ctx workflow.Context, in domain.ReconcileInput) (domain.ReconcileOutcome, error) {
		return domain.SealOutcome(wf.Run(&instance{ctx: ctx, steps: s}, in))
	}
	if err := e.Worker.RegisterWorkflow(body, registry.WithName(wf.Name())); err != nil {
		return nil, fmt.Errorf("register workflow %q: %w", wf.Name(), err)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &runner{client: e.Client, name: wf.Name(), timeout: timeout}, nil
}

// stepOptions schedules every step exactly once. Re-running a failed pass
// is left to the caller, which re-runs the whole pipeline.
var stepOptions = func() workflow.ActivityOptions {
	o := workflow.DefaultActivityOptions
	o.RetryOptions.MaxAttempts = 1
	return o
}()

// activities exposes the steps of the pass as methods. go-workflows
// registers a struct's methods under their method names and resolves a
// scheduled method value to the same name.
type activities struct {
	wf *domain.ReconcileWorkflow
}

func (a *activities) CollectDefinition(ctx context.Context, apiID string) (domain.StepResult[domain.ApiDefinition], error) {
	return a.wf.CollectDefinition().Run(ctx, apiID)
}

func (a *activities) LoadPreviousDeployment(ctx context.Context, in domain.PreviousDeploymentInput) (domain.StepResult[domain.PreviousDeploymentResult], error) {
	return a.wf.LoadPreviousDeployment().Run(ctx, in)
}

func (a *activities) ReconcileDeployment(ctx context.Context, in domain.DeploymentInput) (domain.StepResult[domain.DeploymentResult], error) {
	return a.wf.ReconcileDeployment().Run(ctx, in)
}

func (a *activities) ResolveStage(ctx context.Context, in domain.ResolveInput) (domain.StepResult[domain.StageStatus], error) {
	return a.wf.ResolveStage().Run(ctx, in)
}

func (a *activities) ReconcileStage(ctx context.Context, in domain.StageInput) (domain.StepResult[domain.StageResult], error) {
	return a.wf.ReconcileStage().Run(ctx, in)
}

func (a *activities) AttachUsagePlan(ctx context.Context, in domain.UsagePlanInput) (domain.StepResult[struct{}], error) {
	return a.wf.AttachUsagePlan().Run(ctx, in)
}

// schedules maps each step name of the workflow to the method running it.
func (a *activities) schedules() map[string]scheduleFunc {
	return map[string]scheduleFunc{
		a.wf.CollectDefinition().Name():      schedule[domain.StepResult[domain.ApiDefinition]](a.CollectDefinition),
		a.wf.LoadPreviousDeployment().Name(): schedule[domain.StepResult[domain.PreviousDeploymentResult]](a.LoadPreviousDeployment),
		a.wf.ReconcileDeployment().Name():    schedule[domain.StepResult[domain.DeploymentResult]](a.ReconcileDeployment),
		a.wf.ResolveStage().Name():           schedule[domain.StepResult[domain.StageStatus]](a.ResolveStage),
		a.wf.ReconcileStage().Name():         schedule[domain.StepResult[domain.StageResult]](a.ReconcileStage),
		a.wf.AttachUsagePlan().Name():        schedule[domain.StepResult[struct{}]](a.AttachUsagePlan),
	}
}

// scheduleFunc schedules a step from workflow code and waits for its
// result.
type scheduleFunc func(ctx workflow.Context, in any) (any, error)

func schedule[O any](method any) scheduleFunc {
	return func(ctx workflow.Context, in any) (any, error) {
		return workflow.ExecuteActivity[O](ctx, stepOptions, method, in).Get(ctx)
	}
}

// instance is the [domain.DurableRunner] of one workflow instance.
type instance struct {
	ctx   workflow.Context
	steps map[string]scheduleFunc
}

func (i *instance) ID() string { return workflow.WorkflowInstance(i.ctx).InstanceID }

// Context is a plain background context: workflow code must not block on
// anything but the workflow context, and the pass body only uses it for
// logging.
func (i *instance) Context() context.Context { return context.Background() }

func (i *instance) Run(activity domain.Activity[any, any], in any) (any, error) {
	run, ok := i.steps[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return run(i.ctx, in)
}

type runner struct {
	client  *client.Client
	name    string
	timeout time.Duration
}

// Run starts an instance named after the pair, so that the backend's
// instance list reads as a reconcile log.
func (r *runner) Run(ctx context.Context, in domain.ReconcileInput) (domain.WorkflowHandle[domain.ReconcileOutcome], error) {
	id := fmt.Sprintf("%s/%s/%s", in.APIID, in.StageName, uuid.NewString())
	inst, err := r.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{InstanceID: id}, r.name, in)
	if err != nil {
		return nil, fmt.Errorf("start reconcile instance for %s/%s: %w", in.APIID, in.StageName, err)
	}
	return &handle{client: r.client, inst: inst, timeout: r.timeout}, nil
}

type handle struct {
	client  *client.Client
	inst    *workflow.Instance
	timeout time.Duration
}

func (h *handle) WorkflowID() string { return h.inst.InstanceID }

func (h *handle) AwaitResult(ctx context.Context) (domain.ReconcileOutcome, error) {
	return domain.OpenOutcome(client.GetWorkflowResult[domain.ReconcileOutcome](ctx, h.client, h.inst, h.timeout))
}
