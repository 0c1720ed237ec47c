package domain

import (
	"context"
	"fmt"

	"github.com/containerd/log"
)

// ReconcileWorkflow is the reconciliation pipeline of one (API, stage)
// pair: merge settings, collect the definition, fingerprint it, create a
// deployment when the fingerprint moved, resolve the stage and converge
// it. Every step that talks to the gateway or the definition layer runs
// as an activity; pure steps run inline.
type ReconcileWorkflow struct {
	Definitions DefinitionCatalog
	Gateway     Gateway
	Conventions Conventions
}

func (w *ReconcileWorkflow) Name() string { return "reconcile-stage" }

// PreviousDeploymentResult wraps the optional previous deployment so that
// it survives serialization by durable engines.
type PreviousDeploymentResult struct {
	Deployment *Deployment `json:"deployment,omitempty"`
}

// PreviousDeploymentInput is the input of the load-previous-deployment
// activity.
type PreviousDeploymentInput struct {
	APIID   string            `json:"api_id"`
	Trigger DeploymentTrigger `json:"trigger"`
}

// DeploymentInput is the input of the reconcile-deployment activity.
type DeploymentInput struct {
	APIID     string            `json:"api_id"`
	StageName string            `json:"stage_name"`
	Trigger   DeploymentTrigger `json:"trigger"`
	Previous  *Deployment       `json:"previous,omitempty"`
}

// DeploymentResult is the output of the reconcile-deployment activity.
type DeploymentResult struct {
	Deployment Deployment `json:"deployment"`
	Created    bool       `json:"created"`
}

// ResolveInput is the input of the resolve-stage activity.
type ResolveInput struct {
	APIID     string `json:"api_id"`
	StageName string `json:"stage_name"`
}

// StageInput is the input of the reconcile-stage activity.
type StageInput struct {
	Status     StageStatus  `json:"status"`
	Deployment Deployment   `json:"deployment"`
	Desired    DesiredStage `json:"desired"`
}

// StageResult is the output of the reconcile-stage activity.
type StageResult struct {
	Stage   Stage `json:"stage"`
	Mutated bool  `json:"mutated"`
}

// UsagePlanInput is the input of the attach-usage-plan activity.
type UsagePlanInput struct {
	UsagePlanID string `json:"usage_plan_id"`
	APIID       string `json:"api_id"`
	StageName   string `json:"stage_name"`
}

// newStep names fn as a step whose typed failures are returned in its
// result rather than as its error.
func newStep[I, O any](name string, fn func(context.Context, I) (O, error)) Activity[I, StepResult[O]] {
	return NewActivity(name, func(ctx context.Context, in I) (StepResult[O], error) {
		out, err := fn(ctx, in)
		if err != nil {
			if f := FailureOf(err); f != nil {
				return StepResult[O]{Failure: f}, nil
			}
			return StepResult[O]{}, err
		}
		return StepResult[O]{Value: out}, nil
	})
}

// runStep runs a step made by newStep and turns a returned failure back
// into its typed error.
func runStep[I, O any](runner DurableRunner, activity Activity[I, StepResult[O]], in I) (O, error) {
	res, err := RunActivity(runner, activity, in)
	if err == nil && res.Failure != nil {
		err = res.Failure.Err()
	}
	if err != nil {
		var zero O
		return zero, err
	}
	return res.Value, nil
}

func (w *ReconcileWorkflow) CollectDefinition() Activity[string, StepResult[ApiDefinition]] {
	return newStep("collect-definition", func(ctx context.Context, apiID string) (ApiDefinition, error) {
		src, err := w.Definitions.Definition(ctx, apiID)
		if err != nil {
			return ApiDefinition{}, err
		}
		return CollectDefinition(ctx, src)
	})
}

func (w *ReconcileWorkflow) LoadPreviousDeployment() Activity[PreviousDeploymentInput, StepResult[PreviousDeploymentResult]] {
	return newStep("load-previous-deployment", func(ctx context.Context, in PreviousDeploymentInput) (PreviousDeploymentResult, error) {
		prev, err := PreviousDeployment(ctx, w.Gateway, in.APIID, in.Trigger)
		if err != nil {
			return PreviousDeploymentResult{}, err
		}
		return PreviousDeploymentResult{Deployment: prev}, nil
	})
}

func (w *ReconcileWorkflow) ReconcileDeployment() Activity[DeploymentInput, StepResult[DeploymentResult]] {
	return newStep("reconcile-deployment", func(ctx context.Context, in DeploymentInput) (DeploymentResult, error) {
		m := &DeploymentManager{Gateway: w.Gateway}
		dep, created, err := m.Reconcile(ctx, in.APIID, in.StageName, in.Trigger, in.Previous)
		if err != nil {
			return DeploymentResult{}, err
		}
		return DeploymentResult{Deployment: dep, Created: created}, nil
	})
}

func (w *ReconcileWorkflow) ResolveStage() Activity[ResolveInput, StepResult[StageStatus]] {
	return newStep("resolve-stage", func(ctx context.Context, in ResolveInput) (StageStatus, error) {
		return ResolveStage(ctx, w.Gateway, in.APIID, in.StageName, w.Conventions)
	})
}

func (w *ReconcileWorkflow) ReconcileStage() Activity[StageInput, StepResult[StageResult]] {
	return newStep("reconcile-stage", func(ctx context.Context, in StageInput) (StageResult, error) {
		r := &StageReconciler{Gateway: w.Gateway, Conventions: w.Conventions}
		st, mutated, err := r.Reconcile(ctx, in.Status, in.Deployment, in.Desired)
		if err != nil {
			return StageResult{}, err
		}
		return StageResult{Stage: st, Mutated: mutated}, nil
	})
}

func (w *ReconcileWorkflow) AttachUsagePlan() Activity[UsagePlanInput, StepResult[struct{}]] {
	return newStep("attach-usage-plan", func(ctx context.Context, in UsagePlanInput) (struct{}, error) {
		return struct{}{}, w.Gateway.AttachUsagePlan(ctx, in.UsagePlanID, in.APIID, in.StageName)
	})
}

// Run executes the pipeline for in. Every error it returns names the
// (API, stage) pair.
func (w *ReconcileWorkflow) Run(runner DurableRunner, in ReconcileInput) (ReconcileOutcome, error) {
	out, err := w.run(runner, in)
	if err != nil {
		return ReconcileOutcome{}, inPair(err, in.APIID, in.StageName)
	}
	return out, nil
}

// inPair prefixes err with the pair unless it is a typed pass error,
// which carries the pair itself.
func inPair(err error, apiID, stageName string) error {
	if FailureOf(err) != nil {
		return err
	}
	return fmt.Errorf("api %q stage %q: %w", apiID, stageName, err)
}

func (w *ReconcileWorkflow) run(runner DurableRunner, in ReconcileInput) (ReconcileOutcome, error) {
	logger := log.G(runner.Context()).WithFields(log.Fields{
		"api":      in.APIID,
		"stage":    in.StageName,
		"workflow": runner.ID(),
	})

	settings, err := in.Validate()
	if err != nil {
		return ReconcileOutcome{}, err
	}

	def, err := runStep(runner, w.CollectDefinition(), in.APIID)
	if err != nil {
		return ReconcileOutcome{}, err
	}
	trigger := Fingerprint(def)
	logger = logger.WithField("trigger", trigger.Short())
	logger.WithField("members", len(def.Members)).Debug("collected api definition")

	prev, err := runStep(runner, w.LoadPreviousDeployment(), PreviousDeploymentInput{APIID: in.APIID, Trigger: trigger})
	if err != nil {
		return ReconcileOutcome{}, err
	}

	dep, err := runStep(runner, w.ReconcileDeployment(), DeploymentInput{
		APIID:     in.APIID,
		StageName: in.StageName,
		Trigger:   trigger,
		Previous:  prev.Deployment,
	})
	if err != nil {
		return ReconcileOutcome{}, err
	}
	if dep.Created {
		logger.WithField("deployment", dep.Deployment.ID).Info("created deployment")
	}

	status, err := runStep(runner, w.ResolveStage(), ResolveInput{APIID: in.APIID, StageName: in.StageName})
	if err != nil {
		return ReconcileOutcome{}, err
	}
	logger.WithField("status", status.Kind).Debug("resolved stage")

	st, err := runStep(runner, w.ReconcileStage(), StageInput{
		Status:     status,
		Deployment: dep.Deployment,
		Desired:    in.Desired(settings),
	})
	if err != nil {
		return ReconcileOutcome{}, err
	}
	if st.Mutated {
		logger.WithField("deployment", st.Stage.DeploymentID).Info("reconciled stage")
	}

	if in.UsagePlanID != "" {
		if _, err := runStep(runner, w.AttachUsagePlan(), UsagePlanInput{
			UsagePlanID: in.UsagePlanID,
			APIID:       in.APIID,
			StageName:   in.StageName,
		}); err != nil {
			return ReconcileOutcome{}, err
		}
	}

	return ReconcileOutcome{
		Stage:             st.Stage,
		Deployment:        dep.Deployment,
		Trigger:           trigger,
		Status:            status.Kind,
		DeploymentCreated: dep.Created,
		StageMutated:      st.Mutated,
	}, nil
}

// ReconcilePlan describes what a pass would do without doing it.
type ReconcilePlan struct {
	APIID              string            `json:"api_id"`
	StageName          string            `json:"stage_name"`
	Trigger            DeploymentTrigger `json:"trigger"`
	PreviousDeployment *Deployment       `json:"previous_deployment,omitempty"`
	CreateDeployment   bool              `json:"create_deployment"`
	Status             StageStatusKind   `json:"status"`
	Stage              StageAction       `json:"stage"`
}

// PendingDeploymentID stands in for the deployment a plan would create.
const PendingDeploymentID DeploymentID = "(pending)"

// Plan runs the read-only part of the pipeline and reports the remote
// mutations a pass would make.
func (w *ReconcileWorkflow) Plan(ctx context.Context, in ReconcileInput) (ReconcilePlan, error) {
	settings, err := in.Validate()
	if err != nil {
		return ReconcilePlan{}, err
	}
	src, err := w.Definitions.Definition(ctx, in.APIID)
	if err != nil {
		return ReconcilePlan{}, err
	}
	def, err := CollectDefinition(ctx, src)
	if err != nil {
		return ReconcilePlan{}, err
	}
	trigger := Fingerprint(def)

	prev, err := PreviousDeployment(ctx, w.Gateway, in.APIID, trigger)
	if err != nil {
		return ReconcilePlan{}, err
	}
	dep := Deployment{ID: PendingDeploymentID, Trigger: trigger}
	create := prev == nil || prev.Trigger != trigger
	if !create {
		dep = *prev
	}

	status, err := ResolveStage(ctx, w.Gateway, in.APIID, in.StageName, w.Conventions)
	if err != nil {
		return ReconcilePlan{}, err
	}
	action, err := PlanStage(status, dep, in.Desired(settings), w.Conventions)
	if err != nil {
		return ReconcilePlan{}, err
	}

	return ReconcilePlan{
		APIID:              in.APIID,
		StageName:          in.StageName,
		Trigger:            trigger,
		PreviousDeployment: prev,
		CreateDeployment:   create,
		Status:             status.Kind,
		Stage:              action,
	}, nil
}
