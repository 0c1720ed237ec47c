package domain

import "context"

// Gateway is the port to the remote API-gateway service. Implementations
// report a missing API or stage with [ErrNotFound], a name clash with
// [ErrAlreadyExists] and a rejected configuration with
// [ErrFailedPrecondition].
type Gateway interface {
	ListDeployments(ctx context.Context, apiID string) ([]Deployment, error)
	CreateDeployment(ctx context.Context, apiID, description string) (Deployment, error)
	ListStages(ctx context.Context, apiID string) ([]Stage, error)
	CreateStage(ctx context.Context, in CreateStageInput) (Stage, error)
	UpdateStage(ctx context.Context, apiID, stageName string, patch StagePatch) (Stage, error)

	// AttachUsagePlan adds the stage to the usage plan. Attaching a stage
	// that is already part of the plan is a no-op.
	AttachUsagePlan(ctx context.Context, usagePlanID, apiID, stageName string) error
}

// PassRecordRepository persists the history of reconciliation passes.
type PassRecordRepository interface {
	Put(ctx context.Context, rec PassRecord) error
	ListByStage(ctx context.Context, apiID, stageName string) ([]PassRecord, error)
	List(ctx context.Context) ([]PassRecord, error)
}

// PassObserver is notified when a pass finishes, successfully or not.
type PassObserver interface {
	PassFinished(rec PassRecord)
}
