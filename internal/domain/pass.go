package domain

import (
	"fmt"
	"time"
)

// ReconcileInput is the caller-provided request for one reconciliation
// pass of an (API, stage) pair.
type ReconcileInput struct {
	APIID          string                      `json:"api_id"`
	StageName      string                      `json:"stage_name"`
	Defaults       MethodSettings              `json:"defaults"`
	Overrides      map[RouteKey]MethodSettings `json:"overrides,omitempty"`
	Cache          CacheConfig                 `json:"cache"`
	Description    string                      `json:"description,omitempty"`
	Variables      map[string]string           `json:"variables,omitempty"`
	TracingEnabled bool                        `json:"tracing_enabled"`
	Tags           map[string]string           `json:"tags,omitempty"`
	UsagePlanID    string                      `json:"usage_plan_id,omitempty"`
}

// Validate checks the request and merges its settings. Every error it
// returns is raised before any remote call.
func (in ReconcileInput) Validate() (EffectiveSettings, error) {
	if in.APIID == "" {
		return EffectiveSettings{}, fmt.Errorf("%w: api ID is required", ErrInvalidArgument)
	}
	if in.StageName == "" {
		return EffectiveSettings{}, fmt.Errorf("%w: api %q: stage name is required", ErrInvalidArgument, in.APIID)
	}
	eff, err := MergeSettings(in.Defaults, in.Overrides)
	if err != nil {
		return EffectiveSettings{}, withPair(err, in.APIID, in.StageName)
	}
	if err := in.Cache.Validate(); err != nil {
		return EffectiveSettings{}, withPair(err, in.APIID, in.StageName)
	}
	return eff, nil
}

// Desired returns the desired stage for the request given its merged
// settings.
func (in ReconcileInput) Desired(settings EffectiveSettings) DesiredStage {
	return DesiredStage{
		APIID:          in.APIID,
		Name:           in.StageName,
		Settings:       settings,
		Cache:          in.Cache,
		Description:    in.Description,
		Variables:      in.Variables,
		TracingEnabled: in.TracingEnabled,
		Tags:           in.Tags,
	}
}

// ReconcileOutcome is the result of a successful pass. Failure is only
// set on an outcome sealed by [SealOutcome].
type ReconcileOutcome struct {
	Stage             Stage             `json:"stage"`
	Deployment        Deployment        `json:"deployment"`
	Trigger           DeploymentTrigger `json:"trigger"`
	Status            StageStatusKind   `json:"status"`
	DeploymentCreated bool              `json:"deployment_created"`
	StageMutated      bool              `json:"stage_mutated"`
	Failure           *Failure          `json:"failure,omitempty"`
}

// PassRecord is the history entry of one pass.
type PassRecord struct {
	RunID             string            `json:"run_id"`
	APIID             string            `json:"api_id"`
	StageName         string            `json:"stage_name"`
	Trigger           DeploymentTrigger `json:"trigger,omitempty"`
	DeploymentID      DeploymentID      `json:"deployment_id,omitempty"`
	Status            StageStatusKind   `json:"status,omitempty"`
	DeploymentCreated bool              `json:"deployment_created"`
	StageMutated      bool              `json:"stage_mutated"`
	Error             string            `json:"error,omitempty"`
	Retryable         bool              `json:"retryable"`
	StartedAt         time.Time         `json:"started_at"`
	FinishedAt        time.Time         `json:"finished_at"`
}

// Succeeded reports whether the pass completed without error.
func (r PassRecord) Succeeded() bool { return r.Error == "" }
