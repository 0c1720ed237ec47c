package domain

import (
	"errors"
	"fmt"
)

// FailureClass names a typed pass error.
type FailureClass string

const (
	FailureInvalidSettings     FailureClass = "invalid-settings"
	FailureDeploymentCreation  FailureClass = "deployment-creation"
	FailureStageConflict       FailureClass = "stage-conflict"
	FailureResolutionAmbiguous FailureClass = "resolution-ambiguous"
)

// Failure is a typed pass error in a form that survives a durable
// engine's serialization of step and workflow results. [Failure.Err]
// turns it back into the typed error.
type Failure struct {
	Class     FailureClass      `json:"class"`
	APIID     string            `json:"api_id"`
	StageName string            `json:"stage_name"`
	Route     RouteKey          `json:"route,omitempty"`
	Field     string            `json:"field,omitempty"`
	Value     string            `json:"value,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Op        string            `json:"op,omitempty"`
	Trigger   DeploymentTrigger `json:"trigger,omitempty"`
	Matches   int               `json:"matches,omitempty"`
	Cause     string            `json:"cause,omitempty"`

	// err is the original error while the failure has not left the
	// process.
	err error
}

// FailureOf returns the failure record of a typed pass error, or nil when
// err is not one.
func FailureOf(err error) *Failure {
	var (
		invalid   *InvalidSettingsError
		creation  *DeploymentCreationError
		conflict  *StageConflictError
		ambiguous *ResolutionAmbiguousError
	)
	switch {
	case errors.As(err, &invalid):
		return &Failure{
			Class:     FailureInvalidSettings,
			APIID:     invalid.APIID,
			StageName: invalid.StageName,
			Route:     invalid.Route,
			Field:     invalid.Field,
			Value:     fmt.Sprint(invalid.Value),
			Reason:    invalid.Reason,
			err:       err,
		}
	case errors.As(err, &creation):
		return &Failure{
			Class:     FailureDeploymentCreation,
			APIID:     creation.APIID,
			StageName: creation.StageName,
			Trigger:   creation.Trigger,
			Cause:     causeOf(creation.Err),
			err:       err,
		}
	case errors.As(err, &conflict):
		return &Failure{
			Class:     FailureStageConflict,
			APIID:     conflict.APIID,
			StageName: conflict.StageName,
			Op:        conflict.Op,
			Cause:     causeOf(conflict.Err),
			err:       err,
		}
	case errors.As(err, &ambiguous):
		return &Failure{
			Class:     FailureResolutionAmbiguous,
			APIID:     ambiguous.APIID,
			StageName: ambiguous.StageName,
			Matches:   ambiguous.Matches,
			err:       err,
		}
	}
	return nil
}

func causeOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Err returns the typed error the failure was made from. After a trip
// through serialization the wrapped cause is only its message.
func (f *Failure) Err() error {
	if f.err != nil {
		return f.err
	}
	var cause error
	if f.Cause != "" {
		cause = errors.New(f.Cause)
	}
	switch f.Class {
	case FailureInvalidSettings:
		return &InvalidSettingsError{APIID: f.APIID, StageName: f.StageName, Route: f.Route, Field: f.Field, Value: f.Value, Reason: f.Reason}
	case FailureDeploymentCreation:
		return &DeploymentCreationError{APIID: f.APIID, StageName: f.StageName, Trigger: f.Trigger, Err: cause}
	case FailureStageConflict:
		return &StageConflictError{APIID: f.APIID, StageName: f.StageName, Op: f.Op, Err: cause}
	case FailureResolutionAmbiguous:
		return &ResolutionAmbiguousError{APIID: f.APIID, StageName: f.StageName, Matches: f.Matches}
	}
	return fmt.Errorf("api %q stage %q: %s failure: %s", f.APIID, f.StageName, f.Class, f.Cause)
}

// StepResult is the output of a pass step: a value, or the typed failure
// the step ended with. Durable engines record a failed step as a
// completed one, so the failure reaches the pass body intact.
type StepResult[O any] struct {
	Value   O        `json:"value"`
	Failure *Failure `json:"failure,omitempty"`
}

// SealOutcome folds a typed pass error into the outcome. Engines that
// serialize workflow results return the sealed outcome from the workflow
// and hand [OpenOutcome] of it to their callers.
func SealOutcome(out ReconcileOutcome, err error) (ReconcileOutcome, error) {
	if f := FailureOf(err); f != nil {
		return ReconcileOutcome{Failure: f}, nil
	}
	return out, err
}

// OpenOutcome reverses [SealOutcome].
func OpenOutcome(out ReconcileOutcome, err error) (ReconcileOutcome, error) {
	if err == nil && out.Failure != nil {
		return ReconcileOutcome{}, out.Failure.Err()
	}
	return out, err
}
