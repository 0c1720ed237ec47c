package domain

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// The sentinel errors are the errdefs classes so that callers can match
// with either errors.Is(err, domain.ErrX) or errdefs.IsX(err).
var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errdefs.ErrNotFound

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errdefs.ErrAlreadyExists

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errdefs.ErrInvalidArgument

	// ErrConflict indicates that the remote state changed underneath an
	// operation.
	ErrConflict = errdefs.ErrConflict

	// ErrFailedPrecondition indicates that the remote service refused an
	// operation because of the state of the API configuration.
	ErrFailedPrecondition = errdefs.ErrFailedPrecondition
)

// InvalidSettingsError reports a stage or method setting that failed
// validation. It is raised before any remote call is made.
type InvalidSettingsError struct {
	APIID     string
	StageName string
	Route     RouteKey
	Field     string
	Value     any
	Reason    string
}

func (e *InvalidSettingsError) Error() string {
	where := e.Field
	if e.Route != "" {
		where = fmt.Sprintf("method_settings[%q].%s", e.Route, e.Field)
	}
	return fmt.Sprintf("api %q stage %q: invalid settings: %s = %v: %s",
		e.APIID, e.StageName, where, e.Value, e.Reason)
}

func (e *InvalidSettingsError) Unwrap() error { return ErrInvalidArgument }

// DeploymentCreationError reports that the gateway rejected a new
// deployment. It indicates a configuration defect and is never retried.
type DeploymentCreationError struct {
	APIID     string
	StageName string
	Trigger   DeploymentTrigger
	Err       error
}

func (e *DeploymentCreationError) Error() string {
	return fmt.Sprintf("api %q stage %q: create deployment for trigger %s: %v",
		e.APIID, e.StageName, e.Trigger.Short(), e.Err)
}

func (e *DeploymentCreationError) Unwrap() []error {
	return []error{ErrFailedPrecondition, e.Err}
}

// StageConflictError reports that the stage changed between resolution
// and reconciliation (for example it was deleted, or created by another
// actor). Re-running the whole pipeline is the expected recovery.
type StageConflictError struct {
	APIID     string
	StageName string
	Op        string
	Err       error
}

func (e *StageConflictError) Error() string {
	return fmt.Sprintf("api %q stage %q: %s stage: lost race with another writer: %v",
		e.APIID, e.StageName, e.Op, e.Err)
}

func (e *StageConflictError) Unwrap() []error {
	return []error{ErrConflict, e.Err}
}

// ResolutionAmbiguousError reports that more than one stage matched the
// requested name.
type ResolutionAmbiguousError struct {
	APIID     string
	StageName string
	Matches   int
}

func (e *ResolutionAmbiguousError) Error() string {
	return fmt.Sprintf("api %q stage %q: %d stages match the name, refusing to pick one",
		e.APIID, e.StageName, e.Matches)
}

func (e *ResolutionAmbiguousError) Unwrap() error { return ErrFailedPrecondition }

// IsRetryable reports whether err is worth re-running the full pipeline
// for. Only stage conflicts qualify.
func IsRetryable(err error) bool {
	var conflict *StageConflictError
	return errors.As(err, &conflict)
}

// withPair stamps the (api, stage) pair on typed errors that were raised
// by code that does not know it.
func withPair(err error, apiID, stageName string) error {
	var invalid *InvalidSettingsError
	if errors.As(err, &invalid) {
		invalid.APIID = apiID
		invalid.StageName = stageName
	}
	return err
}
