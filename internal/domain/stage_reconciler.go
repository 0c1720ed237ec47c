package domain

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ResolveStage classifies the stage named stageName of apiID. It queries
// the gateway once; the result is meant to be used for the rest of the
// pass without re-querying.
//
// A stage without the managed marker is foreign, including one whose
// marker was removed out-of-band: such a stage is adopted, never
// re-created.
func ResolveStage(ctx context.Context, gw Gateway, apiID, stageName string, conv Conventions) (StageStatus, error) {
	stages, err := gw.ListStages(ctx, apiID)
	if err != nil {
		return StageStatus{}, fmt.Errorf("list stages of api %q: %w", apiID, err)
	}

	var matches []Stage
	for _, s := range stages {
		if s.Name == stageName {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		return Absent(), nil
	case 1:
		if conv.IsManaged(matches[0].Tags) {
			return PresentManaged(matches[0]), nil
		}
		return PresentForeign(matches[0]), nil
	default:
		return StageStatus{}, &ResolutionAmbiguousError{APIID: apiID, StageName: stageName, Matches: len(matches)}
	}
}

// DesiredStage is the stage configuration the reconciler converges to.
// Settings, Cache and the active deployment are always owned by the
// reconciler; the remaining fields are only written on stages it manages.
type DesiredStage struct {
	APIID          string            `json:"api_id"`
	Name           string            `json:"name"`
	Settings       EffectiveSettings `json:"settings"`
	Cache          CacheConfig       `json:"cache"`
	Description    string            `json:"description,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	TracingEnabled bool              `json:"tracing_enabled"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// StageActionKind is the kind of remote mutation a pass needs.
type StageActionKind string

const (
	StageActionCreate StageActionKind = "create"
	StageActionUpdate StageActionKind = "update"
	StageActionNone   StageActionKind = "none"
)

// StageAction is the planned mutation of a stage.
type StageAction struct {
	Kind   StageActionKind   `json:"kind"`
	Create *CreateStageInput `json:"create,omitempty"`
	Patch  StagePatch        `json:"patch"`
}

// PlanStage computes the mutation that brings the stage described by
// status to desired, bound to dep.
func PlanStage(status StageStatus, dep Deployment, desired DesiredStage, conv Conventions) (StageAction, error) {
	if status.Kind == StageAbsent {
		tags, err := conv.StageTags(desired.Tags)
		if err != nil {
			return StageAction{}, err
		}
		return StageAction{
			Kind: StageActionCreate,
			Create: &CreateStageInput{
				APIID:          desired.APIID,
				Name:           desired.Name,
				DeploymentID:   dep.ID,
				Description:    desired.Description,
				MethodSettings: desired.Settings.Wire(),
				Cache:          desired.Cache.Normalize(),
				Variables:      maps.Clone(desired.Variables),
				TracingEnabled: desired.TracingEnabled,
				Tags:           tags,
			},
		}, nil
	}

	if status.Stage == nil {
		return StageAction{}, fmt.Errorf("%w: stage status %q without a stage", ErrInvalidArgument, status.Kind)
	}
	observed := *status.Stage

	var patch StagePatch
	if observed.DeploymentID != dep.ID {
		id := dep.ID
		patch.DeploymentID = &id
	}
	patch.ResetMethodSettings, patch.MethodSettings, patch.RemoveMethodSettings = diffMethodSettings(observed.MethodSettings, desired.Settings.Wire())
	if want := desired.Cache.Normalize(); observed.Cache.Normalize() != want {
		patch.Cache = &want
	}

	if status.Kind == StagePresentManaged {
		if observed.Description != desired.Description {
			d := desired.Description
			patch.Description = &d
		}
		patch.Variables, patch.RemoveVariables = diffStrings(observed.Variables, desired.Variables, nil)
		if observed.TracingEnabled != desired.TracingEnabled {
			t := desired.TracingEnabled
			patch.TracingEnabled = &t
		}
		tags, err := conv.StageTags(desired.Tags)
		if err != nil {
			return StageAction{}, err
		}
		patch.Tags, patch.RemoveTags = diffStrings(observed.Tags, tags, isReservedTag)
	}

	if patch.IsEmpty() {
		return StageAction{Kind: StageActionNone}, nil
	}
	return StageAction{Kind: StageActionUpdate, Patch: patch}, nil
}

func isReservedTag(key string) bool { return strings.HasPrefix(key, "aws:") }

// diffMethodSettings returns the routes to clear before writing, the
// entries to write and the routes to remove. A route still carrying a
// value its desired entry no longer sets is cleared and written whole.
func diffMethodSettings(have, want map[RouteKey]MethodSettings) (reset []RouteKey, set map[RouteKey]MethodSettings, remove []RouteKey) {
	for k, w := range want {
		h, ok := have[k]
		drifted := ok && h.Drifted(w)
		if ok && !drifted && h.Satisfies(w) {
			continue
		}
		if set == nil {
			set = make(map[RouteKey]MethodSettings)
		}
		set[k] = w
		if drifted {
			reset = append(reset, k)
		}
	}
	slices.Sort(reset)
	for k := range have {
		if _, ok := want[k]; !ok {
			remove = append(remove, k)
		}
	}
	slices.Sort(remove)
	return reset, set, remove
}

func diffStrings(have, want map[string]string, keep func(string) bool) (map[string]string, []string) {
	var set map[string]string
	for k, w := range want {
		if h, ok := have[k]; ok && h == w {
			continue
		}
		if set == nil {
			set = make(map[string]string)
		}
		set[k] = w
	}
	var remove []string
	for k := range have {
		if _, ok := want[k]; ok || (keep != nil && keep(k)) {
			continue
		}
		remove = append(remove, k)
	}
	slices.Sort(remove)
	return set, remove
}

// StageReconciler converges a resolved stage to its desired state.
type StageReconciler struct {
	Gateway     Gateway
	Conventions Conventions
}

// Reconcile applies the planned action for status. It makes no remote
// call when the stage already matches; the boolean reports whether the
// stage was mutated.
func (r *StageReconciler) Reconcile(ctx context.Context, status StageStatus, dep Deployment, desired DesiredStage) (Stage, bool, error) {
	action, err := PlanStage(status, dep, desired, r.Conventions)
	if err != nil {
		return Stage{}, false, err
	}

	switch action.Kind {
	case StageActionNone:
		return *status.Stage, false, nil
	case StageActionCreate:
		st, err := r.Gateway.CreateStage(ctx, *action.Create)
		if err != nil {
			if errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrConflict) {
				return Stage{}, false, &StageConflictError{APIID: desired.APIID, StageName: desired.Name, Op: "create", Err: err}
			}
			return Stage{}, false, fmt.Errorf("create stage %q: %w", desired.Name, err)
		}
		return st, true, nil
	default:
		st, err := r.Gateway.UpdateStage(ctx, desired.APIID, desired.Name, action.Patch)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
				return Stage{}, false, &StageConflictError{APIID: desired.APIID, StageName: desired.Name, Op: "update", Err: err}
			}
			return Stage{}, false, fmt.Errorf("update stage %q: %w", desired.Name, err)
		}
		return st, true, nil
	}
}
