package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DeploymentID is the gateway-assigned identifier of a deployment.
type DeploymentID string

// Deployment is an immutable snapshot of the API configuration. The
// trigger it was created for is carried in its description so that later
// passes can recover it from the gateway alone.
type Deployment struct {
	ID          DeploymentID      `json:"id"`
	Trigger     DeploymentTrigger `json:"trigger"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"created_at"`
}

const triggerMarker = "trigger:"

// DeploymentDescription returns the description written on a deployment
// created for trigger.
func DeploymentDescription(trigger DeploymentTrigger) string {
	return triggerMarker + string(trigger)
}

// TriggerFromDescription recovers the trigger from a deployment
// description. The second result is false for deployments created by
// someone else.
func TriggerFromDescription(desc string) (DeploymentTrigger, bool) {
	rest, ok := strings.CutPrefix(desc, triggerMarker)
	if !ok || len(rest) != len(EmptyTrigger) {
		return "", false
	}
	return DeploymentTrigger(rest), true
}

// LatestTriggered returns the newest deployment that carries a trigger,
// or nil if there is none. The gateway records creation times to the
// second, so several deployments can share the newest instant; among
// those, one created for current wins, and otherwise the highest ID.
func LatestTriggered(deployments []Deployment, current DeploymentTrigger) *Deployment {
	var latest *Deployment
	for i := range deployments {
		d := deployments[i]
		trigger, ok := TriggerFromDescription(d.Description)
		if !ok {
			continue
		}
		d.Trigger = trigger
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) ||
			(d.CreatedAt.Equal(latest.CreatedAt) && newerTie(d, *latest, current)) {
			latest = &d
		}
	}
	return latest
}

func newerTie(d, latest Deployment, current DeploymentTrigger) bool {
	if (d.Trigger == current) != (latest.Trigger == current) {
		return d.Trigger == current
	}
	return d.ID > latest.ID
}

// DeploymentManager creates a new deployment whenever the trigger moves.
// Deployments are only ever appended; an existing one is never modified.
type DeploymentManager struct {
	Gateway Gateway
}

// Reconcile returns previous when it was created for trigger, and
// otherwise creates a new deployment. The boolean reports whether a
// deployment was created.
func (m *DeploymentManager) Reconcile(ctx context.Context, apiID, stageName string, trigger DeploymentTrigger, previous *Deployment) (Deployment, bool, error) {
	if previous != nil && previous.Trigger == trigger {
		return *previous, false, nil
	}

	dep, err := m.Gateway.CreateDeployment(ctx, apiID, DeploymentDescription(trigger))
	if err != nil {
		return Deployment{}, false, &DeploymentCreationError{
			APIID: apiID, StageName: stageName, Trigger: trigger, Err: err,
		}
	}
	dep.Trigger = trigger
	return dep, true, nil
}

// PreviousDeployment looks up the newest deployment of apiID created by
// this reconciler, breaking ties in favour of current (see
// [LatestTriggered]).
func PreviousDeployment(ctx context.Context, gw Gateway, apiID string, current DeploymentTrigger) (*Deployment, error) {
	deployments, err := gw.ListDeployments(ctx, apiID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("api %q: %w", apiID, err)
		}
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return LatestTriggered(deployments, current), nil
}
