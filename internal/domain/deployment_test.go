package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

func TestDeploymentManager_FirstRunCreates(t *testing.T) {
	gw := newStubGateway()
	m := &domain.DeploymentManager{Gateway: gw}
	trigger := domain.Fingerprint(collect(t, usersAPI()))

	dep, created, err := m.Reconcile(context.Background(), "api1", "test", trigger, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !created {
		t.Error("created = false on first run")
	}
	if dep.Trigger != trigger {
		t.Errorf("Trigger = %s, want %s", dep.Trigger, trigger)
	}
	if gw.createDeployment != 1 {
		t.Errorf("CreateDeployment calls = %d, want 1", gw.createDeployment)
	}
	if got, ok := domain.TriggerFromDescription(dep.Description); !ok || got != trigger {
		t.Errorf("description %q does not carry trigger", dep.Description)
	}
}

func TestDeploymentManager_SameTriggerNeverCreates(t *testing.T) {
	gw := newStubGateway()
	m := &domain.DeploymentManager{Gateway: gw}
	prev := domain.Deployment{ID: "dep1", Trigger: domain.EmptyTrigger}

	dep, created, err := m.Reconcile(context.Background(), "api1", "test", domain.EmptyTrigger, &prev)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if created {
		t.Error("created = true for unchanged trigger")
	}
	if dep != prev {
		t.Errorf("Reconcile returned %+v, want previous %+v", dep, prev)
	}
	if gw.createDeployment != 0 {
		t.Errorf("CreateDeployment calls = %d, want 0", gw.createDeployment)
	}
}

func TestDeploymentManager_ChangedTriggerAppends(t *testing.T) {
	gw := newStubGateway()
	m := &domain.DeploymentManager{Gateway: gw}
	ctx := context.Background()

	first, _, err := m.Reconcile(ctx, "api1", "test", domain.EmptyTrigger, nil)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	trigger := domain.Fingerprint(collect(t, usersAPI()))
	second, created, err := m.Reconcile(ctx, "api1", "test", trigger, &first)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if !created || second.ID == first.ID {
		t.Fatalf("expected a new deployment, got %+v (created=%v)", second, created)
	}
	if len(gw.deployments) != 2 || gw.deployments[0].Description != domain.DeploymentDescription(domain.EmptyTrigger) {
		t.Errorf("earlier deployment was modified or dropped: %+v", gw.deployments)
	}
}

func TestDeploymentManager_RejectionIsCreationError(t *testing.T) {
	gw := newStubGateway()
	gw.createDeploymentErr = errors.New("BadRequestException: The REST API doesn't contain any methods")
	m := &domain.DeploymentManager{Gateway: gw}

	_, _, err := m.Reconcile(context.Background(), "api1", "test", domain.EmptyTrigger, nil)
	var dce *domain.DeploymentCreationError
	if !errors.As(err, &dce) {
		t.Fatalf("Reconcile: got %v, want DeploymentCreationError", err)
	}
	if dce.APIID != "api1" || dce.StageName != "test" {
		t.Errorf("error pair = (%q, %q)", dce.APIID, dce.StageName)
	}
	if domain.IsRetryable(err) {
		t.Error("DeploymentCreationError must not be retryable")
	}
	if !errors.Is(err, domain.ErrFailedPrecondition) {
		t.Errorf("error does not match ErrFailedPrecondition: %v", err)
	}
}

func TestLatestTriggered(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trig := domain.Fingerprint(domain.ApiDefinition{Members: []domain.DefinitionEntry{{Kind: domain.KindResource, ID: "/", Digest: "x"}}})
	deps := []domain.Deployment{
		{ID: "a", Description: domain.DeploymentDescription(domain.EmptyTrigger), CreatedAt: t0},
		{ID: "b", Description: "created by hand", CreatedAt: t0.Add(2 * time.Hour)},
		{ID: "c", Description: domain.DeploymentDescription(trig), CreatedAt: t0.Add(time.Hour)},
	}
	got := domain.LatestTriggered(deps, domain.EmptyTrigger)
	if got == nil || got.ID != "c" || got.Trigger != trig {
		t.Fatalf("LatestTriggered = %+v, want c", got)
	}
	if domain.LatestTriggered(deps[1:2], trig) != nil {
		t.Error("LatestTriggered of foreign deployments must be nil")
	}
}

func TestLatestTriggered_SameSecondPrefersCurrentTrigger(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := domain.Fingerprint(domain.ApiDefinition{Members: []domain.DefinitionEntry{{Kind: domain.KindResource, ID: "/", Digest: "v1"}}})
	newer := domain.Fingerprint(domain.ApiDefinition{Members: []domain.DefinitionEntry{{Kind: domain.KindResource, ID: "/", Digest: "v2"}}})
	// IDs are random, so the deployment for the current trigger may sort
	// either way.
	deps := []domain.Deployment{
		{ID: "zzz", Description: domain.DeploymentDescription(older), CreatedAt: t0},
		{ID: "aaa", Description: domain.DeploymentDescription(newer), CreatedAt: t0},
	}
	got := domain.LatestTriggered(deps, newer)
	if got == nil || got.ID != "aaa" {
		t.Fatalf("LatestTriggered = %+v, want aaa", got)
	}
	if got := domain.LatestTriggered(deps, domain.EmptyTrigger); got == nil || got.ID != "zzz" {
		t.Errorf("LatestTriggered without a matching trigger = %+v, want zzz", got)
	}

	gw := newStubGateway()
	gw.deployments = deps
	m := &domain.DeploymentManager{Gateway: gw}
	prev, err := domain.PreviousDeployment(context.Background(), gw, "api1", newer)
	if err != nil {
		t.Fatalf("PreviousDeployment: %v", err)
	}
	if _, created, err := m.Reconcile(context.Background(), "api1", "test", newer, prev); err != nil || created {
		t.Errorf("Reconcile: created=%v err=%v, want reuse of aaa", created, err)
	}
}

func TestTriggerFromDescription_RejectsForeignDescriptions(t *testing.T) {
	for _, desc := range []string{"", "trigger:", "trigger:abc", "release 42"} {
		if _, ok := domain.TriggerFromDescription(desc); ok {
			t.Errorf("TriggerFromDescription(%q) ok = true", desc)
		}
	}
}
