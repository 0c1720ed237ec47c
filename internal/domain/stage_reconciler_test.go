package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

func desiredStage(t *testing.T) domain.DesiredStage {
	t.Helper()
	eff, err := domain.MergeSettings(
		domain.MethodSettings{ThrottlingBurstLimit: intPtr(10)},
		map[domain.RouteKey]domain.MethodSettings{"GET /users": {CachingEnabled: boolPtr(true)}},
	)
	if err != nil {
		t.Fatalf("MergeSettings: %v", err)
	}
	return domain.DesiredStage{
		APIID:       "api1",
		Name:        "test",
		Settings:    eff,
		Cache:       domain.CacheConfig{Enabled: true},
		Description: "managed test stage",
		Variables:   map[string]string{"backend": "v1"},
		Tags:        map[string]string{"team": "platform"},
	}
}

func TestResolveStage_Classification(t *testing.T) {
	conv := domain.DefaultConventions()
	gw := newStubGateway()
	gw.stages = []domain.Stage{
		{APIID: "api1", Name: "managed", Tags: map[string]string{domain.DefaultMarkerKey: domain.DefaultMarkerValue}},
		{APIID: "api1", Name: "foreign", Tags: map[string]string{"owner": "ops"}},
		{APIID: "api2", Name: "absent"},
	}
	ctx := context.Background()

	cases := map[string]domain.StageStatusKind{
		"managed": domain.StagePresentManaged,
		"foreign": domain.StagePresentForeign,
		"absent":  domain.StageAbsent,
	}
	for name, want := range cases {
		status, err := domain.ResolveStage(ctx, gw, "api1", name, conv)
		if err != nil {
			t.Fatalf("ResolveStage(%s): %v", name, err)
		}
		if status.Kind != want {
			t.Errorf("ResolveStage(%s) = %s, want %s", name, status.Kind, want)
		}
		if (status.Stage == nil) != (want == domain.StageAbsent) {
			t.Errorf("ResolveStage(%s): Stage presence does not match kind", name)
		}
	}
}

func TestResolveStage_MarkerDeletedIsForeign(t *testing.T) {
	gw := newStubGateway()
	gw.stages = []domain.Stage{{APIID: "api1", Name: "test", Tags: map[string]string{domain.DefaultMarkerKey: "someone-else"}}}

	status, err := domain.ResolveStage(context.Background(), gw, "api1", "test", domain.DefaultConventions())
	if err != nil {
		t.Fatalf("ResolveStage: %v", err)
	}
	if status.Kind != domain.StagePresentForeign {
		t.Errorf("Kind = %s, want %s", status.Kind, domain.StagePresentForeign)
	}
}

func TestResolveStage_AmbiguousFailsFast(t *testing.T) {
	gw := newStubGateway()
	gw.stages = []domain.Stage{{APIID: "api1", Name: "test"}, {APIID: "api1", Name: "test"}}

	_, err := domain.ResolveStage(context.Background(), gw, "api1", "test", domain.DefaultConventions())
	var amb *domain.ResolutionAmbiguousError
	if !errors.As(err, &amb) {
		t.Fatalf("ResolveStage: got %v, want ResolutionAmbiguousError", err)
	}
	if amb.Matches != 2 {
		t.Errorf("Matches = %d, want 2", amb.Matches)
	}
}

func TestStageReconciler_AbsentCreatesManagedStage(t *testing.T) {
	gw := newStubGateway()
	conv := domain.Conventions{DefaultTags: map[string]string{"environment": "test", "team": "default"}}
	r := &domain.StageReconciler{Gateway: gw, Conventions: conv}
	ctx := context.Background()
	dep := domain.Deployment{ID: "dep1", Trigger: domain.EmptyTrigger}

	st, mutated, err := r.Reconcile(ctx, domain.Absent(), dep, desiredStage(t))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !mutated || gw.createStage != 1 {
		t.Fatalf("mutated=%v createStage=%d, want a single create", mutated, gw.createStage)
	}
	if st.DeploymentID != "dep1" {
		t.Errorf("DeploymentID = %q, want dep1", st.DeploymentID)
	}
	if st.Cache.Size != domain.DefaultCacheSize {
		t.Errorf("Cache.Size = %q, want %q", st.Cache.Size, domain.DefaultCacheSize)
	}
	wantTags := map[string]string{
		"environment":           "test",
		"team":                  "platform",
		domain.DefaultMarkerKey: domain.DefaultMarkerValue,
	}
	if diff := cmp.Diff(wantTags, st.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	status, err := domain.ResolveStage(ctx, gw, "api1", "test", conv)
	if err != nil {
		t.Fatalf("ResolveStage: %v", err)
	}
	if status.Kind != domain.StagePresentManaged {
		t.Errorf("after create: Kind = %s, want %s", status.Kind, domain.StagePresentManaged)
	}
}

func TestStageReconciler_ForeignAdoptionIsNonDestructive(t *testing.T) {
	gw := newStubGateway()
	gw.stages = []domain.Stage{{
		APIID:          "api1",
		Name:           "test",
		DeploymentID:   "hand-made",
		Description:    "owner-set",
		Variables:      map[string]string{"owner": "ops"},
		Tags:           map[string]string{"cost-center": "42"},
		WebACLARN:      "arn:aws:wafv2:us-east-1:123456789012:regional/webacl/x/y",
		TracingEnabled: true,
		MethodSettings: map[domain.RouteKey]domain.MethodSettings{"POST /legacy": {LoggingLevel: stringPtr(domain.LoggingInfo)}},
	}}
	conv := domain.DefaultConventions()
	r := &domain.StageReconciler{Gateway: gw, Conventions: conv}
	ctx := context.Background()

	status, err := domain.ResolveStage(ctx, gw, "api1", "test", conv)
	if err != nil {
		t.Fatalf("ResolveStage: %v", err)
	}
	st, mutated, err := r.Reconcile(ctx, status, domain.Deployment{ID: "dep1"}, desiredStage(t))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !mutated {
		t.Fatal("mutated = false, want repointed stage")
	}

	if st.DeploymentID != "dep1" {
		t.Errorf("DeploymentID = %q, want dep1", st.DeploymentID)
	}
	if st.Description != "owner-set" {
		t.Errorf("Description = %q, want owner-set", st.Description)
	}
	if diff := cmp.Diff(map[string]string{"owner": "ops"}, st.Variables); diff != "" {
		t.Errorf("variables changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"cost-center": "42"}, st.Tags); diff != "" {
		t.Errorf("tags changed (-want +got):\n%s", diff)
	}
	if st.WebACLARN == "" || !st.TracingEnabled {
		t.Errorf("foreign attributes lost: %+v", st)
	}
	if _, ok := st.MethodSettings["POST /legacy"]; ok {
		t.Error("stale method setting survived; method settings are owned by the reconciler")
	}
	if !st.Cache.Enabled {
		t.Error("cache config not applied to foreign stage")
	}

	status, _ = domain.ResolveStage(ctx, gw, "api1", "test", conv)
	if status.Kind != domain.StagePresentForeign {
		t.Errorf("after adoption: Kind = %s, want %s", status.Kind, domain.StagePresentForeign)
	}
}

func TestStageReconciler_SecondPassMakesNoCall(t *testing.T) {
	for _, kind := range []domain.StageStatusKind{domain.StageAbsent, domain.StagePresentForeign} {
		t.Run(string(kind), func(t *testing.T) {
			gw := newStubGateway()
			if kind == domain.StagePresentForeign {
				gw.stages = []domain.Stage{{APIID: "api1", Name: "test", Description: "owner-set"}}
			}
			conv := domain.DefaultConventions()
			r := &domain.StageReconciler{Gateway: gw, Conventions: conv}
			ctx := context.Background()
			dep := domain.Deployment{ID: "dep1"}

			for pass := 1; pass <= 2; pass++ {
				status, err := domain.ResolveStage(ctx, gw, "api1", "test", conv)
				if err != nil {
					t.Fatalf("pass %d ResolveStage: %v", pass, err)
				}
				before := gw.mutations()
				before1 := fmt.Sprint(gw.stages)
				_, mutated, err := r.Reconcile(ctx, status, dep, desiredStage(t))
				if err != nil {
					t.Fatalf("pass %d Reconcile: %v", pass, err)
				}
				if pass == 2 {
					if mutated || gw.mutations() != before {
						t.Errorf("second pass mutated the stage (%d -> %d calls)", before, gw.mutations())
					}
					if fmt.Sprint(gw.stages) != before1 {
						t.Errorf("second pass changed stage state")
					}
				}
			}
		})
	}
}

func TestStageReconciler_ManagedOverwritesModuleFields(t *testing.T) {
	conv := domain.DefaultConventions()
	gw := newStubGateway()
	gw.stages = []domain.Stage{{
		APIID:        "api1",
		Name:         "test",
		DeploymentID: "dep1",
		Description:  "drifted",
		Variables:    map[string]string{"backend": "v0", "stale": "x"},
		Tags:         map[string]string{domain.DefaultMarkerKey: domain.DefaultMarkerValue, "stale": "x", "aws:cloudformation:stack-name": "s"},
	}}
	r := &domain.StageReconciler{Gateway: gw, Conventions: conv}
	ctx := context.Background()

	status, _ := domain.ResolveStage(ctx, gw, "api1", "test", conv)
	st, _, err := r.Reconcile(ctx, status, domain.Deployment{ID: "dep1"}, desiredStage(t))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if st.Description != "managed test stage" {
		t.Errorf("Description = %q", st.Description)
	}
	if diff := cmp.Diff(map[string]string{"backend": "v1"}, st.Variables); diff != "" {
		t.Errorf("variables mismatch (-want +got):\n%s", diff)
	}
	wantTags := map[string]string{
		domain.DefaultMarkerKey:         domain.DefaultMarkerValue,
		"team":                          "platform",
		"aws:cloudformation:stack-name": "s",
	}
	if diff := cmp.Diff(wantTags, st.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestStageReconciler_UpdateOfVanishedStageIsConflict(t *testing.T) {
	gw := newStubGateway()
	r := &domain.StageReconciler{Gateway: gw, Conventions: domain.DefaultConventions()}
	status := domain.PresentForeign(domain.Stage{APIID: "api1", Name: "test", DeploymentID: "old"})

	_, _, err := r.Reconcile(context.Background(), status, domain.Deployment{ID: "dep1"}, desiredStage(t))
	var sce *domain.StageConflictError
	if !errors.As(err, &sce) {
		t.Fatalf("Reconcile: got %v, want StageConflictError", err)
	}
	if !domain.IsRetryable(err) {
		t.Error("StageConflictError must be retryable")
	}
	if sce.APIID != "api1" || sce.StageName != "test" {
		t.Errorf("error pair = (%q, %q)", sce.APIID, sce.StageName)
	}
}

func TestStageReconciler_CreateRaceIsConflict(t *testing.T) {
	gw := newStubGateway()
	gw.stages = []domain.Stage{{APIID: "api1", Name: "test"}}
	r := &domain.StageReconciler{Gateway: gw, Conventions: domain.DefaultConventions()}

	_, _, err := r.Reconcile(context.Background(), domain.Absent(), domain.Deployment{ID: "dep1"}, desiredStage(t))
	if !domain.IsRetryable(err) {
		t.Fatalf("Reconcile: got %v, want retryable conflict", err)
	}
}

func TestStageReconciler_DroppedSettingIsReverted(t *testing.T) {
	conv := domain.DefaultConventions()
	gw := newStubGateway()
	r := &domain.StageReconciler{Gateway: gw, Conventions: conv}
	ctx := context.Background()
	dep := domain.Deployment{ID: "dep1"}

	desired := func(defaults domain.MethodSettings) domain.DesiredStage {
		eff, err := domain.MergeSettings(defaults, nil)
		if err != nil {
			t.Fatalf("MergeSettings: %v", err)
		}
		return domain.DesiredStage{APIID: "api1", Name: "test", Settings: eff}
	}
	reconcile := func(d domain.DesiredStage) (domain.Stage, bool) {
		t.Helper()
		status, err := domain.ResolveStage(ctx, gw, "api1", "test", conv)
		if err != nil {
			t.Fatalf("ResolveStage: %v", err)
		}
		st, mutated, err := r.Reconcile(ctx, status, dep, d)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		return st, mutated
	}

	reconcile(desired(domain.MethodSettings{ThrottlingBurstLimit: intPtr(10), ThrottlingRateLimit: floatPtr(5)}))

	st, mutated := reconcile(desired(domain.MethodSettings{ThrottlingRateLimit: floatPtr(5)}))
	if !mutated {
		t.Fatal("dropping throttling_burst_limit did not update the stage")
	}
	want := map[domain.RouteKey]domain.MethodSettings{
		domain.WildcardRoute: {ThrottlingRateLimit: floatPtr(5)},
	}
	if diff := cmp.Diff(want, st.MethodSettings); diff != "" {
		t.Errorf("method settings mismatch (-want +got):\n%s", diff)
	}

	before := gw.mutations()
	if _, mutated := reconcile(desired(domain.MethodSettings{ThrottlingRateLimit: floatPtr(5)})); mutated || gw.mutations() != before {
		t.Error("pass after the revert mutated the stage")
	}
}

func TestPlanStage_DriftedRouteIsReset(t *testing.T) {
	observed := domain.Stage{
		APIID:        "api1",
		Name:         "test",
		DeploymentID: "dep1",
		MethodSettings: map[domain.RouteKey]domain.MethodSettings{
			// As reported by the gateway: every field filled in.
			domain.WildcardRoute: {
				ThrottlingBurstLimit: intPtr(10),
				ThrottlingRateLimit:  floatPtr(5),
				CachingEnabled:       boolPtr(false),
				CacheTTLSeconds:      intPtr(300),
				LoggingLevel:         stringPtr(domain.LoggingOff),
				MetricsEnabled:       boolPtr(false),
			},
		},
	}
	eff, err := domain.MergeSettings(domain.MethodSettings{ThrottlingRateLimit: floatPtr(5)}, nil)
	if err != nil {
		t.Fatalf("MergeSettings: %v", err)
	}
	action, err := domain.PlanStage(domain.PresentForeign(observed), domain.Deployment{ID: "dep1"},
		domain.DesiredStage{APIID: "api1", Name: "test", Settings: eff}, domain.DefaultConventions())
	if err != nil {
		t.Fatalf("PlanStage: %v", err)
	}
	if action.Kind != domain.StageActionUpdate {
		t.Fatalf("Kind = %q, want update", action.Kind)
	}
	if diff := cmp.Diff([]domain.RouteKey{domain.WildcardRoute}, action.Patch.ResetMethodSettings); diff != "" {
		t.Errorf("reset routes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[domain.RouteKey]domain.MethodSettings{domain.WildcardRoute: {ThrottlingRateLimit: floatPtr(5)}}, action.Patch.MethodSettings); diff != "" {
		t.Errorf("written settings mismatch (-want +got):\n%s", diff)
	}

	// The same entry with burst back at the gateway default needs nothing.
	observed.MethodSettings[domain.WildcardRoute] = domain.MethodSettings{
		ThrottlingBurstLimit: intPtr(5000),
		ThrottlingRateLimit:  floatPtr(5),
		CachingEnabled:       boolPtr(false),
		CacheTTLSeconds:      intPtr(300),
		LoggingLevel:         stringPtr(domain.LoggingOff),
		MetricsEnabled:       boolPtr(false),
	}
	action, err = domain.PlanStage(domain.PresentForeign(observed), domain.Deployment{ID: "dep1"},
		domain.DesiredStage{APIID: "api1", Name: "test", Settings: eff}, domain.DefaultConventions())
	if err != nil {
		t.Fatalf("PlanStage: %v", err)
	}
	if action.Kind != domain.StageActionNone {
		t.Errorf("Kind = %q, want none", action.Kind)
	}
}
