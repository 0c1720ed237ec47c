// Package gatewaytest provides contract tests for [domain.Gateway]
// implementations.
package gatewaytest

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

// Fixture is a gateway together with the ID of an existing API that has
// at least one method and no deployments or stages yet.
type Fixture struct {
	Gateway domain.Gateway
	APIID   string
}

// Factory creates a fresh [Fixture] for each test invocation.
type Factory func(t *testing.T) Fixture

func intPtr(v int) *int { return &v }

// Run exercises the [domain.Gateway] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("DeploymentsAreAppended", func(t *testing.T) {
		f := factory(t)
		ctx := context.Background()

		deps, err := f.Gateway.ListDeployments(ctx, f.APIID)
		if err != nil {
			t.Fatalf("ListDeployments: %v", err)
		}
		if len(deps) != 0 {
			t.Fatalf("ListDeployments = %d entries, want 0", len(deps))
		}

		first, err := f.Gateway.CreateDeployment(ctx, f.APIID, "first")
		if err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		second, err := f.Gateway.CreateDeployment(ctx, f.APIID, "second")
		if err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		if first.ID == "" || first.ID == second.ID {
			t.Fatalf("deployment IDs %q, %q must be distinct and non-empty", first.ID, second.ID)
		}

		deps, err = f.Gateway.ListDeployments(ctx, f.APIID)
		if err != nil {
			t.Fatalf("ListDeployments: %v", err)
		}
		descs := make(map[domain.DeploymentID]string)
		for _, d := range deps {
			descs[d.ID] = d.Description
		}
		if descs[first.ID] != "first" || descs[second.ID] != "second" {
			t.Errorf("ListDeployments descriptions = %v", descs)
		}
		if second.CreatedAt.Before(first.CreatedAt) {
			t.Errorf("CreatedAt went backwards: %v then %v", first.CreatedAt, second.CreatedAt)
		}
	})

	t.Run("UnknownAPI", func(t *testing.T) {
		f := factory(t)
		ctx := context.Background()

		if _, err := f.Gateway.ListStages(ctx, "no-such-api"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("ListStages: got %v, want ErrNotFound", err)
		}
		if _, err := f.Gateway.ListDeployments(ctx, "no-such-api"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("ListDeployments: got %v, want ErrNotFound", err)
		}
	})

	t.Run("CreateStageAndList", func(t *testing.T) {
		f := factory(t)
		ctx := context.Background()
		dep, err := f.Gateway.CreateDeployment(ctx, f.APIID, "d")
		if err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}

		in := domain.CreateStageInput{
			APIID:        f.APIID,
			Name:         "test",
			DeploymentID: dep.ID,
			Description:  "contract stage",
			MethodSettings: map[domain.RouteKey]domain.MethodSettings{
				domain.WildcardRoute: {ThrottlingBurstLimit: intPtr(10)},
				"GET /users":         {ThrottlingBurstLimit: intPtr(30)},
			},
			Cache:     domain.CacheConfig{Enabled: true, Size: "0.5"},
			Variables: map[string]string{"backend": "v1"},
			Tags:      map[string]string{"team": "platform"},
		}
		if _, err := f.Gateway.CreateStage(ctx, in); err != nil {
			t.Fatalf("CreateStage: %v", err)
		}

		stages, err := f.Gateway.ListStages(ctx, f.APIID)
		if err != nil {
			t.Fatalf("ListStages: %v", err)
		}
		if len(stages) != 1 {
			t.Fatalf("ListStages = %d entries, want 1", len(stages))
		}
		got := stages[0]
		if got.Name != "test" || got.DeploymentID != dep.ID || got.Description != "contract stage" {
			t.Errorf("stage = %+v", got)
		}
		if ms := got.MethodSettings["GET /users"]; !ms.Satisfies(in.MethodSettings["GET /users"]) {
			t.Errorf("GET /users settings = %+v", ms)
		}
		if !got.Cache.Enabled || got.Cache.Size != "0.5" {
			t.Errorf("Cache = %+v", got.Cache)
		}
		if got.Variables["backend"] != "v1" || got.Tags["team"] != "platform" {
			t.Errorf("variables = %v, tags = %v", got.Variables, got.Tags)
		}
	})

	t.Run("CreateStageDuplicate", func(t *testing.T) {
		f := factory(t)
		ctx := context.Background()
		dep, err := f.Gateway.CreateDeployment(ctx, f.APIID, "d")
		if err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		in := domain.CreateStageInput{APIID: f.APIID, Name: "test", DeploymentID: dep.ID}
		if _, err := f.Gateway.CreateStage(ctx, in); err != nil {
			t.Fatalf("first CreateStage: %v", err)
		}
		if _, err := f.Gateway.CreateStage(ctx, in); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second CreateStage: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("UpdateStagePatch", func(t *testing.T) {
		f := factory(t)
		ctx := context.Background()
		d1, err := f.Gateway.CreateDeployment(ctx, f.APIID, "d1")
		if err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		d2, err := f.Gateway.CreateDeployment(ctx, f.APIID, "d2")
		if err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		_, err = f.Gateway.CreateStage(ctx, domain.CreateStageInput{
			APIID:        f.APIID,
			Name:         "test",
			DeploymentID: d1.ID,
			Description:  "keep me",
			MethodSettings: map[domain.RouteKey]domain.MethodSettings{
				"POST /users": {ThrottlingBurstLimit: intPtr(1)},
			},
			Variables: map[string]string{"a": "1", "b": "2"},
			Tags:      map[string]string{"x": "1", "y": "2"},
		})
		if err != nil {
			t.Fatalf("CreateStage: %v", err)
		}

		patch := domain.StagePatch{
			DeploymentID:         &d2.ID,
			MethodSettings:       map[domain.RouteKey]domain.MethodSettings{"GET /users": {ThrottlingBurstLimit: intPtr(5)}},
			RemoveMethodSettings: []domain.RouteKey{"POST /users"},
			Variables:            map[string]string{"a": "10"},
			RemoveVariables:      []string{"b"},
			Tags:                 map[string]string{"z": "3"},
			RemoveTags:           []string{"y"},
		}
		got, err := f.Gateway.UpdateStage(ctx, f.APIID, "test", patch)
		if err != nil {
			t.Fatalf("UpdateStage: %v", err)
		}
		if got.DeploymentID != d2.ID {
			t.Errorf("DeploymentID = %q, want %q", got.DeploymentID, d2.ID)
		}
		if got.Description != "keep me" {
			t.Errorf("Description = %q, untouched field changed", got.Description)
		}
		if _, ok := got.MethodSettings["POST /users"]; ok {
			t.Error("removed method setting still present")
		}
		if ms := got.MethodSettings["GET /users"]; ms.ThrottlingBurstLimit == nil || *ms.ThrottlingBurstLimit != 5 {
			t.Errorf("GET /users settings = %+v", ms)
		}
		if got.Variables["a"] != "10" || got.Variables["b"] != "" {
			t.Errorf("Variables = %v", got.Variables)
		}
		if got.Tags["x"] != "1" || got.Tags["y"] != "" || got.Tags["z"] != "3" {
			t.Errorf("Tags = %v", got.Tags)
		}
	})

	t.Run("UpdateStageResetsMethodSettings", func(t *testing.T) {
		f := factory(t)
		ctx := context.Background()
		dep, err := f.Gateway.CreateDeployment(ctx, f.APIID, "d")
		if err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		_, err = f.Gateway.CreateStage(ctx, domain.CreateStageInput{
			APIID:        f.APIID,
			Name:         "test",
			DeploymentID: dep.ID,
			MethodSettings: map[domain.RouteKey]domain.MethodSettings{
				domain.WildcardRoute: {ThrottlingBurstLimit: intPtr(10), CacheTTLSeconds: intPtr(60)},
			},
		})
		if err != nil {
			t.Fatalf("CreateStage: %v", err)
		}

		got, err := f.Gateway.UpdateStage(ctx, f.APIID, "test", domain.StagePatch{
			ResetMethodSettings: []domain.RouteKey{domain.WildcardRoute},
			MethodSettings:      map[domain.RouteKey]domain.MethodSettings{domain.WildcardRoute: {CacheTTLSeconds: intPtr(60)}},
		})
		if err != nil {
			t.Fatalf("UpdateStage: %v", err)
		}
		ms := got.MethodSettings[domain.WildcardRoute]
		if ms.ThrottlingBurstLimit != nil && *ms.ThrottlingBurstLimit == 10 {
			t.Errorf("reset route kept throttling_burst_limit = 10")
		}
		if ms.CacheTTLSeconds == nil || *ms.CacheTTLSeconds != 60 {
			t.Errorf("reset route settings = %+v, want cache_ttl_seconds = 60", ms)
		}
	})

	t.Run("UpdateStageNotFound", func(t *testing.T) {
		f := factory(t)
		desc := "x"
		_, err := f.Gateway.UpdateStage(context.Background(), f.APIID, "nope", domain.StagePatch{Description: &desc})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("UpdateStage: got %v, want ErrNotFound", err)
		}
	})

	t.Run("AttachUsagePlanIsIdempotent", func(t *testing.T) {
		f := factory(t)
		ctx := context.Background()
		dep, err := f.Gateway.CreateDeployment(ctx, f.APIID, "d")
		if err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		if _, err := f.Gateway.CreateStage(ctx, domain.CreateStageInput{APIID: f.APIID, Name: "test", DeploymentID: dep.ID}); err != nil {
			t.Fatalf("CreateStage: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := f.Gateway.AttachUsagePlan(ctx, "plan1", f.APIID, "test"); err != nil {
				t.Fatalf("AttachUsagePlan #%d: %v", i+1, err)
			}
		}
	})
}
