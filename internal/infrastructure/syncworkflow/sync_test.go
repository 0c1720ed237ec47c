package syncworkflow_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/hcldef"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/sqlite"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/syncworkflow"
)

const definitions = `
api "api1" {
  method "GET" "/users" {}
  stage "test" {}
}
`

func TestReconcileRunner(t *testing.T) {
	ctx := context.Background()
	file, err := hcldef.Parse([]byte(definitions), "definitions.hcl")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	gw := &sqlite.Gateway{DB: sqlite.OpenTestDB(t)}
	if err := gw.PutAPI(ctx, sqlite.API{ID: "api1", MethodCount: 1}); err != nil {
		t.Fatalf("PutAPI: %v", err)
	}

	var n int
	engine := &syncworkflow.Engine{NewID: func() string { n++; return strconv.Itoa(n) }}
	runner, err := engine.ReconcileRunner(&domain.ReconcileWorkflow{
		Definitions: file,
		Gateway:     gw,
		Conventions: file.Conventions(),
	})
	if err != nil {
		t.Fatalf("ReconcileRunner: %v", err)
	}

	in, err := file.Input("api1", "test")
	if err != nil {
		t.Fatalf("Input: %v", err)
	}
	h, err := runner.Run(ctx, in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.WorkflowID() != "inline-1" {
		t.Errorf("WorkflowID = %q, want inline-1", h.WorkflowID())
	}
	out, err := h.AwaitResult(ctx)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if !out.DeploymentCreated || out.Status != domain.StageAbsent {
		t.Errorf("outcome = %+v", out)
	}

	// Errors are reported through the handle, with their types intact.
	in.Cache = domain.CacheConfig{Enabled: true, Size: "1"}
	h, err = runner.Run(ctx, in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	_, err = h.AwaitResult(ctx)
	var ise *domain.InvalidSettingsError
	if !errors.As(err, &ise) || ise.Field != "cache.size" {
		t.Errorf("AwaitResult: got %v, want InvalidSettingsError on cache.size", err)
	}
	if h.WorkflowID() != "inline-2" {
		t.Errorf("WorkflowID = %q, want inline-2", h.WorkflowID())
	}
}
