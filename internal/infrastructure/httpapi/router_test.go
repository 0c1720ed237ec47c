package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fleetshift/apigw-reconciler/internal/application"
	"github.com/fleetshift/apigw-reconciler/internal/domain"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/hcldef"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/httpapi"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/metrics"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/sqlite"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/syncworkflow"
)

const definitions = `
api "api1" {
  method "GET" "/users" {
    integration {
      type = "MOCK"
    }
  }

  stage "test" {
    default_settings {
      metrics_enabled = true
    }
  }
}

api "empty" {
  stage "test" {}
}
`

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()

	file, err := hcldef.Parse([]byte(definitions), "definitions.hcl")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	db := sqlite.OpenTestDB(t)
	gw := &sqlite.Gateway{DB: db}
	for _, api := range file.Summaries() {
		if err := gw.PutAPI(ctx, sqlite.API{ID: api.ID, MethodCount: api.MethodCount}); err != nil {
			t.Fatalf("PutAPI: %v", err)
		}
	}
	wf := &domain.ReconcileWorkflow{Definitions: file, Gateway: gw, Conventions: file.Conventions()}
	runner, err := (&syncworkflow.Engine{}).ReconcileRunner(wf)
	if err != nil {
		t.Fatalf("ReconcileRunner: %v", err)
	}
	obs := metrics.NewObserver()
	svc := &application.ReconcileService{
		Workflow: runner,
		Planner:  wf,
		Records:  &sqlite.PassRecordRepo{DB: db},
		Observer: obs,
		Region:   "us-east-1",
	}
	return httpapi.NewRouter(&httpapi.Server{Service: svc, Inputs: file, Metrics: obs.Handler()})
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestReconcileThenHistory(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodGet, "/v1/stages/api1/test/plan")
	if rec.Code != http.StatusOK {
		t.Fatalf("plan = %d: %s", rec.Code, rec.Body.String())
	}
	var plan domain.ReconcilePlan
	if err := json.Unmarshal(rec.Body.Bytes(), &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if !plan.CreateDeployment || plan.Stage.Kind != domain.StageActionCreate {
		t.Errorf("plan = %+v", plan)
	}

	rec = do(t, h, http.MethodPost, "/v1/stages/api1/test/reconcile")
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile = %d: %s", rec.Code, rec.Body.String())
	}
	var res application.ReconcileResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Outcome.Status != domain.StageAbsent || res.Endpoints.InvokeURL == "" {
		t.Errorf("result = %+v", res)
	}

	rec = do(t, h, http.MethodGet, "/v1/stages/api1/test/passes")
	var hist []domain.PassRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist) != 1 || hist[0].RunID != res.RunID {
		t.Errorf("history = %+v", hist)
	}

	rec = do(t, h, http.MethodGet, "/v1/passes")
	if rec.Code != http.StatusOK {
		t.Errorf("passes = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	h := newRouter(t)

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/v1/stages/api1/prod/reconcile", http.StatusNotFound},
		{http.MethodPost, "/v1/stages/empty/test/reconcile", http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		rec := do(t, h, tc.method, tc.path)
		if rec.Code != tc.want {
			t.Errorf("%s %s = %d, want %d: %s", tc.method, tc.path, rec.Code, tc.want, rec.Body.String())
		}
	}

	rec := do(t, h, http.MethodGet, "/v1/stages/empty/test/passes")
	var hist []domain.PassRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist) != 1 || hist[0].Succeeded() {
		t.Errorf("failed pass not recorded: %+v", hist)
	}
}
