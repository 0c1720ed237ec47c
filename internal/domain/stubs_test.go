package domain_test

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

// stubGateway is an in-memory gateway that counts mutating calls.
type stubGateway struct {
	deployments []domain.Deployment
	stages      []domain.Stage
	plans       map[string][]string

	createDeploymentErr error
	createStageErr      error
	updateStageErr      error
	listStagesErr       error

	listStagesCalls  int
	createDeployment int
	createStage      int
	updateStage      int
	attachUsagePlan  int

	now time.Time
}

func newStubGateway() *stubGateway {
	return &stubGateway{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (g *stubGateway) mutations() int {
	return g.createDeployment + g.createStage + g.updateStage
}

func (g *stubGateway) ListDeployments(_ context.Context, _ string) ([]domain.Deployment, error) {
	out := make([]domain.Deployment, len(g.deployments))
	copy(out, g.deployments)
	return out, nil
}

func (g *stubGateway) CreateDeployment(_ context.Context, _ string, description string) (domain.Deployment, error) {
	g.createDeployment++
	if g.createDeploymentErr != nil {
		return domain.Deployment{}, g.createDeploymentErr
	}
	g.now = g.now.Add(time.Minute)
	d := domain.Deployment{
		ID:          domain.DeploymentID(fmt.Sprintf("dep%d", len(g.deployments)+1)),
		Description: description,
		CreatedAt:   g.now,
	}
	g.deployments = append(g.deployments, d)
	return d, nil
}

func (g *stubGateway) ListStages(_ context.Context, apiID string) ([]domain.Stage, error) {
	g.listStagesCalls++
	if g.listStagesErr != nil {
		return nil, g.listStagesErr
	}
	var out []domain.Stage
	for _, s := range g.stages {
		if s.APIID == apiID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (g *stubGateway) CreateStage(_ context.Context, in domain.CreateStageInput) (domain.Stage, error) {
	g.createStage++
	if g.createStageErr != nil {
		return domain.Stage{}, g.createStageErr
	}
	for _, s := range g.stages {
		if s.APIID == in.APIID && s.Name == in.Name {
			return domain.Stage{}, fmt.Errorf("stage %q: %w", in.Name, domain.ErrAlreadyExists)
		}
	}
	s := domain.Stage{
		APIID:          in.APIID,
		Name:           in.Name,
		DeploymentID:   in.DeploymentID,
		Description:    in.Description,
		MethodSettings: maps.Clone(in.MethodSettings),
		Cache:          in.Cache,
		Variables:      maps.Clone(in.Variables),
		TracingEnabled: in.TracingEnabled,
		Tags:           maps.Clone(in.Tags),
	}
	g.stages = append(g.stages, s)
	return s, nil
}

func (g *stubGateway) UpdateStage(_ context.Context, apiID, name string, patch domain.StagePatch) (domain.Stage, error) {
	g.updateStage++
	if g.updateStageErr != nil {
		return domain.Stage{}, g.updateStageErr
	}
	for i, s := range g.stages {
		if s.APIID == apiID && s.Name == name {
			g.stages[i] = patch.Apply(s)
			return g.stages[i], nil
		}
	}
	return domain.Stage{}, fmt.Errorf("stage %q: %w", name, domain.ErrNotFound)
}

func (g *stubGateway) AttachUsagePlan(_ context.Context, planID, apiID, stage string) error {
	g.attachUsagePlan++
	if g.plans == nil {
		g.plans = make(map[string][]string)
	}
	g.plans[planID] = append(g.plans[planID], apiID+":"+stage)
	return nil
}

// stubSource is a definition layer backed by slices.
type stubSource struct {
	apiID        string
	resources    []domain.Resource
	methods      []domain.Method
	integrations []domain.Integration
	authorizers  []domain.Authorizer
}

func (s *stubSource) APIID() string { return s.apiID }
func (s *stubSource) ListResources(context.Context) ([]domain.Resource, error) {
	return s.resources, nil
}
func (s *stubSource) ListMethods(context.Context) ([]domain.Method, error) { return s.methods, nil }
func (s *stubSource) ListIntegrations(context.Context) ([]domain.Integration, error) {
	return s.integrations, nil
}
func (s *stubSource) ListAuthorizers(context.Context) ([]domain.Authorizer, error) {
	return s.authorizers, nil
}

// stubCatalog serves a single source.
type stubCatalog struct{ src *stubSource }

func (c stubCatalog) Definition(_ context.Context, apiID string) (domain.DefinitionSource, error) {
	if apiID != c.src.apiID {
		return nil, fmt.Errorf("api %q: %w", apiID, domain.ErrNotFound)
	}
	return c.src, nil
}

func usersAPI() *stubSource {
	return &stubSource{
		apiID:     "api1",
		resources: []domain.Resource{{Path: "/users"}},
		methods: []domain.Method{
			{Path: "/users", HTTPMethod: "GET", AuthorizationType: "NONE"},
			{Path: "/users", HTTPMethod: "POST", AuthorizationType: "CUSTOM", Authorizer: "jwt"},
		},
		integrations: []domain.Integration{
			{Path: "/users", HTTPMethod: "GET", Type: "AWS_PROXY", IntegrationHTTPMethod: "POST", URI: "arn:aws:lambda:users-get"},
			{Path: "/users", HTTPMethod: "POST", Type: "AWS_PROXY", IntegrationHTTPMethod: "POST", URI: "arn:aws:lambda:users-post"},
		},
		authorizers: []domain.Authorizer{
			{Name: "jwt", Type: "TOKEN", IdentitySource: "method.request.header.Authorization"},
		},
	}
}

func intPtr(v int) *int             { return &v }
func floatPtr(v float64) *float64   { return &v }
func boolPtr(v bool) *bool          { return &v }
func stringPtr(v string) *string    { return &v }
