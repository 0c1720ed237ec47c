package hcldef

import (
	"context"
	"fmt"
	"maps"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

// Definition implements [domain.DefinitionCatalog].
func (f *File) Definition(_ context.Context, apiID string) (domain.DefinitionSource, error) {
	for i := range f.APIs {
		if f.APIs[i].ID == apiID {
			return apiSource{api: &f.APIs[i]}, nil
		}
	}
	return nil, fmt.Errorf("api %q: %w", apiID, domain.ErrNotFound)
}

// Conventions returns the declared conventions, or the defaults when the
// file has no conventions block.
func (f *File) Conventions() domain.Conventions {
	conv := domain.DefaultConventions()
	if c := f.ConventionsBlock; c != nil {
		if c.MarkerKey != "" {
			conv.MarkerKey = c.MarkerKey
		}
		if c.MarkerValue != "" {
			conv.MarkerValue = c.MarkerValue
		}
		conv.DefaultTags = maps.Clone(c.DefaultTags)
	}
	return conv
}

// Inputs returns one reconciliation request per declared stage, in file
// order.
func (f *File) Inputs() []domain.ReconcileInput {
	var out []domain.ReconcileInput
	for _, api := range f.APIs {
		for _, st := range api.Stages {
			out = append(out, st.input(api.ID))
		}
	}
	return out
}

// Input returns the request for one stage.
func (f *File) Input(apiID, stageName string) (domain.ReconcileInput, error) {
	for _, api := range f.APIs {
		if api.ID != apiID {
			continue
		}
		for _, st := range api.Stages {
			if st.Name == stageName {
				return st.input(api.ID), nil
			}
		}
	}
	return domain.ReconcileInput{}, fmt.Errorf("stage %q of api %q: %w", stageName, apiID, domain.ErrNotFound)
}

// APISummary is the identity of a declared API together with its method
// count, which is what a gateway emulator needs to accept deployments.
type APISummary struct {
	ID          string
	Name        string
	MethodCount int
}

// Summaries lists the declared APIs.
func (f *File) Summaries() []APISummary {
	out := make([]APISummary, 0, len(f.APIs))
	for _, api := range f.APIs {
		out = append(out, APISummary{ID: api.ID, Name: api.Name, MethodCount: len(api.Methods)})
	}
	return out
}

func (st StageBlock) input(apiID string) domain.ReconcileInput {
	in := domain.ReconcileInput{
		APIID:          apiID,
		StageName:      st.Name,
		Description:    st.Description,
		Variables:      maps.Clone(st.Variables),
		TracingEnabled: st.TracingEnabled,
		Tags:           maps.Clone(st.Tags),
		UsagePlanID:    st.UsagePlanID,
	}
	if st.Cache != nil {
		in.Cache = domain.CacheConfig{Enabled: st.Cache.Enabled, Size: st.Cache.Size}
	}
	if d := st.DefaultSettings; d != nil {
		in.Defaults = domain.MethodSettings{
			ThrottlingBurstLimit: d.ThrottlingBurstLimit,
			ThrottlingRateLimit:  d.ThrottlingRateLimit,
			CachingEnabled:       d.CachingEnabled,
			CacheTTLSeconds:      d.CacheTTLSeconds,
			LoggingLevel:         d.LoggingLevel,
			MetricsEnabled:       d.MetricsEnabled,
		}
	}
	if len(st.MethodSettings) > 0 {
		in.Overrides = make(map[domain.RouteKey]domain.MethodSettings, len(st.MethodSettings))
		for _, ms := range st.MethodSettings {
			in.Overrides[domain.RouteKey(ms.Route)] = domain.MethodSettings{
				ThrottlingBurstLimit: ms.ThrottlingBurstLimit,
				ThrottlingRateLimit:  ms.ThrottlingRateLimit,
				CachingEnabled:       ms.CachingEnabled,
				CacheTTLSeconds:      ms.CacheTTLSeconds,
				LoggingLevel:         ms.LoggingLevel,
				MetricsEnabled:       ms.MetricsEnabled,
			}
		}
	}
	return in
}

// apiSource serves the declared objects of one api block.
type apiSource struct {
	api *APIBlock
}

func (s apiSource) APIID() string { return s.api.ID }

func (s apiSource) ListResources(context.Context) ([]domain.Resource, error) {
	out := make([]domain.Resource, 0, len(s.api.Resources))
	for _, r := range s.api.Resources {
		out = append(out, domain.Resource{Path: r.Path})
	}
	return out, nil
}

func (s apiSource) ListMethods(context.Context) ([]domain.Method, error) {
	out := make([]domain.Method, 0, len(s.api.Methods))
	for _, m := range s.api.Methods {
		out = append(out, domain.Method{
			Path:              m.Path,
			HTTPMethod:        m.HTTPMethod,
			AuthorizationType: m.AuthorizationType,
			Authorizer:        m.Authorizer,
			APIKeyRequired:    m.APIKeyRequired,
			RequestParameters: maps.Clone(m.RequestParameters),
		})
	}
	return out, nil
}

func (s apiSource) ListIntegrations(context.Context) ([]domain.Integration, error) {
	var out []domain.Integration
	for _, m := range s.api.Methods {
		if m.Integration == nil {
			continue
		}
		out = append(out, domain.Integration{
			Path:                  m.Path,
			HTTPMethod:            m.HTTPMethod,
			Type:                  m.Integration.Type,
			IntegrationHTTPMethod: m.Integration.HTTPMethod,
			URI:                   m.Integration.URI,
			TimeoutMillis:         m.Integration.TimeoutMillis,
		})
	}
	return out, nil
}

func (s apiSource) ListAuthorizers(context.Context) ([]domain.Authorizer, error) {
	out := make([]domain.Authorizer, 0, len(s.api.Authorizers))
	for _, a := range s.api.Authorizers {
		out = append(out, domain.Authorizer{
			Name:           a.Name,
			Type:           a.Type,
			IdentitySource: a.IdentitySource,
			URI:            a.URI,
			TTLSeconds:     a.TTLSeconds,
		})
	}
	return out, nil
}
