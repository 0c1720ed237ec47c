// Package hcldef loads API definitions and stage configuration from HCL
// files. A loaded [File] serves as the definition layer of the reconciler
// and produces one [domain.ReconcileInput] per declared stage.
//
// A file looks like:
//
//	conventions {
//	  default_tags = { repository = "apis" }
//	}
//
//	api "a1b2c3" {
//	  name = "users"
//
//	  resource "/users" {}
//
//	  method "GET" "/users" {
//	    authorization_type = "NONE"
//	    integration {
//	      type        = "AWS_PROXY"
//	      http_method = "POST"
//	      uri         = "arn:aws:apigateway:..."
//	    }
//	  }
//
//	  stage "test" {
//	    cache { enabled = true }
//	    default_settings { throttling_burst_limit = 10 }
//	    method_settings "GET /users" { caching_enabled = true }
//	  }
//	}
package hcldef

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

// File is the decoded content of a definition file.
type File struct {
	ConventionsBlock *ConventionsBlock `hcl:"conventions,block"`
	APIs             []APIBlock        `hcl:"api,block"`
}

// ConventionsBlock holds the cross-cutting stage conventions.
type ConventionsBlock struct {
	MarkerKey   string            `hcl:"marker_key,optional"`
	MarkerValue string            `hcl:"marker_value,optional"`
	DefaultTags map[string]string `hcl:"default_tags,optional"`
}

// APIBlock declares one REST API and the stages to reconcile on it.
type APIBlock struct {
	ID          string            `hcl:"id,label"`
	Name        string            `hcl:"name,optional"`
	Resources   []ResourceBlock   `hcl:"resource,block"`
	Methods     []MethodBlock     `hcl:"method,block"`
	Authorizers []AuthorizerBlock `hcl:"authorizer,block"`
	Stages      []StageBlock      `hcl:"stage,block"`
}

type ResourceBlock struct {
	Path string `hcl:"path,label"`
}

type MethodBlock struct {
	HTTPMethod        string            `hcl:"http_method,label"`
	Path              string            `hcl:"path,label"`
	AuthorizationType string            `hcl:"authorization_type,optional"`
	Authorizer        string            `hcl:"authorizer,optional"`
	APIKeyRequired    bool              `hcl:"api_key_required,optional"`
	RequestParameters map[string]bool   `hcl:"request_parameters,optional"`
	Integration       *IntegrationBlock `hcl:"integration,block"`
}

type IntegrationBlock struct {
	Type          string `hcl:"type"`
	HTTPMethod    string `hcl:"http_method,optional"`
	URI           string `hcl:"uri,optional"`
	TimeoutMillis int    `hcl:"timeout_millis,optional"`
}

type AuthorizerBlock struct {
	Name           string `hcl:"name,label"`
	Type           string `hcl:"type"`
	IdentitySource string `hcl:"identity_source,optional"`
	URI            string `hcl:"uri,optional"`
	TTLSeconds     int    `hcl:"ttl_seconds,optional"`
}

// StageBlock is the desired configuration of one stage.
type StageBlock struct {
	Name            string               `hcl:"name,label"`
	Description     string               `hcl:"description,optional"`
	TracingEnabled  bool                 `hcl:"tracing_enabled,optional"`
	Variables       map[string]string    `hcl:"variables,optional"`
	Tags            map[string]string    `hcl:"tags,optional"`
	UsagePlanID     string               `hcl:"usage_plan_id,optional"`
	Cache           *CacheBlock          `hcl:"cache,block"`
	DefaultSettings *SettingsBlock       `hcl:"default_settings,block"`
	MethodSettings  []RouteSettingsBlock `hcl:"method_settings,block"`
}

type CacheBlock struct {
	Enabled bool   `hcl:"enabled,optional"`
	Size    string `hcl:"size,optional"`
}

// SettingsBlock is one layer of method settings. Absent attributes
// decode to nil and inherit from the layer underneath.
type SettingsBlock struct {
	ThrottlingBurstLimit *int     `hcl:"throttling_burst_limit,optional"`
	ThrottlingRateLimit  *float64 `hcl:"throttling_rate_limit,optional"`
	CachingEnabled       *bool    `hcl:"caching_enabled,optional"`
	CacheTTLSeconds      *int     `hcl:"cache_ttl_seconds,optional"`
	LoggingLevel         *string  `hcl:"logging_level,optional"`
	MetricsEnabled       *bool    `hcl:"metrics_enabled,optional"`
}

// RouteSettingsBlock overrides method settings for one route key ("*/*"
// or "METHOD /path"). gohcl does not decode embedded structs, hence the
// repeated attributes.
type RouteSettingsBlock struct {
	Route                string   `hcl:"route,label"`
	ThrottlingBurstLimit *int     `hcl:"throttling_burst_limit,optional"`
	ThrottlingRateLimit  *float64 `hcl:"throttling_rate_limit,optional"`
	CachingEnabled       *bool    `hcl:"caching_enabled,optional"`
	CacheTTLSeconds      *int     `hcl:"cache_ttl_seconds,optional"`
	LoggingLevel         *string  `hcl:"logging_level,optional"`
	MetricsEnabled       *bool    `hcl:"metrics_enabled,optional"`
}

// Parse decodes src. filename is used in diagnostics and must end in
// ".hcl".
func Parse(src []byte, filename string) (*File, error) {
	var f File
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and decodes the file at path.
func Load(path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition file: %w", err)
	}
	return Parse(src, path)
}

func (f *File) validate() error {
	seen := make(map[string]bool, len(f.APIs))
	for _, api := range f.APIs {
		if api.ID == "" {
			return fmt.Errorf("%w: api block with empty id", domain.ErrInvalidArgument)
		}
		if seen[api.ID] {
			return fmt.Errorf("%w: api %q declared twice", domain.ErrInvalidArgument, api.ID)
		}
		seen[api.ID] = true

		stages := make(map[string]bool, len(api.Stages))
		for _, st := range api.Stages {
			if stages[st.Name] {
				return fmt.Errorf("%w: api %q: stage %q declared twice", domain.ErrInvalidArgument, api.ID, st.Name)
			}
			stages[st.Name] = true

			routes := make(map[string]bool, len(st.MethodSettings))
			for _, ms := range st.MethodSettings {
				if routes[ms.Route] {
					return fmt.Errorf("%w: api %q: stage %q: method_settings %q declared twice", domain.ErrInvalidArgument, api.ID, st.Name, ms.Route)
				}
				routes[ms.Route] = true
			}
		}
	}
	return nil
}
