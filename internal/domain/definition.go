package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// MemberKind identifies the kind of a declared API object.
type MemberKind string

const (
	KindResource    MemberKind = "resource"
	KindMethod      MemberKind = "method"
	KindIntegration MemberKind = "integration"
	KindAuthorizer  MemberKind = "authorizer"
)

// DefinitionMember is a declared API object that influences the behavior
// of the deployed stage.
type DefinitionMember interface {
	Identifier() string
	ContentDigest() string
}

// Resource is a path in the REST API.
type Resource struct {
	Path string `json:"path"`
}

func (r Resource) Identifier() string    { return r.Path }
func (r Resource) ContentDigest() string { return digestOf(r) }

// Method is an HTTP verb bound to a resource.
type Method struct {
	Path              string          `json:"path"`
	HTTPMethod        string          `json:"http_method"`
	AuthorizationType string          `json:"authorization_type"`
	Authorizer        string          `json:"authorizer,omitempty"`
	APIKeyRequired    bool            `json:"api_key_required"`
	RequestParameters map[string]bool `json:"request_parameters,omitempty"`
}

func (m Method) Identifier() string    { return string(NewRouteKey(m.HTTPMethod, m.Path)) }
func (m Method) ContentDigest() string { return digestOf(m) }

// Integration is the backend a method forwards to.
type Integration struct {
	Path                  string `json:"path"`
	HTTPMethod            string `json:"http_method"`
	Type                  string `json:"type"`
	IntegrationHTTPMethod string `json:"integration_http_method,omitempty"`
	URI                   string `json:"uri,omitempty"`
	TimeoutMillis         int    `json:"timeout_millis,omitempty"`
}

func (i Integration) Identifier() string    { return string(NewRouteKey(i.HTTPMethod, i.Path)) }
func (i Integration) ContentDigest() string { return digestOf(i) }

// Authorizer validates callers before a method runs.
type Authorizer struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	IdentitySource string `json:"identity_source,omitempty"`
	URI            string `json:"uri,omitempty"`
	TTLSeconds     int    `json:"ttl_seconds,omitempty"`
}

func (a Authorizer) Identifier() string    { return a.Name }
func (a Authorizer) ContentDigest() string { return digestOf(a) }

// DefinitionSource is the definition layer: the declared objects of one
// REST API.
type DefinitionSource interface {
	APIID() string
	ListResources(ctx context.Context) ([]Resource, error)
	ListMethods(ctx context.Context) ([]Method, error)
	ListIntegrations(ctx context.Context) ([]Integration, error)
	ListAuthorizers(ctx context.Context) ([]Authorizer, error)
}

// DefinitionCatalog looks up the definition layer for an API.
type DefinitionCatalog interface {
	Definition(ctx context.Context, apiID string) (DefinitionSource, error)
}

// DefinitionEntry is the collected form of a member: its kind, stable
// identifier and content digest.
type DefinitionEntry struct {
	Kind   MemberKind `json:"kind"`
	ID     string     `json:"id"`
	Digest string     `json:"digest"`
}

func (e DefinitionEntry) key() string { return string(e.Kind) + "/" + e.ID }

// ApiDefinition is the set of collected members. Members are kept sorted
// by kind and identifier so that the value serializes identically no
// matter how the definition layer ordered its output.
type ApiDefinition struct {
	APIID   string            `json:"api_id"`
	Members []DefinitionEntry `json:"members"`
}

// MethodCount returns the number of methods in the definition.
func (d ApiDefinition) MethodCount() int {
	n := 0
	for _, m := range d.Members {
		if m.Kind == KindMethod {
			n++
		}
	}
	return n
}

// CollectDefinition gathers every declared member of src into an
// [ApiDefinition]. Identical duplicates collapse; two members with the
// same kind and identifier but different content are rejected.
func CollectDefinition(ctx context.Context, src DefinitionSource) (ApiDefinition, error) {
	entries := mapset.NewThreadUnsafeSet[DefinitionEntry]()

	resources, err := src.ListResources(ctx)
	if err != nil {
		return ApiDefinition{}, fmt.Errorf("list resources: %w", err)
	}
	for _, r := range resources {
		entries.Add(entryOf(KindResource, r))
	}

	methods, err := src.ListMethods(ctx)
	if err != nil {
		return ApiDefinition{}, fmt.Errorf("list methods: %w", err)
	}
	for _, m := range methods {
		entries.Add(entryOf(KindMethod, m))
	}

	integrations, err := src.ListIntegrations(ctx)
	if err != nil {
		return ApiDefinition{}, fmt.Errorf("list integrations: %w", err)
	}
	for _, i := range integrations {
		entries.Add(entryOf(KindIntegration, i))
	}

	authorizers, err := src.ListAuthorizers(ctx)
	if err != nil {
		return ApiDefinition{}, fmt.Errorf("list authorizers: %w", err)
	}
	for _, a := range authorizers {
		entries.Add(entryOf(KindAuthorizer, a))
	}

	members := entries.ToSlice()
	sort.Slice(members, func(i, j int) bool { return members[i].key() < members[j].key() })

	for i := 1; i < len(members); i++ {
		if members[i].key() == members[i-1].key() {
			return ApiDefinition{}, fmt.Errorf("%w: api %q declares %s %q twice with different content",
				ErrInvalidArgument, src.APIID(), members[i].Kind, members[i].ID)
		}
	}

	return ApiDefinition{APIID: src.APIID(), Members: members}, nil
}

func entryOf(kind MemberKind, m DefinitionMember) DefinitionEntry {
	return DefinitionEntry{Kind: kind, ID: m.Identifier(), Digest: m.ContentDigest()}
}

// digestOf hashes the JSON encoding of v. Struct fields encode in
// declaration order and map keys sorted, so the encoding is canonical.
func digestOf(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("digest %T: %v", v, err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
