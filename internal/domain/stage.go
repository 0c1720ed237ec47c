package domain

import (
	"maps"
	"time"
)

// Ownership records who created a stage.
type Ownership string

const (
	OwnershipModule   Ownership = "module"
	OwnershipExternal Ownership = "external"
)

// Stage is a named instance of a deployment as held by the gateway.
// Attributes the reconciler never writes (WebACLARN, and for foreign
// stages Description, Variables, Tags and TracingEnabled) are carried so
// that updates can leave them alone.
type Stage struct {
	APIID          string                      `json:"api_id"`
	Name           string                      `json:"name"`
	DeploymentID   DeploymentID                `json:"deployment_id"`
	Description    string                      `json:"description,omitempty"`
	MethodSettings map[RouteKey]MethodSettings `json:"method_settings,omitempty"`
	Cache          CacheConfig                 `json:"cache"`
	Variables      map[string]string           `json:"variables,omitempty"`
	TracingEnabled bool                        `json:"tracing_enabled"`
	Tags           map[string]string           `json:"tags,omitempty"`
	WebACLARN      string                      `json:"web_acl_arn,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// StageStatusKind classifies the remote stage.
type StageStatusKind string

const (
	StageAbsent         StageStatusKind = "absent"
	StagePresentForeign StageStatusKind = "present-foreign"
	StagePresentManaged StageStatusKind = "present-managed"
)

// StageStatus is the resolved situation of the target stage. Stage is nil
// exactly when Kind is [StageAbsent].
type StageStatus struct {
	Kind  StageStatusKind `json:"kind"`
	Stage *Stage          `json:"stage,omitempty"`
}

// Absent is the status of a stage that does not exist yet.
func Absent() StageStatus { return StageStatus{Kind: StageAbsent} }

// PresentForeign is the status of a stage created outside the reconciler.
func PresentForeign(s Stage) StageStatus {
	return StageStatus{Kind: StagePresentForeign, Stage: &s}
}

// PresentManaged is the status of a stage created by the reconciler.
func PresentManaged(s Stage) StageStatus {
	return StageStatus{Kind: StagePresentManaged, Stage: &s}
}

// Ownership returns who owns the stage described by the status.
func (s StageStatus) Ownership() Ownership {
	if s.Kind == StagePresentManaged {
		return OwnershipModule
	}
	return OwnershipExternal
}

// CreateStageInput carries everything written when a stage is created.
type CreateStageInput struct {
	APIID          string                      `json:"api_id"`
	Name           string                      `json:"name"`
	DeploymentID   DeploymentID                `json:"deployment_id"`
	Description    string                      `json:"description,omitempty"`
	MethodSettings map[RouteKey]MethodSettings `json:"method_settings,omitempty"`
	Cache          CacheConfig                 `json:"cache"`
	Variables      map[string]string           `json:"variables,omitempty"`
	TracingEnabled bool                        `json:"tracing_enabled"`
	Tags           map[string]string           `json:"tags,omitempty"`
}

// StagePatch is a partial stage update. Nil fields are left untouched.
// Map fields replace or add entries; the Remove* lists delete entries.
// ResetMethodSettings routes are cleared before MethodSettings is written,
// so their entries end up holding only the fields the patch sets.
type StagePatch struct {
	DeploymentID         *DeploymentID               `json:"deployment_id,omitempty"`
	ResetMethodSettings  []RouteKey                  `json:"reset_method_settings,omitempty"`
	MethodSettings       map[RouteKey]MethodSettings `json:"method_settings,omitempty"`
	RemoveMethodSettings []RouteKey                  `json:"remove_method_settings,omitempty"`
	Cache                *CacheConfig                `json:"cache,omitempty"`
	Description          *string                     `json:"description,omitempty"`
	Variables            map[string]string           `json:"variables,omitempty"`
	RemoveVariables      []string                    `json:"remove_variables,omitempty"`
	TracingEnabled       *bool                       `json:"tracing_enabled,omitempty"`
	Tags                 map[string]string           `json:"tags,omitempty"`
	RemoveTags           []string                    `json:"remove_tags,omitempty"`
}

// IsEmpty reports whether applying the patch would change nothing.
func (p StagePatch) IsEmpty() bool {
	return p.DeploymentID == nil &&
		len(p.ResetMethodSettings) == 0 &&
		len(p.MethodSettings) == 0 && len(p.RemoveMethodSettings) == 0 &&
		p.Cache == nil && p.Description == nil &&
		len(p.Variables) == 0 && len(p.RemoveVariables) == 0 &&
		p.TracingEnabled == nil &&
		len(p.Tags) == 0 && len(p.RemoveTags) == 0
}

// Apply returns s with the patch applied. Gateway emulators use it to
// mirror what the real service does with an update.
func (p StagePatch) Apply(s Stage) Stage {
	if p.DeploymentID != nil {
		s.DeploymentID = *p.DeploymentID
	}
	if len(p.MethodSettings) > 0 || len(p.RemoveMethodSettings) > 0 || len(p.ResetMethodSettings) > 0 {
		ms := maps.Clone(s.MethodSettings)
		if ms == nil {
			ms = make(map[RouteKey]MethodSettings)
		}
		for _, k := range p.RemoveMethodSettings {
			delete(ms, k)
		}
		for _, k := range p.ResetMethodSettings {
			delete(ms, k)
		}
		for k, v := range p.MethodSettings {
			ms[k] = ms[k].Overlay(v)
		}
		s.MethodSettings = ms
	}
	if p.Cache != nil {
		s.Cache = p.Cache.Normalize()
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	s.Variables = patchMap(s.Variables, p.Variables, p.RemoveVariables)
	if p.TracingEnabled != nil {
		s.TracingEnabled = *p.TracingEnabled
	}
	s.Tags = patchMap(s.Tags, p.Tags, p.RemoveTags)
	return s
}

func patchMap(m, set map[string]string, remove []string) map[string]string {
	if len(set) == 0 && len(remove) == 0 {
		return m
	}
	out := maps.Clone(m)
	if out == nil {
		out = make(map[string]string, len(set))
	}
	for _, k := range remove {
		delete(out, k)
	}
	maps.Copy(out, set)
	return out
}
