package domain

import (
	"fmt"
	"slices"
	"strings"
)

// RouteKey addresses method settings: either [WildcardRoute] or
// "<METHOD> /<path>".
type RouteKey string

// WildcardRoute applies to every method of every resource.
const WildcardRoute RouteKey = "*/*"

var httpMethods = []string{"ANY", "DELETE", "GET", "HEAD", "OPTIONS", "PATCH", "POST", "PUT"}

// NewRouteKey builds the route key of a method.
func NewRouteKey(method, path string) RouteKey {
	return RouteKey(strings.ToUpper(method) + " " + path)
}

// Validate checks that k is the wildcard or a well-formed method route.
func (k RouteKey) Validate() error {
	if k == WildcardRoute {
		return nil
	}
	method, path, ok := strings.Cut(string(k), " ")
	if !ok || !slices.Contains(httpMethods, method) || !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: route key %q must be %q or \"METHOD /path\"", ErrInvalidArgument, k, WildcardRoute)
	}
	return nil
}

// Method returns the HTTP verb of the route ("*" for the wildcard).
func (k RouteKey) Method() string {
	if k == WildcardRoute {
		return "*"
	}
	method, _, _ := strings.Cut(string(k), " ")
	return method
}

// Path returns the resource path of the route ("*" for the wildcard).
func (k RouteKey) Path() string {
	if k == WildcardRoute {
		return "*"
	}
	_, path, _ := strings.Cut(string(k), " ")
	return path
}

// Logging levels accepted by the gateway.
const (
	LoggingOff   = "OFF"
	LoggingError = "ERROR"
	LoggingInfo  = "INFO"
)

// MethodSettings is a layer of per-method stage settings. Nil fields
// inherit from the layer underneath.
type MethodSettings struct {
	ThrottlingBurstLimit *int     `json:"throttling_burst_limit,omitempty"`
	ThrottlingRateLimit  *float64 `json:"throttling_rate_limit,omitempty"`
	CachingEnabled       *bool    `json:"caching_enabled,omitempty"`
	CacheTTLSeconds      *int     `json:"cache_ttl_seconds,omitempty"`
	LoggingLevel         *string  `json:"logging_level,omitempty"`
	MetricsEnabled       *bool    `json:"metrics_enabled,omitempty"`
}

// IsZero reports whether no field is set.
func (s MethodSettings) IsZero() bool {
	return s == MethodSettings{}
}

// Overlay returns s with every field set in top replacing its
// counterpart.
func (s MethodSettings) Overlay(top MethodSettings) MethodSettings {
	if top.ThrottlingBurstLimit != nil {
		s.ThrottlingBurstLimit = top.ThrottlingBurstLimit
	}
	if top.ThrottlingRateLimit != nil {
		s.ThrottlingRateLimit = top.ThrottlingRateLimit
	}
	if top.CachingEnabled != nil {
		s.CachingEnabled = top.CachingEnabled
	}
	if top.CacheTTLSeconds != nil {
		s.CacheTTLSeconds = top.CacheTTLSeconds
	}
	if top.LoggingLevel != nil {
		s.LoggingLevel = top.LoggingLevel
	}
	if top.MetricsEnabled != nil {
		s.MetricsEnabled = top.MetricsEnabled
	}
	return s
}

// Satisfies reports whether every field set in want holds the same
// value in s. Fields that want leaves unset are not compared, because the
// gateway reports its own defaults for them.
func (s MethodSettings) Satisfies(want MethodSettings) bool {
	return ptrMatches(s.ThrottlingBurstLimit, want.ThrottlingBurstLimit) &&
		ptrMatches(s.ThrottlingRateLimit, want.ThrottlingRateLimit) &&
		ptrMatches(s.CachingEnabled, want.CachingEnabled) &&
		ptrMatches(s.CacheTTLSeconds, want.CacheTTLSeconds) &&
		ptrMatches(s.LoggingLevel, want.LoggingLevel) &&
		ptrMatches(s.MetricsEnabled, want.MetricsEnabled)
}

func ptrMatches[T comparable](have, want *T) bool {
	if want == nil {
		return true
	}
	return have != nil && *have == *want
}

// Drifted reports whether s holds a value, in a field that want leaves
// unset, other than what the gateway reports for a field never written.
// Such a value survives any patch built from want alone, so the entry
// has to be cleared and written again.
func (s MethodSettings) Drifted(want MethodSettings) bool {
	return lingers(s.ThrottlingBurstLimit, want.ThrottlingBurstLimit, 5000, -1) ||
		lingers(s.ThrottlingRateLimit, want.ThrottlingRateLimit, 10000, -1) ||
		lingers(s.CachingEnabled, want.CachingEnabled, false) ||
		lingers(s.CacheTTLSeconds, want.CacheTTLSeconds, 300) ||
		lingers(s.LoggingLevel, want.LoggingLevel, LoggingOff) ||
		lingers(s.MetricsEnabled, want.MetricsEnabled, false)
}

// lingers reports whether have is set to something other than one of the
// gateway's unset values while want is unset.
func lingers[T comparable](have, want *T, unset ...T) bool {
	if want != nil || have == nil {
		return false
	}
	return !slices.Contains(unset, *have)
}

func (s MethodSettings) validate(route RouteKey) error {
	invalid := func(field string, value any, reason string) error {
		return &InvalidSettingsError{Route: route, Field: field, Value: value, Reason: reason}
	}
	if v := s.ThrottlingBurstLimit; v != nil && *v < 0 {
		return invalid("throttling_burst_limit", *v, "must not be negative")
	}
	if v := s.ThrottlingRateLimit; v != nil && *v < 0 {
		return invalid("throttling_rate_limit", *v, "must not be negative")
	}
	if v := s.CacheTTLSeconds; v != nil && *v < 0 {
		return invalid("cache_ttl_seconds", *v, "must not be negative")
	}
	if v := s.CacheTTLSeconds; v != nil && *v > 3600 {
		return invalid("cache_ttl_seconds", *v, "must not exceed 3600")
	}
	if v := s.LoggingLevel; v != nil && *v != LoggingOff && *v != LoggingError && *v != LoggingInfo {
		return invalid("logging_level", *v, "must be one of OFF, ERROR, INFO")
	}
	return nil
}

// EffectiveSettings is the result of layering the defaults, the wildcard
// override and the per-route overrides.
type EffectiveSettings struct {
	// Base is defaults with the wildcard override applied. It governs
	// every route without a specific entry.
	Base MethodSettings `json:"base"`
	// Routes holds the fully resolved settings of routes with a specific
	// override.
	Routes map[RouteKey]MethodSettings `json:"routes,omitempty"`
}

// For returns the resolved settings of route.
func (e EffectiveSettings) For(route RouteKey) MethodSettings {
	if s, ok := e.Routes[route]; ok {
		return s
	}
	return e.Base
}

// Wire returns the per-stage method settings map as stored on the
// gateway: the base under the wildcard key and every specific route.
func (e EffectiveSettings) Wire() map[RouteKey]MethodSettings {
	out := make(map[RouteKey]MethodSettings, len(e.Routes)+1)
	if !e.Base.IsZero() {
		out[WildcardRoute] = e.Base
	}
	for k, v := range e.Routes {
		out[k] = v
	}
	return out
}

// MergeSettings layers overrides on top of defaults. The wildcard entry
// applies first; a specific route entry then wins field by field. All
// values are validated before anything is returned so that invalid input
// never reaches the gateway.
func MergeSettings(defaults MethodSettings, overrides map[RouteKey]MethodSettings) (EffectiveSettings, error) {
	if err := defaults.validate(""); err != nil {
		if ise, ok := err.(*InvalidSettingsError); ok {
			ise.Field = "default_settings." + ise.Field
		}
		return EffectiveSettings{}, err
	}

	keys := make([]RouteKey, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return EffectiveSettings{}, &InvalidSettingsError{Field: "method_settings", Value: k, Reason: err.Error()}
		}
		if err := overrides[k].validate(k); err != nil {
			return EffectiveSettings{}, err
		}
	}

	base := defaults.Overlay(overrides[WildcardRoute])
	eff := EffectiveSettings{Base: base}
	for _, k := range keys {
		if k == WildcardRoute {
			continue
		}
		if eff.Routes == nil {
			eff.Routes = make(map[RouteKey]MethodSettings)
		}
		eff.Routes[k] = base.Overlay(overrides[k])
	}
	return eff, nil
}

// CacheConfig is the stage cache cluster configuration.
type CacheConfig struct {
	Enabled bool   `json:"enabled"`
	Size    string `json:"size,omitempty"`
}

// DefaultCacheSize is used when the cache is enabled without a size.
const DefaultCacheSize = "0.5"

var cacheSizes = []string{"0.5", "1.6", "6.1", "13.5", "28.4", "58.2", "118", "237"}

// Normalize fills the default size for an enabled cache and clears the
// size of a disabled one.
func (c CacheConfig) Normalize() CacheConfig {
	if !c.Enabled {
		return CacheConfig{}
	}
	if c.Size == "" {
		c.Size = DefaultCacheSize
	}
	return c
}

// Validate checks the cache size against the sizes the gateway offers.
func (c CacheConfig) Validate() error {
	c = c.Normalize()
	if c.Enabled && !slices.Contains(cacheSizes, c.Size) {
		return &InvalidSettingsError{Field: "cache.size", Value: c.Size,
			Reason: "must be one of " + strings.Join(cacheSizes, ", ")}
	}
	return nil
}
