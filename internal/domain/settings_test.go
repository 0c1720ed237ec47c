package domain_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

func TestMergeSettings_Precedence(t *testing.T) {
	eff, err := domain.MergeSettings(
		domain.MethodSettings{ThrottlingBurstLimit: intPtr(10)},
		map[domain.RouteKey]domain.MethodSettings{
			"*/*":        {ThrottlingBurstLimit: intPtr(20)},
			"GET /users": {ThrottlingBurstLimit: intPtr(30)},
		},
	)
	if err != nil {
		t.Fatalf("MergeSettings: %v", err)
	}

	if got := *eff.For("GET /users").ThrottlingBurstLimit; got != 30 {
		t.Errorf("GET /users burst = %d, want 30", got)
	}
	if got := *eff.For("POST /users").ThrottlingBurstLimit; got != 20 {
		t.Errorf("POST /users burst = %d, want 20", got)
	}
}

func TestMergeSettings_FieldByFieldInheritance(t *testing.T) {
	eff, err := domain.MergeSettings(
		domain.MethodSettings{
			ThrottlingBurstLimit: intPtr(10),
			ThrottlingRateLimit:  floatPtr(5),
			LoggingLevel:         stringPtr(domain.LoggingError),
		},
		map[domain.RouteKey]domain.MethodSettings{
			"*/*":        {CachingEnabled: boolPtr(true), CacheTTLSeconds: intPtr(300)},
			"GET /users": {CacheTTLSeconds: intPtr(60), LoggingLevel: stringPtr(domain.LoggingInfo)},
		},
	)
	if err != nil {
		t.Fatalf("MergeSettings: %v", err)
	}

	want := domain.MethodSettings{
		ThrottlingBurstLimit: intPtr(10),
		ThrottlingRateLimit:  floatPtr(5),
		CachingEnabled:       boolPtr(true),
		CacheTTLSeconds:      intPtr(60),
		LoggingLevel:         stringPtr(domain.LoggingInfo),
	}
	if diff := cmp.Diff(want, eff.For("GET /users")); diff != "" {
		t.Errorf("GET /users settings mismatch (-want +got):\n%s", diff)
	}

	wantBase := domain.MethodSettings{
		ThrottlingBurstLimit: intPtr(10),
		ThrottlingRateLimit:  floatPtr(5),
		CachingEnabled:       boolPtr(true),
		CacheTTLSeconds:      intPtr(300),
		LoggingLevel:         stringPtr(domain.LoggingError),
	}
	if diff := cmp.Diff(wantBase, eff.Base); diff != "" {
		t.Errorf("base settings mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeSettings_NoOverridesYieldsDefaults(t *testing.T) {
	defaults := domain.MethodSettings{ThrottlingRateLimit: floatPtr(50)}
	eff, err := domain.MergeSettings(defaults, nil)
	if err != nil {
		t.Fatalf("MergeSettings: %v", err)
	}
	if diff := cmp.Diff(defaults, eff.For("DELETE /users/{id}")); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
	wire := eff.Wire()
	if len(wire) != 1 {
		t.Fatalf("Wire has %d entries, want 1", len(wire))
	}
	if _, ok := wire[domain.WildcardRoute]; !ok {
		t.Errorf("Wire lacks %q entry", domain.WildcardRoute)
	}
}

func TestMergeSettings_EmptyEverythingHasNoWireEntries(t *testing.T) {
	eff, err := domain.MergeSettings(domain.MethodSettings{}, nil)
	if err != nil {
		t.Fatalf("MergeSettings: %v", err)
	}
	if wire := eff.Wire(); len(wire) != 0 {
		t.Errorf("Wire = %v, want empty", wire)
	}
}

func TestMergeSettings_RejectsNegativeValues(t *testing.T) {
	cases := map[string]struct {
		defaults  domain.MethodSettings
		overrides map[domain.RouteKey]domain.MethodSettings
		field     string
	}{
		"wildcard ttl": {
			overrides: map[domain.RouteKey]domain.MethodSettings{"*/*": {CacheTTLSeconds: intPtr(-1)}},
			field:     "cache_ttl_seconds",
		},
		"route burst": {
			overrides: map[domain.RouteKey]domain.MethodSettings{"GET /users": {ThrottlingBurstLimit: intPtr(-5)}},
			field:     "throttling_burst_limit",
		},
		"default rate": {
			defaults: domain.MethodSettings{ThrottlingRateLimit: floatPtr(-0.5)},
			field:    "default_settings.throttling_rate_limit",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := domain.MergeSettings(tc.defaults, tc.overrides)
			var ise *domain.InvalidSettingsError
			if !errors.As(err, &ise) {
				t.Fatalf("MergeSettings: got %v, want InvalidSettingsError", err)
			}
			if ise.Field != tc.field {
				t.Errorf("Field = %q, want %q", ise.Field, tc.field)
			}
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("error does not match ErrInvalidArgument: %v", err)
			}
		})
	}
}

func TestMergeSettings_RejectsMalformedRouteAndLoggingLevel(t *testing.T) {
	_, err := domain.MergeSettings(domain.MethodSettings{}, map[domain.RouteKey]domain.MethodSettings{
		"users/GET": {},
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("malformed route: got %v, want ErrInvalidArgument", err)
	}

	_, err = domain.MergeSettings(domain.MethodSettings{LoggingLevel: stringPtr("DEBUG")}, nil)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("bad logging level: got %v, want ErrInvalidArgument", err)
	}
}

func TestRouteKey_Parts(t *testing.T) {
	k := domain.NewRouteKey("get", "/users/{id}")
	if k != "GET /users/{id}" {
		t.Fatalf("NewRouteKey = %q", k)
	}
	if k.Method() != "GET" || k.Path() != "/users/{id}" {
		t.Errorf("Method/Path = %q %q", k.Method(), k.Path())
	}
	if domain.WildcardRoute.Method() != "*" || domain.WildcardRoute.Path() != "*" {
		t.Errorf("wildcard parts = %q %q", domain.WildcardRoute.Method(), domain.WildcardRoute.Path())
	}
}

func TestCacheConfig_Validate(t *testing.T) {
	if err := (domain.CacheConfig{Enabled: true}).Validate(); err != nil {
		t.Errorf("enabled without size: %v", err)
	}
	if got := (domain.CacheConfig{Enabled: true}).Normalize().Size; got != domain.DefaultCacheSize {
		t.Errorf("normalized size = %q, want %q", got, domain.DefaultCacheSize)
	}
	if err := (domain.CacheConfig{Enabled: true, Size: "2"}).Validate(); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("bad size: got %v, want ErrInvalidArgument", err)
	}
	if err := (domain.CacheConfig{Enabled: false, Size: "2"}).Validate(); err != nil {
		t.Errorf("disabled cache ignores size: %v", err)
	}
}

func TestMethodSettings_Satisfies(t *testing.T) {
	have := domain.MethodSettings{
		ThrottlingBurstLimit: intPtr(5000),
		ThrottlingRateLimit:  floatPtr(10000),
		CachingEnabled:       boolPtr(false),
		CacheTTLSeconds:      intPtr(300),
		LoggingLevel:         stringPtr(domain.LoggingOff),
	}
	if !have.Satisfies(domain.MethodSettings{CacheTTLSeconds: intPtr(300)}) {
		t.Error("Satisfies: unset fields must not be compared")
	}
	if have.Satisfies(domain.MethodSettings{ThrottlingBurstLimit: intPtr(10)}) {
		t.Error("Satisfies: differing burst must not satisfy")
	}
	if (domain.MethodSettings{}).Satisfies(domain.MethodSettings{MetricsEnabled: boolPtr(false)}) {
		t.Error("Satisfies: missing field must not satisfy a wanted value")
	}
}

func TestMethodSettings_Drifted(t *testing.T) {
	gatewayDefaults := domain.MethodSettings{
		ThrottlingBurstLimit: intPtr(5000),
		ThrottlingRateLimit:  floatPtr(10000),
		CachingEnabled:       boolPtr(false),
		CacheTTLSeconds:      intPtr(300),
		LoggingLevel:         stringPtr(domain.LoggingOff),
		MetricsEnabled:       boolPtr(false),
	}
	if gatewayDefaults.Drifted(domain.MethodSettings{}) {
		t.Error("Drifted: values the gateway reports for unset fields are not drift")
	}
	if (domain.MethodSettings{ThrottlingBurstLimit: intPtr(-1)}).Drifted(domain.MethodSettings{}) {
		t.Error("Drifted: an unlimited burst is not drift")
	}

	tests := []struct {
		name  string
		have  domain.MethodSettings
		want  domain.MethodSettings
		drift bool
	}{
		{"burst dropped", domain.MethodSettings{ThrottlingBurstLimit: intPtr(10)}, domain.MethodSettings{}, true},
		{"burst still wanted", domain.MethodSettings{ThrottlingBurstLimit: intPtr(10)}, domain.MethodSettings{ThrottlingBurstLimit: intPtr(20)}, false},
		{"caching dropped", domain.MethodSettings{CachingEnabled: boolPtr(true)}, domain.MethodSettings{}, true},
		{"logging dropped", domain.MethodSettings{LoggingLevel: stringPtr(domain.LoggingInfo)}, domain.MethodSettings{}, true},
		{"nothing set", domain.MethodSettings{}, domain.MethodSettings{MetricsEnabled: boolPtr(true)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.have.Drifted(tt.want); got != tt.drift {
				t.Errorf("Drifted = %v, want %v", got, tt.drift)
			}
		})
	}
}
