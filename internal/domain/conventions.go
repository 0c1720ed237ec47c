package domain

import (
	"fmt"
	"maps"

	"dario.cat/mergo"
)

// Default managed-marker tag.
const (
	DefaultMarkerKey   = "apigw-reconciler:managed-by"
	DefaultMarkerValue = "apigw-reconciler"
)

// Conventions is the cross-cutting configuration applied to every stage:
// shared default tags and the managed-marker tag that tells the
// reconciler's own stages apart from foreign ones.
type Conventions struct {
	MarkerKey   string            `json:"marker_key"`
	MarkerValue string            `json:"marker_value"`
	DefaultTags map[string]string `json:"default_tags,omitempty"`
}

// DefaultConventions returns conventions with the default marker and no
// shared tags.
func DefaultConventions() Conventions {
	return Conventions{MarkerKey: DefaultMarkerKey, MarkerValue: DefaultMarkerValue}
}

func (c Conventions) marker() (string, string) {
	key, value := c.MarkerKey, c.MarkerValue
	if key == "" {
		key = DefaultMarkerKey
	}
	if value == "" {
		value = DefaultMarkerValue
	}
	return key, value
}

// IsManaged reports whether tags carry the managed marker.
func (c Conventions) IsManaged(tags map[string]string) bool {
	key, value := c.marker()
	return tags[key] == value
}

// StageTags layers the default tags under the stage's own tags and sets
// the managed marker on top.
func (c Conventions) StageTags(stageTags map[string]string) (map[string]string, error) {
	out := maps.Clone(stageTags)
	if out == nil {
		out = make(map[string]string, len(c.DefaultTags)+1)
	}
	if len(c.DefaultTags) > 0 {
		if err := mergo.Merge(&out, c.DefaultTags); err != nil {
			return nil, fmt.Errorf("merge default tags: %w", err)
		}
	}
	key, value := c.marker()
	out[key] = value
	return out, nil
}
