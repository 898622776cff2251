package registry

import "github.com/forgecrate/registry/pkg/domain"

// PublishMetadata is the JSON object clients send as the metadata
// segment of a publish frame (spec.md §4.5 step 2). It is a superset of
// domain.IndexEntry: fields like description and categories exist on
// the wire but are not part of the persisted index schema (spec.md §3).
type PublishMetadata struct {
	Name        string              `json:"name"`
	Vers        string              `json:"vers"`
	Deps        []PublishDependency `json:"deps"`
	Features    map[string][]string `json:"features"`
	Links       string              `json:"links,omitempty"`
	Description string              `json:"description,omitempty"`
	Categories  []string            `json:"categories,omitempty"`
	Badges      map[string]any      `json:"badges,omitempty"`
}

// PublishDependency mirrors domain.Dependency on the wire.
type PublishDependency struct {
	Name            string   `json:"name"`
	VersionReq      string   `json:"version_req"`
	Features        []string `json:"features"`
	DefaultFeatures bool     `json:"default_features"`
	Kind            string   `json:"kind"`
	Registry        string   `json:"registry,omitempty"`
	ExplicitName    string   `json:"explicit_name_in_toml,omitempty"`
	Target          string   `json:"target,omitempty"`
}

func (m PublishMetadata) toDependencies() []domain.Dependency {
	deps := make([]domain.Dependency, 0, len(m.Deps))
	for _, d := range m.Deps {
		deps = append(deps, domain.Dependency{
			Name:            d.Name,
			Req:             d.VersionReq,
			Features:        d.Features,
			DefaultFeatures: d.DefaultFeatures,
			Kind:            domain.DepKind(d.Kind),
			Registry:        d.Registry,
			Package:         d.ExplicitName,
			Target:          d.Target,
		})
	}
	return deps
}

// Warnings is the publish response envelope (spec.md §6).
type Warnings struct {
	InvalidCategories []string `json:"invalid_categories"`
	InvalidBadges     []string `json:"invalid_badges"`
	Other             []string `json:"other"`
}
