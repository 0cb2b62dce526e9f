package policy

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/ecoscore/internal/normalize"
)

// keyDelimiter separates koanf key paths. Mapping tables are keyed by
// decimal strings such as "2.5", so "." cannot be used.
const keyDelimiter = "/"

// Document is the YAML structure of a policies file.
type Document struct {
	Version   string     `koanf:"version"`
	Verticals []Vertical `koanf:"verticals"`
}

// Defaults returns the policy every vertical is merged over.
func Defaults() Vertical {
	return Vertical{
		Scale:             normalize.DefaultScale(),
		Degenerate:        string(normalize.DegenerateNeutral),
		CompletenessScore: DefaultCompletenessName,
		Brand:             BrandRule{Score: DefaultBrandScoreName},
		Composite:         Composite{Name: DefaultCompositeName},
	}
}

// Merge applies the explicitly set fields of override on top of base.
// Maps and slices replace the base value when non-empty; an unset scale
// (both bounds zero) keeps the base scale.
func Merge(base, override Vertical) Vertical {
	result := base

	if override.ID != "" {
		result.ID = override.ID
	}
	if override.Scale != (normalize.Scale{}) {
		result.Scale = override.Scale
	}
	if override.Degenerate != "" {
		result.Degenerate = override.Degenerate
	}
	if override.LegacyPercentile {
		result.LegacyPercentile = true
	}
	if override.CompletenessScore != "" {
		result.CompletenessScore = override.CompletenessScore
	}
	if override.Brand.Score != "" {
		result.Brand.Score = override.Brand.Score
	}
	if override.Brand.Source != "" {
		result.Brand.Source = override.Brand.Source
	}
	if len(override.Attributes) > 0 {
		result.Attributes = override.Attributes
	}
	if len(override.Criteria) > 0 {
		result.Criteria = override.Criteria
	}
	if override.Composite.Name != "" {
		result.Composite.Name = override.Composite.Name
	}
	if len(override.Composite.Weights) > 0 {
		result.Composite.Weights = override.Composite.Weights
	}

	return result
}

// Load reads a policies YAML file, merges each vertical over Defaults and
// validates it. An empty path yields an empty registry.
func Load(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return NewRegistry(), nil
	}

	k := koanf.New(keyDelimiter)
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load policies file: %w", err)
	}

	var doc Document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policies file: %w", err)
	}

	registry := NewRegistry()
	defaults := Defaults()
	for _, raw := range doc.Verticals {
		merged := Merge(defaults, raw)
		if err := registry.Add(merged); err != nil {
			return nil, err
		}
		logOverrides(logger, defaults, merged)
	}

	logger.Info("loaded scoring policies",
		"path", path,
		"version", doc.Version,
		"verticals", registry.IDs())

	return registry, nil
}

// logOverrides logs which vertical settings differ from the defaults.
func logOverrides(logger *slog.Logger, defaults, loaded Vertical) {
	var overrides []string

	if loaded.Scale != defaults.Scale {
		overrides = append(overrides, fmt.Sprintf("scale: [%g, %g] -> [%g, %g]",
			defaults.Scale.Min, defaults.Scale.Max, loaded.Scale.Min, loaded.Scale.Max))
	}
	if loaded.Degenerate != defaults.Degenerate {
		overrides = append(overrides, fmt.Sprintf("degenerate: %s -> %s", defaults.Degenerate, loaded.Degenerate))
	}
	if loaded.LegacyPercentile {
		overrides = append(overrides, "legacy_percentile: false -> true")
	}
	if loaded.CompositeName() != defaults.CompositeName() {
		overrides = append(overrides, fmt.Sprintf("composite.name: %s -> %s", defaults.CompositeName(), loaded.CompositeName()))
	}

	legacy := 0
	for _, rule := range loaded.Attributes {
		if c, ok := loaded.Criteria[rule.ScoreName()]; !ok || c.Method == "" {
			legacy++
		}
	}

	logger.Info("loaded vertical policy",
		"vertical", loaded.ID,
		"attributes", len(loaded.Attributes),
		"criteria", len(loaded.Criteria),
		"composite_weights", len(loaded.Composite.Weights),
		"legacy_normalized", legacy,
		"overrides", overrides)
}

// Registry indexes vertical policies by id. It is read-only after loading.
type Registry struct {
	verticals map[string]*Vertical
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{verticals: make(map[string]*Vertical)}
}

// Add validates v and registers it, replacing any vertical with the same id.
func (r *Registry) Add(v Vertical) error {
	if err := v.Validate(); err != nil {
		return err
	}
	r.verticals[v.ID] = &v
	return nil
}

// Get returns the policy of a vertical.
func (r *Registry) Get(id string) (*Vertical, error) {
	v, ok := r.verticals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVerticalNotFound, id)
	}
	return v, nil
}

// IDs returns the registered vertical ids in ascending order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.verticals))
	for id := range r.verticals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
