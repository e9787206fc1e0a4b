package coverage

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// ConditionEntityInvolved makes an area required when the case involves a
// company or other legal person.
const ConditionEntityInvolved = "entity_involved"

// Area is one legal taxonomy area.
type Area struct {
	ID                string   `yaml:"-"`
	NameEN            string   `yaml:"name_en"`
	NameAR            string   `yaml:"name_ar"`
	KeywordsAR        []string `yaml:"keywords_ar"`
	KeywordsEN        []string `yaml:"keywords_en"`
	TemplateQueriesAR []string `yaml:"template_queries_ar"`
	MinArticles       int      `yaml:"min_articles"`
	MinSimilarity     float64  `yaml:"min_similarity"`
	ConditionalOn     string   `yaml:"conditional_on"`
}

// Requirements lists the areas checked for one case type.
type Requirements struct {
	RequiredAreas    []string `yaml:"required_areas"`
	ConditionalAreas []string `yaml:"conditional_areas"`
}

// Taxonomy is the set of legal areas and the case types that select them.
type Taxonomy struct {
	Areas        map[string]*Area        `yaml:"legal_areas"`
	Transactions map[string]Requirements `yaml:"transaction_requirements"`
	Default      Requirements            `yaml:"default_requirements"`
}

// Scope is an area selected for a case, with its required flag resolved.
type Scope struct {
	*Area
	Required bool
}

// DefaultTaxonomy returns the embedded power-of-attorney taxonomy.
func DefaultTaxonomy() (*Taxonomy, error) {
	return ParseTaxonomy(defaultTaxonomy)
}

// LoadTaxonomy reads a taxonomy from a YAML file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy decodes and checks a YAML taxonomy.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if len(t.Areas) == 0 {
		return nil, fmt.Errorf("taxonomy defines no legal areas")
	}

	for id, a := range t.Areas {
		if a == nil {
			return nil, fmt.Errorf("legal area %q is empty", id)
		}
		a.ID = id
		if a.NameEN == "" {
			a.NameEN = id
		}
		if a.NameAR == "" {
			a.NameAR = id
		}
		if len(a.KeywordsAR) == 0 && len(a.KeywordsEN) == 0 {
			return nil, fmt.Errorf("legal area %q has no keywords", id)
		}
	}

	check := func(owner string, r Requirements) error {
		for _, id := range append(append([]string(nil), r.RequiredAreas...), r.ConditionalAreas...) {
			if _, ok := t.Areas[id]; !ok {
				return fmt.Errorf("%s references unknown legal area %q", owner, id)
			}
		}
		return nil
	}
	if err := check("default_requirements", t.Default); err != nil {
		return nil, err
	}
	for name, r := range t.Transactions {
		if err := check("transaction "+name, r); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// Select returns the areas checked for caseType, ordered by id. Unknown case
// types use the default requirements. A conditional area is required only
// when its condition holds.
func (t *Taxonomy) Select(caseType string, hasEntity bool) []Scope {
	req, ok := t.Transactions[caseType]
	if !ok {
		req = t.Default
	}

	required := make(map[string]bool, len(req.RequiredAreas)+len(req.ConditionalAreas))
	for _, id := range req.ConditionalAreas {
		a := t.Areas[id]
		required[id] = a.ConditionalOn == ConditionEntityInvolved && hasEntity
	}
	for _, id := range req.RequiredAreas {
		required[id] = true
	}

	out := make([]Scope, 0, len(required))
	for id, r := range required {
		out = append(out, Scope{Area: t.Areas[id], Required: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Area returns the area with id, or nil.
func (t *Taxonomy) Area(id string) *Area {
	return t.Areas[id]
}
