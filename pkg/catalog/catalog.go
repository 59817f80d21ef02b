// Package catalog holds the model catalog: which models exist, which provider
// serves each of them and what they cost.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultModels []byte

// Category groups models by intended use.
type Category string

const (
	CategoryStandard   Category = "standard"
	CategoryComplex    Category = "complex"
	CategoryFast       Category = "fast"
	CategoryCoding     Category = "coding"
	CategoryImage      Category = "image"
	CategoryMultimodal Category = "multimodal"
)

// Model is a catalog entry.
type Model struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Provider        Provider `yaml:"provider" json:"provider"`
	Category        Category `yaml:"category" json:"category"`
	CostPer1KTokens float64  `yaml:"cost_per_1k_tokens" json:"costPer1kTokens"`
}

// Cost returns the accrued cost of the given token count.
func (m Model) Cost(tokens int64) float64 {
	return float64(tokens) / 1000 * m.CostPer1KTokens
}

// Catalog is an immutable set of models indexed by id.
type Catalog struct {
	models map[string]Model
	order  []string
}

type catalogFile struct {
	Models []Model `yaml:"models"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultModels)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded models are invalid: %v", err))
	}
	return c
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}
	return New(f.Models...)
}

// New builds a catalog from models, rejecting duplicates and unknown providers.
func New(models ...Model) (*Catalog, error) {
	c := &Catalog{models: make(map[string]Model, len(models))}
	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model without id")
		}
		p, err := ParseProvider(string(m.Provider))
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.ID, err)
		}
		m.Provider = p
		if _, dup := c.models[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model %s", m.ID)
		}
		c.models[m.ID] = m
		c.order = append(c.order, m.ID)
	}
	return c, nil
}

// Lookup returns the model with the given id.
func (c *Catalog) Lookup(id string) (Model, bool) {
	m, ok := c.models[id]
	return m, ok
}

// List returns the models in a category, or every model when category is
// empty, in catalog order.
func (c *Catalog) List(category Category) []Model {
	out := make([]Model, 0, len(c.order))
	for _, id := range c.order {
		m := c.models[id]
		if category == "" || m.Category == category {
			out = append(out, m)
		}
	}
	return out
}

// ByProvider groups model ids by provider.
func (c *Catalog) ByProvider() map[Provider][]string {
	out := make(map[Provider][]string)
	for _, id := range c.order {
		m := c.models[id]
		out[m.Provider] = append(out[m.Provider], id)
	}
	for p := range out {
		sort.Strings(out[p])
	}
	return out
}

// Len returns the number of models.
func (c *Catalog) Len() int {
	return len(c.models)
}
