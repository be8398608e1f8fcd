package evaluation

import (
	_ "embed"
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

//go:embed criteria.yaml
var criteriaYAML []byte

const (
	MinRating = 0
	MaxRating = 5
)

type Subcriterion struct {
	ID         string  `yaml:"id" json:"id"`
	Name       string  `yaml:"name" json:"name"`
	Weight     float64 `yaml:"weight" json:"weight"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

type Category struct {
	ID          int            `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Weight      float64        `yaml:"weight" json:"weight"`
	Subcriteria []Subcriterion `yaml:"subcriteria" json:"subcriteria"`
}

type Criteria struct {
	Categories []Category `yaml:"categories" json:"categories"`
}

var defaultCriteria = mustLoadCriteria(criteriaYAML)

func mustLoadCriteria(raw []byte) Criteria {
	c, err := LoadCriteria(raw)
	if err != nil {
		panic(fmt.Sprintf("embedded criteria: %v", err))
	}
	return c
}

// DefaultCriteria is the fixed evaluation table.
func DefaultCriteria() Criteria {
	return defaultCriteria
}

// LoadCriteria parses a criteria table and checks that weights add up to 100
// and that every multiplier equals weight / 5.
func LoadCriteria(raw []byte) (Criteria, error) {
	var c Criteria
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Criteria{}, fmt.Errorf("parse criteria: %w", err)
	}
	if len(c.Categories) == 0 {
		return Criteria{}, errors.New("criteria: no categories")
	}
	seen := map[string]struct{}{}
	total := 0.0
	for _, cat := range c.Categories {
		sub := 0.0
		for _, s := range cat.Subcriteria {
			if s.ID == "" {
				return Criteria{}, fmt.Errorf("criteria: category %q has a subcriterion without id", cat.Name)
			}
			if _, dup := seen[s.ID]; dup {
				return Criteria{}, fmt.Errorf("criteria: duplicate subcriterion %s", s.ID)
			}
			seen[s.ID] = struct{}{}
			if !approxEqual(s.Multiplier, s.Weight/MaxRating) {
				return Criteria{}, fmt.Errorf("criteria: %s multiplier %.2f does not match weight %.2f", s.ID, s.Multiplier, s.Weight)
			}
			sub += s.Weight
		}
		if !approxEqual(sub, cat.Weight) {
			return Criteria{}, fmt.Errorf("criteria: category %q weights sum to %.2f, want %.2f", cat.Name, sub, cat.Weight)
		}
		total += cat.Weight
	}
	if !approxEqual(total, 100) {
		return Criteria{}, fmt.Errorf("criteria: category weights sum to %.2f, want 100", total)
	}
	return c, nil
}

func (c Criteria) Subcriterion(id string) (Subcriterion, bool) {
	for _, cat := range c.Categories {
		for _, s := range cat.Subcriteria {
			if s.ID == id {
				return s, true
			}
		}
	}
	return Subcriterion{}, false
}

// MultiplierSum is 20 for a valid table.
func (c Criteria) MultiplierSum() float64 {
	sum := 0.0
	for _, cat := range c.Categories {
		for _, s := range cat.Subcriteria {
			sum += s.Multiplier
		}
	}
	return roundScore(sum)
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
