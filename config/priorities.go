package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/chris/shadow/internal/category"
	"gopkg.in/yaml.v3"
)

// Priorities is the seed data for the priority table and the classifier's
// rule text. Rules is empty when the file doesn't set it.
type Priorities struct {
	Weights map[category.Category]int
	Rules   string
}

type prioritiesFile struct {
	Weights map[string]int `yaml:"weights"`
	Rules   string         `yaml:"rules"`
}

// LoadPriorities reads path over the default weights. A missing file is not
// an error.
func LoadPriorities(path string) (Priorities, error) {
	p := Priorities{Weights: make(map[category.Category]int, len(category.DefaultPriorities))}
	for cat, w := range category.DefaultPriorities {
		p.Weights[cat] = w
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return Priorities{}, fmt.Errorf("reading priorities: %w", err)
	}

	var f prioritiesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Priorities{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	for name, w := range f.Weights {
		cat, ok := category.Parse(name)
		if !ok {
			return Priorities{}, fmt.Errorf("%s: unknown category %q", path, name)
		}
		if !category.ValidWeight(w) {
			return Priorities{}, fmt.Errorf("%s: weight for %s must be %d-%d, got %d", path, name, category.MinWeight, category.MaxWeight, w)
		}
		p.Weights[cat] = w
	}
	p.Rules = f.Rules
	return p, nil
}
