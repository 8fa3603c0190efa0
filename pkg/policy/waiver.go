package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// waiverFile is the on-disk format of a waiver file.
type waiverFile struct {
	Waivers []Waiver `yaml:"waivers"`
}

// LoadWaivers reads waivers from a YAML file. Every waiver must name a
// policy and carry a justification.
func LoadWaivers(path string) ([]Waiver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read waiver file: %w", err)
	}

	var file waiverFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse waiver file %s: %w", path, err)
	}

	for i := range file.Waivers {
		w := &file.Waivers[i]
		if w.Policy == "" {
			return nil, fmt.Errorf("waiver %d in %s has no policy", i, path)
		}
		if w.Justification == "" {
			return nil, fmt.Errorf("waiver for policy %s has no justification", w.Policy)
		}
	}

	return file.Waivers, nil
}
