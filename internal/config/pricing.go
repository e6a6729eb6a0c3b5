package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PricingOverride is one entry in the optional pricing override file. Prices
// are USD per 1M tokens, matching the seeded table's units.
type PricingOverride struct {
	Model            string  `yaml:"model"`
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

type pricingFile struct {
	Models []PricingOverride `yaml:"models"`
}

// LoadPricingOverrides reads the YAML pricing file configured via
// PRICING_PATH. An empty path returns no overrides; a malformed file is an
// error.
func LoadPricingOverrides(path string) ([]PricingOverride, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}

	var pf pricingFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}

	for _, m := range pf.Models {
		if m.Model == "" {
			return nil, fmt.Errorf("pricing file: entry with empty model name")
		}
		if m.InputPerMillion < 0 || m.OutputPerMillion < 0 {
			return nil, fmt.Errorf("pricing file: negative price for %s", m.Model)
		}
	}

	return pf.Models, nil
}
