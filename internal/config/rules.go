package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sentrywire/internal/rules"
)

// LoadRules reads the declarative rules configuration YAML from path.
// A missing file is not an error: spec.md §6's defaults apply.
func LoadRules(path string) (rules.Config, error) {
	cfg := rules.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse rules file: %w", err)
	}
	return cfg, nil
}
