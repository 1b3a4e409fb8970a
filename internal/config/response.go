package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sentrywire/internal/respond"
)

// LoadResponse reads the declarative response configuration YAML from
// path. A missing file is not an error: spec.md §4.8's defaults apply.
func LoadResponse(path string) (respond.Config, error) {
	cfg := respond.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read response file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse response file: %w", err)
	}
	return cfg, nil
}
