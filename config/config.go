// Package config loads optional on-disk YAML defaults for gosync-demo, the
// same shape n-backup's internal/config package uses for its agent/server
// YAML files: a plain struct with yaml tags, unmarshaled as is (Load applies
// no defaults of its own), with flags on the command line free to override
// anything it sets.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Demo holds the fields cmd/gosync-demo also exposes as flags. A flag
// explicitly passed on the command line always wins over the value loaded
// here; Load only fills in defaults for whatever the file sets.
type Demo struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Delete      bool   `yaml:"delete"`
	Compress    bool   `yaml:"compress"`
	CachePath   string `yaml:"cache_path"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load reads and parses a Demo config from path.
func Load(path string) (*Demo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Demo
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
