package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Batch is a file describing several runs. Fields left empty in a run are
// taken from Defaults, then from the command line.
type Batch struct {
	Defaults Settings   `yaml:"defaults" toml:"defaults"`
	Runs     []Settings `yaml:"runs" toml:"runs"`
}

// LoadBatch reads a batch file, YAML or TOML by extension, and returns its
// runs with defaults applied. Each run is validated.
func LoadBatch(path string, base *Settings) ([]*Settings, error) {
	data, err := os.ReadFile(path) // #nosec G304 - batch file path from the command line
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	var b Batch
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("%w: parse batch file %s: %v", ErrInvalid, path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &b); err != nil {
			return nil, fmt.Errorf("%w: parse batch file %s: %v", ErrInvalid, path, err)
		}
	default:
		return nil, fmt.Errorf("%w: batch file %s must be .yaml, .yml or .toml", ErrInvalid, path)
	}
	if len(b.Runs) == 0 {
		return nil, fmt.Errorf("%w: batch file %s lists no runs", ErrInvalid, path)
	}

	runs := make([]*Settings, 0, len(b.Runs))
	for i := range b.Runs {
		run := b.Runs[i]
		run.Inherit(&b.Defaults)
		if base != nil {
			run.Inherit(base)
		}
		if err := run.Validate(); err != nil {
			return nil, fmt.Errorf("batch run %d (%s): %w", i+1, run.Project, err)
		}
		runs = append(runs, &run)
	}
	return runs, nil
}
