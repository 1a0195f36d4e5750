package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Load returns the defaults overlaid with the YAML file at path. A missing file is not an
// error unless required is set; the defaults are returned as they are.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		path = FileName
	}

	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the DEVTOOLS_* environment variables that are set. Fields whose
// variable is unset keep their value.
func ApplyEnv(cfg *Config) error {
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to decode environment: %w", err)
	}
	return nil
}
