package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultMaxUploadBytes = 32 << 20

// LoadConfig reads, parses, and validates the YAML configuration file.
// It applies defaults before returning the validated configuration.
func LoadConfig(filename string) (*ImportConfig, error) {
	fileBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filename, err)
	}

	var cfg ImportConfig
	if err := yaml.Unmarshal(fileBytes, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in '%s': %w", filename, err)
	}

	ApplyDefaults(&cfg)
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration populated with defaults only, used when no
// configuration file exists.
func Default() *ImportConfig {
	cfg := &ImportConfig{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for unset configuration fields.
func ApplyDefaults(cfg *ImportConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Source.Type == SourceTypeCSV && cfg.Source.Delimiter == "" {
		cfg.Source.Delimiter = DefaultCSVDelimiter
	}
	if cfg.Database.Timeout <= 0 {
		cfg.Database.Timeout = DefaultDBTimeout
	}
	if cfg.Import.Workers <= 0 {
		cfg.Import.Workers = DefaultWorkers
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		cfg.Server.MaxUploadBytes = defaultMaxUploadBytes
	}
}
