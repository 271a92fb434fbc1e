package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"contact-import/internal/logging"

	"github.com/Knetic/govaluate"
)

// Define known valid enum values for configuration fields.
var (
	knownLogLevels   = []string{"none", "error", "warn", "warning", "info", "debug"}
	knownSourceTypes = []string{"", SourceTypeXLSX, SourceTypeCSV}
)

// isValidEnumValue checks if a value is present in a list of allowed string values (case-insensitive).
func isValidEnumValue(value string, allowedValues []string) bool {
	lowerValue := strings.ToLower(value)
	for _, allowed := range allowedValues {
		if lowerValue == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// ValidateConfig checks the whole configuration and reports every problem at once.
func ValidateConfig(cfg *ImportConfig) error {
	var allErrors []string

	if !isValidEnumValue(cfg.Logging.Level, knownLogLevels) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Logging.Level: invalid log level '%s', must be one of %v", cfg.Logging.Level, knownLogLevels))
	}

	allErrors = append(allErrors, validateSourceConfig("Config.Source", &cfg.Source)...)

	if cfg.Filter != "" {
		if _, err := govaluate.NewEvaluableExpression(cfg.Filter); err != nil {
			allErrors = append(allErrors, fmt.Sprintf("- Config.Filter: invalid expression syntax: %v", err))
		}
	}

	if cfg.Import.Workers > MaxWorkers {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Import.Workers: %d exceeds the maximum of %d", cfg.Import.Workers, MaxWorkers))
	}
	if cfg.Import.Workers > 1 && cfg.Import.AtomicRows {
		logging.Logf(logging.Debug, "Validation: atomic rows with %d workers uses one transaction per row and lane", cfg.Import.Workers)
	}

	if cfg.Database.Timeout < 0 {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Database.Timeout: must not be negative, got %s", cfg.Database.Timeout))
	}

	if len(allErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(allErrors, "\n"))
	}
	logging.Logf(logging.Debug, "Configuration validation successful.")
	return nil
}

// validateSourceConfig validates the Source section of the configuration.
func validateSourceConfig(prefix string, cfg *SourceConfig) []string {
	var errs []string
	if !isValidEnumValue(cfg.Type, knownSourceTypes) {
		errs = append(errs, fmt.Sprintf("- %s.Type: invalid source type '%s', must be one of %v", prefix, cfg.Type, knownSourceTypes[1:]))
		return errs
	}

	if strings.ToLower(cfg.Type) == SourceTypeCSV || cfg.Delimiter != "" || cfg.CommentChar != "" {
		if err := validateSingleRuneString(cfg.Delimiter, prefix+".Delimiter", true); err != nil {
			errs = append(errs, err.Error())
		}
		if err := validateSingleRuneString(cfg.CommentChar, prefix+".CommentChar", true); err != nil {
			errs = append(errs, err.Error())
		}
		if cfg.Delimiter != "" && cfg.Delimiter == cfg.CommentChar {
			errs = append(errs, fmt.Sprintf("- %s: delimiter and comment character must differ", prefix))
		}
	}
	if strings.ToLower(cfg.Type) == SourceTypeXLSX && (cfg.Delimiter != "" || cfg.CommentChar != "") {
		logging.Logf(logging.Warning, "Validation: %s.Delimiter/CommentChar are ignored for source type 'xlsx'", prefix)
	}
	return errs
}

// validateSingleRuneString ensures a string option is exactly one character.
func validateSingleRuneString(value, fieldName string, allowEmpty bool) error {
	if value == "" {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("- %s: is required", fieldName)
	}
	if utf8.RuneCountInString(value) != 1 {
		return fmt.Errorf("- %s: must be a single character, got '%s'", fieldName, value)
	}
	if value == "\r" || value == "\n" || value == "\uFFFD" {
		return fmt.Errorf("- %s: invalid character %q", fieldName, value)
	}
	return nil
}
