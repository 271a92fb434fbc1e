package io

import (
	"fmt"
	"path/filepath"
	"strings"

	"contact-import/internal/config"
	"contact-import/internal/logging"
)

// SourceTypeFromPath derives the source type from a file name extension.
// It returns "" for unknown extensions.
func SourceTypeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return config.SourceTypeXLSX
	case ".csv", ".txt":
		return config.SourceTypeCSV
	default:
		return ""
	}
}

// NewSheetReader creates and returns an appropriate SheetReader. An explicit
// cfg.Type wins; otherwise the type is derived from the extension of path.
func NewSheetReader(cfg config.SourceConfig, path string) (SheetReader, error) {
	sourceType := strings.ToLower(cfg.Type)
	if sourceType == "" {
		sourceType = SourceTypeFromPath(path)
	}
	logging.Logf(logging.Debug, "Creating sheet reader for type: %s", sourceType)

	switch sourceType {
	case config.SourceTypeXLSX:
		return NewXLSXReader(), nil
	case config.SourceTypeCSV:
		reader, err := NewCSVReader(cfg.Delimiter, cfg.CommentChar)
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV reader: %w", err)
		}
		return reader, nil
	case "":
		return nil, fmt.Errorf("cannot determine source type of '%s'; set source.type to 'xlsx' or 'csv'", path)
	default:
		return nil, fmt.Errorf("unsupported source type '%s'", cfg.Type)
	}
}

// NewFailureWriter creates the writer for the failed-rows file.
func NewFailureWriter(path string) (FailureWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("failure file path must not be empty")
	}
	writer, err := NewCSVFailureWriter(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create failure writer: %w", err)
	}
	return writer, nil
}
