package config

import "time"

// Define constants for configuration keys, types and defaults.
const (
	SourceTypeXLSX = "xlsx"
	SourceTypeCSV  = "csv"

	DefaultLogLevel     = "info"
	DefaultCSVDelimiter = ","
	DefaultDBTimeout    = 30 * time.Second
	DefaultWorkers      = 1
	MaxWorkers          = 64
	DefaultServerAddr   = ":8080"
)

// ImportConfig defines the overall structure of the YAML configuration file.
type ImportConfig struct {
	// Logging configuration specifies the verbosity level.
	Logging LoggingConfig `yaml:"logging"`
	// Source describes the spreadsheet to import. File may be overridden by -input.
	Source SourceConfig `yaml:"source"`
	// Database holds the Postgres connection settings.
	Database DatabaseConfig `yaml:"database"`
	// Import tunes the reconciliation engine.
	Import ImportOptions `yaml:"import"`
	// Filter is an optional govaluate expression evaluated against each raw row
	// before normalization. Header names containing spaces or dashes must be
	// written in brackets, e.g. "[E-Mail] != ''".
	Filter string `yaml:"filter,omitempty"`
	// Server configures the optional HTTP surface (-serve).
	Server ServerConfig `yaml:"server"`
}

// LoggingConfig holds settings related to logging verbosity.
type LoggingConfig struct {
	// Level: "none", "error", "warn", "info", "debug". Defaults to "info".
	Level string `yaml:"level"`
}

// SourceConfig details the spreadsheet input.
type SourceConfig struct {
	// Type is "xlsx" or "csv". When empty it is derived from the file extension.
	Type string `yaml:"type,omitempty"`
	// File is the path to the workbook. Environment variables are expanded.
	File string `yaml:"file,omitempty"`
	// Delimiter for CSV input (default ",").
	Delimiter string `yaml:"delimiter,omitempty"`
	// CommentChar for CSV input. Empty disables comments.
	CommentChar string `yaml:"commentChar,omitempty"`
}

// DatabaseConfig holds the store connection settings.
type DatabaseConfig struct {
	// DSN is a Postgres connection string. Falls back to DB_CREDENTIALS.
	DSN string `yaml:"dsn,omitempty"`
	// Timeout bounds every single store call. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ImportOptions tunes how rows are reconciled.
type ImportOptions struct {
	// AtomicRows wraps the three upserts of each row in one transaction.
	// When false (default) a failed later phase leaves earlier writes committed.
	AtomicRows bool `yaml:"atomicRows,omitempty"`
	// Workers is the number of concurrent lanes. Rows with the same customer
	// always share a lane. Defaults to 1 (strictly sequential).
	Workers int `yaml:"workers,omitempty"`
	// FailedRowsFile receives every failed row as CSV for a later re-import.
	FailedRowsFile string `yaml:"failedRowsFile,omitempty"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
	// MaxUploadBytes limits multipart uploads. Defaults to 32 MiB.
	MaxUploadBytes int64 `yaml:"maxUploadBytes,omitempty"`
}
