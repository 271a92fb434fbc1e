package io

import (
	"io"

	"contact-import/internal/report"
)

// SheetReader defines the interface for reading the data rows of a spreadsheet.
type SheetReader interface {
	// Read loads the sheet stored at path. Each returned map is one data row
	// keyed by the trimmed header text of its column. Cells are string,
	// float64 or bool depending on what the source can express.
	Read(path string) ([]map[string]interface{}, error)

	// ReadStream does the same for an already opened stream, e.g. an upload.
	ReadStream(r io.Reader) ([]map[string]interface{}, error)
}

// FailureWriter defines the interface for persisting rows that failed to import.
type FailureWriter interface {
	// Write records the original row together with the failed phase and error.
	Write(f report.RowFailure) error

	// Close flushes buffered data and releases the underlying file.
	// Implementations should be idempotent.
	Close() error
}
