package io

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"contact-import/internal/logging"
	"contact-import/internal/normalize"
	"contact-import/internal/report"
)

// CSVReader implements the SheetReader interface for CSV exports of the sheet.
// It supports configurable delimiters and comment characters. All cells are
// returned as strings.
type CSVReader struct {
	Delimiter   rune // Field delimiter (e.g., ',', ';').
	CommentChar rune // Character indicating a comment line (e.g., '#'). 0 disables.
}

// NewCSVReader creates a CSVReader with options derived from SourceConfig.
func NewCSVReader(delimiter, commentChar string) (*CSVReader, error) {
	var delim rune = ','
	var comment rune

	if delimiter != "" {
		if utf8.RuneCountInString(delimiter) != 1 {
			return nil, fmt.Errorf("invalid delimiter '%s': must be a single character", delimiter)
		}
		delim = []rune(delimiter)[0]
	}

	if commentChar != "" {
		if utf8.RuneCountInString(commentChar) != 1 {
			return nil, fmt.Errorf("invalid comment character '%s': must be a single character or empty", commentChar)
		}
		comment = []rune(commentChar)[0]
	}

	return &CSVReader{
		Delimiter:   delim,
		CommentChar: comment,
	}, nil
}

// Read loads data rows from a CSV file, applying configured options.
func (cr *CSVReader) Read(filePath string) ([]map[string]interface{}, error) {
	logging.Logf(logging.Debug, "CSVReader reading file: %s (Delimiter: '%c', Comment: '%c')", filePath, cr.Delimiter, cr.CommentChar)

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("CSVReader failed to open file '%s': %w", filePath, err)
	}
	defer f.Close()

	return cr.read(f, filePath)
}

// ReadStream loads data rows from a CSV stream.
func (cr *CSVReader) ReadStream(r io.Reader) ([]map[string]interface{}, error) {
	return cr.read(r, "<stream>")
}

func (cr *CSVReader) read(r io.Reader, source string) ([]map[string]interface{}, error) {
	reader := csv.NewReader(r)
	reader.Comma = cr.Delimiter
	if cr.CommentChar != 0 {
		reader.Comment = cr.CommentChar
	}
	reader.FieldsPerRecord = -1

	allRows, err := reader.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("CSVReader parse error in '%s' on line %d, column %d: %w", source, parseErr.Line, parseErr.Column, parseErr.Err)
		}
		return nil, fmt.Errorf("CSVReader failed to read rows from '%s': %w", source, err)
	}

	if len(allRows) < 2 {
		if len(allRows) == 0 {
			logging.Logf(logging.Warning, "CSV file '%s' is empty or contains no data", source)
		} else {
			logging.Logf(logging.Warning, "CSV file '%s' contains only a header row", source)
		}
		return []map[string]interface{}{}, nil
	}

	headers := allRows[0]
	// Excel writes a byte order mark in front of UTF-8 exports.
	headers[0] = strings.TrimPrefix(headers[0], "\uFEFF")

	headerSet := make(map[string]int)
	validHeaderIndices := make(map[int]string)
	for i, h := range headers {
		header := strings.TrimSpace(h)
		if header == "" {
			logging.Logf(logging.Warning, "CSVReader: Empty header found in column %d of file '%s'; this column will be skipped", i+1, source)
			continue
		}
		headerSet[header]++
		if headerSet[header] > 1 {
			logging.Logf(logging.Warning, "CSVReader: Duplicate header '%s' found at column %d in file '%s'; data for this header name will represent the last occurring column", header, i+1, source)
		}
		validHeaderIndices[i] = header
	}

	if len(validHeaderIndices) == 0 {
		logging.Logf(logging.Warning, "CSVReader: No valid headers found in file '%s'; returning empty dataset", source)
		return []map[string]interface{}{}, nil
	}

	records := make([]map[string]interface{}, 0, len(allRows)-1)
	for i, row := range allRows[1:] {
		rowNum := i + 2
		if len(row) > len(headers) {
			logging.Logf(logging.Warning, "CSVReader: Row %d in '%s' has %d fields, expected %d; extra fields are ignored", rowNum, source, len(row), len(headers))
		}

		rec := make(map[string]interface{}, len(headerSet))
		blank := true
		for colIdx, value := range row {
			if headerName, ok := validHeaderIndices[colIdx]; ok {
				rec[headerName] = value
				if strings.TrimSpace(value) != "" {
					blank = false
				}
			}
		}
		if blank {
			logging.Logf(logging.Debug, "CSVReader: Skipping blank row %d in '%s'", rowNum, source)
			continue
		}
		// Short rows (trailing empty cells dropped by the exporter) are padded.
		for header := range headerSet {
			if _, exists := rec[header]; !exists {
				rec[header] = ""
			}
		}
		records = append(records, rec)
	}

	logging.Logf(logging.Debug, "CSVReader successfully loaded %d records from %s", len(records), source)
	return records, nil
}

// Columns appended to every failure row.
const (
	failureColumnLine  = "import_line"
	failureColumnPhase = "import_phase"
	failureColumnError = "import_error"
)

// CSVFailureWriter implements the FailureWriter interface. It writes every
// failed row with its original columns so the file can be fixed and
// imported again; the import_* columns are ignored on re-import.
type CSVFailureWriter struct {
	filePath      string
	writer        *csv.Writer
	file          *os.File
	headers       []string
	dropped       map[string]bool
	mu            sync.Mutex
	headerWritten bool
	closed        bool
}

// NewCSVFailureWriter creates a writer for rows that failed to import.
// The file is opened in append mode.
func NewCSVFailureWriter(filePath string) (*CSVFailureWriter, error) {
	dir := filepath.Dir(filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("CSVFailureWriter failed to create directory for '%s': %w", filePath, err)
		}
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("CSVFailureWriter failed to open/create file '%s': %w", filePath, err)
	}

	return &CSVFailureWriter{
		filePath: filePath,
		file:     f,
		writer:   csv.NewWriter(f),
	}, nil
}

// Write appends a failed row. On a new file the header is derived from the
// first failure. When appending to an existing file its header is kept and
// values are placed by column name; raw columns it lacks are dropped.
func (cfw *CSVFailureWriter) Write(failure report.RowFailure) error {
	cfw.mu.Lock()
	defer cfw.mu.Unlock()

	if cfw.closed {
		return errors.New("CSVFailureWriter: write called on closed writer")
	}
	if cfw.writer == nil || cfw.file == nil {
		return errors.New("CSVFailureWriter: writer or file handle is nil (unexpected state)")
	}

	if !cfw.headerWritten {
		fileInfo, err := cfw.file.Stat()
		if err == nil && fileInfo.Size() > 0 {
			existing, err := readFailureHeader(cfw.filePath)
			if err != nil {
				return err
			}
			logging.Logf(logging.Debug, "Appending to failure file '%s' with existing header: %v", cfw.filePath, existing)
			cfw.headers = existing
		} else {
			headers := make([]string, 0, len(failure.Raw)+3)
			for k := range failure.Raw {
				headers = append(headers, k)
			}
			sort.Strings(headers)
			headers = append(headers, failureColumnLine, failureColumnPhase, failureColumnError)
			cfw.headers = headers

			logging.Logf(logging.Debug, "Writing header to failure file '%s': %v", cfw.filePath, cfw.headers)
			if err := cfw.writer.Write(cfw.headers); err != nil {
				return fmt.Errorf("CSVFailureWriter failed to write header to '%s': %w", cfw.filePath, err)
			}
		}
		cfw.headerWritten = true
	}
	cfw.warnDropped(failure.Raw)

	row := make([]string, len(cfw.headers))
	for i, header := range cfw.headers {
		switch header {
		case failureColumnLine:
			row[i] = strconv.Itoa(failure.Line)
		case failureColumnPhase:
			row[i] = string(failure.Phase)
		case failureColumnError:
			row[i] = failure.Error
		default:
			row[i] = normalize.CellText(failure.Raw[header])
		}
	}

	if err := cfw.writer.Write(row); err != nil {
		return fmt.Errorf("CSVFailureWriter failed to write row to '%s': %w", cfw.filePath, err)
	}
	cfw.writer.Flush()
	if err := cfw.writer.Error(); err != nil {
		return fmt.Errorf("CSVFailureWriter error after flushing row to '%s': %w", cfw.filePath, err)
	}
	return nil
}

// readFailureHeader returns the first record of an existing failure file.
func readFailureHeader(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("CSVFailureWriter failed to read header of '%s': %w", filePath, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("CSVFailureWriter failed to read header of '%s': %w", filePath, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	for _, col := range []string{failureColumnLine, failureColumnPhase, failureColumnError} {
		if !slices.Contains(header, col) {
			return nil, fmt.Errorf("CSVFailureWriter: existing file '%s' has no '%s' column; use a new failure file", filePath, col)
		}
	}
	return header, nil
}

// warnDropped logs, once per column, raw columns the file header has no slot for.
func (cfw *CSVFailureWriter) warnDropped(raw map[string]interface{}) {
	for key := range raw {
		if slices.Contains(cfw.headers, key) || cfw.dropped[key] {
			continue
		}
		if cfw.dropped == nil {
			cfw.dropped = make(map[string]bool)
		}
		cfw.dropped[key] = true
		logging.Logf(logging.Warning, "Failure file '%s' has no column '%s'; its values are not written.", cfw.filePath, key)
	}
}

// Close flushes any buffered data and closes the underlying file.
// Safe to call multiple times.
func (cfw *CSVFailureWriter) Close() error {
	cfw.mu.Lock()
	defer cfw.mu.Unlock()

	if cfw.closed || cfw.writer == nil || cfw.file == nil {
		logging.Logf(logging.Debug, "CSVFailureWriter Close called, but writer already closed or not initialized")
		return nil
	}

	var firstErr error
	cfw.writer.Flush()
	if errFlush := cfw.writer.Error(); errFlush != nil {
		firstErr = fmt.Errorf("CSVFailureWriter flush error on close for '%s': %w", cfw.filePath, errFlush)
		logging.Logf(logging.Error, "%v", firstErr)
	}
	if errClose := cfw.file.Close(); errClose != nil {
		closeErr := fmt.Errorf("CSVFailureWriter file close error for '%s': %w", cfw.filePath, errClose)
		logging.Logf(logging.Error, "%v", closeErr)
		if firstErr == nil {
			firstErr = closeErr
		}
	}

	cfw.closed = true
	cfw.file = nil
	cfw.writer = nil
	cfw.headers = nil
	cfw.headerWritten = false

	if firstErr == nil {
		logging.Logf(logging.Debug, "CSVFailureWriter closed successfully: %s", cfw.filePath)
	}
	return firstErr
}
