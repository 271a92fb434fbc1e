package io

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"contact-import/internal/logging"

	"github.com/xuri/excelize/v2"
)

// XLSXReader implements the SheetReader interface for Excel (.xlsx) workbooks.
// Only the first sheet is read.
type XLSXReader struct{}

// NewXLSXReader creates a new XLSXReader.
func NewXLSXReader() *XLSXReader {
	return &XLSXReader{}
}

// Read loads the first sheet of the workbook at filePath.
func (xr *XLSXReader) Read(filePath string) ([]map[string]interface{}, error) {
	logging.Logf(logging.Debug, "XLSXReader reading file: %s", filePath)

	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("XLSXReader failed to open file '%s': %w", filePath, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Logf(logging.Error, "XLSXReader failed to close file '%s': %v", filePath, err)
		}
	}()
	return xr.readWorkbook(f, filePath)
}

// ReadStream loads the first sheet of a workbook streamed from r.
func (xr *XLSXReader) ReadStream(r io.Reader) ([]map[string]interface{}, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("XLSXReader failed to open workbook stream: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Logf(logging.Error, "XLSXReader failed to close workbook stream: %v", err)
		}
	}()
	return xr.readWorkbook(f, "<stream>")
}

func (xr *XLSXReader) readWorkbook(f *excelize.File, source string) ([]map[string]interface{}, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("XLSXReader: workbook '%s' contains no sheets", source)
	}
	sheet := sheets[0]
	logging.Logf(logging.Debug, "XLSXReader: Using first sheet '%s' of %s", sheet, source)

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("XLSXReader failed to get rows from sheet '%s' in '%s': %w", sheet, source, err)
	}

	records := make([]map[string]interface{}, 0)
	if len(rows) < 1 {
		logging.Logf(logging.Warning, "XLSX sheet '%s' in '%s' is empty or contains no header row.", sheet, source)
		return records, nil
	}

	// Duplicate headers: the last column with that name wins.
	lastIndexForHeader := make(map[string]int)
	for i, h := range rows[0] {
		header := strings.TrimSpace(h)
		if header == "" {
			logging.Logf(logging.Warning, "XLSXReader: Empty header found in column %d of sheet '%s'. This column's data will be ignored.", i+1, sheet)
			continue
		}
		if prev, dup := lastIndexForHeader[header]; dup {
			logging.Logf(logging.Warning, "XLSXReader: Duplicate header '%s' in columns %d and %d; using the later one.", header, prev+1, i+1)
		}
		lastIndexForHeader[header] = i
	}
	if len(lastIndexForHeader) == 0 {
		logging.Logf(logging.Warning, "XLSXReader: No valid headers found in the first row of sheet '%s'. Cannot process data.", sheet)
		return records, nil
	}

	for i, row := range rows[1:] {
		rowNum := i + 2
		rec := make(map[string]interface{}, len(lastIndexForHeader))
		blank := true
		for header, colIdx := range lastIndexForHeader {
			if colIdx >= len(row) || row[colIdx] == "" {
				rec[header] = ""
				continue
			}
			blank = false
			rec[header] = xr.typedCell(f, sheet, colIdx, rowNum, row[colIdx])
		}
		if blank {
			logging.Logf(logging.Debug, "XLSXReader: Skipping blank row %d of sheet '%s'", rowNum, sheet)
			continue
		}
		records = append(records, rec)
	}

	logging.Logf(logging.Info, "XLSXReader successfully loaded %d records from sheet '%s' in %s", len(records), sheet, source)
	return records, nil
}

// typedCell converts the raw cell text according to the stored cell type so
// numbers arrive as float64 and booleans as bool.
func (xr *XLSXReader) typedCell(f *excelize.File, sheet string, col, row int, raw string) interface{} {
	cellName, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return raw
	}
	cellType, err := f.GetCellType(sheet, cellName)
	if err != nil {
		logging.Logf(logging.Debug, "XLSXReader: Could not determine type of cell %s: %v", cellName, err)
		return raw
	}
	switch cellType {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeFormula, excelize.CellTypeDate:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
		return raw
	default:
		return raw
	}
}
