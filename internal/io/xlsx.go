package io

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/manupuranic/dataflow-hub/internal/logging"
)

// headerScanLimit bounds how many leading rows are scanned for the header.
const headerScanLimit = 20

// XLSXReader implements the InputReader interface for Excel (.xlsx) files.
type XLSXReader struct {
	sheetName  string
	sheetIndex *int
}

// NewXLSXReader creates an XLSXReader with sheet preferences. SheetName
// takes precedence over sheetIndex; with neither set the active sheet is
// used.
func NewXLSXReader(sheetName string, sheetIndex *int) *XLSXReader {
	return &XLSXReader{
		sheetName:  sheetName,
		sheetIndex: sheetIndex,
	}
}

// Read loads data from the selected sheet into a Table. Rows above the
// first row with more than one non-empty cell are treated as preamble and
// skipped, mirroring the CSV reader's header detection.
func (xr *XLSXReader) Read(filePath string) (*Table, error) {
	logging.Logf(logging.Debug, "XLSXReader reading file: %s (SheetName: '%s', SheetIndex: %v)", filePath, xr.sheetName, xr.sheetIndex)

	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("XLSXReader failed to open file '%s': %w", filePath, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Logf(logging.Error, "XLSXReader failed to close file '%s': %v", filePath, err)
		}
	}()

	targetSheetName, err := xr.resolveSheet(f, filePath)
	if err != nil {
		return nil, err
	}

	rows, err := f.GetRows(targetSheetName)
	if err != nil {
		return nil, fmt.Errorf("XLSXReader failed to get rows from sheet '%s' in '%s': %w", targetSheetName, filePath, err)
	}

	headerIdx := findXLSXHeaderRow(rows)
	if headerIdx < 0 {
		logging.Logf(logging.Warning, "XLSX sheet '%s' in '%s' is empty or contains no header row", targetSheetName, filePath)
		return &Table{Rows: []map[string]interface{}{}}, nil
	}

	rawHeaders := rows[headerIdx]
	headerNameForIndex := make(map[int]string)
	lastIndexForHeader := make(map[string]int)
	var columns []string
	for i, h := range rawHeaders {
		trimmed := strings.TrimSpace(h)
		if trimmed == "" {
			logging.Logf(logging.Warning, "XLSXReader: Empty header found in column %d of sheet '%s'; this column's data will be ignored", i+1, targetSheetName)
			continue
		}
		headerNameForIndex[i] = trimmed
		if _, dup := lastIndexForHeader[trimmed]; !dup {
			columns = append(columns, trimmed)
		}
		lastIndexForHeader[trimmed] = i
	}

	if len(columns) == 0 {
		logging.Logf(logging.Warning, "XLSXReader: No valid headers found in sheet '%s'; cannot process data", targetSheetName)
		return &Table{Rows: []map[string]interface{}{}}, nil
	}

	records := make([]map[string]interface{}, 0, len(rows)-headerIdx-1)
	for _, row := range rows[headerIdx+1:] {
		rec := make(map[string]interface{}, len(columns))
		for cellIdx := 0; cellIdx < len(row); cellIdx++ {
			headerName, ok := headerNameForIndex[cellIdx]
			if !ok || lastIndexForHeader[headerName] != cellIdx {
				continue
			}
			rec[headerName] = row[cellIdx]
		}
		for _, headerName := range columns {
			if _, exists := rec[headerName]; !exists {
				rec[headerName] = ""
			}
		}
		records = append(records, rec)
	}

	logging.Logf(logging.Info, "XLSXReader successfully loaded %d records from sheet '%s' in %s", len(records), targetSheetName, filePath)
	return &Table{Columns: columns, Rows: records}, nil
}

func (xr *XLSXReader) resolveSheet(f *excelize.File, filePath string) (string, error) {
	if xr.sheetName != "" {
		for _, name := range f.GetSheetList() {
			if name == xr.sheetName {
				return xr.sheetName, nil
			}
		}
		return "", fmt.Errorf("XLSXReader: specified sheet name '%s' not found in '%s'", xr.sheetName, filePath)
	}
	if xr.sheetIndex != nil {
		name := f.GetSheetName(*xr.sheetIndex)
		if name == "" {
			sheetCount := len(f.GetSheetList())
			return "", fmt.Errorf("XLSXReader: specified sheet index %d is out of bounds (0 to %d) in '%s'", *xr.sheetIndex, sheetCount-1, filePath)
		}
		return name, nil
	}
	name := f.GetSheetName(f.GetActiveSheetIndex())
	if name == "" {
		name = f.GetSheetName(0)
	}
	if name == "" {
		return "", fmt.Errorf("XLSXReader: could not determine a valid sheet to read in '%s'", filePath)
	}
	return name, nil
}

func findXLSXHeaderRow(rows [][]string) int {
	limit := len(rows)
	if limit > headerScanLimit {
		limit = headerScanLimit
	}
	for idx := 0; idx < limit; idx++ {
		nonEmpty := 0
		for _, cell := range rows[idx] {
			if strings.TrimSpace(cell) != "" {
				nonEmpty++
			}
		}
		if nonEmpty > 1 {
			return idx
		}
	}
	return -1
}
