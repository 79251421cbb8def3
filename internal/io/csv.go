package io

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/manupuranic/dataflow-hub/internal/logging"
)

// CSVReader implements the InputReader interface for CSV files. Leading
// blank or single-cell rows before the header are skipped, matching
// exports that carry a title line above the real header.
type CSVReader struct {
	Delimiter rune
}

// NewCSVReader creates a CSVReader with the given delimiter ("," default).
func NewCSVReader(delimiter string) (*CSVReader, error) {
	var delim rune = ','
	if delimiter != "" {
		if utf8.RuneCountInString(delimiter) != 1 {
			return nil, fmt.Errorf("invalid delimiter '%s': must be a single character", delimiter)
		}
		delim = []rune(delimiter)[0]
	}
	return &CSVReader{Delimiter: delim}, nil
}

// Read loads a CSV file into a Table.
func (cr *CSVReader) Read(filePath string) (*Table, error) {
	logging.Logf(logging.Debug, "CSVReader reading file: %s (Delimiter: '%c')", filePath, cr.Delimiter)

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("CSVReader failed to open file '%s': %w", filePath, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = cr.Delimiter
	reader.FieldsPerRecord = -1

	allRows, err := reader.ReadAll()
	if err != nil {
		if parseErr, ok := err.(*csv.ParseError); ok {
			return nil, fmt.Errorf("CSVReader parse error in '%s' on line %d, column %d: %w", filePath, parseErr.Line, parseErr.Column, parseErr.Err)
		}
		return nil, fmt.Errorf("CSVReader failed to read rows from '%s': %w", filePath, err)
	}

	headerIdx := findHeaderRow(allRows)
	if headerIdx < 0 {
		logging.Logf(logging.Warning, "CSV file '%s' is empty or contains no header row", filePath)
		return &Table{Rows: []map[string]interface{}{}}, nil
	}

	headers := allRows[headerIdx]
	numHeaders := len(headers)
	validHeaderIndices := make(map[int]string)
	var columns []string
	seen := make(map[string]int)

	for i, h := range headers {
		header := strings.TrimSpace(h)
		if header == "" {
			logging.Logf(logging.Warning, "CSVReader: Empty header found in column %d of file '%s'; this column will be skipped", i+1, filePath)
			continue
		}
		seen[header]++
		if seen[header] > 1 {
			logging.Logf(logging.Warning, "CSVReader: Duplicate header '%s' found at column %d in file '%s'; data will represent the last occurring column", header, i+1, filePath)
		} else {
			columns = append(columns, header)
		}
		validHeaderIndices[i] = header
	}

	if len(validHeaderIndices) == 0 {
		logging.Logf(logging.Warning, "CSVReader: No valid headers found in file '%s'; returning empty dataset", filePath)
		return &Table{Rows: []map[string]interface{}{}}, nil
	}

	rows := make([]map[string]interface{}, 0, len(allRows)-headerIdx-1)
	for i, row := range allRows[headerIdx+1:] {
		rowNum := headerIdx + i + 2
		if len(row) != numHeaders {
			logging.Logf(logging.Warning, "CSVReader: Row %d in '%s' has %d fields, expected %d; skipping row", rowNum, filePath, len(row), numHeaders)
			continue
		}
		rec := make(map[string]interface{}, len(columns))
		for colIdx, value := range row {
			if headerName, ok := validHeaderIndices[colIdx]; ok {
				rec[headerName] = value
			}
		}
		rows = append(rows, rec)
	}

	logging.Logf(logging.Info, "CSVReader successfully loaded %d records from %s", len(rows), filePath)
	return &Table{Columns: columns, Rows: rows}, nil
}

// findHeaderRow returns the index of the first row with more than one
// non-empty cell, or -1 when no such row exists.
func findHeaderRow(rows [][]string) int {
	for idx, row := range rows {
		nonEmpty := 0
		for _, cell := range row {
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
