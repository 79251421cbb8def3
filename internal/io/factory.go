package io

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/manupuranic/dataflow-hub/internal/logging"
)

// NewInputReader returns the reader matching the file's extension.
// Supported: .csv, .xlsx, .xls. Anything else is a configuration error.
func NewInputReader(path, delimiter, sheetName string, sheetIndex *int) (InputReader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	logging.Logf(logging.Debug, "Creating input reader for extension: %s", ext)

	switch ext {
	case ".csv":
		reader, err := NewCSVReader(delimiter)
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV reader: %w", err)
		}
		return reader, nil
	case ".xlsx", ".xls":
		return NewXLSXReader(sheetName, sheetIndex), nil
	default:
		return nil, fmt.Errorf("unsupported input file type '%s' (use .csv or .xlsx)", ext)
	}
}
