package io

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp csv: %v", err)
	}
	return path
}

// TestCSVReaderRead tests basic parsing, header detection, and row shaping.
func TestCSVReaderRead(t *testing.T) {
	testCases := []struct {
		name        string
		content     string
		delimiter   string
		wantColumns []string
		wantRows    []map[string]interface{}
	}{
		{
			name:        "simple",
			content:     "Item Name,MRP\nSoap,10\nShampoo,99\n",
			wantColumns: []string{"Item Name", "MRP"},
			wantRows: []map[string]interface{}{
				{"Item Name": "Soap", "MRP": "10"},
				{"Item Name": "Shampoo", "MRP": "99"},
			},
		},
		{
			name:        "title line above header is skipped",
			content:     "Stock Report\nItem Name,MRP\nSoap,10\n",
			wantColumns: []string{"Item Name", "MRP"},
			wantRows: []map[string]interface{}{
				{"Item Name": "Soap", "MRP": "10"},
			},
		},
		{
			name:        "semicolon delimiter",
			content:     "Item Name;MRP\nSoap;10\n",
			delimiter:   ";",
			wantColumns: []string{"Item Name", "MRP"},
			wantRows: []map[string]interface{}{
				{"Item Name": "Soap", "MRP": "10"},
			},
		},
		{
			name:        "short row is skipped",
			content:     "Item Name,MRP,Rate\nSoap,10,9\nBroken,5\n",
			wantColumns: []string{"Item Name", "MRP", "Rate"},
			wantRows: []map[string]interface{}{
				{"Item Name": "Soap", "MRP": "10", "Rate": "9"},
			},
		},
		{
			name:        "empty file yields empty table",
			content:     "",
			wantColumns: nil,
			wantRows:    []map[string]interface{}{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reader, err := NewCSVReader(tc.delimiter)
			if err != nil {
				t.Fatalf("NewCSVReader failed: %v", err)
			}
			table, err := reader.Read(writeTempCSV(t, tc.content))
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}

			if !reflect.DeepEqual(table.Columns, tc.wantColumns) {
				t.Errorf("Columns = %v, want %v", table.Columns, tc.wantColumns)
			}
			if !reflect.DeepEqual(table.Rows, tc.wantRows) {
				t.Errorf("Rows = %v, want %v", table.Rows, tc.wantRows)
			}
		})
	}
}

// TestCSVReaderDuplicateHeader verifies last-occurrence wins for duplicate
// header names.
func TestCSVReaderDuplicateHeader(t *testing.T) {
	reader, _ := NewCSVReader("")
	table, err := reader.Read(writeTempCSV(t, "Name,Qty,Qty\nSoap,1,2\n"))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := table.Rows[0]["Qty"]; got != "2" {
		t.Errorf("Qty = %v, want last column value 2", got)
	}
	if len(table.Columns) != 2 {
		t.Errorf("Columns = %v, want 2 unique names", table.Columns)
	}
}

// TestNewCSVReaderInvalidDelimiter verifies delimiter validation.
func TestNewCSVReaderInvalidDelimiter(t *testing.T) {
	if _, err := NewCSVReader(";;"); err == nil {
		t.Error("expected error for multi-character delimiter")
	}
}

// TestCSVReaderMissingFile verifies the open error path.
func TestCSVReaderMissingFile(t *testing.T) {
	reader, _ := NewCSVReader("")
	if _, err := reader.Read(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}

// TestNewInputReader tests extension-based reader selection.
func TestNewInputReader(t *testing.T) {
	testCases := []struct {
		name     string
		path     string
		wantType interface{}
		wantErr  bool
	}{
		{name: "csv", path: "data/products.csv", wantType: &CSVReader{}},
		{name: "csv uppercase", path: "data/PRODUCTS.CSV", wantType: &CSVReader{}},
		{name: "xlsx", path: "data/products.xlsx", wantType: &XLSXReader{}},
		{name: "xls", path: "data/products.xls", wantType: &XLSXReader{}},
		{name: "unsupported", path: "data/products.json", wantErr: true},
		{name: "no extension", path: "data/products", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reader, err := NewInputReader(tc.path, "", "", nil)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewInputReader failed: %v", err)
			}
			if reflect.TypeOf(reader) != reflect.TypeOf(tc.wantType) {
				t.Errorf("reader type = %T, want %T", reader, tc.wantType)
			}
		})
	}
}
