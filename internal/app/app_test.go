package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manupuranic/dataflow-hub/internal/stats"
)

// mockStore satisfies dataStore without a database.
type mockStore struct {
	upserts [][]map[string]interface{}
	closed  bool
}

func (m *mockStore) BulkUpsert(ctx context.Context, table string, records []map[string]interface{}, conflictColumns []string) error {
	m.upserts = append(m.upserts, records)
	return nil
}

func (m *mockStore) GetOrCreateID(ctx context.Context, table, column, value string) (string, error) {
	return "id-" + table + "-" + value, nil
}

func (m *mockStore) Close() { m.closed = true }

// withMockStore swaps the store factory for the duration of the test.
func withMockStore(t *testing.T, store *mockStore) {
	t.Helper()
	original := newDataStoreFunc
	newDataStoreFunc = func(ctx context.Context, connStr string) (dataStore, error) {
		return store, nil
	}
	t.Cleanup(func() { newDataStoreFunc = original })
}

// withCapturedReports swaps the report generator for the duration of the test.
func withCapturedReports(t *testing.T, paths *[]string) {
	t.Helper()
	original := generateReportFunc
	generateReportFunc = func(st *stats.ProcessingStats, outputPath string, info map[string]string) error {
		*paths = append(*paths, outputPath)
		return nil
	}
	t.Cleanup(func() { generateReportFunc = original })
}

func writeProductCSV(t *testing.T) string {
	t.Helper()
	content := "Item Name,Brand,MRP,Expiry Date,Barcode,Rate\n" +
		"Soap,Acme,10,31-12-2027,111,9\n" +
		"Shampoo,Acme,99,31-12-2027,222,89\n"
	path := filepath.Join(t.TempDir(), "products.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write products csv: %v", err)
	}
	return path
}

// TestRunUsage verifies help and no-argument handling.
func TestRunUsage(t *testing.T) {
	runner := NewAppRunner()

	if err := runner.Run([]string{"-help"}); err != nil {
		t.Errorf("Run(-help) = %v, want nil", err)
	}
	if err := runner.Run(nil); err != nil {
		t.Errorf("Run(no args) = %v, want nil", err)
	}

	var buf bytes.Buffer
	runner.Usage(&buf)
	if !strings.Contains(buf.String(), "-type") || !strings.Contains(buf.String(), "dataflow-hub") {
		t.Error("usage text missing expected content")
	}
}

// TestRunArgumentErrors verifies the error classes for bad invocations.
func TestRunArgumentErrors(t *testing.T) {
	store := &mockStore{}
	withMockStore(t, store)
	var reports []string
	withCapturedReports(t, &reports)

	testCases := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{
			name:    "missing type",
			args:    []string{"-db", "postgres://u:p@h/db"},
			wantErr: ErrMissingArgs,
		},
		{
			name:    "missing file for single import",
			args:    []string{"-type", "products", "-db", "postgres://u:p@h/db"},
			wantErr: ErrMissingArgs,
		},
		{
			name:    "unknown import type",
			args:    []string{"-type", "invoices", "-file", "x.csv", "-db", "postgres://u:p@h/db"},
			wantErr: ErrUnknownImportType,
		},
		{
			name:    "missing db connection",
			args:    []string{"-type", "products", "-file", "x.csv"},
			wantErr: ErrMissingArgs,
		},
		{
			name:    "explicit config not found",
			args:    []string{"-type", "products", "-file", "x.csv", "-config", "no/such/file.yaml", "-db", "x"},
			wantErr: ErrConfigNotFound,
		},
		{
			name:    "unknown flag",
			args:    []string{"-bogus"},
			wantErr: ErrUsage,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DB_CREDENTIALS", "")
			err := NewAppRunner().Run(tc.args)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Run(%v) = %v, want %v", tc.args, err, tc.wantErr)
			}
		})
	}
}

// TestRunSingleImport runs a product import end to end against a mock store.
func TestRunSingleImport(t *testing.T) {
	store := &mockStore{}
	withMockStore(t, store)
	var reports []string
	withCapturedReports(t, &reports)

	csvPath := writeProductCSV(t)
	reportPath := filepath.Join(t.TempDir(), "report.txt")

	err := NewAppRunner().Run([]string{
		"-type", "products",
		"-file", csvPath,
		"-db", "postgres://u:p@h/db",
		"-report", reportPath,
		"-loglevel", "error",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(store.upserts) != 1 {
		t.Fatalf("got %d upsert batches, want 1", len(store.upserts))
	}
	if len(store.upserts[0]) != 2 {
		t.Errorf("upserted %d records, want 2", len(store.upserts[0]))
	}
	if !store.closed {
		t.Error("store not closed")
	}
	if len(reports) != 1 || reports[0] != reportPath {
		t.Errorf("reports = %v, want [%s]", reports, reportPath)
	}
}

// TestRunAllFailureCountsAttemptedOnly verifies the failure summary counts
// only imports that were actually attempted, not entries skipped for
// missing files.
func TestRunAllFailureCountsAttemptedOnly(t *testing.T) {
	store := &mockStore{}
	withMockStore(t, store)
	var reports []string
	withCapturedReports(t, &reports)

	inputDir := t.TempDir()
	// Present but structurally invalid, so the attempt fails validation.
	badPath := filepath.Join(inputDir, "bad.csv")
	if err := os.WriteFile(badPath, []byte("Foo,Bar\n1,2\n"), 0o644); err != nil {
		t.Fatalf("failed to write bad csv: %v", err)
	}

	originalSequence := batchSequence
	batchSequence = []struct {
		importType    string
		fileName      string
		inventoryName string
	}{
		{"products", "missing.xlsx", ""},
		{"products", "bad.csv", ""},
	}
	t.Cleanup(func() { batchSequence = originalSequence })

	configPath := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(configPath, []byte("paths:\n  input_dir: "+inputDir+"\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	err := NewAppRunner().Run([]string{
		"-type", "all",
		"-config", configPath,
		"-db", "postgres://u:p@h/db",
		"-loglevel", "error",
	})
	if err == nil {
		t.Fatal("expected error for failed import")
	}
	if !strings.Contains(err.Error(), "1 of 1 imports failed") {
		t.Errorf("error = %v, want failure count over attempted imports only", err)
	}
}

// TestRunAllSkipsMissingFiles verifies that -type all tolerates an input
// directory without the expected files.
func TestRunAllSkipsMissingFiles(t *testing.T) {
	store := &mockStore{}
	withMockStore(t, store)
	var reports []string
	withCapturedReports(t, &reports)

	configPath := filepath.Join(t.TempDir(), "settings.yaml")
	content := "paths:\n  input_dir: " + filepath.Join(t.TempDir(), "empty") + "\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	err := NewAppRunner().Run([]string{
		"-type", "all",
		"-config", configPath,
		"-db", "postgres://u:p@h/db",
		"-loglevel", "error",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(store.upserts) != 0 {
		t.Errorf("expected no upserts, got %d", len(store.upserts))
	}
	if len(reports) != 0 {
		t.Errorf("expected no reports, got %v", reports)
	}
}
