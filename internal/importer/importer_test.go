package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/manupuranic/dataflow-hub/internal/config"
	"github.com/manupuranic/dataflow-hub/internal/dedupe"
	etlio "github.com/manupuranic/dataflow-hub/internal/io"
)

// mockPersister records BulkUpsert calls and can fail selected batches.
type mockPersister struct {
	calls     [][]map[string]interface{}
	failBatch map[int]error // 1-based call number -> error
}

func (m *mockPersister) BulkUpsert(ctx context.Context, table string, records []map[string]interface{}, conflictColumns []string) error {
	m.calls = append(m.calls, records)
	if err, ok := m.failBatch[len(m.calls)]; ok {
		return err
	}
	return nil
}

// mockDefinition is a minimal importer over a single "id" column.
type mockDefinition struct {
	mapRow func(row map[string]interface{}) (map[string]interface{}, error)
}

func (d *mockDefinition) TableName() string                            { return "widgets" }
func (d *mockDefinition) ConflictColumns() []string                    { return []string{"id"} }
func (d *mockDefinition) RequiredColumns() []string                    { return []string{"id"} }
func (d *mockDefinition) MergeRules() map[string]dedupe.FieldMergeMode { return nil }
func (d *mockDefinition) MapRow(ctx context.Context, row map[string]interface{}) (map[string]interface{}, error) {
	if d.mapRow != nil {
		return d.mapRow(row)
	}
	return map[string]interface{}{"id": row["id"]}, nil
}

func makeTable(n int) *etlio.Table {
	t := &etlio.Table{Columns: []string{"id"}}
	for i := 0; i < n; i++ {
		t.Rows = append(t.Rows, map[string]interface{}{"id": fmt.Sprintf("row-%d", i)})
	}
	return t
}

func newTestRunner(t *testing.T, def Definition, store etlio.RecordPersister, cfg config.ImporterConfig) *Runner {
	t.Helper()
	r, err := NewRunner(def, store, cfg)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

// TestRunTableChunking verifies batch boundaries and offset handling.
func TestRunTableChunking(t *testing.T) {
	testCases := []struct {
		name           string
		rows           int
		chunkSize      int
		offset         int
		wantBatchSizes []int
	}{
		{name: "exact and remainder batches", rows: 1250, chunkSize: 500, wantBatchSizes: []int{500, 500, 250}},
		{name: "single batch", rows: 10, chunkSize: 500, wantBatchSizes: []int{10}},
		{name: "offset into last batch", rows: 1250, chunkSize: 500, offset: 1000, wantBatchSizes: []int{250}},
		{name: "offset beyond input", rows: 10, chunkSize: 500, offset: 50, wantBatchSizes: nil},
		{name: "zero chunk size uses default", rows: 600, chunkSize: 0, wantBatchSizes: []int{500, 100}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := &mockPersister{}
			runner := newTestRunner(t, &mockDefinition{}, store, config.ImporterConfig{ChunkSize: tc.chunkSize})

			st, err := runner.RunTable(context.Background(), makeTable(tc.rows), RunOptions{Offset: tc.offset})
			if err != nil {
				t.Fatalf("RunTable failed: %v", err)
			}

			if len(store.calls) != len(tc.wantBatchSizes) {
				t.Fatalf("got %d batches, want %d", len(store.calls), len(tc.wantBatchSizes))
			}
			for i, want := range tc.wantBatchSizes {
				if len(store.calls[i]) != want {
					t.Errorf("batch %d has %d records, want %d", i+1, len(store.calls[i]), want)
				}
			}

			wantProcessed := tc.rows - tc.offset
			if wantProcessed < 0 {
				wantProcessed = 0
			}
			if st.SuccessfulRecords != wantProcessed {
				t.Errorf("SuccessfulRecords = %d, want %d", st.SuccessfulRecords, wantProcessed)
			}
			if st.TotalOutputRecords != wantProcessed {
				t.Errorf("TotalOutputRecords = %d, want %d", st.TotalOutputRecords, wantProcessed)
			}
			if st.TotalInputRecords != tc.rows {
				t.Errorf("TotalInputRecords = %d, want %d", st.TotalInputRecords, tc.rows)
			}
			if !st.Finished() {
				t.Error("stats not finalized")
			}
		})
	}
}

// TestRunTableBatchFailureIsolation verifies that a failed batch is dropped
// without retry while surrounding batches commit.
func TestRunTableBatchFailureIsolation(t *testing.T) {
	store := &mockPersister{failBatch: map[int]error{2: errors.New("connection reset")}}
	runner := newTestRunner(t, &mockDefinition{}, store, config.ImporterConfig{ChunkSize: 500})

	st, err := runner.RunTable(context.Background(), makeTable(1250), RunOptions{})
	if err != nil {
		t.Fatalf("RunTable failed: %v", err)
	}

	if len(store.calls) != 3 {
		t.Fatalf("got %d batches, want 3", len(store.calls))
	}
	if st.DatabaseErrors != 1 {
		t.Errorf("DatabaseErrors = %d, want 1", st.DatabaseErrors)
	}
	if st.TotalOutputRecords != 750 {
		t.Errorf("TotalOutputRecords = %d, want 750 (failed batch excluded)", st.TotalOutputRecords)
	}
	if st.SuccessfulRecords != 1250 {
		t.Errorf("SuccessfulRecords = %d, want 1250", st.SuccessfulRecords)
	}
}

// TestRunTableRowIsolation verifies per-row skip and error accounting.
func TestRunTableRowIsolation(t *testing.T) {
	def := &mockDefinition{
		mapRow: func(row map[string]interface{}) (map[string]interface{}, error) {
			switch row["id"] {
			case "row-1":
				return nil, nil // skip
			case "row-3":
				return nil, errors.New("bad row")
			}
			return map[string]interface{}{"id": row["id"]}, nil
		},
	}
	store := &mockPersister{}
	runner := newTestRunner(t, def, store, config.ImporterConfig{ChunkSize: 500})

	st, err := runner.RunTable(context.Background(), makeTable(5), RunOptions{})
	if err != nil {
		t.Fatalf("RunTable failed: %v", err)
	}

	if st.SuccessfulRecords != 3 || st.SkippedRecords != 1 || st.ErrorRecords != 1 {
		t.Errorf("counters = (%d success, %d skipped, %d error), want (3, 1, 1)",
			st.SuccessfulRecords, st.SkippedRecords, st.ErrorRecords)
	}
	if sum := st.SuccessfulRecords + st.SkippedRecords + st.ErrorRecords; sum > st.TotalInputRecords {
		t.Errorf("accounted records %d exceed input %d", sum, st.TotalInputRecords)
	}
	if st.TotalOutputRecords != 3 {
		t.Errorf("TotalOutputRecords = %d, want 3", st.TotalOutputRecords)
	}
}

// TestRunTableDuplicateAccounting verifies duplicate groups collapse within
// a batch and increment the counter.
func TestRunTableDuplicateAccounting(t *testing.T) {
	table := &etlio.Table{
		Columns: []string{"id"},
		Rows: []map[string]interface{}{
			{"id": "a"}, {"id": "b"}, {"id": "a"}, {"id": "c"}, {"id": "b"},
		},
	}
	store := &mockPersister{}
	runner := newTestRunner(t, &mockDefinition{}, store, config.ImporterConfig{ChunkSize: 500})

	st, err := runner.RunTable(context.Background(), table, RunOptions{})
	if err != nil {
		t.Fatalf("RunTable failed: %v", err)
	}

	if st.DuplicateGroups != 2 {
		t.Errorf("DuplicateGroups = %d, want 2", st.DuplicateGroups)
	}
	if st.TotalOutputRecords != 3 {
		t.Errorf("TotalOutputRecords = %d, want 3", st.TotalOutputRecords)
	}
	if len(store.calls) != 1 || len(store.calls[0]) != 3 {
		t.Fatalf("upserted batch shape unexpected: %v", store.calls)
	}
}

// TestRunTableValidation verifies the validation gate and its toggle.
func TestRunTableValidation(t *testing.T) {
	off := false

	testCases := []struct {
		name    string
		table   *etlio.Table
		cfg     config.ImporterConfig
		wantErr error
	}{
		{
			name:    "missing column fails",
			table:   &etlio.Table{Columns: []string{"other"}, Rows: []map[string]interface{}{{"other": 1}}},
			cfg:     config.ImporterConfig{ChunkSize: 500},
			wantErr: ErrValidation,
		},
		{
			name:    "empty input fails",
			table:   &etlio.Table{Columns: []string{"id"}},
			cfg:     config.ImporterConfig{ChunkSize: 500},
			wantErr: ErrValidation,
		},
		{
			name:  "validation disabled passes",
			table: &etlio.Table{Columns: []string{"other"}, Rows: []map[string]interface{}{{"other": 1}}},
			cfg:   config.ImporterConfig{ChunkSize: 500, EnableValidation: &off},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			runner := newTestRunner(t, &mockDefinition{}, &mockPersister{}, tc.cfg)
			st, err := runner.RunTable(context.Background(), tc.table, RunOptions{})

			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("error = %v, want %v", err, tc.wantErr)
				}
				if st.ValidationErrors != 1 {
					t.Errorf("ValidationErrors = %d, want 1", st.ValidationErrors)
				}
				if !st.Finished() {
					t.Error("stats not finalized on validation failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("RunTable failed: %v", err)
			}
		})
	}
}

// TestRunTableFilter verifies filter-based row skipping.
func TestRunTableFilter(t *testing.T) {
	table := &etlio.Table{
		Columns: []string{"id", "qty"},
		Rows: []map[string]interface{}{
			{"id": "a", "qty": 5.0},
			{"id": "b", "qty": 0.0},
			{"id": "c", "qty": 2.0},
		},
	}
	store := &mockPersister{}
	runner := newTestRunner(t, &mockDefinition{}, store, config.ImporterConfig{ChunkSize: 500, Filter: "qty > 0"})

	st, err := runner.RunTable(context.Background(), table, RunOptions{})
	if err != nil {
		t.Fatalf("RunTable failed: %v", err)
	}

	if st.SuccessfulRecords != 2 || st.SkippedRecords != 1 {
		t.Errorf("counters = (%d success, %d skipped), want (2, 1)", st.SuccessfulRecords, st.SkippedRecords)
	}
}

// TestNewRunnerInvalidFilter verifies that a bad expression fails fast.
func TestNewRunnerInvalidFilter(t *testing.T) {
	_, err := NewRunner(&mockDefinition{}, &mockPersister{}, config.ImporterConfig{Filter: "qty >"})
	if err == nil {
		t.Fatal("expected error for invalid filter expression")
	}
}

// TestRunMissingFile verifies the file-level error class.
func TestRunMissingFile(t *testing.T) {
	runner := newTestRunner(t, &mockDefinition{}, &mockPersister{}, config.ImporterConfig{ChunkSize: 500})

	st, err := runner.Run(context.Background(), "does/not/exist.csv", RunOptions{})
	if !errors.Is(err, ErrFileProcessing) {
		t.Fatalf("error = %v, want ErrFileProcessing", err)
	}
	if st == nil || !st.Finished() {
		t.Error("stats not finalized on load failure")
	}
}
