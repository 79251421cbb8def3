// Package importer drives the end-to-end import pipeline: load, validate,
// preprocess, offset, chunk, per-row transform, per-batch dedupe and
// persist, statistics finalization.
package importer

import (
	"context"
	"fmt"
	"os"

	"github.com/Knetic/govaluate"

	"github.com/manupuranic/dataflow-hub/internal/config"
	"github.com/manupuranic/dataflow-hub/internal/dedupe"
	etlio "github.com/manupuranic/dataflow-hub/internal/io"
	"github.com/manupuranic/dataflow-hub/internal/logging"
	"github.com/manupuranic/dataflow-hub/internal/stats"
	"github.com/manupuranic/dataflow-hub/internal/util"
)

// Definition is the per-source contract a concrete importer supplies to the
// generic Runner.
type Definition interface {
	// TableName is the target database table.
	TableName() string
	// ConflictColumns identify "the same" logical row for dedupe and upsert.
	ConflictColumns() []string
	// RequiredColumns must be present in the input for validation to pass.
	RequiredColumns() []string
	// MergeRules are the per-field modes used when collapsing duplicates.
	MergeRules() map[string]dedupe.FieldMergeMode
	// MapRow transforms one raw row into a structured record. Returning
	// (nil, nil) skips the row; returning an error counts it as an error row
	// without aborting the batch.
	MapRow(ctx context.Context, row map[string]interface{}) (map[string]interface{}, error)
}

// Preprocessor is an optional Definition capability applying whole-table
// transforms before batching.
type Preprocessor interface {
	Preprocess(t *etlio.Table) (*etlio.Table, error)
}

// BatchPostprocessor is an optional Definition capability adjusting a
// mapped batch before dedupe and persistence.
type BatchPostprocessor interface {
	PostprocessBatch(records []map[string]interface{}) []map[string]interface{}
}

// InputValidator is an optional Definition capability replacing the default
// structural check (required columns present, table non-empty).
type InputValidator interface {
	ValidateInput(t *etlio.Table) error
}

// RunOptions carry per-invocation overrides.
type RunOptions struct {
	// ChunkSize overrides the configured batch size when > 0.
	ChunkSize int
	// Offset discards this many leading rows before batching, for resuming
	// partially-completed runs.
	Offset int
}

// Runner executes one import run at a time for a Definition. The persister
// is held for the Runner's lifetime and reused across batches and runs.
// Execution is single-threaded; batches are persisted strictly in input
// order.
type Runner struct {
	def    Definition
	store  etlio.RecordPersister
	cfg    config.ImporterConfig
	engine *dedupe.Engine
	filter *govaluate.EvaluableExpression
}

// NewRunner wires a Definition to a persister. The optional filter
// expression from the configuration is compiled here so an invalid
// expression fails before any I/O.
func NewRunner(def Definition, store etlio.RecordPersister, cfg config.ImporterConfig) (*Runner, error) {
	r := &Runner{
		def:    def,
		store:  store,
		cfg:    cfg,
		engine: dedupe.NewEngine(dedupe.StrategyMerge, def.MergeRules()),
	}
	if cfg.Filter != "" {
		expr, err := govaluate.NewEvaluableExpression(cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter expression '%s': %w", cfg.Filter, err)
		}
		r.filter = expr
	}
	return r, nil
}

// Run performs one import of the given file and returns the run statistics.
// The statistics are finalized before returning, on fatal errors as well.
func (r *Runner) Run(ctx context.Context, filePath string, opts RunOptions) (*stats.ProcessingStats, error) {
	logging.Logf(logging.Info, "Starting %s import from %s", r.def.TableName(), filePath)

	table, err := r.LoadTable(filePath)
	if err != nil {
		st := stats.New()
		st.Finish()
		return st, err
	}
	logging.Logf(logging.Info, "Loaded %d records from %s", table.Len(), filePath)

	return r.RunTable(ctx, table, opts)
}

// RunTable imports an already-loaded table. Used directly when the input is
// assembled in memory, such as a product-inventory merge.
func (r *Runner) RunTable(ctx context.Context, table *etlio.Table, opts RunOptions) (*stats.ProcessingStats, error) {
	st := stats.New()
	st.TotalInputRecords = table.Len()

	chunkSize := r.cfg.ChunkSize
	if opts.ChunkSize > 0 {
		chunkSize = opts.ChunkSize
	}
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}
	logging.Logf(logging.Info, "Processing %d input records (chunk_size=%d, offset=%d)", table.Len(), chunkSize, opts.Offset)

	if r.cfg.ValidationEnabled() {
		if err := r.validateInput(table); err != nil {
			st.ValidationErrors++
			st.Finish()
			return st, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	if pre, ok := r.def.(Preprocessor); ok {
		var err error
		table, err = pre.Preprocess(table)
		if err != nil {
			st.Finish()
			return st, fmt.Errorf("preprocessing failed: %w", err)
		}
	}

	rows := table.Rows
	if opts.Offset > 0 {
		logging.Logf(logging.Info, "Applying offset: %d records", opts.Offset)
		if opts.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[opts.Offset:]
		}
	}

	totalRecords := len(rows)
	totalBatches := (totalRecords + chunkSize - 1) / chunkSize
	logging.Logf(logging.Info, "Processing %d records in %d batches", totalRecords, totalBatches)

	for i := 0; i < totalRecords; i += chunkSize {
		batchNum := i/chunkSize + 1
		end := i + chunkSize
		if end > totalRecords {
			end = totalRecords
		}
		batchRows := rows[i:end]
		logging.Logf(logging.Info, "Processing batch %d/%d (%d records)", batchNum, totalBatches, len(batchRows))

		batchRecords := r.processBatch(ctx, batchRows, st)
		if len(batchRecords) > 0 {
			if written := r.persistBatch(ctx, batchRecords, st); written > 0 {
				st.TotalOutputRecords += written
			}
		}

		logging.Logf(logging.Info, "Progress: %.1f%% complete", float64(batchNum)/float64(totalBatches)*100)
	}

	st.Finish()
	st.LogSummary()
	return st, nil
}

// LoadTable reads the source file into a table without validating it. Load
// failures are fatal: they abort the run before any row processing.
func (r *Runner) LoadTable(filePath string) (*etlio.Table, error) {
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: file not found: %s", ErrFileProcessing, filePath)
		}
		return nil, fmt.Errorf("%w: cannot stat %s: %v", ErrFileProcessing, filePath, err)
	}

	reader, err := etlio.NewInputReader(filePath, r.cfg.Delimiter, r.cfg.SheetName, r.cfg.SheetIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileProcessing, err)
	}

	table, err := reader.Read(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load %s: %v", ErrFileProcessing, filePath, err)
	}
	return table, nil
}

func (r *Runner) validateInput(table *etlio.Table) error {
	if v, ok := r.def.(InputValidator); ok {
		return v.ValidateInput(table)
	}
	if table.Len() == 0 {
		return fmt.Errorf("input is empty")
	}
	var missing []string
	for _, col := range r.def.RequiredColumns() {
		if !table.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required columns: %v", missing)
	}
	return nil
}

// processBatch maps raw rows into structured records. A failing row never
// aborts the batch: filter and mapper failures are counted and logged, and
// the loop continues with the next row.
func (r *Runner) processBatch(ctx context.Context, batchRows []map[string]interface{}, st *stats.ProcessingStats) []map[string]interface{} {
	batchRecords := make([]map[string]interface{}, 0, len(batchRows))

	for idx, row := range batchRows {
		if r.filter != nil {
			keep, err := r.evaluateFilter(row)
			if err != nil {
				logging.Logf(logging.Warning, "Error evaluating filter for row %d: %v. Row (masked): %v", idx, err, util.MaskSensitiveData(row))
				st.ErrorRecords++
				continue
			}
			if !keep {
				st.SkippedRecords++
				continue
			}
		}

		record, err := r.def.MapRow(ctx, row)
		if err != nil {
			logging.Logf(logging.Warning, "Error processing row %d: %v. Row (masked): %v", idx, err, util.MaskSensitiveData(row))
			st.ErrorRecords++
			continue
		}
		if record == nil {
			st.SkippedRecords++
			continue
		}
		batchRecords = append(batchRecords, record)
		st.SuccessfulRecords++
	}
	return batchRecords
}

// persistBatch postprocesses, dedupes, and upserts one batch. A persistence
// failure is recovered at the batch level: the batch's records are dropped,
// the database error counter increments, and the run continues.
func (r *Runner) persistBatch(ctx context.Context, batchRecords []map[string]interface{}, st *stats.ProcessingStats) int {
	if post, ok := r.def.(BatchPostprocessor); ok {
		batchRecords = post.PostprocessBatch(batchRecords)
	}

	deduped, duplicates := r.engine.Deduplicate(batchRecords, r.def.ConflictColumns())
	st.DuplicateGroups += len(duplicates)

	if err := r.store.BulkUpsert(ctx, r.def.TableName(), deduped, r.def.ConflictColumns()); err != nil {
		logging.Logf(logging.Error, "Database insertion error: %v", err)
		st.DatabaseErrors++
		return 0
	}
	logging.Logf(logging.Info, "Inserted/updated %d records", len(deduped))
	return len(deduped)
}

func (r *Runner) evaluateFilter(row map[string]interface{}) (bool, error) {
	result, err := r.filter.Evaluate(row)
	if err != nil {
		return false, err
	}
	keep, isBool := result.(bool)
	if !isBool {
		return false, fmt.Errorf("filter expression returned non-boolean %T (%v)", result, result)
	}
	return keep, nil
}
