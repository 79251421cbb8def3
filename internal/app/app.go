// Package app wires configuration, storage, and the importers into the
// command-line application.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/manupuranic/dataflow-hub/internal/config"
	"github.com/manupuranic/dataflow-hub/internal/importer"
	etlio "github.com/manupuranic/dataflow-hub/internal/io"
	"github.com/manupuranic/dataflow-hub/internal/logging"
	"github.com/manupuranic/dataflow-hub/internal/report"
	"github.com/manupuranic/dataflow-hub/internal/stats"
	"github.com/manupuranic/dataflow-hub/internal/util"
)

// Define common application-level errors.
var (
	ErrUsage             = errors.New("usage error")
	ErrConfigNotFound    = errors.New("configuration file not found")
	ErrMissingArgs       = errors.New("missing required arguments")
	ErrUnknownImportType = errors.New("unknown import type")
)

// dataStore is the combined storage surface the importers need.
type dataStore interface {
	etlio.RecordPersister
	etlio.LookupStore
	Close()
}

// --- Factory Variables (Allow Overriding for Testing) ---
var (
	newDataStoreFunc = func(ctx context.Context, connStr string) (dataStore, error) {
		return etlio.NewPostgresStore(ctx, connStr)
	}
	generateReportFunc = report.Generate
	osStatFunc         = os.Stat
)

// importerBuilders maps the -type flag to a Definition constructor.
var importerBuilders = map[string]func(etlio.LookupStore) importer.Definition{
	"products": func(ls etlio.LookupStore) importer.Definition { return importer.NewProductImporter(ls) },
}

// batchSequence is the ordered set of imports run by -type all, with the
// expected file name under paths.input_dir and an optional companion file.
var batchSequence = []struct {
	importType    string
	fileName      string
	inventoryName string
}{
	{"products", "products.xlsx", "inventory.csv"},
}

// AppRunner encapsulates the application's execution logic.
type AppRunner struct{}

// NewAppRunner creates a new instance of the application runner.
func NewAppRunner() *AppRunner {
	return &AppRunner{}
}

// usageText defines the command-line help information.
const usageText = `Usage:
  dataflow-hub [options]

Options:
  -type string
        Type of data to import (products, all) (required)
  -file string
        Path to input file (required for single imports)
  -inventory string
        Path to inventory file (for product imports)
  -config string
        YAML configuration file (default "config/settings.yaml")
  -chunk-size int
        Override configured batch size
  -offset int
        Number of records to skip from the beginning (default 0)
  -db string
        PostgreSQL connection string (overrides DB_CREDENTIALS env var and config)
  -loglevel string
        Logging level (none, error, warn, info, debug) (default "info")
  -report string
        Override report file path (default <report_dir>/<type>_import_report.txt)
  -help
        Show help

Environment Variables:
  DB_CREDENTIALS   PostgreSQL connection string (used if -db is not set)
  Any VAR          Can be used in config paths/connection strings via $VAR/${VAR} or %VAR%

Examples:
  dataflow-hub -type=products -file=data/input/products.xlsx
  dataflow-hub -type=products -file=data/products.xlsx -inventory=data/inventory.csv
  dataflow-hub -type=all -config=config/settings.yaml
  dataflow-hub -type=products -file=products.xlsx -chunk-size=1000 -offset=5000
`

// Usage prints the command-line help information to the specified writer.
func (a *AppRunner) Usage(writer io.Writer) {
	fmt.Fprint(writer, usageText)
}

// Run parses command-line arguments and executes the import workflow.
func (a *AppRunner) Run(args []string) error {
	fs := flag.NewFlagSet("dataflow-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	importType := fs.String("type", "", "Type of data to import")
	filePath := fs.String("file", "", "Path to input file")
	inventoryPath := fs.String("inventory", "", "Path to inventory file")
	configFile := fs.String("config", "config/settings.yaml", "YAML configuration file")
	chunkSize := fs.Int("chunk-size", 0, "Override configured batch size")
	offset := fs.Int("offset", 0, "Number of records to skip")
	dbConnStr := fs.String("db", "", "PostgreSQL connection string")
	logLevelStr := fs.String("loglevel", "info", "Logging level")
	reportPath := fs.String("report", "", "Override report file path")
	helpFlag := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			a.Usage(os.Stderr)
			return nil
		}
		logging.Logf(logging.Error, "Failed to parse args: %v", err)
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *helpFlag || len(args) == 0 {
		a.Usage(os.Stderr)
		return nil
	}

	logging.SetupLogging(*logLevelStr)

	cfg, err := a.loadConfig(*configFile, isFlagSet(fs, "config"))
	if err != nil {
		return err
	}
	if !isFlagSet(fs, "loglevel") && cfg.Logging.Level != "" {
		logging.SetupLogging(cfg.Logging.Level)
	}

	if *importType == "" {
		return fmt.Errorf("%w: -type is required", ErrMissingArgs)
	}
	if _, known := importerBuilders[*importType]; !known && *importType != "all" {
		return fmt.Errorf("%w: %s", ErrUnknownImportType, *importType)
	}

	connStr := *dbConnStr
	if connStr == "" {
		connStr = os.Getenv("DB_CREDENTIALS")
	}
	if connStr == "" {
		connStr = cfg.Database.ResolveConnString()
	}
	if connStr == "" {
		return fmt.Errorf("%w: no database connection configured (-db, DB_CREDENTIALS, or config)", ErrMissingArgs)
	}
	connStr = util.ExpandEnvUniversal(connStr)

	ctx := context.Background()
	store, err := newDataStoreFunc(ctx, connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	opts := importer.RunOptions{ChunkSize: *chunkSize, Offset: *offset}

	if *importType == "all" {
		return a.runAll(ctx, cfg, store, opts)
	}

	if *filePath == "" {
		return fmt.Errorf("%w: -file is required for single imports", ErrMissingArgs)
	}

	st, err := a.runSingle(ctx, cfg, store, *importType, *filePath, *inventoryPath, opts)
	if st != nil {
		a.writeReport(cfg, *importType, *filePath, *reportPath, st)
	}
	if err != nil {
		return fmt.Errorf("%s import failed: %w", *importType, err)
	}
	logging.Logf(logging.Info, "%s import completed successfully", *importType)
	return nil
}

// loadConfig resolves the configuration file. A missing file is an error when
// the path was given explicitly; otherwise defaults apply.
func (a *AppRunner) loadConfig(configFile string, explicit bool) (*config.Config, error) {
	if _, err := osStatFunc(configFile); err != nil {
		if os.IsNotExist(err) {
			if explicit {
				logging.Logf(logging.Error, "Config file '%s' not found.", configFile)
				return nil, ErrConfigNotFound
			}
			logging.Logf(logging.Debug, "No config file at '%s', using defaults.", configFile)
			return config.Default(), nil
		}
		return nil, fmt.Errorf("failed to stat config file '%s': %w", configFile, err)
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logging.Logf(logging.Error, "Error loading/validating config '%s': %v", configFile, err)
		return nil, err
	}
	logging.Logf(logging.Info, "Loaded configuration from %s", configFile)
	return cfg, nil
}

// runSingle executes one import. For products with an inventory file the two
// tables are merged in memory before the import runs.
func (a *AppRunner) runSingle(ctx context.Context, cfg *config.Config, store dataStore, importType, filePath, inventoryPath string, opts importer.RunOptions) (*stats.ProcessingStats, error) {
	builder, ok := importerBuilders[importType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImportType, importType)
	}
	def := builder(store)

	runner, err := importer.NewRunner(def, store, cfg.Importer)
	if err != nil {
		return nil, err
	}

	if inventoryPath != "" {
		prod, isProduct := def.(*importer.ProductImporter)
		if !isProduct {
			return nil, fmt.Errorf("%w: -inventory is only valid for product imports", ErrUsage)
		}
		products, err := runner.LoadTable(filePath)
		if err != nil {
			return nil, err
		}
		inventory, err := runner.LoadTable(inventoryPath)
		if err != nil {
			return nil, err
		}
		merged, err := prod.MergeWithInventory(products, inventory)
		if err != nil {
			return nil, err
		}
		return runner.RunTable(ctx, merged, opts)
	}

	return runner.Run(ctx, filePath, opts)
}

// runAll executes the configured import sequence against paths.input_dir,
// skipping missing files and continuing past failed imports.
func (a *AppRunner) runAll(ctx context.Context, cfg *config.Config, store dataStore, opts importer.RunOptions) error {
	logging.Logf(logging.Info, "Starting complete data import sequence")

	inputDir := util.ExpandEnvUniversal(cfg.Paths.InputDir)
	results := make(map[string]*stats.ProcessingStats)
	attempted := 0
	failures := 0

	for _, entry := range batchSequence {
		filePath := filepath.Join(inputDir, entry.fileName)
		if _, err := osStatFunc(filePath); err != nil {
			logging.Logf(logging.Warning, "Skipping %s: file not found %s", entry.importType, filePath)
			continue
		}

		inventoryPath := ""
		if entry.inventoryName != "" {
			candidate := filepath.Join(inputDir, entry.inventoryName)
			if _, err := osStatFunc(candidate); err == nil {
				inventoryPath = candidate
			} else {
				logging.Logf(logging.Warning, "Inventory file not found, proceeding without merge")
			}
		}

		attempted++
		st, err := a.runSingle(ctx, cfg, store, entry.importType, filePath, inventoryPath, opts)
		if st != nil {
			results[entry.importType] = st
			a.writeReport(cfg, entry.importType, filePath, "", st)
		}
		if err != nil {
			logging.Logf(logging.Error, "Failed to import %s: %v", entry.importType, err)
			failures++
			continue
		}
		logging.Logf(logging.Info, "%s import completed successfully", entry.importType)
	}

	a.logOverallSummary(results)
	if failures > 0 {
		return fmt.Errorf("%d of %d imports failed", failures, attempted)
	}
	return nil
}

// writeReport generates the per-run report file. Report failures are logged,
// never fatal.
func (a *AppRunner) writeReport(cfg *config.Config, importType, filePath, override string, st *stats.ProcessingStats) {
	outputPath := override
	if outputPath == "" {
		outputPath = filepath.Join(util.ExpandEnvUniversal(cfg.Paths.ReportDir), fmt.Sprintf("%s_import_report.txt", importType))
	}
	info := map[string]string{
		"Import type": importType,
		"Source file": filePath,
	}
	if err := generateReportFunc(st, outputPath, info); err != nil {
		logging.Logf(logging.Error, "Error generating report: %v", err)
	}
}

func (a *AppRunner) logOverallSummary(results map[string]*stats.ProcessingStats) {
	logging.Logf(logging.Info, "================================================================================")
	logging.Logf(logging.Info, "OVERALL IMPORT SUMMARY")
	logging.Logf(logging.Info, "================================================================================")

	totalSuccess, totalErrors := 0, 0
	for _, entry := range batchSequence {
		st, ok := results[entry.importType]
		if !ok {
			continue
		}
		logging.Logf(logging.Info, "%s: %d success, %d errors, %.1f%% rate", entry.importType, st.SuccessfulRecords, st.ErrorRecords, st.SuccessRate())
		totalSuccess += st.SuccessfulRecords
		totalErrors += st.ErrorRecords
	}
	logging.Logf(logging.Info, "TOTALS: %d successful, %d errors", totalSuccess, totalErrors)
	logging.Logf(logging.Info, "================================================================================")
}

// Helper functions
func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
