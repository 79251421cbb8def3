package config

// Defaults applied when the YAML file leaves options unset.
const (
	DefaultLogLevel       = "info"
	DefaultChunkSize      = 500
	DefaultMaxRetries     = 3
	DefaultTimeoutSeconds = 300
	DefaultInputDir       = "data/input"
	DefaultReportDir      = "logs"
)

// Config is the overall structure of the application YAML file.
type Config struct {
	// Logging configures verbosity for the run.
	Logging LoggingConfig `yaml:"logging"`
	// Database holds the PostgreSQL connection settings. The -db flag or the
	// DB_CREDENTIALS environment variable override these.
	Database DatabaseConfig `yaml:"database"`
	// Importer holds batch-processing options shared by all importers.
	Importer ImporterConfig `yaml:"importer"`
	// Paths configures input and report directories.
	Paths PathsConfig `yaml:"paths"`
}

// LoggingConfig holds settings related to logging verbosity.
type LoggingConfig struct {
	// Level is one of "none", "error", "warn", "info", "debug".
	Level string `yaml:"level"`
}

// DatabaseConfig describes the PostgreSQL target. Either ConnString or the
// discrete fields may be used; ConnString wins when both are set.
// Environment variables are expanded in every field.
type DatabaseConfig struct {
	ConnString string `yaml:"conn_string,omitempty"`
	Host       string `yaml:"host,omitempty"`
	Port       string `yaml:"port,omitempty"`
	User       string `yaml:"user,omitempty"`
	Password   string `yaml:"password,omitempty"`
	DBName     string `yaml:"dbname,omitempty"`
	SSLMode    string `yaml:"sslmode,omitempty"`
}

// ImporterConfig holds batch-processing options.
type ImporterConfig struct {
	// ChunkSize is the row count per batch. Default 500.
	ChunkSize int `yaml:"chunk_size"`
	// MaxRetries is accepted but reserved; retry logic does not consume it yet.
	MaxRetries int `yaml:"max_retries"`
	// TimeoutSeconds is accepted but reserved.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// EnableValidation gates the structural input check before any row is
	// processed. Pointer so an explicit false survives defaulting. Default true.
	EnableValidation *bool `yaml:"enable_validation,omitempty"`
	// Filter is an optional govaluate expression evaluated against each raw
	// row before mapping; rows evaluating to false are skipped.
	// Example: "MRP > 0"
	Filter string `yaml:"filter,omitempty"`
	// Delimiter is the CSV field delimiter (default ",").
	Delimiter string `yaml:"delimiter,omitempty"`
	// SheetName selects the XLSX sheet to read; takes precedence over SheetIndex.
	SheetName string `yaml:"sheetName,omitempty"`
	// SheetIndex selects the XLSX sheet by 0-based index when SheetName is unset.
	SheetIndex *int `yaml:"sheetIndex,omitempty"`
}

// PathsConfig configures filesystem locations.
type PathsConfig struct {
	// InputDir is the directory scanned by "-type all" imports.
	InputDir string `yaml:"input_dir"`
	// ReportDir is where per-run report files are written.
	ReportDir string `yaml:"report_dir"`
}

// ValidationEnabled resolves the EnableValidation pointer (default true).
func (ic ImporterConfig) ValidationEnabled() bool {
	return ic.EnableValidation == nil || *ic.EnableValidation
}
