package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/manupuranic/dataflow-hub/internal/logging"
)

// ValidateConfig checks the loaded configuration for internally
// inconsistent or unusable values. Returns the first problem found.
func ValidateConfig(cfg *Config) error {
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level '%s': %w", cfg.Logging.Level, err)
	}

	if cfg.Importer.ChunkSize < 0 {
		return fmt.Errorf("importer.chunk_size must not be negative, got %d", cfg.Importer.ChunkSize)
	}
	if cfg.Importer.MaxRetries < 0 {
		return fmt.Errorf("importer.max_retries must not be negative, got %d", cfg.Importer.MaxRetries)
	}
	if cfg.Importer.TimeoutSeconds < 0 {
		return fmt.Errorf("importer.timeout_seconds must not be negative, got %d", cfg.Importer.TimeoutSeconds)
	}
	if d := cfg.Importer.Delimiter; d != "" && utf8.RuneCountInString(d) != 1 {
		return fmt.Errorf("importer.delimiter '%s' must be a single character", d)
	}
	if cfg.Importer.SheetIndex != nil && *cfg.Importer.SheetIndex < 0 {
		return fmt.Errorf("importer.sheetIndex must not be negative, got %d", *cfg.Importer.SheetIndex)
	}

	if strings.TrimSpace(cfg.Paths.InputDir) == "" {
		return fmt.Errorf("paths.input_dir must not be empty")
	}
	if strings.TrimSpace(cfg.Paths.ReportDir) == "" {
		return fmt.Errorf("paths.report_dir must not be empty")
	}

	return nil
}
