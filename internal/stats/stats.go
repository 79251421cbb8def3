// Package stats tracks per-run processing counters and derived metrics.
package stats

import (
	"strings"
	"time"

	"github.com/manupuranic/dataflow-hub/internal/logging"
)

// ProcessingStats accumulates counters for one import run. An instance is
// created at the start of a run, mutated in place by every stage, and
// finalized exactly once before reporting. It is not safe for concurrent
// use and is never shared across runs.
type ProcessingStats struct {
	StartTime time.Time
	EndTime   time.Time

	TotalInputRecords  int
	TotalOutputRecords int
	SuccessfulRecords  int
	SkippedRecords     int
	ErrorRecords       int
	DuplicateGroups    int
	ValidationErrors   int
	DatabaseErrors     int
}

// New creates a ProcessingStats stamped with the current time.
func New() *ProcessingStats {
	return &ProcessingStats{StartTime: time.Now()}
}

// Finish stamps the end time. Duration is undefined until Finish is called.
func (s *ProcessingStats) Finish() {
	s.EndTime = time.Now()
}

// Finished reports whether the run has been finalized.
func (s *ProcessingStats) Finished() bool {
	return !s.EndTime.IsZero()
}

// Duration returns the elapsed run time and true once the run is finished,
// zero and false before.
func (s *ProcessingStats) Duration() (time.Duration, bool) {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0, false
	}
	return s.EndTime.Sub(s.StartTime), true
}

// SuccessRate returns successful/total as a percentage, 0 when no input
// records were read.
func (s *ProcessingStats) SuccessRate() float64 {
	if s.TotalInputRecords == 0 {
		return 0.0
	}
	return float64(s.SuccessfulRecords) / float64(s.TotalInputRecords) * 100
}

// LogSummary emits the end-of-run summary through the global logger.
func (s *ProcessingStats) LogSummary() {
	rule := strings.Repeat("=", 60)
	logging.Logf(logging.Info, "%s", rule)
	logging.Logf(logging.Info, "PROCESSING SUMMARY")
	logging.Logf(logging.Info, "%s", rule)
	if d, ok := s.Duration(); ok {
		logging.Logf(logging.Info, "Duration: %.2fs", d.Seconds())
	} else {
		logging.Logf(logging.Info, "Duration: N/A")
	}
	logging.Logf(logging.Info, "Input records: %d", s.TotalInputRecords)
	logging.Logf(logging.Info, "Output records: %d", s.TotalOutputRecords)
	logging.Logf(logging.Info, "Successful: %d", s.SuccessfulRecords)
	logging.Logf(logging.Info, "Skipped: %d", s.SkippedRecords)
	logging.Logf(logging.Info, "Errors: %d", s.ErrorRecords)
	logging.Logf(logging.Info, "Duplicate groups: %d", s.DuplicateGroups)
	logging.Logf(logging.Info, "Success rate: %.2f%%", s.SuccessRate())

	if s.ValidationErrors > 0 {
		logging.Logf(logging.Warning, "Validation errors: %d", s.ValidationErrors)
	}
	if s.DatabaseErrors > 0 {
		logging.Logf(logging.Error, "Database errors: %d", s.DatabaseErrors)
	}

	logging.Logf(logging.Info, "%s", rule)
}
