// Package report renders a plain-text summary of one import run.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/manupuranic/dataflow-hub/internal/logging"
	"github.com/manupuranic/dataflow-hub/internal/stats"
)

// Generate writes a processing report for a finished run to outputPath,
// creating parent directories as needed. additionalInfo entries are appended
// in key order.
func Generate(st *stats.ProcessingStats, outputPath string, additionalInfo map[string]string) error {
	logging.Logf(logging.Info, "Generating import report: %s", outputPath)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("DATAFLOW HUB - IMPORT PROCESSING REPORT\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	if d, ok := st.Duration(); ok {
		fmt.Fprintf(&b, "Duration: %.2f seconds\n", d.Seconds())
	} else {
		b.WriteString("Duration: N/A\n")
	}
	b.WriteString("\n")

	b.WriteString("SUMMARY STATISTICS\n")
	b.WriteString(strings.Repeat("-", 30) + "\n")
	fmt.Fprintf(&b, "Total input records: %d\n", st.TotalInputRecords)
	fmt.Fprintf(&b, "Total output records: %d\n", st.TotalOutputRecords)
	fmt.Fprintf(&b, "Successful records: %d\n", st.SuccessfulRecords)
	fmt.Fprintf(&b, "Skipped records: %d\n", st.SkippedRecords)
	fmt.Fprintf(&b, "Error records: %d\n", st.ErrorRecords)
	fmt.Fprintf(&b, "Duplicate groups: %d\n", st.DuplicateGroups)
	fmt.Fprintf(&b, "Success rate: %.2f%%\n", st.SuccessRate())
	b.WriteString("\n")

	b.WriteString("PERFORMANCE METRICS\n")
	b.WriteString(strings.Repeat("-", 30) + "\n")
	if d, ok := st.Duration(); ok && d > 0 {
		rps := float64(st.TotalInputRecords) / d.Seconds()
		fmt.Fprintf(&b, "Processing rate: %.0f records/second\n", rps)
		fmt.Fprintf(&b, "Total processing time: %.2f seconds\n", d.Seconds())
	}

	if st.ErrorRecords > 0 || st.ValidationErrors > 0 {
		b.WriteString("\nERROR ANALYSIS\n")
		b.WriteString(strings.Repeat("-", 20) + "\n")
		fmt.Fprintf(&b, "Processing errors: %d\n", st.ErrorRecords)
		fmt.Fprintf(&b, "Validation errors: %d\n", st.ValidationErrors)
		fmt.Fprintf(&b, "Database errors: %d\n", st.DatabaseErrors)
	}

	if len(additionalInfo) > 0 {
		b.WriteString("\nADDITIONAL INFORMATION\n")
		b.WriteString(strings.Repeat("-", 30) + "\n")
		keys := make([]string, 0, len(additionalInfo))
		for k := range additionalInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, additionalInfo[k])
		}
	}

	if err := os.WriteFile(outputPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write report '%s': %w", outputPath, err)
	}
	logging.Logf(logging.Info, "Report generated successfully")
	return nil
}
