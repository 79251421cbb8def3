package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/manupuranic/dataflow-hub/internal/app"
	"github.com/manupuranic/dataflow-hub/internal/logging"
)

// main is the entry point for the dataflow-hub application.
func main() {
	runner := app.NewAppRunner()

	err := runner.Run(os.Args[1:])
	if err != nil {
		printUsage := errors.Is(err, app.ErrUsage) || errors.Is(err, app.ErrConfigNotFound) ||
			errors.Is(err, app.ErrMissingArgs) || errors.Is(err, app.ErrUnknownImportType)
		if printUsage {
			fmt.Fprintln(os.Stderr, "")
			runner.Usage(os.Stderr)
		}

		// Make sure the failure is visible even when logging is configured
		// below the error level.
		if logging.GetLevel() < logging.Error {
			logging.SetLevel(logging.Error)
		}
		logging.Logf(logging.Error, "Application execution failed: %v", err)

		os.Exit(1)
	}

	logging.Logf(logging.Info, "Import process completed successfully.")
}
