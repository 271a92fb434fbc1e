package main

import (
	"errors"
	"fmt"
	"os"

	"contact-import/internal/app"
	"contact-import/internal/logging"
)

// main is the entry point for the contact-import application.
func main() {
	runner := app.NewAppRunner()

	err := runner.Run(os.Args[1:])
	defer logging.Sync()
	if err != nil {
		if errors.Is(err, app.ErrUsage) || errors.Is(err, app.ErrConfigNotFound) || errors.Is(err, app.ErrMissingArgs) {
			fmt.Fprintln(os.Stderr, "")
			runner.Usage(os.Stderr)
		}

		// Make sure the failure is visible even with -loglevel=none.
		if logging.GetLevel() < logging.Error {
			logging.SetLevel(logging.Error)
		}
		logging.Logf(logging.Error, "Import failed: %v", err)
		logging.Sync()
		os.Exit(1)
	}
	logging.Logf(logging.Debug, "contact-import finished.")
}
