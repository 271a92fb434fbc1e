package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"contact-import/internal/config"
	sheetio "contact-import/internal/io"
	"contact-import/internal/logging"
	"contact-import/internal/processor"
	"contact-import/internal/reconcile"
	"contact-import/internal/schema"
	"contact-import/internal/server"
	"contact-import/internal/store"
	"contact-import/internal/util"

	"github.com/joho/godotenv"
)

// Define common application-level errors.
var (
	ErrUsage          = errors.New("usage error")
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrMissingArgs    = errors.New("missing required arguments")
)

const defaultConfigFile = "config/import-config.yaml"

// --- Interfaces for Mocking ---

// importStore is everything the runner needs from the database.
// *store.Postgres satisfies it.
type importStore interface {
	reconcile.Store
	server.Queries
	Migrate(ctx context.Context) error
	Close()
}

// --- Factory Variables (Allow Overriding for Testing) ---
var (
	// IO Factories
	newSheetReaderFunc   = sheetio.NewSheetReader
	newFailureWriterFunc = sheetio.NewFailureWriter

	// Store Factory
	openStoreFunc = func(ctx context.Context, connStr string, timeout time.Duration) (importStore, error) {
		pg, err := store.Open(ctx, connStr, timeout)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}

	// Processor Factory
	newProcessorFunc = processor.NewProcessor

	// HTTP server, blocks until ctx is done
	serveFunc = func(ctx context.Context, srv *server.Server, addr string) error {
		return srv.ListenAndServe(ctx, addr)
	}

	// Environment and filesystem
	loadDotEnvFunc = func() error { return godotenv.Load() }
	osMkdirAllFunc = os.MkdirAll
	osStatFunc     = os.Stat
)

// AppRunner encapsulates the application's execution logic.
type AppRunner struct {
	// stdout receives the run summary and e-mail lists.
	stdout io.Writer
}

// NewAppRunner creates a new instance of the application runner.
func NewAppRunner() *AppRunner {
	return &AppRunner{stdout: os.Stdout}
}

// usageText defines the command-line help information.
const usageText = `Usage:
  contact-import [options]

Options:
  -config string
        YAML configuration file (default "config/import-config.yaml"; built-in defaults if missing)
  -input string
        Spreadsheet to import (.xlsx or .csv), overrides source.file
  -db string
        PostgreSQL connection string (overrides database.dsn and DB_CREDENTIALS)
  -loglevel string
        Logging level (none, error, warn, info, debug) (default "info")
  -dry-run
        Resolve and validate the sheet without writing to the database
  -migrate
        Create missing tables before importing
  -atomic
        Write customer, contact and flags of a row in one transaction
  -workers int
        Number of concurrent lanes; rows of one customer share a lane (default 1)
  -failed-rows string
        Append failed rows to this CSV file for a later re-import
  -emails string
        Print the e-mail addresses of contacts with this action flag and exit
  -serve string
        Serve the HTTP API on this address (e.g. ":8080") instead of importing
  -help
        Show help

Environment Variables:
  DB_CREDENTIALS   PostgreSQL connection string (used if -db and database.dsn are not set)
  Any VAR          Can be used in paths/connection strings via $VAR/${VAR} or %VAR%
  A .env file in the working directory is loaded first.

Examples:
  contact-import -input=Kontakte.xlsx
  contact-import -input=Kontakte.xlsx -dry-run -loglevel=debug
  contact-import -migrate -input=Kontakte.xlsx -failed-rows=failed.csv
  contact-import -emails=newsletter > newsletter.txt
  contact-import -serve=:8080
`

// Usage prints the command-line help information to the specified writer.
func (a *AppRunner) Usage(writer io.Writer) {
	fmt.Fprint(writer, usageText)
}

// options holds the parsed command line.
type options struct {
	configFile string
	input      string
	db         string
	logLevel   string
	dryRun     bool
	migrate    bool
	atomic     bool
	workers    int
	failedRows string
	emails     string
	serve      string
	help       bool
}

// Run parses command-line arguments and executes the requested mode.
// Row failures are reported in the summary and never returned as an error.
func (a *AppRunner) Run(args []string) error {
	// --- Flag Parsing ---
	fs := flag.NewFlagSet("contact-import", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var opts options
	fs.StringVar(&opts.configFile, "config", defaultConfigFile, "YAML configuration file")
	fs.StringVar(&opts.input, "input", "", "Spreadsheet to import")
	fs.StringVar(&opts.db, "db", "", "PostgreSQL connection string")
	fs.StringVar(&opts.logLevel, "loglevel", config.DefaultLogLevel, "Logging level")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Validate without writing")
	fs.BoolVar(&opts.migrate, "migrate", false, "Create missing tables")
	fs.BoolVar(&opts.atomic, "atomic", false, "One transaction per row")
	fs.IntVar(&opts.workers, "workers", 0, "Number of concurrent lanes")
	fs.StringVar(&opts.failedRows, "failed-rows", "", "Failed rows CSV file")
	fs.StringVar(&opts.emails, "emails", "", "Print e-mails for an action")
	fs.StringVar(&opts.serve, "serve", "", "Serve the HTTP API")
	fs.BoolVar(&opts.help, "help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			a.Usage(os.Stderr)
			return nil
		}
		logging.Logf(logging.Error, "Failed to parse args: %v", err)
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if opts.help || (len(args) == 0 && !anyFlagsSet(fs)) {
		a.Usage(os.Stderr)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", ErrUsage, fs.Args())
	}

	// --- Initial Setup & Config Loading ---
	logging.SetupLogging(opts.logLevel)
	if err := loadDotEnvFunc(); err != nil {
		logging.Logf(logging.Debug, "No .env file loaded: %v", err)
	}

	cfg, err := a.loadConfig(opts.configFile, isFlagSet(fs, "config"))
	if err != nil {
		return err
	}
	if !isFlagSet(fs, "loglevel") && cfg.Logging.Level != "" {
		logging.SetupLogging(cfg.Logging.Level)
	}
	if err := applyOverrides(cfg, fs, opts); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case opts.emails != "":
		return a.runEmails(ctx, cfg, opts)
	case opts.serve != "":
		return a.runServer(ctx, cfg, opts)
	case cfg.Source.File == "" && opts.migrate && !opts.dryRun:
		return a.runMigrate(ctx, cfg)
	default:
		return a.runImport(ctx, cfg, opts)
	}
}

// loadConfig reads the config file. A missing default file falls back to
// built-in defaults; a missing explicit file is an error.
func (a *AppRunner) loadConfig(path string, explicit bool) (*config.ImportConfig, error) {
	path = util.ExpandEnvUniversal(path)
	if _, err := osStatFunc(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file '%s': %w", path, err)
		}
		if explicit {
			logging.Logf(logging.Error, "Config file '%s' not found.", path)
			return nil, ErrConfigNotFound
		}
		logging.Logf(logging.Info, "No config file at '%s'; using defaults.", path)
		return config.Default(), nil
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		logging.Logf(logging.Error, "Error loading/validating config '%s': %v", path, err)
		return nil, err
	}
	logging.Logf(logging.Info, "Using config: %s", path)
	return cfg, nil
}

// applyOverrides merges command-line flags and the environment into cfg and
// validates the result.
func applyOverrides(cfg *config.ImportConfig, fs *flag.FlagSet, opts options) error {
	if opts.input != "" {
		cfg.Source.File = opts.input
		logging.Logf(logging.Info, "Override input: %s", opts.input)
	}
	cfg.Source.File = util.ExpandEnvUniversal(cfg.Source.File)

	switch {
	case opts.db != "":
		cfg.Database.DSN = opts.db
	case cfg.Database.DSN == "":
		cfg.Database.DSN = os.Getenv("DB_CREDENTIALS")
	}

	if isFlagSet(fs, "atomic") {
		cfg.Import.AtomicRows = opts.atomic
	}
	if isFlagSet(fs, "workers") {
		if opts.workers < 1 {
			return fmt.Errorf("%w: -workers must be at least 1, got %d", ErrUsage, opts.workers)
		}
		cfg.Import.Workers = opts.workers
	}
	if opts.failedRows != "" {
		cfg.Import.FailedRowsFile = opts.failedRows
	}
	cfg.Import.FailedRowsFile = util.ExpandEnvUniversal(cfg.Import.FailedRowsFile)
	if opts.serve != "" {
		cfg.Server.Addr = opts.serve
	}
	if opts.emails != "" && !schema.IsActionKey(opts.emails) {
		return fmt.Errorf("%w: unknown action '%s' for -emails (known: %s)", ErrUsage, opts.emails, strings.Join(schema.ActionKeys(), ", "))
	}
	return config.ValidateConfig(cfg)
}

// openStore connects and optionally migrates. The caller closes the store.
func openStore(ctx context.Context, cfg *config.ImportConfig, migrate bool) (importStore, error) {
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("%w: no database connection string (-db, database.dsn or DB_CREDENTIALS)", ErrMissingArgs)
	}
	st, err := openStoreFunc(ctx, cfg.Database.DSN, cfg.Database.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("database unreachable (%s): %w", util.MaskCredentials(cfg.Database.DSN), err)
	}
	if migrate {
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return st, nil
}

func (a *AppRunner) runMigrate(ctx context.Context, cfg *config.ImportConfig) error {
	st, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	st.Close()
	return nil
}

func (a *AppRunner) runImport(ctx context.Context, cfg *config.ImportConfig, opts options) error {
	if cfg.Source.File == "" {
		return fmt.Errorf("%w: no input file (-input or source.file)", ErrMissingArgs)
	}

	// --- Extraction ---
	reader, err := newSheetReaderFunc(cfg.Source, cfg.Source.File)
	if err != nil {
		return fmt.Errorf("failed to create sheet reader: %w", err)
	}
	logging.Logf(logging.Info, "Reading %s...", cfg.Source.File)
	records, err := reader.Read(cfg.Source.File)
	if err != nil {
		return fmt.Errorf("failed to read input data: %w", err)
	}
	logging.Logf(logging.Info, "Read %d rows.", len(records))

	if opts.dryRun {
		proc, err := newProcessorFunc(nil, cfg.Filter, reconcile.Options{})
		if err != nil {
			return err
		}
		rep := proc.Preview(records)
		fmt.Fprintf(a.stdout, "DRY RUN: %s, %d would be imported\n", rep.Summary(), rep.Valid)
		return nil
	}

	// --- Store & failure file ---
	st, err := openStore(ctx, cfg, opts.migrate)
	if err != nil {
		return err
	}
	defer st.Close()

	engineOpts := reconcile.Options{Atomic: cfg.Import.AtomicRows, Workers: cfg.Import.Workers}
	failureFile := cfg.Import.FailedRowsFile
	if failureFile != "" {
		failureDir := filepath.Dir(failureFile)
		if failureDir != "." && failureDir != "" {
			if err := osMkdirAllFunc(failureDir, 0755); err != nil {
				return fmt.Errorf("failed to create directory for failed rows file '%s': %w", failureFile, err)
			}
		}
		failureWriter, err := newFailureWriterFunc(failureFile)
		if err != nil {
			return fmt.Errorf("failed to create failed rows writer for file '%s': %w", failureFile, err)
		}
		if failureWriter != nil {
			engineOpts.Failures = failureWriter
			defer func(fw sheetio.FailureWriter) {
				logging.Logf(logging.Debug, "Closing failed rows writer...")
				if cerr := fw.Close(); cerr != nil {
					logging.Logf(logging.Error, "Failed to close failed rows file '%s': %v", failureFile, cerr)
				}
			}(failureWriter)
			logging.Logf(logging.Info, "Failed rows will be written to: %s", failureFile)
		}
	}

	// --- Import ---
	proc, err := newProcessorFunc(st, cfg.Filter, engineOpts)
	if err != nil {
		return err
	}
	rep, err := proc.Process(ctx, records)
	if rep != nil {
		fmt.Fprintln(a.stdout, rep.Summary())
		for _, f := range rep.Failures {
			logging.Logf(logging.Info, "Line %d failed at %s: %s", f.Line, f.Phase, f.Error)
		}
	}
	return err
}

func (a *AppRunner) runEmails(ctx context.Context, cfg *config.ImportConfig, opts options) error {
	st, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer st.Close()

	emails, err := st.ActionEmails(ctx, opts.emails, store.Filter{})
	if err != nil {
		return fmt.Errorf("failed to list e-mails for '%s': %w", opts.emails, err)
	}
	logging.Logf(logging.Info, "%d addresses for %s.", len(emails), schema.ActionLabel(opts.emails))
	if len(emails) > 0 {
		fmt.Fprintln(a.stdout, strings.Join(emails, "\n"))
	}
	return nil
}

func (a *AppRunner) runServer(ctx context.Context, cfg *config.ImportConfig, opts options) error {
	st, err := openStore(ctx, cfg, opts.migrate)
	if err != nil {
		return err
	}
	defer st.Close()

	engineOpts := reconcile.Options{Atomic: cfg.Import.AtomicRows, Workers: cfg.Import.Workers}
	proc, err := newProcessorFunc(st, cfg.Filter, engineOpts)
	if err != nil {
		return err
	}
	srv := server.New(proc, st, cfg.Source, cfg.Server)
	return serveFunc(ctx, srv, cfg.Server.Addr)
}

// Helper functions
func anyFlagsSet(fs *flag.FlagSet) bool {
	any := false
	fs.Visit(func(*flag.Flag) { any = true })
	return any
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
