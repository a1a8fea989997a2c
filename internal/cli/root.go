package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/voltchain/internal/config"
	"github.com/roach88/voltchain/internal/engine"
	"github.com/roach88/voltchain/internal/store"
)

// RootOptions holds global flags for all commands, plus the configuration
// and logger resolved from them before a subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string
	Namespace  string

	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the voltchain CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

// Execute runs the CLI with args and returns the process exit code. Errors
// are written to stderr, or to stdout as an error response in json mode.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, opts := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errReported):
	case opts.Format == "json":
		f := &OutputFormatter{Format: "json", Writer: stdout, ErrWriter: stderr}
		if ferr := f.Error(ErrorCode(err), err.Error(), errorDetails(err)); ferr != nil {
			fmt.Fprintln(stderr, "Error:", err)
		}
	default:
		fmt.Fprintln(stderr, "Error:", err)
	}
	return GetExitCode(err)
}

func newRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "voltchain",
		Short: "voltchain - energy credit settlement ledger",
		Long: `Track energy production credits, record sales and settle producer
claims against them. Records and the notification log live in a SQLite
database; every transition is authority- or owner-gated.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVarP(&opts.Namespace, "namespace", "n", "", "pool namespace (overrides config)")

	cmd.AddCommand(NewInvokeCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewSettleCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd, opts
}

// resolve validates the global flags, loads the configuration, applies flag
// overrides and builds the logger.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	if !slices.Contains(ValidFormats, o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats)).WithCode(ErrCodeInvalidInput)
	}

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err).WithCode(ErrCodeConfig)
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database.Path = o.Database
	}
	if flags.Changed("namespace") {
		cfg.Namespace = o.Namespace
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid flags", err).WithCode(ErrCodeConfig)
	}

	o.Config = cfg
	o.Logger = cfg.NewLogger(cmd.ErrOrStderr())
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// openStore opens the configured database. Callers must close it.
func (o *RootOptions) openStore() (*store.Store, error) {
	st, err := store.Open(o.Config.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err).WithCode(ErrCodeStore)
	}
	o.logger().Debug("database opened", "path", o.Config.Database.Path)
	return st, nil
}

// newEngine builds an engine over st for the configured namespace.
func (o *RootOptions) newEngine(st *store.Store) *engine.Engine {
	return engine.New(st, o.Config.Namespace,
		engine.WithLogger(o.logger()),
		engine.WithAssetField(o.Config.Pool.AssetField),
	)
}
