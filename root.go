package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/offlineq/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDBPath     string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
	flagOffline    bool
)

// logFileMaxSizeMB is the size at which lumberjack rotates the log file.
const logFileMaxSizeMB = 50

// CLIFlags is the parsed form of the persistent flags.
type CLIFlags struct {
	ConfigPath string
	DBPath     string
	DBSet      bool
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
	Offline    bool
}

// CLIContext carries everything a subcommand needs after the root pre-run:
// flags, the resolved config, environment overrides and the logger.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Env     config.EnvOverrides
	Logger  *slog.Logger

	logCloser io.Closer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. It panics
// if called from a command that bypassed it, which is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offlineq",
		Short: "Durable offline action queue",
		Long: `Queue mutations against a REST API while offline and replay them
in order once connectivity returns.

Actions are stored in a local SQLite queue. "offlineq sync" drains the queue
once; "offlineq watch" runs a daemon that syncs whenever the network comes
back or new actions appear.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok && cc.logCloser != nil {
				cc.logCloser.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "queue database path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show informational logs")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().BoolVar(&flagOffline, "offline", false, "treat the network as unavailable")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAbandonedCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		DBPath:     flagDBPath,
		DBSet:      cmd.Flags().Changed("db"),
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Debug:      flagDebug,
		Quiet:      flagQuiet,
		Offline:    flagOffline,
	}

	env := config.ReadEnvOverrides()

	cfg, cfgPath, err := config.Resolve(env, flags.overrides())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, closer := buildLogger(cfg, flags, os.Stderr)

	logger.Debug("config resolved",
		slog.String("config_path", cfgPath),
		slog.String("db_path", cfg.EffectiveDBPath()),
	)

	return &CLIContext{
		Flags:     flags,
		Cfg:       cfg,
		CfgPath:   cfgPath,
		Env:       env,
		Logger:    logger,
		logCloser: closer,
	}, nil
}

// overrides converts the flags into config.CLIOverrides. Only an explicitly
// set --db overrides the config file and environment.
func (f CLIFlags) overrides() config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: f.ConfigPath}
	if f.DBSet {
		db := f.DBPath
		cli.DBPath = &db
	}

	return cli
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. The config file's log_level is the baseline; --verbose, --debug
// and --quiet override it because CLI flags always win. When log_file is set
// output goes to a rotating file instead of stderr. The returned Closer is
// nil when logging to stderr.
func buildLogger(cfg *config.Config, flags CLIFlags, stderr io.Writer) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	if cfg != nil {
		level = cfg.SlogLevel()
	}

	switch {
	case flags.Debug:
		level = slog.LevelDebug
	case flags.Verbose:
		level = slog.LevelInfo
	case flags.Quiet:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var (
		out    = stderr
		closer io.Closer
		toFile bool
	)

	if cfg != nil && cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  logFileMaxSizeMB,
			MaxAge:   cfg.LogRetentionDays,
			Compress: true,
		}
		out, closer, toFile = lj, lj, true
	}

	if useJSONLogs(cfg, out, toFile) {
		return slog.New(slog.NewJSONHandler(out, opts)), closer
	}

	return slog.New(slog.NewTextHandler(out, opts)), closer
}

// useJSONLogs decides the handler format. "auto" means text on an interactive
// terminal and JSON everywhere else (files, pipes, journald).
func useJSONLogs(cfg *config.Config, out io.Writer, toFile bool) bool {
	format := "auto"
	if cfg != nil && cfg.LogFormat != "" {
		format = cfg.LogFormat
	}

	switch format {
	case "json":
		return true
	case "text":
		return false
	}

	if toFile {
		return true
	}

	f, ok := out.(*os.File)
	if !ok {
		return true
	}

	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
