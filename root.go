package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/sharepoint-go/internal/config"
	"github.com/tonimelisma/sharepoint-go/pkg/sharepoint"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagEnvFile    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective settings loaded by PersistentPreRunE.
var resolvedCfg *config.Settings

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sharepoint-go",
		Short:   "SharePoint document library client",
		Long:    "Upload, download and browse SharePoint document libraries using the URLs you copy from the browser.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "dotenv file with credentials (default ./.env when present)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newSitesCmd())
	cmd.AddCommand(newDrivesCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective settings from defaults, config file,
// dotenv file, environment and flags.
func loadConfig() error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		EnvFile:    flagEnvFile,
	}

	settings, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = &settings

	return nil
}

// newClient builds a SharePoint client from the resolved settings.
func newClient() (*sharepoint.Client, *slog.Logger, error) {
	if resolvedCfg == nil {
		return nil, nil, fmt.Errorf("no configuration loaded")
	}

	logger := buildLogger(os.Stderr)

	client, err := sharepoint.New(*resolvedCfg, sharepoint.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	return client, logger, nil
}

// logLevel picks the level from the config baseline, then --verbose and
// --quiet, which always win.
func logLevel() slog.Level {
	level := slog.LevelWarn

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return level
}

// useJSONLogs resolves log_format; "auto" means text on a terminal.
func useJSONLogs(format string, fd uintptr) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	}
}

// buildLogger creates the logger for w, which is normally os.Stderr.
func buildLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel()}

	format := "auto"
	if resolvedCfg != nil && resolvedCfg.LogFormat != "" {
		format = resolvedCfg.LogFormat
	}

	var fd uintptr = ^uintptr(0)
	if f, ok := w.(*os.File); ok {
		fd = f.Fd()
	}

	if useJSONLogs(format, fd) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
