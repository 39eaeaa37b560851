package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/spreadrun/internal/config"
)

const (
	appName = "SpreadRun"
	version = "v1.0.0"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "spreadrun",
		Short:   "Options vertical spread scanner",
		Version: version,
		Long: `SpreadRun scans option chains for debit vertical spreads, ranks them by a
weighted score and streams changes to WebSocket subscribers.

Run 'spreadrun serve' for the HTTP and streaming API, or 'spreadrun scan'
for a one-off scan printed to the terminal.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.PersistentFlags().String("log-level", "", "Override logging.level (debug|info|warn|error)")

	root.AddCommand(serveCmd(), scanCmd(), presetsCmd(), versionCmd())
	return root
}

// loadConfig reads the config file named by --config and applies the
// logging settings before anything else logs
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if err := setupLogging(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	console := cfg.Format == "console" ||
		(cfg.Format == "auto" && term.IsTerminal(int(os.Stderr.Fd())))
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	}
}
