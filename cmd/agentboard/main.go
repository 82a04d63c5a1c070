// Package main provides the agentboard binary entry point.
// Agentboard is an autonomous task orchestrator: it classifies and
// queues software engineering tasks, dispatches them to a pool of
// coding-agent CLI workers across two engine flavors, and drives an
// adversarial review loop over the results.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/c360studio/agentboard/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "agentboard"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Autonomous task orchestrator for coding-agent CLIs",
		Long: `Agentboard dispatches software engineering tasks to a fixed pool of
coding-agent CLI workers across two engine flavors.

It provides:
- Keyword classification and engine routing with health-aware fallback
- Per-worker git worktrees with automatic mainline integration
- An adversarial review loop where the opposite engine reviews the work
- Automatic retries with rate-limit-aware backoff

State is persisted as whole-file JSON documents under the data root.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel, dryRun)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Do not invoke engine CLIs; simulate execution")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel, dryRun)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})
	cmd.AddCommand(projectCmd(&configPath), taskCmd(&configPath))

	return cmd
}

func run(configPath, logLevel string, dryRun bool) error {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if dryRun {
		cfg.Engines.ExecMode = config.ExecDryRun
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	return app.Run()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
