package main

import (
	"fmt"
	"os"

	"github.com/chris/shadow/config"
	"github.com/chris/shadow/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var rootCmd = &cobra.Command{
	Use:   "shadow",
	Short: "Hourly check-in tracker with a weekly review",
	Long: `shadow asks what you did every hour, logs the answer by category,
and sends a weekly review of where the time went.

Without DISCORD_BOT_TOKEN it runs against stdin/stdout.`,
	SilenceUsage: true,
	RunE:         runE,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tracker in the foreground",
	RunE:  runE,
}

func serviceCmd(use, short string, fn func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return fn() },
	}
}

func init() {
	rootCmd.AddCommand(
		runCmd,
		serviceCmd("install", "Install and start the systemd user service", service.Install),
		serviceCmd("uninstall", "Stop and remove the systemd user service", service.Uninstall),
		serviceCmd("start", "Start the service", service.Start),
		serviceCmd("stop", "Stop the service", service.Stop),
		serviceCmd("restart", "Restart the service", service.Restart),
		serviceCmd("status", "Show service status", service.Status),
		serviceCmd("logs", "Follow the service logs", service.Logs),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runE(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	return run(cmd.Context(), cfg, logger)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing LOG_LEVEL: %w", err)
	}
	config := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
