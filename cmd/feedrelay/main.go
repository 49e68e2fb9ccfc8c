package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/feedrelay/internal/config"
)

var (
	cfgFile    string
	verbose    bool
	sourceFile string
	logger     *zap.Logger
	cfg        *config.Config
)

func setupLogger(verbose bool, logCfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose || (logCfg != nil && logCfg.Development) {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	// Set log level from config; --verbose always means debug
	if verbose {
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else if logCfg != nil && logCfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	// Add file output if configured
	if logCfg != nil && logCfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(logCfg.File), 0755); err != nil {
			return nil, fmt.Errorf("creating logs directory: %w", err)
		}
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, logCfg.File)
	}

	return zapConfig.Build()
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "feedrelay",
		Short:        "Fan out a changefeed to websocket and SSE subscribers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for commands that do not serve
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "tail" {
				var err error
				logger, err = setupLogger(verbose, nil)
				return err
			}

			// Load config
			var overrides []config.Override
			if sourceFile != "" {
				overrides = append(overrides, config.WithSourceFile(sourceFile))
			}
			var err error
			cfg, err = config.Load(cfgFile, overrides...)
			if err != nil {
				return err
			}

			// Setup logger with config
			logger, err = setupLogger(verbose, &cfg.Logging)
			if err != nil {
				return err
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("FEEDRELAY_CONFIG"), "config file path (or set FEEDRELAY_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tailCmd())

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
