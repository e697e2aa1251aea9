package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/barisx/Indicators/internal/config"
	"github.com/barisx/Indicators/internal/logger"
	"github.com/barisx/Indicators/internal/trendengine"
)

type flags struct {
	ConfigPath string
	LogLevel   string
}

var f flags

var rootCmd = &cobra.Command{
	Use:           "trendengine",
	Short:         "Classify trend state from line-detector frames and publish it",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		slogger := logger.Init(cfg.Service, level)

		svc, err := trendengine.New(cfg, slogger)
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return svc.Run(ctx)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d instruments, %d smoothers, levels high=%s low=%s\n",
			len(cfg.Instruments), len(cfg.Indicators),
			cfg.Classifier.HighLevel.String(), cfg.Classifier.LowLevel.String())
		return nil
	},
}

// loadConfig reads the config file and applies the --log-level override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if f.LogLevel != "" {
		if _, err := logger.ParseLevel(f.LogLevel); err != nil {
			return nil, err
		}
		cfg.LogLevel = f.LogLevel
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&f.ConfigPath, "config", "c", os.Getenv("TRENDENGINE_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().StringVarP(&f.LogLevel, "log-level", "l", "", "Log level (debug, info, warn, error); overrides the config")
	rootCmd.AddCommand(validateCmd)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if err := rootCmd.Execute(); err != nil {
		log.Printf("[trendengine] fatal: %v", err)
		os.Exit(1)
	}
}
