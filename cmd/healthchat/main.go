package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/comigor/healthchat-go/internal/config"
	"github.com/comigor/healthchat-go/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "healthchat",
	Short:        "Healthcare assistant chat",
	Long:         `Streaming healthcare assistant: an HTTP backend and a terminal chat client.`,
	SilenceUsage: true,
}

// loadConfig reads the configuration and sets up logging. The --config
// flag takes precedence over $CONFIG_PATH. It runs before any goroutine is
// started.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		os.Setenv("CONFIG_PATH", cfgFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger.SetOutput(f)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
