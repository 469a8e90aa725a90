// Package main implements the projectsearch command: an MCP server over the
// project store plus CLI commands for search and maintenance.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/projectsearch/internal/app"
	"github.com/dshills/projectsearch/internal/config"
	"github.com/dshills/projectsearch/internal/logging"
)

var (
	// configPath is the YAML config file; empty uses ~/.projectsearch/config.yaml
	configPath string
	// logLevel overrides logging.level when set
	logLevel string

	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "projectsearch",
	Short: "Project store with semantic and keyword search",
	Long: `projectsearch stores project postings with their tags and description
embeddings, and ranks them against free-text queries.

Run "projectsearch serve" to expose the store as MCP tools on stdio.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.projectsearch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

// loadConfig reads configuration and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return nil, err
		}
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// openApp loads configuration and wires every component
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	a.Logger.Debug("configuration loaded",
		zap.String("config", configPath),
		zap.String("version", version))
	return a, nil
}
