package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/certline/messenger/internal/config"
	"github.com/certline/messenger/internal/log"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "messenger",
		Short:         "Support messaging client for the certification portal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "path to config file")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		loginCmd(),
		logoutCmd(),
		statusCmd(),
		sendCmd(),
		chatCmd(),
	)
	return cmd
}

// loadEnv resolves configuration and the logger from persistent flags.
func loadEnv(cmd *cobra.Command) (config.Config, *zerolog.Logger, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	bootLogger := log.New("warn")
	cfg, path, err := config.Load(bootLogger, cfgPath)
	if err != nil {
		return cfg, bootLogger, fmt.Errorf("load config %s: %w", path, err)
	}
	if level != "" {
		cfg.LogLevel = level
	}

	logger := log.New(cfg.LogLevel)
	return cfg, logger, nil
}
