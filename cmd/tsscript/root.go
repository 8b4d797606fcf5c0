package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/config"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv overrides the configuration file path.
const configEnv = "TSSCRIPT_CONFIG"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:               "tsscript",
		Short:             "Run and monitor observatory standard scripts",
		Version:           fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadEnvFile(flags.envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "configuration file (default $"+configEnv+" or "+defaultConfigPath+")")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file loaded before the configuration (default .env if present)")

	cmd.AddCommand(
		newListCmd(),
		newSchemaCmd(),
		newRunCmd(&flags),
		newServeCmd(&flags),
		newTokenCmd(&flags),
	)
	return cmd
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. An empty path loads ./.env when it exists.
func loadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// resolveConfigPath picks the configuration file: the flag, then
// TSSCRIPT_CONFIG, then the default path. A missing default file returns ""
// so that defaults and environment variables apply alone.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err != nil {
		return ""
	}
	return defaultConfigPath
}

// loadConfig loads the configuration and a logger built from it.
func loadConfig(flags *globalFlags) (*config.Config, *logging.Logger, error) {
	path := resolveConfigPath(flags.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", path,
		"site", cfg.Site.Name,
		"namespace", cfg.Site.Namespace,
	)
	return cfg, log, nil
}
