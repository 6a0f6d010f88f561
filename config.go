package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waypaper/waypaperd/internal/logging"
)

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and WAYPAPERD_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("waypaperd")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("WAYPAPERD")
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// configDir returns the waypaperd configuration directory.
func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "waypaperd")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "waypaperd")
	}
	return "."
}

// wallpaperConfigPath resolves the per-output wallpaper file, defaulting to
// wallpaper.toml next to the daemon config.
func wallpaperConfigPath(v *viper.Viper) string {
	if path := v.GetString("wallpaper-config"); path != "" {
		return path
	}
	return filepath.Join(configDir(), "wallpaper.toml")
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "info", "log level: debug|info|warn|error")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to the daemon config file (overrides auto-discovery)")
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) *slog.Logger {
	return logging.Setup(
		logging.ParseFormat(v.GetString("log-format")),
		logging.ParseLevel(v.GetString("log-level")),
	)
}
