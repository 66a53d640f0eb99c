// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"hermannm.dev/devlog"
)

var (
	debug    bool
	logLevel slog.LevelVar
)

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "fiot-esp",
	Short: "Transport core for the FIOT secure channel ESP packet engine",
	Long: `fiot-esp runs the client and server roles of an ESP-style secure
	channel: directional counters, ESPTREE key derivation, and MGM AEAD
	framing over UDP, plus an introspection API for tracked associations.
`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to
// happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{
		Level: &logLevel,
	})))

	rootCmd.PersistentFlags().Bool("debug", false, "Print debug contents")
	rootCmd.PersistentFlags().String("config", "", "Pathname of the configuration file")
}

// rootCmdLoadConfig applies the persistent flags that every subcommand
// shares, once viper's flags are bound and the configuration file (if
// any) is loaded.
func rootCmdLoadConfig() error {
	debug = viper.GetBool("debug")
	if debug {
		logLevel.Set(slog.LevelDebug)
	}
	return nil
}

// loadConfigFile binds cmd's flags into viper and, if --config points
// at a file, reads it in. Subcommands call this from PreRunE before
// decoding their own typed configuration struct.
func loadConfigFile(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	configFilePath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	if configFilePath != "" {
		slog.Debug("loading configuration file", "path", configFilePath)
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			return err
		}
	}
	return rootCmdLoadConfig()
}
