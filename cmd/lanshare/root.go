package main

import (
	"os"

	"github.com/spf13/cobra"

	"lanshare/pkg/config"
	"lanshare/pkg/logger"
)

var (
	configPath string
	logLevel   string
	logFile    string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "lanshare",
	Short: "LAN peer-to-peer file sharing",
	Long: `lanshare discovers peers on the local network by UDP broadcast, advertises
the files of a shared folder by content hash and transfers them in chunks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-file") {
			cfg.Log.File = logFile
		}
		return logger.Setup(cfg.Log.Level, cfg.Log.File)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "lanshare.toml", "Path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also append logs to this file")
}
