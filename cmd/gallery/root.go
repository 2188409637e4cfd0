package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/lucasew/gallerycache/internal/app"
	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/httpclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "gallery",
	Short: "A wedding photo gallery under a storage budget",
	Long: `gallery stores wedding photos in a small key-value store, keeping full
resolution copies only while they fit and thumbnails for everything else.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if _, printErr := fmt.Fprintln(os.Stderr, err); printErr != nil {
			errutil.ReportError(printErr, "Failed to print error to stderr")
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "Config file (yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().String("server", "", "Gallery server URL; local store is used when empty")
	rootCmd.PersistentFlags().String("ca-cert", "", "PEM file with extra CAs to trust for --server")
	rootCmd.PersistentFlags().Duration("timeout", httpclient.DefaultTimeout, "Request timeout for --server")
	rootCmd.PersistentFlags().String("store", defaultStoreDSN(), "Store DSN (memory://, sqlite://path, redis://host:port/db)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("ca-cert", rootCmd.PersistentFlags().Lookup("ca-cert"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("store", rootCmd.PersistentFlags().Lookup("store"))

	cfg := app.DefaultConfig()
	cfg.StoreDSN = rootCmd.PersistentFlags().Lookup("store").DefValue
	setDefaults(cfg)
}

func initConfig() {
	viper.SetEnvPrefix("GALLERY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			errutil.ReportError(err, "Failed to read config file", "path", path)
			os.Exit(1)
		}
	}

	setupLogging(viper.GetString("log-level"), viper.GetString("log-format"))
}

func setupLogging(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		errutil.LogMsg(err, "Unknown log level, using info", "level", level)
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}
