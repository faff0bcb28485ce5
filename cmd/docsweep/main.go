// Package main is the entry point for the docsweep CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/docsweep/internal/config"
	"github.com/FranksOps/docsweep/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd is the base command for the docsweep CLI.
var rootCmd = &cobra.Command{
	Use:   "docsweep",
	Short: "Multi-engine, multi-language document discovery and download",
	Long: `docsweep translates a query into several languages, searches every enabled
engine, deduplicates the hits, downloads the documents and optionally scores
them against relevance criteria. Sessions and results are stored so they can
be listed, inspected and exported later.

Settings come from a YAML file (--config), DOCSWEEP_* environment variables
and built-in defaults, in that order of precedence after flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		v := viper.GetViper()
		if err := v.BindPFlag("log.level", cmd.Flags().Lookup("log-level")); err != nil {
			return err
		}
		if err := v.BindPFlag("log.format", cmd.Flags().Lookup("log-format")); err != nil {
			return err
		}

		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = logging.New(cfg.Log.Level, cfg.Log.Format)
		slog.SetDefault(logger)
		if used := v.ConfigFileUsed(); used != "" {
			logger.Debug("using config file", "path", used)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
