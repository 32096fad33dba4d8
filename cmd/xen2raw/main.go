// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the xen2raw CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/xen2raw/internal/convert"
	"github.com/pdiddy/xen2raw/internal/dumpcore"
	"github.com/pdiddy/xen2raw/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// logger is configured from --verbose / log_level before any command runs.
var logger = logrus.New()

// rootCmd converts a dump; the other stages are subcommands.
var rootCmd = &cobra.Command{
	Use:   "xen2raw <input-dump.elf> <output.raw>",
	Short: "Convert Xen dump-core files into raw memory images",
	Long: `xen2raw converts a Xen dump-core file (as written by "xl dump-core" or
"xm dump-core") into a flat raw memory image in which byte offset equals
guest physical address. Frames missing from the dump are written as zeros.

The output path must not exist; xen2raw never overwrites a file. If a
conversion fails, the partial output is left in place and must be removed
by hand.`,
	Args: exactArgs(2),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger()
	},
	RunE: runConvert,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./xen2raw.yaml or ~/.config/xen2raw/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	rootCmd.Flags().String("report", "", "write a conversion report to this path")
	rootCmd.Flags().String("report-format", string(types.ReportYAML), "report format: yaml or json")
	rootCmd.Flags().String("index", "", "also write a SQLite frame index to this path")
	rootCmd.Flags().Int("zero-chunk", types.DefaultZeroChunkSize, "largest zero-fill write in bytes")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("report", rootCmd.Flags().Lookup("report"))
	viper.BindPFlag("report_format", rootCmd.Flags().Lookup("report-format"))
	viper.BindPFlag("index", rootCmd.Flags().Lookup("index"))
	viper.BindPFlag("zero_chunk_size", rootCmd.Flags().Lookup("zero-chunk"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("xen2raw")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "xen2raw"))
		}
	}

	viper.SetEnvPrefix("XEN2RAW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig collects the conversion settings from flags, environment and
// config file.
func loadConfig() types.ConversionConfig {
	return types.ConversionConfig{
		ReportPath:    viper.GetString("report"),
		ReportFormat:  types.ReportFormat(viper.GetString("report_format")),
		IndexPath:     viper.GetString("index"),
		ZeroChunkSize: viper.GetInt("zero_chunk_size"),
		LogLevel:      viper.GetString("log_level"),
	}
}

func setupLogger() error {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	level, err := logrus.ParseLevel(loadConfig().LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if viper.GetBool("verbose") {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	return nil
}

// exactArgs is cobra.ExactArgs with the wording of a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("expected %d arguments, got %d", n, len(args))
		}
		return nil
	}
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if err := convert.CheckFormat(cfg.ReportFormat); err != nil {
		return err
	}
	inPath, outPath := args[0], args[1]

	sum, err := convert.ConvertFile(inPath, outPath, convert.Options{
		ZeroChunkSize: cfg.ZeroChunkSize,
		Logger:        logger,
	})
	if errors.Is(err, dumpcore.ErrPrecondition) {
		return err
	}
	cmd.SilenceUsage = true

	if cfg.ReportPath != "" {
		rep := convert.NewReport(inPath, outPath, sum, err)
		if rerr := convert.WriteReport(cfg.ReportPath, rep, cfg.ReportFormat); rerr != nil {
			logger.WithError(rerr).Warn("conversion report not written")
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed: %s is incomplete and should be discarded\n", outPath)
		return err
	}

	if cfg.IndexPath != "" {
		if err := writeIndex(cmd.Context(), cfg.IndexPath, inPath, sum.Dump); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "converted: %s -> %s (%d pages written, %d skipped, %d bytes)\n",
		inPath, outPath, sum.Result.PagesWritten, sum.Result.PagesSkipped, sum.Result.ImageSize)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
