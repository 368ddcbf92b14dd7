// Command tprobe runs the targeted probe design pipeline: CATCH probe
// design per genome bin, blastn screening against the annotation
// database, SQLite-backed filtering and final probe set export.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tprobe/internal/config"
)

// Version is set at build time.
var Version = "dev"

var (
	configFile string
	debugMode  bool
	workers    int

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tprobe",
	Short: "Targeted capture probe design pipeline",
	Long: `tprobe designs capture probes for metagenomic genome bins.

It orchestrates CATCH (design.py) for probe design, makeblastdb and
blastn from NCBI BLAST+ for screening the probes against gene
predictions, then filters candidates in SQLite and exports final probe
sets as FASTA. Options come from a TOML config file
(` + config.DefaultConfigFile + ` by default).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if debugMode {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if workers > 0 {
		cfg.Pipeline.Workers = workers
	}
	return cfg, nil
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c",
		config.DefaultConfigFile, "TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"enable debug logging")

	runCmd.Flags().IntVar(&workers, "workers", 0,
		"concurrent genome bin workers (0 = one per CPU)")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(runCmd, checkCmd, configCmd, runsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
