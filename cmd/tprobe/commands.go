package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tprobe/internal/config"
	"tprobe/internal/pipeline"
	"tprobe/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the full probe design pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		return pipeline.New(cfg, logger).Run(ctx)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration, paths and tool availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		if err := pipeline.New(cfg, logger).Check(ctx); err != nil {
			return err
		}
		logger.Info("configuration check passed")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the pipeline configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a TOML file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigFile
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		logger.Info("wrote default configuration", zap.String("path", path))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded pipeline runs in the working directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		path := filepath.Join(cfg.Paths.WorkingDir, config.RunLogDBName)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("no run log at %s", path)
		}

		runLog, err := store.OpenRunLog(path)
		if err != nil {
			return err
		}
		defer runLog.Close()

		runs, err := runLog.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
			return nil
		}
		for _, r := range runs {
			finished := "-"
			if r.FinishedAt.Valid {
				finished = r.FinishedAt.Time.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  started=%s  finished=%s\n",
				r.ID, r.Status,
				r.StartedAt.Format("2006-01-02 15:04:05"), finished)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tprobe version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tprobe %s\n", Version)
	},
}
