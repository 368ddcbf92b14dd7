package pipeline

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"tprobe/internal/fasta"
	"tprobe/internal/runner"
)

// Check validates paths and tool availability before a run. Path problems
// are hard errors; a binary missing from PATH is logged as a warning here
// (it may still appear before the stage that needs it) and only fails when
// that stage runs.
func (p *Pipeline) Check(ctx context.Context) error {
	logger := p.logger.Named("check")
	logger.Info("checking files and directories")

	if err := os.MkdirAll(p.cfg.Paths.WorkingDir, 0755); err != nil {
		return fmt.Errorf("check: create working dir %s: %w", p.cfg.Paths.WorkingDir, err)
	}

	info, err := os.Stat(p.cfg.Paths.GenomeBins)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("check: genome_bins %q is not a directory", p.cfg.Paths.GenomeBins)
	}
	bins, err := fasta.Glob(p.cfg.Paths.GenomeBins, p.cfg.General.GenomeBinsSuffix)
	if err != nil {
		return err
	}
	if len(bins) == 0 {
		return fmt.Errorf("check: no %q files in genome_bins %s",
			p.cfg.General.GenomeBinsSuffix, p.cfg.Paths.GenomeBins)
	}
	logger.Info("genome bins found", zap.Int("count", len(bins)))

	if p.cfg.Paths.UseBlastDB != "" {
		info, err := os.Stat(p.cfg.Paths.UseBlastDB)
		if err != nil || info.IsDir() {
			return fmt.Errorf("check: use_blastdb %q is not a file", p.cfg.Paths.UseBlastDB)
		}
		logger.Info("using pre-built blast database", zap.String("db", p.cfg.Paths.UseBlastDB))
	} else {
		info, err := os.Stat(p.cfg.Paths.ProkkaDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("check: prokka_dir %q is not a directory", p.cfg.Paths.ProkkaDir)
		}
	}

	logger.Info("checking applications usable")
	apps := map[string]string{
		"catch":       p.cfg.Apps.Catch,
		"makeblastdb": p.cfg.Apps.MakeBlastDB,
		"blastn":      p.cfg.Apps.Blastn,
	}
	for name, binary := range apps {
		if path, err := runner.LookPath(binary); err == nil {
			logger.Info("application found",
				zap.String("app", name), zap.String("path", path))
		} else {
			logger.Warn("application not found on PATH",
				zap.String("app", name), zap.String("binary", binary))
		}
	}
	return nil
}
