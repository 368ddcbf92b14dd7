// Package catch invokes the CATCH probe designer (design.py) for a genome
// bin and post-processes its output so probe headers carry the bin stem.
package catch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tprobe/internal/config"
	"tprobe/internal/fasta"
	"tprobe/internal/runner"
)

// Designer runs CATCH for genome bin FASTA files.
type Designer struct {
	app    string
	opts   config.CatchConfig
	run    *runner.Runner
	logger *zap.Logger
}

// NewDesigner wires a Designer. A nil logger becomes a no-op logger.
func NewDesigner(app string, opts config.CatchConfig, run *runner.Runner, logger *zap.Logger) *Designer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Designer{app: app, opts: opts, run: run, logger: logger}
}

// ProbeFile returns the probe output path for a bin: the bin stem with
// ".probes" inserted before the suffix, in destDir.
func ProbeFile(destDir, binPath, suffix string) string {
	stem := fasta.Stem(binPath, suffix)
	ext := strings.TrimPrefix(suffix, ".")
	return filepath.Join(destDir, stem+".probes."+ext)
}

// CoverageFile returns the probe coverage analysis TSV path for a bin.
func CoverageFile(destDir, binPath, suffix string) string {
	stem := fasta.Stem(binPath, suffix)
	return filepath.Join(destDir, stem+".probe_coverage_analysis.tsv")
}

// Design runs CATCH for binPath and returns the probe FASTA path. Probe
// headers get the bin stem prepended so they stay unique across bins.
// When reuse is configured and the probe file already exists, CATCH is
// not invoked again and the file is returned as-is.
func (d *Designer) Design(ctx context.Context, destDir, binPath, suffix string) (string, error) {
	stem := fasta.Stem(binPath, suffix)
	probeOut := ProbeFile(destDir, binPath, suffix)
	coverageTSV := CoverageFile(destDir, binPath, suffix)

	if d.opts.ReuseExistingProbeFiles {
		if _, err := os.Stat(probeOut); err == nil {
			d.logger.Info("reusing existing probe file",
				zap.String("bin", stem), zap.String("probes", probeOut))
			return probeOut, nil
		}
	}

	d.logger.Info("designing probes",
		zap.String("bin", stem),
		zap.Int("probe_length", d.opts.ProbeLength),
		zap.Int("probe_stride", d.opts.ProbeStride))

	res, err := d.run.Run(ctx, runner.Command{
		Binary: d.app,
		Args: []string{
			"--write-analysis-to-tsv", coverageTSV,
			"--probe-length", strconv.Itoa(d.opts.ProbeLength),
			"--probe-stride", strconv.Itoa(d.opts.ProbeStride),
			"--output-probes", probeOut,
			binPath,
		},
		Tag: "catch",
	})
	if err != nil {
		return "", fmt.Errorf("catch: %w", err)
	}
	if res.Killed {
		return "", fmt.Errorf("catch killed for bin %s: %s", stem, res.KillReason)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("catch exited %d for bin %s: %s",
			res.ExitCode, stem, strings.TrimSpace(res.Output()))
	}

	if err := fasta.PrependID(probeOut, stem); err != nil {
		return "", fmt.Errorf("catch: prefix probe headers for %s: %w", stem, err)
	}
	return probeOut, nil
}
