package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"tprobe/internal/config"
	"tprobe/internal/fasta"
)

// StageAnnotations copies the gene prediction files into the working dir,
// replaces spaces with underscores and prepends each file's stem to its
// sequence headers so the combined database keeps bin provenance.
func (p *Pipeline) StageAnnotations(ctx context.Context) ([]string, error) {
	logger := p.logger.Named("stage")
	suffix := p.cfg.General.ProkkaPredictionSuffix

	files, err := fasta.Glob(p.cfg.Paths.ProkkaDir, suffix)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("stage: no %q files in %s", suffix, p.cfg.Paths.ProkkaDir)
	}

	logger.Info("staging annotation files",
		zap.Int("count", len(files)),
		zap.String("from", p.cfg.Paths.ProkkaDir),
		zap.String("to", p.cfg.Paths.WorkingDir))

	staged := make([]string, 0, len(files))
	for _, src := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := filepath.Join(p.cfg.Paths.WorkingDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("stage: copy %s: %w", src, err)
		}
		if err := fasta.SanitizeSpaces(dst); err != nil {
			return nil, err
		}
		if err := fasta.PrependID(dst, fasta.Stem(src, suffix)); err != nil {
			return nil, err
		}
		staged = append(staged, dst)
	}
	return staged, nil
}

// EnsureBlastDB returns the BLAST database the probe searches run
// against: the configured pre-built one, or a fresh database over the
// concatenation of all staged annotation files.
func (p *Pipeline) EnsureBlastDB(ctx context.Context) (string, error) {
	if p.cfg.Paths.UseBlastDB != "" {
		p.logger.Info("using pre-existing blast database",
			zap.String("db", p.cfg.Paths.UseBlastDB))
		return p.cfg.Paths.UseBlastDB, nil
	}

	if _, err := p.StageAnnotations(ctx); err != nil {
		return "", err
	}

	combined := filepath.Join(p.cfg.Paths.WorkingDir, config.BlastDBName)
	if err := fasta.Concatenate(p.cfg.Paths.WorkingDir,
		p.cfg.General.ProkkaPredictionSuffix, combined, true); err != nil {
		return "", err
	}

	return p.searcher.MakeDB(ctx, combined, "")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
