// Package pipeline orchestrates the targeted probe design run: staging
// annotation files, building the BLAST database, then designing, blasting,
// filtering and exporting probes per genome bin.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tprobe/internal/blast"
	"tprobe/internal/catch"
	"tprobe/internal/config"
	"tprobe/internal/fasta"
	"tprobe/internal/runner"
	"tprobe/internal/store"
)

// Pipeline wires the stages together for one run.
type Pipeline struct {
	cfg      *config.Config
	run      *runner.Runner
	searcher *blast.Searcher
	designer *catch.Designer
	logger   *zap.Logger
}

// New builds a Pipeline from the configuration. A nil logger becomes a
// no-op logger.
func New(cfg *config.Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}

	runnerCfg := runner.DefaultConfig()
	runnerCfg.DefaultDir = cfg.Paths.WorkingDir
	runnerCfg.DefaultTimeout = cfg.GetToolTimeout()
	run := runner.New(runnerCfg, logger.Named("runner"))

	audit := logger.Named("audit")
	run.SetAuditCallback(func(ev runner.Event) {
		fields := []zap.Field{
			zap.String("tool", ev.Command.Tag),
			zap.String("command", ev.Command.String()),
		}
		switch ev.Type {
		case runner.EventStart:
			audit.Info("tool started", fields...)
		case runner.EventComplete:
			audit.Info("tool completed", append(fields,
				zap.Int("exit_code", ev.Result.ExitCode),
				zap.Duration("duration", ev.Result.Duration))...)
		case runner.EventKilled:
			audit.Warn("tool killed", append(fields,
				zap.String("reason", ev.Result.KillReason))...)
		case runner.EventError:
			audit.Error("tool could not run", append(fields, zap.Error(ev.Err))...)
		}
	})

	return &Pipeline{
		cfg:      cfg,
		run:      run,
		searcher: blast.NewSearcher(cfg.Apps, cfg.Blastn, run, logger.Named("blast")),
		designer: catch.NewDesigner(cfg.Apps.Catch, cfg.Catch, run, logger.Named("catch")),
		logger:   logger,
	}
}

// binResult summarizes one genome bin's outcome for the run log.
type binResult struct {
	bin          string
	err          error
	probesNormal int
	probesMusicc int
}

// Run executes the full pipeline. Bin failures do not abort sibling bins;
// the run fails at the end when any bin failed.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	if err := p.Check(ctx); err != nil {
		return err
	}

	runID := uuid.NewString()
	p.logger.Info("starting targeted probe design run", zap.String("run_id", runID))

	runLog, err := store.OpenRunLog(filepath.Join(p.cfg.Paths.WorkingDir, config.RunLogDBName))
	if err != nil {
		return err
	}
	defer runLog.Close()

	cfgTOML, err := p.cfg.Marshal()
	if err != nil {
		return err
	}
	if err := runLog.StartRun(runID, string(cfgTOML)); err != nil {
		return err
	}

	db, err := p.EnsureBlastDB(ctx)
	if err != nil {
		runLog.FinishRun(runID, store.RunStatusFailed)
		return err
	}

	bins, err := fasta.Glob(p.cfg.Paths.GenomeBins, p.cfg.General.GenomeBinsSuffix)
	if err != nil {
		runLog.FinishRun(runID, store.RunStatusFailed)
		return err
	}
	if len(bins) == 0 {
		runLog.FinishRun(runID, store.RunStatusFailed)
		return fmt.Errorf("pipeline: no %q genome bins in %s",
			p.cfg.General.GenomeBinsSuffix, p.cfg.Paths.GenomeBins)
	}

	matcher, err := blast.NewMusiccMatcher(p.cfg.Filters.MusiccList)
	if err != nil {
		runLog.FinishRun(runID, store.RunStatusFailed)
		return err
	}

	workers := p.cfg.WorkerCount()
	p.logger.Info("processing genome bins",
		zap.Int("bins", len(bins)), zap.Int("workers", workers))

	var mu sync.Mutex
	var failed []binResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, bin := range bins {
		g.Go(func() error {
			res := p.processBin(gctx, bin, db, matcher)

			status := store.BinStatusOK
			message := ""
			if res.err != nil {
				status = store.BinStatusFailed
				message = res.err.Error()
				p.logger.Error("genome bin failed",
					zap.String("bin", res.bin), zap.Error(res.err))
				mu.Lock()
				failed = append(failed, res)
				mu.Unlock()
			}
			if logErr := runLog.RecordBin(runID, res.bin, status, message,
				res.probesNormal, res.probesMusicc); logErr != nil {
				p.logger.Warn("failed to record bin outcome", zap.Error(logErr))
			}

			// Only context cancellation stops the group; a failed bin
			// must not abort its siblings.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		runLog.FinishRun(runID, store.RunStatusFailed)
		return fmt.Errorf("pipeline: run canceled: %w", err)
	}

	if len(failed) > 0 {
		runLog.FinishRun(runID, store.RunStatusFailed)
		names := make([]string, len(failed))
		for i, f := range failed {
			names[i] = f.bin
		}
		return fmt.Errorf("pipeline: %d of %d genome bins failed: %s",
			len(failed), len(bins), strings.Join(names, ", "))
	}

	if err := runLog.FinishRun(runID, store.RunStatusCompleted); err != nil {
		return err
	}
	p.logger.Info("completed generating targeted probes", zap.String("run_id", runID))
	return nil
}

// processBin runs design, search, annotation, import, filter and export
// for a single genome bin.
func (p *Pipeline) processBin(ctx context.Context, bin, db string, matcher *blast.MusiccMatcher) binResult {
	suffix := p.cfg.General.GenomeBinsSuffix
	stem := fasta.Stem(bin, suffix)
	res := binResult{bin: stem}
	logger := p.logger.Named("bin").With(zap.String("bin", stem))

	logger.Info("generating targeted probes for genome bin")

	probeFile, err := p.designer.Design(ctx, p.cfg.Paths.WorkingDir, bin, suffix)
	if err != nil {
		res.err = err
		return res
	}

	hits, err := p.searcher.Search(ctx, probeFile, db)
	if err != nil {
		res.err = err
		return res
	}
	if len(hits) == 0 {
		logger.Warn("no blast matches for designed probes")
	}

	if err := p.annotateHits(hits, probeFile, matcher, logger); err != nil {
		res.err = err
		return res
	}

	// Normalize extras once: duplicates of canonical fields are dropped by
	// the parser, so the store schema must see the same list.
	extras := config.BlastFields(p.cfg.Blastn.Fields)[len(config.CanonicalBlastFields):]

	csvPath := strings.TrimSuffix(probeFile, filepath.Ext(probeFile)) + ".blasts.csv"
	if err := writeHitsCSV(csvPath, hits, extras); err != nil {
		res.err = err
		return res
	}

	dbPath := filepath.Join(p.cfg.Paths.WorkingDir, stem+"_"+config.ClusterDBName)
	// A stale database from a previous run would double-import hits, and
	// leftover WAL sidecars from a crashed run would be replayed into the
	// fresh file.
	for _, stale := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			res.err = fmt.Errorf("pipeline: remove stale database file %s: %w", stale, err)
			return res
		}
	}

	probeStore, err := store.Open(dbPath, extras)
	if err != nil {
		res.err = err
		return res
	}
	defer probeStore.Close()

	if err := probeStore.ImportHits(hits); err != nil {
		res.err = err
		return res
	}
	if err := probeStore.CreateFilterView(store.FilterOptions{
		Cluster:     stem,
		ProbeLength: p.cfg.General.ProbeLength,
		GCMin:       p.cfg.GCPercent.MinPercent,
		GCMax:       p.cfg.GCPercent.MaxPercent,
		TrnaList:    p.cfg.Filters.TrnaList,
	}); err != nil {
		res.err = err
		return res
	}

	normal, musicc, err := p.ExportFinal(probeStore, stem, logger)
	if err != nil {
		res.err = err
		return res
	}
	res.probesNormal = normal
	res.probesMusicc = musicc

	logger.Info("genome bin complete",
		zap.Int("probes_normal", normal), zap.Int("probes_musicc", musicc))
	return res
}

// annotateHits fills GCPct from the probe sequences and IsMUSiCC from the
// subject names.
func (p *Pipeline) annotateHits(hits []blast.Hit, probeFile string, matcher *blast.MusiccMatcher, logger *zap.Logger) error {
	recs, err := fasta.ReadFile(probeFile)
	if err != nil {
		return err
	}
	gcByProbe := make(map[string]float64, len(recs))
	for _, rec := range recs {
		// Headers may carry descriptions after the first token.
		id := rec.ID
		if i := strings.IndexByte(id, ' '); i > 0 {
			id = id[:i]
		}
		gcByProbe[id] = fasta.GC(rec.Seq)
	}

	for i := range hits {
		gc, ok := gcByProbe[hits[i].QSeqID]
		if !ok {
			logger.Warn("blast hit references unknown probe",
				zap.String("qseqid", hits[i].QSeqID))
		}
		hits[i].GCPct = gc
		hits[i].IsMUSiCC = matcher.Match(hits[i].SSeqID)
	}
	return nil
}
