// Package blast wraps the NCBI BLAST+ tools used by the pipeline:
// makeblastdb for database construction and blastn for searching designed
// probes against the annotation database.
package blast

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tprobe/internal/config"
	"tprobe/internal/runner"
)

// Hit is one blastn tabular match. The canonical fields are typed; any
// extra configured fields ride along as strings in Extras. GCPct and
// IsMUSiCC are filled by the pipeline after parsing.
type Hit struct {
	QSeqID   string
	SSeqID   string
	PIdent   float64
	Length   int
	Mismatch int
	GapOpen  int
	QStart   int
	QEnd     int
	SStart   int
	SEnd     int
	EValue   float64
	BitScore float64
	QSeq     string

	Extras []string

	GCPct    float64
	IsMUSiCC bool
}

// Searcher runs BLAST+ commands through the shared runner.
type Searcher struct {
	apps   config.AppsConfig
	opts   config.BlastnConfig
	run    *runner.Runner
	logger *zap.Logger
}

// NewSearcher wires a Searcher. A nil logger becomes a no-op logger.
func NewSearcher(apps config.AppsConfig, opts config.BlastnConfig, run *runner.Runner, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{apps: apps, opts: opts, run: run, logger: logger}
}

// MakeDB builds a nucleotide BLAST database from a FASTA file. The
// database name defaults to the input path when out is empty.
func (s *Searcher) MakeDB(ctx context.Context, fastaPath, out string) (string, error) {
	if out == "" {
		out = fastaPath
	}
	s.logger.Info("building blast database",
		zap.String("fasta", fastaPath), zap.String("db", out))

	res, err := s.run.Run(ctx, runner.Command{
		Binary: s.apps.MakeBlastDB,
		Args: []string{
			"-dbtype", "nucl",
			"-in", fastaPath,
			"-out", out,
			"-logfile", fastaPath + ".makeblastdb.log",
		},
		Tag: "makeblastdb",
	})
	if err != nil {
		return "", fmt.Errorf("makeblastdb: %w", err)
	}
	if res.Killed {
		return "", fmt.Errorf("makeblastdb killed: %s", res.KillReason)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("makeblastdb exited %d: %s", res.ExitCode, strings.TrimSpace(res.Output()))
	}
	return out, nil
}

// Search blasts the probe file against db and parses the CSV output.
func (s *Searcher) Search(ctx context.Context, probeFile, db string) ([]Hit, error) {
	fields := config.BlastFields(s.opts.Fields)
	outfmt := fmt.Sprintf("%d %s", s.opts.OutFmt, strings.Join(fields, " "))

	s.logger.Info("blasting probes against annotation database",
		zap.String("probes", probeFile), zap.String("db", db))

	res, err := s.run.Run(ctx, runner.Command{
		Binary: s.apps.Blastn,
		Args: []string{
			"-task", "blastn",
			"-query", probeFile,
			"-db", db,
			"-dust", s.opts.Dust,
			"-evalue", s.opts.EValue,
			"-num_alignments", strconv.Itoa(s.opts.NumAlignments),
			"-num_threads", strconv.Itoa(s.opts.NumThreads),
			"-outfmt", outfmt,
		},
		Tag: "blastn",
	})
	if err != nil {
		return nil, fmt.Errorf("blastn: %w", err)
	}
	if res.Killed {
		return nil, fmt.Errorf("blastn killed: %s", res.KillReason)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("blastn exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	if res.Truncated {
		return nil, fmt.Errorf("blastn output truncated after %d discarded bytes; raise the runner output cap", res.TruncatedBytes)
	}

	hits, err := ParseHits(res.Stdout, len(fields))
	if err != nil {
		return nil, err
	}
	s.logger.Info("blast matches parsed", zap.Int("hits", len(hits)))
	return hits, nil
}

// ParseHits parses outfmt-10 CSV rows. Every row must carry exactly
// fieldCount columns: the canonical thirteen plus configured extras.
func ParseHits(output string, fieldCount int) ([]Hit, error) {
	if fieldCount < len(config.CanonicalBlastFields) {
		return nil, fmt.Errorf("blast: field count %d below canonical %d",
			fieldCount, len(config.CanonicalBlastFields))
	}

	r := csv.NewReader(strings.NewReader(output))
	r.FieldsPerRecord = fieldCount

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("blast: parse tabular output: %w", err)
	}

	hits := make([]Hit, 0, len(rows))
	for i, row := range rows {
		hit, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("blast: row %d: %w", i+1, err)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func parseRow(row []string) (Hit, error) {
	var hit Hit
	var err error

	hit.QSeqID = row[0]
	hit.SSeqID = row[1]
	if hit.PIdent, err = strconv.ParseFloat(row[2], 64); err != nil {
		return hit, fmt.Errorf("pident %q: %w", row[2], err)
	}
	ints := []struct {
		dst  *int
		name string
		val  string
	}{
		{&hit.Length, "length", row[3]},
		{&hit.Mismatch, "mismatch", row[4]},
		{&hit.GapOpen, "gapopen", row[5]},
		{&hit.QStart, "qstart", row[6]},
		{&hit.QEnd, "qend", row[7]},
		{&hit.SStart, "sstart", row[8]},
		{&hit.SEnd, "send", row[9]},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(f.val); err != nil {
			return hit, fmt.Errorf("%s %q: %w", f.name, f.val, err)
		}
	}
	if hit.EValue, err = strconv.ParseFloat(row[10], 64); err != nil {
		return hit, fmt.Errorf("evalue %q: %w", row[10], err)
	}
	if hit.BitScore, err = strconv.ParseFloat(row[11], 64); err != nil {
		return hit, fmt.Errorf("bitscore %q: %w", row[11], err)
	}
	hit.QSeq = row[12]

	if len(row) > len(config.CanonicalBlastFields) {
		hit.Extras = append([]string(nil), row[len(config.CanonicalBlastFields):]...)
	}
	return hit, nil
}

// CSVHeader returns the header row for the annotated hit table: canonical
// fields, extras, then gc_pct and is_musicc.
func CSVHeader(extra []string) []string {
	header := config.BlastFields(extra)
	return append(header, config.AnnotationColumns...)
}

// CSVRow renders an annotated hit in CSVHeader order.
func (h *Hit) CSVRow() []string {
	row := []string{
		h.QSeqID, h.SSeqID,
		strconv.FormatFloat(h.PIdent, 'f', -1, 64),
		strconv.Itoa(h.Length),
		strconv.Itoa(h.Mismatch),
		strconv.Itoa(h.GapOpen),
		strconv.Itoa(h.QStart),
		strconv.Itoa(h.QEnd),
		strconv.Itoa(h.SStart),
		strconv.Itoa(h.SEnd),
		strconv.FormatFloat(h.EValue, 'g', -1, 64),
		strconv.FormatFloat(h.BitScore, 'f', -1, 64),
		h.QSeq,
	}
	row = append(row, h.Extras...)
	musicc := "0"
	if h.IsMUSiCC {
		musicc = "1"
	}
	return append(row, strconv.FormatFloat(h.GCPct, 'f', 2, 64), musicc)
}
