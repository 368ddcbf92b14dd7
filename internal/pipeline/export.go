package pipeline

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"tprobe/internal/blast"
	"tprobe/internal/store"
)

// ExportFinal writes the two final probe FASTA files for a bin: the
// normal set and the MUSiCC single-copy set. Up to final_probe_amount
// probes per set, picked randomly or in view order. An empty set still
// produces its (empty) file so downstream tooling sees a complete run.
func (p *Pipeline) ExportFinal(s *store.ProbeStore, cluster string, logger *zap.Logger) (normal, musicc int, err error) {
	for _, set := range []struct {
		name   string
		musicc bool
		out    *int
	}{
		{"normal", false, &normal},
		{"musicc", true, &musicc},
	} {
		path := filepath.Join(p.cfg.Paths.WorkingDir,
			cluster+".probes.final."+set.name+".fasta")

		rows, err := s.SelectFiltered(set.musicc)
		if err != nil {
			return 0, 0, err
		}
		if len(rows) == 0 {
			logger.Info("no filtered probes for set", zap.String("set", set.name))
		}

		picked := pickProbes(rows, p.cfg.General.FinalProbeAmount,
			p.cfg.General.FinalProbeRandom)

		if err := writeProbeFasta(path, picked); err != nil {
			return 0, 0, err
		}
		logger.Info("exported final probe set",
			zap.String("set", set.name),
			zap.Int("probes", len(picked)),
			zap.String("file", path))
		*set.out = len(picked)
	}
	return normal, musicc, nil
}

// pickProbes selects up to amount rows, shuffled when random is set.
func pickProbes(rows []store.ProbeRow, amount int, random bool) []store.ProbeRow {
	if len(rows) == 0 {
		return nil
	}
	if random {
		shuffled := append([]store.ProbeRow(nil), rows...)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		rows = shuffled
	}
	if amount < len(rows) {
		rows = rows[:amount]
	}
	return rows
}

// writeProbeFasta replaces path with the picked probes; headers are the
// joined view columns.
func writeProbeFasta(path string, rows []store.ProbeRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, ">%s\n%s\n", row.Header(), row.ProbeSeq); err != nil {
			return fmt.Errorf("export: write %s: %w", path, err)
		}
	}
	return w.Flush()
}

// writeHitsCSV writes the annotated hit table with a header row.
func writeHitsCSV(path string, hits []blast.Hit, extraFields []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(blast.CSVHeader(extraFields)); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for i := range hits {
		if err := w.Write(hits[i].CSVRow()); err != nil {
			return fmt.Errorf("export: write row %d: %w", i, err)
		}
	}
	w.Flush()
	return w.Error()
}
