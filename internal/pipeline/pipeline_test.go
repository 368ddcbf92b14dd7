package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tprobe/internal/config"
	"tprobe/internal/fasta"
	"tprobe/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const probeSeq40 = "ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT"

// writeStub drops an executable shell script into dir.
func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stubs require unix")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

// testWorkspace builds a complete fake run environment: genome bins,
// annotation files and stub tools, returning the ready config.
func testWorkspace(t *testing.T, bins []string) *config.Config {
	t.Helper()

	root := t.TempDir()
	binDir := filepath.Join(root, "genome_bins")
	prokkaDir := filepath.Join(root, "prokka")
	toolDir := filepath.Join(root, "tools")
	for _, d := range []string{binDir, prokkaDir, toolDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}

	for _, bin := range bins {
		binFasta := filepath.Join(binDir, bin+".fasta")
		if err := os.WriteFile(binFasta, []byte(">contig1\n"+probeSeq40+"\n"), 0644); err != nil {
			t.Fatal(err)
		}
		ffn := filepath.Join(prokkaDir, bin+".ffn")
		if err := os.WriteFile(ffn, []byte(">gene 1 some protein\n"+probeSeq40+"\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	// CATCH stub: emits two probes into --output-probes.
	catchStub := writeStub(t, toolDir, "design.py", `
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output-probes" ]; then out="$arg"; fi
  prev="$arg"
done
printf '>p1\n`+probeSeq40+`\n>p2\n`+probeSeq40+`\n' > "$out"
`)

	// makeblastdb stub: succeed silently.
	makedbStub := writeStub(t, toolDir, "makeblastdb", "exit 0\n")

	// blastn stub: one exact hit per probe; p2 lands on a MUSiCC gene.
	// The query file name carries the bin stem, which prefixes every id.
	blastnStub := writeStub(t, toolDir, "blastn", `
query=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-query" ]; then query="$arg"; fi
  prev="$arg"
done
stem=$(basename "$query" | sed 's/\.probes\..*//')
echo "${stem}_p1,${stem}_gene_1,100.000,40,0,0,1,40,5,44,1e-18,74.1,`+probeSeq40+`"
echo "${stem}_p2,${stem}_rplB_3,100.000,40,0,0,1,40,8,47,1e-18,74.1,`+probeSeq40+`"
`)

	cfg := config.Default()
	cfg.Paths.WorkingDir = filepath.Join(root, "work")
	cfg.Paths.GenomeBins = binDir
	cfg.Paths.ProkkaDir = prokkaDir
	cfg.Apps.Catch = catchStub
	cfg.Apps.MakeBlastDB = makedbStub
	cfg.Apps.Blastn = blastnStub
	cfg.Pipeline.Workers = 2
	return cfg
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testWorkspace(t, []string{"bin01"})
	p := New(cfg, nil)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	work := cfg.Paths.WorkingDir

	normal, err := fasta.ReadFile(filepath.Join(work, "bin01.probes.final.normal.fasta"))
	if err != nil {
		t.Fatalf("normal set missing: %v", err)
	}
	if len(normal) != 1 {
		t.Errorf("expected 1 normal probe, got %d", len(normal))
	}
	if len(normal) > 0 && !strings.HasPrefix(normal[0].ID, "bin01_p1;") {
		t.Errorf("unexpected normal probe header: %q", normal[0].ID)
	}

	musicc, err := fasta.ReadFile(filepath.Join(work, "bin01.probes.final.musicc.fasta"))
	if err != nil {
		t.Fatalf("musicc set missing: %v", err)
	}
	if len(musicc) != 1 {
		t.Errorf("expected 1 musicc probe, got %d", len(musicc))
	}

	// Annotated hit table written alongside the probes.
	csvData, err := os.ReadFile(filepath.Join(work, "bin01.probes.blasts.csv"))
	if err != nil {
		t.Fatalf("blast csv missing: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	if len(lines) != 3 { // header + 2 hits
		t.Errorf("expected 3 csv lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "qseqid,") || !strings.HasSuffix(lines[0], ",gc_pct,is_musicc") {
		t.Errorf("unexpected csv header: %q", lines[0])
	}

	// Run log records the completed run and the bin.
	runLog, err := store.OpenRunLog(filepath.Join(work, config.RunLogDBName))
	if err != nil {
		t.Fatal(err)
	}
	defer runLog.Close()
	runs, err := runLog.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != store.RunStatusCompleted {
		t.Errorf("unexpected run log state: %+v", runs)
	}
}

func TestRun_AuditLogsToolInvocations(t *testing.T) {
	cfg := testWorkspace(t, []string{"bin01"})

	core, logs := observer.New(zapcore.InfoLevel)
	p := New(cfg, zap.New(core))

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// makeblastdb, catch and blastn each run once for a single bin.
	started := logs.FilterMessage("tool started").All()
	completed := logs.FilterMessage("tool completed").All()
	if len(started) != 3 || len(completed) != 3 {
		t.Fatalf("expected 3 started and 3 completed tool events, got %d/%d",
			len(started), len(completed))
	}

	tools := map[string]bool{}
	for _, entry := range started {
		tools[entry.ContextMap()["tool"].(string)] = true
	}
	for _, want := range []string{"makeblastdb", "catch", "blastn"} {
		if !tools[want] {
			t.Errorf("no audit event for %s: %v", want, tools)
		}
	}
}

func TestRun_RemovesStaleDatabaseArtifacts(t *testing.T) {
	cfg := testWorkspace(t, []string{"bin01"})
	if err := os.MkdirAll(cfg.Paths.WorkingDir, 0755); err != nil {
		t.Fatal(err)
	}

	// Simulate a crashed earlier run: garbage database plus WAL sidecars.
	for _, name := range []string{
		"bin01_" + config.ClusterDBName,
		"bin01_" + config.ClusterDBName + "-wal",
		"bin01_" + config.ClusterDBName + "-shm",
	} {
		path := filepath.Join(cfg.Paths.WorkingDir, name)
		if err := os.WriteFile(path, []byte("not a database"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	p := New(cfg, nil)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed over stale database artifacts: %v", err)
	}

	normal, err := fasta.ReadFile(filepath.Join(cfg.Paths.WorkingDir,
		"bin01.probes.final.normal.fasta"))
	if err != nil {
		t.Fatal(err)
	}
	if len(normal) != 1 {
		t.Errorf("expected 1 normal probe after re-run, got %d", len(normal))
	}
}

func TestRun_FailedBinDoesNotAbortSiblings(t *testing.T) {
	cfg := testWorkspace(t, []string{"bin01", "bin02"})

	// Replace the CATCH stub with one that fails for bin02 only.
	toolDir := filepath.Dir(cfg.Apps.Catch)
	cfg.Apps.Catch = writeStub(t, toolDir, "design_flaky.py", `
out=""
target=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output-probes" ]; then out="$arg"; fi
  prev="$arg"
  target="$arg"
done
case "$target" in
  *bin02*) echo "simulated catch failure" >&2; exit 1 ;;
esac
printf '>p1\n`+probeSeq40+`\n>p2\n`+probeSeq40+`\n' > "$out"
`)

	p := New(cfg, nil)
	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected run error when a bin fails")
	}
	if !strings.Contains(err.Error(), "bin02") {
		t.Errorf("error should name the failed bin: %v", err)
	}

	// bin01 still produced its outputs.
	if _, statErr := os.Stat(filepath.Join(cfg.Paths.WorkingDir,
		"bin01.probes.final.normal.fasta")); statErr != nil {
		t.Errorf("bin01 outputs missing despite bin02 failure: %v", statErr)
	}
}

func TestCheck_MissingGenomeBins(t *testing.T) {
	cfg := testWorkspace(t, []string{"bin01"})
	cfg.Paths.GenomeBins = filepath.Join(t.TempDir(), "nope")

	p := New(cfg, nil)
	if err := p.Check(context.Background()); err == nil {
		t.Error("expected error for missing genome_bins dir")
	}
}

func TestCheck_EmptyGenomeBins(t *testing.T) {
	cfg := testWorkspace(t, []string{"bin01"})
	empty := t.TempDir()
	cfg.Paths.GenomeBins = empty

	p := New(cfg, nil)
	if err := p.Check(context.Background()); err == nil {
		t.Error("expected error for empty genome_bins dir")
	}
}

func TestCheck_PrebuiltDBSkipsProkkaDir(t *testing.T) {
	cfg := testWorkspace(t, []string{"bin01"})
	cfg.Paths.ProkkaDir = filepath.Join(t.TempDir(), "gone")

	db := filepath.Join(t.TempDir(), "prebuilt.fasta")
	if err := os.WriteFile(db, []byte(">x\nACGT\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.Paths.UseBlastDB = db

	p := New(cfg, nil)
	if err := p.Check(context.Background()); err != nil {
		t.Errorf("prokka_dir must be ignored when use_blastdb is set: %v", err)
	}
}

func TestStageAnnotations(t *testing.T) {
	cfg := testWorkspace(t, []string{"bin01"})
	if err := os.MkdirAll(cfg.Paths.WorkingDir, 0755); err != nil {
		t.Fatal(err)
	}

	p := New(cfg, nil)
	staged, err := p.StageAnnotations(context.Background())
	if err != nil {
		t.Fatalf("StageAnnotations failed: %v", err)
	}
	if len(staged) != 1 {
		t.Fatalf("expected 1 staged file, got %d", len(staged))
	}

	recs, err := fasta.ReadFile(staged[0])
	if err != nil {
		t.Fatal(err)
	}
	// Stem prefixed, spaces replaced.
	if recs[0].ID != "bin01_gene_1_some_protein" {
		t.Errorf("staged header = %q", recs[0].ID)
	}
}

func TestStageAnnotations_NoFiles(t *testing.T) {
	cfg := testWorkspace(t, []string{"bin01"})
	cfg.Paths.ProkkaDir = t.TempDir()
	if err := os.MkdirAll(cfg.Paths.WorkingDir, 0755); err != nil {
		t.Fatal(err)
	}

	p := New(cfg, nil)
	if _, err := p.StageAnnotations(context.Background()); err == nil {
		t.Error("expected error when annotation dir has no matching files")
	}
}

func TestPickProbes(t *testing.T) {
	rows := []store.ProbeRow{
		{QSeqID: "a"}, {QSeqID: "b"}, {QSeqID: "c"}, {QSeqID: "d"},
	}

	got := pickProbes(rows, 2, false)
	if len(got) != 2 || got[0].QSeqID != "a" || got[1].QSeqID != "b" {
		t.Errorf("ordered pick wrong: %+v", got)
	}

	// Fewer rows than requested: return them all.
	got = pickProbes(rows[:1], 5, false)
	if len(got) != 1 {
		t.Errorf("expected all rows when short, got %d", len(got))
	}

	got = pickProbes(rows, 3, true)
	if len(got) != 3 {
		t.Errorf("random pick size wrong: %d", len(got))
	}
	seen := map[string]bool{}
	for _, r := range got {
		if seen[r.QSeqID] {
			t.Errorf("duplicate probe in random pick: %s", r.QSeqID)
		}
		seen[r.QSeqID] = true
	}

	if got := pickProbes(nil, 3, true); got != nil {
		t.Errorf("empty input must yield nil, got %+v", got)
	}
}

func TestWriteProbeFasta_EmptySetStillWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin01.probes.final.normal.fasta")
	if err := writeProbeFasta(path, nil); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("empty export file missing: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected empty file, got %d bytes", info.Size())
	}
}
