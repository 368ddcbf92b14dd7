package fasta

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanner_MultiLineRecords(t *testing.T) {
	input := ">probe_1 first\nACGT\nACGT\n>probe_2\nGGCC\n"
	sc := NewScanner(strings.NewReader(input))

	var recs []Record
	for sc.Scan() {
		recs = append(recs, sc.Record())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan error: %v", err)
	}

	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ID != "probe_1 first" {
		t.Errorf("unexpected first ID: %q", recs[0].ID)
	}
	if recs[0].Seq != "ACGTACGT" {
		t.Errorf("multi-line sequence not joined: %q", recs[0].Seq)
	}
	if recs[1].ID != "probe_2" || recs[1].Seq != "GGCC" {
		t.Errorf("unexpected second record: %+v", recs[1])
	}
}

func TestScanner_NoTrailingNewline(t *testing.T) {
	sc := NewScanner(strings.NewReader(">x\nACGT"))
	if !sc.Scan() {
		t.Fatal("expected one record")
	}
	if sc.Record().Seq != "ACGT" {
		t.Errorf("unexpected seq: %q", sc.Record().Seq)
	}
	if sc.Scan() {
		t.Error("expected EOF after single record")
	}
}

func TestScanner_Empty(t *testing.T) {
	sc := NewScanner(strings.NewReader(""))
	if sc.Scan() {
		t.Error("expected no records from empty input")
	}
	if sc.Err() != nil {
		t.Errorf("unexpected error: %v", sc.Err())
	}
}

func TestGC(t *testing.T) {
	cases := []struct {
		seq  string
		want float64
	}{
		{"GGCC", 100},
		{"AATT", 0},
		{"ACGT", 50},
		{"acgt", 50},
		{"AC-GT.", 50}, // gaps excluded from denominator
		{"", 0},
		{"GCGCAT", 66.6667},
	}
	for _, tc := range cases {
		got := GC(tc.seq)
		if math.Abs(got-tc.want) > 0.001 {
			t.Errorf("GC(%q) = %f, want %f", tc.seq, got, tc.want)
		}
	}
}

func TestPrependID(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bin01.probes.fasta", ">p1\nACGT\n>p2\nGGCC\n")

	if err := PrependID(path, "bin01"); err != nil {
		t.Fatalf("PrependID failed: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if recs[0].ID != "bin01_p1" || recs[1].ID != "bin01_p2" {
		t.Errorf("headers not prefixed: %q, %q", recs[0].ID, recs[1].ID)
	}
}

func TestSanitizeSpaces(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "genes.ffn", ">gene 1 hypothetical protein\nACGT\n")

	if err := SanitizeSpaces(path); err != nil {
		t.Fatalf("SanitizeSpaces failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), " ") {
		t.Errorf("spaces remain: %q", string(data))
	}
	if !strings.Contains(string(data), ">gene_1_hypothetical_protein") {
		t.Errorf("unexpected content: %q", string(data))
	}
}

func TestConcatenate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.ffn", ">a\nAAAA\n")
	writeFile(t, dir, "b.ffn", ">b\nCCCC\n")
	writeFile(t, dir, "skip.fasta", ">s\nTTTT\n")
	out := filepath.Join(dir, "all.fasta")

	if err := Concatenate(dir, ".ffn", out, true); err != nil {
		t.Fatalf("Concatenate failed: %v", err)
	}

	recs, err := ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ID != "a" || recs[1].ID != "b" {
		t.Errorf("unexpected records: %+v", recs)
	}

	// Clobber replaces rather than appends.
	if err := Concatenate(dir, ".ffn", out, true); err != nil {
		t.Fatal(err)
	}
	recs, _ = ReadFile(out)
	if len(recs) != 2 {
		t.Errorf("clobber should replace, got %d records", len(recs))
	}
}

func TestConcatenate_NoMatches(t *testing.T) {
	dir := t.TempDir()
	if err := Concatenate(dir, ".ffn", filepath.Join(dir, "out.fasta"), true); err == nil {
		t.Error("expected error when no files match")
	}
}

func TestStem(t *testing.T) {
	if got := Stem("/data/bins/bin01.fasta", ".fasta"); got != "bin01" {
		t.Errorf("Stem = %q", got)
	}
	if got := Stem("bin02.probes.fasta", ".fasta"); got != "bin02.probes" {
		t.Errorf("Stem = %q", got)
	}
}

func TestWriteRecords_Appends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.fasta")

	if err := WriteRecords(path, []Record{{ID: "p1", Seq: "ACGT"}}); err != nil {
		t.Fatal(err)
	}
	if err := WriteRecords(path, []Record{{ID: "p2", Seq: "GGCC"}}); err != nil {
		t.Fatal(err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected append, got %d records", len(recs))
	}
}
