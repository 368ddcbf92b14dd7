package config

// Database naming and the canonical blastn tabular field set. These are
// not user-configurable: the probe table schema and the filter view depend
// on them.

const (
	// ClusterDBName is the per-bin database file suffix; the bin stem is
	// prepended, e.g. "bin01_cluster_probes.db".
	ClusterDBName = "cluster_probes.db"

	// RunLogDBName is the working-dir database recording pipeline runs.
	RunLogDBName = "tprobe_runs.db"

	// ProbesTable holds every imported blast hit.
	ProbesTable = "probes"

	// ProbesIndex indexes the canonical columns of ProbesTable.
	ProbesIndex = "probes_idx"

	// ProbesView is the filtered view over ProbesTable.
	ProbesView = "probes_filtered"

	// BlastDBName is the concatenated annotation FASTA used to build the
	// shared BLAST database.
	BlastDBName = "clusters_blastdb.fasta"
)

// CanonicalBlastFields is the fixed leading field set requested from
// blastn. qseq carries the aligned probe sequence used for the final
// FASTA export.
var CanonicalBlastFields = []string{
	"qseqid", "sseqid", "pident", "length",
	"mismatch", "gapopen", "qstart", "qend",
	"sstart", "send", "evalue", "bitscore",
	"qseq",
}

// CanonicalColumnTypes maps canonical fields to their SQLite column types.
// Extra user-configured fields are stored as TEXT.
var CanonicalColumnTypes = map[string]string{
	"qseqid":   "TEXT",
	"sseqid":   "TEXT",
	"pident":   "REAL",
	"length":   "INTEGER",
	"mismatch": "INTEGER",
	"gapopen":  "INTEGER",
	"qstart":   "INTEGER",
	"qend":     "INTEGER",
	"sstart":   "INTEGER",
	"send":     "INTEGER",
	"evalue":   "REAL",
	"bitscore": "REAL",
	"qseq":     "TEXT",
}

// AnnotationColumns are appended by the pipeline after blasting: probe GC
// percentage and the MUSiCC single-copy marker.
var AnnotationColumns = []string{"gc_pct", "is_musicc"}

// ViewColumns are selected into the filter view. The last entry aliases
// qseq so exports can rely on a probe_seq column.
var ViewColumns = []string{
	"qseqid", "sseqid", "pident", "length",
	"gc_pct", "is_musicc", "qseq AS probe_seq",
}

// BlastFields merges the canonical field set with user-configured extras,
// preserving order and dropping duplicates.
func BlastFields(extra []string) []string {
	fields := make([]string, 0, len(CanonicalBlastFields)+len(extra))
	seen := make(map[string]bool, len(CanonicalBlastFields)+len(extra))
	for _, f := range CanonicalBlastFields {
		fields = append(fields, f)
		seen[f] = true
	}
	for _, f := range extra {
		if !seen[f] {
			fields = append(fields, f)
			seen[f] = true
		}
	}
	return fields
}
