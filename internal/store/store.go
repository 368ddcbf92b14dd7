// Package store persists blast hits per genome bin in SQLite and exposes
// the filtered probe view the final export reads from. One database file
// per bin keeps runs restartable and bins independent.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"tprobe/internal/blast"
	"tprobe/internal/config"
)

// ProbeStore is the per-bin hit database.
type ProbeStore struct {
	db    *sql.DB
	path  string
	extra []string // extra blastn field names beyond the canonical set
}

// Open opens (or creates) the probe database at path and initializes the
// schema. extra lists the configured non-canonical blastn fields, stored
// as TEXT columns.
func Open(path string, extra []string) (*ProbeStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	// Pragma failures are tolerable; the store still works, just slower.
	db.Exec("PRAGMA busy_timeout = 5000")
	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA synchronous = NORMAL")

	s := &ProbeStore{db: db, path: path, extra: append([]string(nil), extra...)}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *ProbeStore) Close() error { return s.db.Close() }

// DB exposes the handle for tests.
func (s *ProbeStore) DB() *sql.DB { return s.db }

// columns returns every table column in insert order.
func (s *ProbeStore) columns() []string {
	cols := append([]string(nil), config.CanonicalBlastFields...)
	cols = append(cols, s.extra...)
	return append(cols, config.AnnotationColumns...)
}

func (s *ProbeStore) initialize() error {
	defs := make([]string, 0, len(s.columns()))
	for _, col := range config.CanonicalBlastFields {
		defs = append(defs, col+" "+config.CanonicalColumnTypes[col])
	}
	for _, col := range s.extra {
		defs = append(defs, col+" TEXT")
	}
	defs = append(defs, "gc_pct REAL", "is_musicc INTEGER")

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);",
		config.ProbesTable, strings.Join(defs, ", "))
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: create probes table: %w", err)
	}

	// Index only the canonical columns; extras vary per config.
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
		config.ProbesIndex, config.ProbesTable,
		strings.Join(config.CanonicalBlastFields, ", "))
	if _, err := s.db.Exec(idx); err != nil {
		return fmt.Errorf("store: create probes index: %w", err)
	}
	return nil
}

// ImportHits inserts annotated hits in one transaction. A hit whose extra
// field count disagrees with the configured extras is rejected.
func (s *ProbeStore) ImportHits(hits []blast.Hit) error {
	cols := s.columns()
	placeholders := strings.TrimRight(strings.Repeat("?,", len(cols)), ",")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		config.ProbesTable, strings.Join(cols, ", "), placeholders)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin import: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insert)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, h := range hits {
		if len(h.Extras) != len(s.extra) {
			return fmt.Errorf("store: hit %d carries %d extra fields, schema has %d",
				i, len(h.Extras), len(s.extra))
		}
		args := make([]interface{}, 0, len(cols))
		args = append(args,
			h.QSeqID, h.SSeqID, h.PIdent, h.Length,
			h.Mismatch, h.GapOpen, h.QStart, h.QEnd,
			h.SStart, h.SEnd, h.EValue, h.BitScore, h.QSeq)
		for _, x := range h.Extras {
			args = append(args, x)
		}
		musicc := 0
		if h.IsMUSiCC {
			musicc = 1
		}
		args = append(args, h.GCPct, musicc)

		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("store: insert hit %d (%s): %w", i, h.QSeqID, err)
		}
	}
	return tx.Commit()
}

// FilterOptions are the probe acceptance limits applied in the view.
type FilterOptions struct {
	Cluster     string
	ProbeLength int
	GCMin       float64
	GCMax       float64
	TrnaList    []string
}

// CreateFilterView builds the filtered view over the probes table:
// exact full-length unique hits on the probe's own bin, GC within bounds,
// not matching any tRNA name. SQLite views cannot take bound parameters,
// so limits are inlined; string values are escaped.
func (s *ProbeStore) CreateFilterView(opts FilterOptions) error {
	wheres := []string{
		fmt.Sprintf("gc_pct BETWEEN %f AND %f", opts.GCMin, opts.GCMax),
		"pident = 100",
		fmt.Sprintf("length = %d", opts.ProbeLength),
		fmt.Sprintf("qseqid LIKE '%s%%'", escapeSQL(opts.Cluster)),
	}
	for _, trna := range opts.TrnaList {
		wheres = append(wheres,
			fmt.Sprintf("sseqid NOT LIKE '%%%s%%'", escapeSQL(trna)))
	}

	ddl := fmt.Sprintf(
		"CREATE VIEW IF NOT EXISTS %s AS SELECT %s FROM %s WHERE %s GROUP BY qseqid HAVING count(qseqid) = 1;",
		config.ProbesView,
		strings.Join(config.ViewColumns, ", "),
		config.ProbesTable,
		strings.Join(wheres, " AND "))

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: create filter view: %w", err)
	}
	return nil
}

// ProbeRow is one row of the filtered view.
type ProbeRow struct {
	QSeqID   string
	SSeqID   string
	PIdent   float64
	Length   int
	GCPct    float64
	IsMUSiCC int
	ProbeSeq string
}

// Header joins the non-sequence view fields for the export FASTA header.
func (p *ProbeRow) Header() string {
	return strings.Join([]string{
		p.QSeqID,
		p.SSeqID,
		fmt.Sprintf("%g", p.PIdent),
		fmt.Sprintf("%d", p.Length),
		fmt.Sprintf("%.2f", p.GCPct),
		fmt.Sprintf("%d", p.IsMUSiCC),
	}, ";")
}

// CountFiltered counts filtered probes in the requested set.
func (s *ProbeStore) CountFiltered(musicc bool) (int, error) {
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE is_musicc = ?;", config.ProbesView)
	var n int
	if err := s.db.QueryRow(query, boolToInt(musicc)).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count filtered probes: %w", err)
	}
	return n, nil
}

// SelectFiltered returns the filtered probes of one set in view order.
func (s *ProbeStore) SelectFiltered(musicc bool) ([]ProbeRow, error) {
	query := fmt.Sprintf(
		"SELECT qseqid, sseqid, pident, length, gc_pct, is_musicc, probe_seq FROM %s WHERE is_musicc = ?;",
		config.ProbesView)

	rows, err := s.db.Query(query, boolToInt(musicc))
	if err != nil {
		return nil, fmt.Errorf("store: select filtered probes: %w", err)
	}
	defer rows.Close()

	var out []ProbeRow
	for rows.Next() {
		var p ProbeRow
		if err := rows.Scan(&p.QSeqID, &p.SSeqID, &p.PIdent, &p.Length,
			&p.GCPct, &p.IsMUSiCC, &p.ProbeSeq); err != nil {
			return nil, fmt.Errorf("store: scan probe row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
