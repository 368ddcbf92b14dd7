// Package fasta is for reading, writing and rewriting FASTA sequence
// files: genome bins, gene predictions and designed probe sets.
package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Record is a single FASTA entry.
type Record struct {
	// ID is the full header line without the leading '>'.
	ID string

	// Seq is the sequence with line breaks removed.
	Seq string
}

// Scanner streams records from multi-line FASTA input.
type Scanner struct {
	r    *bufio.Reader
	rec  Record
	next string // buffered header of the upcoming record
	err  error
	done bool
}

// NewScanner wraps r for record-at-a-time iteration.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Scan advances to the next record. It returns false at EOF or on error.
func (s *Scanner) Scan() bool {
	if s.done || s.err != nil {
		return false
	}

	var id string
	var seq strings.Builder

	if s.next != "" {
		id = s.next
		s.next = ""
	}

	for {
		line, err := s.r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if line != "" {
			if strings.HasPrefix(line, ">") {
				header := strings.TrimPrefix(line, ">")
				if id == "" && seq.Len() == 0 {
					id = header
				} else {
					s.next = header
					s.rec = Record{ID: id, Seq: seq.String()}
					return true
				}
			} else if id != "" {
				seq.WriteString(line)
			}
			// Sequence data before any header is ignored.
		}

		if err == io.EOF {
			s.done = true
			if id == "" {
				return false
			}
			s.rec = Record{ID: id, Seq: seq.String()}
			return true
		}
		if err != nil {
			s.err = err
			return false
		}
	}
}

// Record returns the record read by the last call to Scan.
func (s *Scanner) Record() Record { return s.rec }

// Err returns the first non-EOF error encountered.
func (s *Scanner) Err() error { return s.err }

// ReadFile loads every record from a FASTA file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fasta: open %s: %w", path, err)
	}
	defer f.Close()

	var recs []Record
	sc := NewScanner(f)
	for sc.Scan() {
		recs = append(recs, sc.Record())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("fasta: read %s: %w", path, err)
	}
	return recs, nil
}

// WriteRecords appends records to a file, creating it when missing.
func WriteRecords(path string, recs []Record) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("fasta: open %s for append: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range recs {
		if _, err := fmt.Fprintf(w, ">%s\n%s\n", rec.ID, rec.Seq); err != nil {
			return fmt.Errorf("fasta: write %s: %w", path, err)
		}
	}
	return w.Flush()
}

// GC returns the GC percentage of a sequence. S and W degenerate codes
// count as full and zero GC respectively; gap characters are excluded
// from the denominator.
func GC(seq string) float64 {
	var gc, total int
	for _, c := range seq {
		switch c {
		case 'G', 'C', 'g', 'c', 'S', 's':
			gc++
			total++
		case '-', '.':
			// gaps do not count
		default:
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(gc) / float64(total) * 100.0
}

// PrependID rewrites the file in place, inserting prefix followed by '_'
// after each '>' header marker.
func PrependID(path, prefix string) error {
	return rewriteLines(path, func(line string) string {
		if strings.HasPrefix(line, ">") {
			return ">" + prefix + "_" + strings.TrimPrefix(line, ">")
		}
		return line
	})
}

// SanitizeSpaces rewrites the file in place, replacing every space with
// an underscore. Annotation tools put descriptions in headers; spaces
// break the downstream tabular field handling.
func SanitizeSpaces(path string) error {
	return rewriteLines(path, func(line string) string {
		return strings.ReplaceAll(line, " ", "_")
	})
}

// rewriteLines applies fn to every line and atomically replaces the file.
func rewriteLines(path string, fn func(string) string) error {
	in, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("fasta: read %s: %w", path, err)
	}

	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(in))
	sc.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for sc.Scan() {
		out.WriteString(fn(sc.Text()))
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("fasta: scan %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0644); err != nil {
		return fmt.Errorf("fasta: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// Glob lists files in dir ending with suffix, sorted by name.
func Glob(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("fasta: read dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), suffix) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Stem returns the file name without directory or the given suffix.
func Stem(path, suffix string) string {
	return strings.TrimSuffix(filepath.Base(path), suffix)
}

// Concatenate appends every file in dir matching suffix into outPath.
// With clobber set an existing output file is replaced first.
func Concatenate(dir, suffix, outPath string, clobber bool) error {
	files, err := Glob(dir, suffix)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("fasta: no %q files in %s", suffix, dir)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if clobber {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	out, err := os.OpenFile(outPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("fasta: open %s: %w", outPath, err)
	}
	defer out.Close()

	for _, file := range files {
		// The output may live in the same directory; never fold it
		// into itself.
		if sameFile(file, outPath) {
			continue
		}
		in, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("fasta: open %s: %w", file, err)
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return fmt.Errorf("fasta: concatenate %s: %w", file, err)
		}
	}
	return nil
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
