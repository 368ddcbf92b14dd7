// Package config holds the tprobe pipeline configuration.
// User-facing options live in a TOML file (probe_design.config.toml by
// convention); database naming and the canonical blastn field set are
// fixed defaults defined in db.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigFile is the conventional config file name.
const DefaultConfigFile = "probe_design.config.toml"

// Config holds all tprobe configuration.
type Config struct {
	Paths     PathsConfig    `toml:"paths"`
	Apps      AppsConfig     `toml:"apps"`
	General   GeneralConfig  `toml:"general"`
	Catch     CatchConfig    `toml:"catch"`
	Blastn    BlastnConfig   `toml:"blastn"`
	GCPercent GCConfig       `toml:"gc_percent"`
	Filters   FiltersConfig  `toml:"filters"`
	Pipeline  PipelineConfig `toml:"pipeline"`
}

// PathsConfig locates the pipeline inputs and the working directory.
type PathsConfig struct {
	// WorkingDir is created if missing; all intermediate and final files
	// land here.
	WorkingDir string `toml:"working_dir"`

	// GenomeBins is the directory of per-cluster genome bin FASTA files.
	GenomeBins string `toml:"genome_bins"`

	// ProkkaDir is the directory of gene prediction files (.ffn) from the
	// annotation tool. Ignored when UseBlastDB is set.
	ProkkaDir string `toml:"prokka_dir"`

	// UseBlastDB points at a pre-built BLAST database. When set, annotation
	// staging and makeblastdb are skipped.
	UseBlastDB string `toml:"use_blastdb"`
}

// AppsConfig names the external tool binaries. Entries are resolved on
// PATH unless given as absolute paths.
type AppsConfig struct {
	Catch       string `toml:"catch"`
	MakeBlastDB string `toml:"makeblastdb"`
	Blastn      string `toml:"blastn"`
}

// GeneralConfig covers run-wide options.
type GeneralConfig struct {
	GenomeBinsSuffix       string `toml:"genome_bins_suffix"`
	ProkkaPredictionSuffix string `toml:"prokka_prediction_suffix"`
	ProbeLength            int    `toml:"probe_length"`
	FinalProbeAmount       int    `toml:"final_probe_amount"`
	FinalProbeRandom       bool   `toml:"final_probe_random"`
}

// CatchConfig configures the CATCH probe designer invocation.
type CatchConfig struct {
	ProbeLength             int  `toml:"probe_length"`
	ProbeStride             int  `toml:"probe_stride"`
	ReuseExistingProbeFiles bool `toml:"reuse_existing_probe_files"`
}

// BlastnConfig configures the blastn search of probes against the
// annotation database.
type BlastnConfig struct {
	Dust          string `toml:"dust"`
	EValue        string `toml:"evalue"`
	NumAlignments int    `toml:"num_alignments"`
	NumThreads    int    `toml:"num_threads"`
	OutFmt        int    `toml:"outfmt"`

	// Fields are extra tabular output fields appended to the canonical
	// set (see CanonicalBlastFields). Duplicates are ignored.
	Fields []string `toml:"fields"`
}

// GCConfig bounds the probe GC percentage filter.
type GCConfig struct {
	MinPercent float64 `toml:"min_percent"`
	MaxPercent float64 `toml:"max_percent"`
}

// FiltersConfig holds the sequence-name filters applied in the probe view.
type FiltersConfig struct {
	// TrnaList: probes whose hit subject contains any of these substrings
	// are dropped.
	TrnaList []string `toml:"trna_list"`

	// MusiccList: subject names matching any of these patterns mark the
	// probe as a MUSiCC single-copy gene probe.
	MusiccList []string `toml:"musicc_list"`
}

// PipelineConfig covers execution behaviour.
type PipelineConfig struct {
	// Workers bounds concurrent genome bin processing. Zero means one
	// worker per CPU.
	Workers int `toml:"workers"`

	// ToolTimeout caps a single external tool invocation.
	ToolTimeout string `toml:"tool_timeout"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			WorkingDir: "probe_design_run",
			GenomeBins: "genome_bins",
			ProkkaDir:  "prokka_annotations",
		},
		Apps: AppsConfig{
			Catch:       "design.py",
			MakeBlastDB: "makeblastdb",
			Blastn:      "blastn",
		},
		General: GeneralConfig{
			GenomeBinsSuffix:       ".fasta",
			ProkkaPredictionSuffix: ".ffn",
			ProbeLength:            40,
			FinalProbeAmount:       20,
			FinalProbeRandom:       true,
		},
		Catch: CatchConfig{
			ProbeLength: 40,
			ProbeStride: 20,
		},
		Blastn: BlastnConfig{
			Dust:          "no",
			EValue:        "10",
			NumAlignments: 250,
			NumThreads:    1,
			OutFmt:        10,
		},
		GCPercent: GCConfig{
			MinPercent: 45.0,
			MaxPercent: 65.0,
		},
		Filters: FiltersConfig{
			TrnaList: []string{"tRNA", "tmRNA"},
			MusiccList: []string{
				"dnaG", "frr", "infC", "nusA", "pgk", "pyrG",
				"rplA", "rplB", "rplC", "rplD", "rplE", "rplF",
				"rpoB", "rpsB", "rpsC", "secY", "tsf",
			},
		},
		Pipeline: PipelineConfig{
			Workers:     0,
			ToolTimeout: "2h",
		},
	}
}

// Load reads configuration from a TOML file, starting from defaults.
// A missing file is not an error: defaults plus env overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a TOML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Marshal renders the effective configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("TPROBE_WORKING_DIR"); dir != "" {
		c.Paths.WorkingDir = dir
	}
	if dir := os.Getenv("TPROBE_GENOME_BINS"); dir != "" {
		c.Paths.GenomeBins = dir
	}
	if dir := os.Getenv("TPROBE_PROKKA_DIR"); dir != "" {
		c.Paths.ProkkaDir = dir
	}
	if db := os.Getenv("TPROBE_BLASTDB"); db != "" {
		c.Paths.UseBlastDB = db
	}
	if w := os.Getenv("TPROBE_WORKERS"); w != "" {
		if n, err := strconv.Atoi(w); err == nil && n >= 0 {
			c.Pipeline.Workers = n
		}
	}
}

// Validate checks option ranges before a run.
func (c *Config) Validate() error {
	if c.General.ProbeLength <= 0 {
		return fmt.Errorf("general.probe_length must be positive, got %d", c.General.ProbeLength)
	}
	if c.Catch.ProbeLength <= 0 {
		return fmt.Errorf("catch.probe_length must be positive, got %d", c.Catch.ProbeLength)
	}
	if c.Catch.ProbeStride <= 0 {
		return fmt.Errorf("catch.probe_stride must be positive, got %d", c.Catch.ProbeStride)
	}
	if c.General.FinalProbeAmount <= 0 {
		return fmt.Errorf("general.final_probe_amount must be positive, got %d", c.General.FinalProbeAmount)
	}
	if c.GCPercent.MinPercent > c.GCPercent.MaxPercent {
		return fmt.Errorf("gc_percent bounds out of order: min %.1f > max %.1f",
			c.GCPercent.MinPercent, c.GCPercent.MaxPercent)
	}
	if c.GCPercent.MinPercent < 0 || c.GCPercent.MaxPercent > 100 {
		return fmt.Errorf("gc_percent bounds must lie within [0,100]")
	}
	if c.Blastn.OutFmt != 10 {
		return fmt.Errorf("blastn.outfmt %d unsupported: hit parsing requires outfmt 10 (CSV)", c.Blastn.OutFmt)
	}
	return nil
}

// WorkerCount resolves the configured worker count, defaulting to NumCPU.
func (c *Config) WorkerCount() int {
	if c.Pipeline.Workers > 0 {
		return c.Pipeline.Workers
	}
	return runtime.NumCPU()
}

// GetToolTimeout returns the external tool timeout as a duration.
func (c *Config) GetToolTimeout() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.ToolTimeout)
	if err != nil {
		return 2 * time.Hour
	}
	return d
}
