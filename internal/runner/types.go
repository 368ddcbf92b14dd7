// Package runner executes the external bioinformatics tools (CATCH,
// makeblastdb, blastn) as host processes with timeouts, output caps and an
// audit hook. It carries no pipeline logic: callers build the Command, the
// runner reports what happened.
package runner

import (
	"strings"
	"time"
)

// Command describes one external tool invocation.
type Command struct {
	// Binary is the executable to run, resolved on PATH unless absolute.
	Binary string

	// Args are the command-line arguments.
	Args []string

	// Dir is the working directory; empty uses the runner default.
	Dir string

	// Env are extra KEY=VALUE pairs merged with the allowed environment.
	Env []string

	// Stdin provides input to the process.
	Stdin string

	// Timeout overrides the runner default for this invocation.
	Timeout time.Duration

	// Tag labels the invocation in audit events (e.g. "catch", "blastn").
	Tag string
}

// String returns the command line for logging.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of a completed invocation. A non-zero exit code is
// reported here, not as an error: errors mean the process could not be run.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration

	// Killed means the process was terminated by timeout or cancellation.
	Killed     bool
	KillReason string

	// Truncated means captured output hit the size cap.
	Truncated      bool
	TruncatedBytes int64
}

// Output returns stdout, falling back to stderr when stdout is empty.
func (r *Result) Output() string {
	if r.Stdout != "" {
		return r.Stdout
	}
	return r.Stderr
}

// EventType categorizes audit events.
type EventType string

const (
	EventStart    EventType = "start"
	EventComplete EventType = "complete"
	EventKilled   EventType = "killed"
	EventError    EventType = "error"
)

// Event is emitted to the audit callback around each invocation.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Command   Command
	Result    *Result
	Err       error
}

// Config tunes runner behaviour.
type Config struct {
	// DefaultDir is used when Command.Dir is empty.
	DefaultDir string

	// DefaultTimeout applies when Command.Timeout is zero.
	DefaultTimeout time.Duration

	// MaxTimeout caps every timeout value.
	MaxTimeout time.Duration

	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes int64

	// AllowedEnv lists host environment variables passed through.
	AllowedEnv []string
}

// DefaultConfig returns sensible defaults for long-running design and
// alignment tools.
func DefaultConfig() Config {
	return Config{
		DefaultDir:     ".",
		DefaultTimeout: 2 * time.Hour,
		MaxTimeout:     12 * time.Hour,
		MaxOutputBytes: 256 * 1024 * 1024,
		AllowedEnv:     []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "BLASTDB"},
	}
}
