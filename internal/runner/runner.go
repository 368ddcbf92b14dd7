package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner executes commands directly on the host.
type Runner struct {
	mu     sync.RWMutex
	config Config
	logger *zap.Logger

	auditCallback func(Event)
}

// New creates a Runner with the given config. A nil logger is replaced
// with a no-op logger.
func New(config Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultConfig().MaxOutputBytes
	}
	return &Runner{config: config, logger: logger}
}

// SetAuditCallback registers a callback invoked around each execution.
func (r *Runner) SetAuditCallback(cb func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditCallback = cb
}

func (r *Runner) emit(ev Event) {
	r.mu.RLock()
	cb := r.auditCallback
	r.mu.RUnlock()
	if cb != nil {
		cb(ev)
	}
}

// LookPath resolves a binary the way Run will: absolute paths must exist,
// bare names are searched on PATH.
func LookPath(binary string) (string, error) {
	return exec.LookPath(binary)
}

// Run executes the command and waits for completion. The returned error is
// non-nil only for infrastructure failures (binary missing, start failure);
// non-zero exits and timeout kills are reported in the Result.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("runner: binary is required")
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.config.DefaultTimeout
	}
	if r.config.MaxTimeout > 0 && timeout > r.config.MaxTimeout {
		timeout = r.config.MaxTimeout
	}

	dir := cmd.Dir
	if dir == "" {
		dir = r.config.DefaultDir
	}

	r.logger.Debug("executing tool",
		zap.String("tag", cmd.Tag),
		zap.String("command", cmd.String()),
		zap.String("dir", dir),
		zap.Duration("timeout", timeout))

	r.emit(Event{Type: EventStart, Timestamp: time.Now(), Command: cmd})

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Args...)
	execCmd.Dir = dir
	execCmd.Env = r.buildEnvironment(cmd.Env)
	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: r.config.MaxOutputBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: r.config.MaxOutputBytes}
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	result := &Result{ExitCode: -1, StartedAt: time.Now()}
	err := execCmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if stdout.truncated || stderr.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdout.discarded + stderr.discarded
		r.logger.Warn("tool output truncated",
			zap.String("tag", cmd.Tag),
			zap.Int64("discarded_bytes", result.TruncatedBytes))
	}

	switch {
	case err == nil:
		result.ExitCode = 0
		r.emit(Event{Type: EventComplete, Timestamp: time.Now(), Command: cmd, Result: result})
		return result, nil

	case execCtx.Err() == context.DeadlineExceeded:
		result.Killed = true
		result.KillReason = fmt.Sprintf("timeout after %s", timeout)
		r.logger.Warn("tool killed on timeout",
			zap.String("tag", cmd.Tag), zap.Duration("timeout", timeout))
		r.emit(Event{Type: EventKilled, Timestamp: time.Now(), Command: cmd, Result: result})
		return result, nil

	case execCtx.Err() == context.Canceled:
		result.Killed = true
		result.KillReason = "canceled"
		r.emit(Event{Type: EventKilled, Timestamp: time.Now(), Command: cmd, Result: result})
		return result, nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		r.logger.Debug("tool exited non-zero",
			zap.String("tag", cmd.Tag), zap.Int("exit_code", result.ExitCode))
		r.emit(Event{Type: EventComplete, Timestamp: time.Now(), Command: cmd, Result: result})
		return result, nil
	}

	r.emit(Event{Type: EventError, Timestamp: time.Now(), Command: cmd, Result: result, Err: err})
	return nil, fmt.Errorf("runner: failed to run %s: %w", cmd.Binary, err)
}

// buildEnvironment assembles the child environment from the allow-list
// plus command extras. Command extras win on key collision.
func (r *Runner) buildEnvironment(extra []string) []string {
	env := make([]string, 0, len(r.config.AllowedEnv)+len(extra))
	overridden := make(map[string]bool, len(extra))
	for _, kv := range extra {
		if i := strings.IndexByte(kv, '='); i > 0 {
			overridden[kv[:i]] = true
		}
	}
	for _, key := range r.config.AllowedEnv {
		if overridden[key] {
			continue
		}
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	return append(env, extra...)
}

// limitedWriter caps bytes written to w, counting the overflow.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	discarded int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.max <= 0 || lw.written >= lw.max {
		if lw.max > 0 {
			lw.truncated = true
			lw.discarded += int64(n)
			return n, nil
		}
		return lw.w.Write(p)
	}
	remain := lw.max - lw.written
	if int64(n) > remain {
		lw.truncated = true
		lw.discarded += int64(n) - remain
		p = p[:remain]
	}
	wn, err := lw.w.Write(p)
	lw.written += int64(wn)
	return n, err
}
