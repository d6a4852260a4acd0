// Package launcher builds and supervises the trainer process. It owns the
// boundary the old launch scripts occupied: interpreter resolution,
// environment assembly, log capture, and exit classification.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// termGrace is how long a canceled trainer gets between SIGTERM and SIGKILL.
const termGrace = 10 * time.Second

// Command construction seams, swappable in tests.
var (
	execCommandContext = exec.CommandContext
	lookPath           = exec.LookPath
)

// Invocation is a fully resolved trainer launch.
type Invocation struct {
	// Python is the interpreter command.
	Python string
	// Module is the trainer module passed to -m.
	Module string
	// Args are the trainer overrides, already ordered.
	Args []string
	// ExtraEnv entries are appended to the parent environment (later wins).
	ExtraEnv []string
	// LogPath receives a combined stdout/stderr copy.
	LogPath string
	// Stdout and Stderr, when set, receive a live tee of the trainer output.
	Stdout io.Writer
	Stderr io.Writer
	// Dir is the working directory; empty means inherit.
	Dir string
	// OnStart is called with the child PID once the process is running.
	OnStart func(pid int)
}

// Result classifies a finished launch.
type Result struct {
	PID      int
	ExitCode int
	Canceled bool
}

// Launcher runs trainer invocations.
type Launcher struct {
	log *zap.Logger
}

// New creates a Launcher. A nil logger disables logging.
func New(log *zap.Logger) *Launcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Launcher{log: log}
}

// Run executes the invocation and blocks until the trainer exits. Context
// cancellation SIGTERMs the child, escalating to SIGKILL after termGrace,
// and yields a Canceled result rather than an error; an error return means
// the launch itself failed.
func (l *Launcher) Run(ctx context.Context, inv Invocation) (Result, error) {
	if _, err := lookPath(inv.Python); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrInterpreterNotFound, inv.Python)
	}

	logFile, err := openLogFile(inv.LogPath)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		_ = logFile.Close() //nolint:errcheck // best-effort on exit path
	}()

	cmd := execCommandContext(ctx, inv.Python, append([]string{"-m", inv.Module}, inv.Args...)...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.ExtraEnv...)
	// Cancellation sends SIGTERM so the trainer can flush its checkpoint
	// and close tracking; the kill only lands after the grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start trainer: %w", err)
	}
	pid := cmd.Process.Pid
	l.log.Info("trainer started",
		zap.Int("pid", pid),
		zap.String("python", inv.Python),
		zap.String("module", inv.Module),
		zap.Int("overrides", len(inv.Args)),
	)
	if inv.OnStart != nil {
		inv.OnStart(pid)
	}

	// Both streams drain into the log file; the file write is serialized by
	// using one goroutine per stream with O_APPEND semantics on the same fd.
	var pumps errgroup.Group
	pumps.Go(func() error { return pump(stdout, logFile, inv.Stdout) })
	pumps.Go(func() error { return pump(stderr, logFile, inv.Stderr) })
	pumpErr := pumps.Wait()

	waitErr := cmd.Wait()

	result := Result{PID: pid, ExitCode: 0}
	switch {
	case ctx.Err() != nil:
		result.Canceled = true
		result.ExitCode = exitCodeOf(waitErr)
		l.log.Info("trainer canceled", zap.Int("pid", pid))
		return result, nil
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			l.log.Warn("trainer failed", zap.Int("pid", pid), zap.Int("exit_code", result.ExitCode))
			return result, nil
		}
		return result, fmt.Errorf("wait trainer: %w", waitErr)
	case pumpErr != nil:
		// Trainer exited cleanly but output capture broke; surface it, the
		// log file is untrustworthy.
		return result, fmt.Errorf("capture output: %w", pumpErr)
	}

	l.log.Info("trainer completed", zap.Int("pid", pid))
	return result, nil
}

// pump copies a trainer stream into the log file and an optional live tee.
func pump(src io.Reader, logFile io.Writer, tee io.Writer) error {
	dst := logFile
	if tee != nil {
		dst = io.MultiWriter(logFile, tee)
	}
	_, err := io.Copy(dst, src)
	return err
}

// exitCodeOf extracts an exit code from a wait error, -1 when unknown.
func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// openLogFile creates the run log, creating parent directories as needed.
func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, ErrNoLogPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Render returns the exact command line and environment additions for a dry
// run, one item per line: env first, then the argv.
func Render(inv Invocation) string {
	var b strings.Builder
	for _, e := range inv.ExtraEnv {
		b.WriteString("export ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	b.WriteString(inv.Python)
	b.WriteString(" -m ")
	b.WriteString(inv.Module)
	for _, a := range inv.Args {
		b.WriteString(" \\\n    ")
		b.WriteString(a)
	}
	b.WriteString("\n")
	return b.String()
}
