// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

// Package executor runs authorized commands as child processes with a
// wall-clock timeout, a combined output ceiling, process group cleanup and a
// concurrency bound.
//
// Only a failure to start the process is an error. A non-zero exit, a timeout
// or a cancellation is reported in the Result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/metrics"
)

// ErrSpawnFailure is returned when the child process could not be started.
var ErrSpawnFailure = errors.New("failed to start process")

// errGatewayClosed is returned by register once CancelAll has run.
var errGatewayClosed = errors.New("gateway shutting down")

// Mode selects how command text becomes a process.
type Mode string

const (
	// ModeArgv splits the text into an argument vector and runs it without a shell.
	ModeArgv Mode = "argv"
	// ModeShell passes the text to "<shell> -c" as a single argument.
	ModeShell Mode = "shell"
)

// Exit codes reported for commands that could not be found or executed,
// matching POSIX shell conventions.
const (
	exitNotFound      = 127
	exitNotExecutable = 126
)

// Config configures a Gateway.
type Config struct {
	Mode  Mode
	Shell string

	// Timeout is the default wall-clock limit.
	Timeout time.Duration
	// MaxOutputBytes is the default combined stdout+stderr ceiling.
	MaxOutputBytes int64
	// MaxConcurrent bounds simultaneous children.
	MaxConcurrent int64
	// TerminationGrace is the SIGTERM to SIGKILL delay. Zero kills at once.
	TerminationGrace time.Duration
	// WorkDir is the child's working directory.
	WorkDir string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeArgv,
		Shell:          "/bin/sh",
		Timeout:        60 * time.Second,
		MaxOutputBytes: 10 << 20,
		MaxConcurrent:  64,
	}
}

// Limits override the Gateway defaults for one call.
type Limits struct {
	Timeout        time.Duration
	MaxOutputBytes int64
	// ExecutionID names the run for Cancel. Generated when empty.
	ExecutionID string
	// Env adds variables to the child's minimal environment.
	Env map[string]string
}

// Result describes a finished execution.
type Result struct {
	ExecutionID     string        `json:"execution_id"`
	Success         bool          `json:"success"`
	ExitCode        int           `json:"exit_code"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	StdoutTruncated bool          `json:"stdout_truncated"`
	StderrTruncated bool          `json:"stderr_truncated"`
	TimedOut        bool          `json:"timed_out"`
	Canceled        bool          `json:"canceled"`
	Error           string        `json:"error,omitempty"`
	Duration        time.Duration `json:"-"`
}

// run is an in-flight execution.
type run struct {
	cancel   context.CancelFunc
	canceled atomic.Bool
}

// Gateway executes commands as child processes.
//
// Each call to Execute goes through these steps:
//
//  1. The command text becomes an argument vector (shlex in argv mode,
//     "<shell> -c" in shell mode). A parse failure is a Result, not an error.
//  2. A slot is taken from the concurrency semaphore, waiting if all
//     MaxConcurrent slots are busy.
//  3. The run is registered under its execution ID so Cancel and CancelAll
//     can reach it.
//  4. The child starts in its own process group with a minimal environment.
//     The timeout, a Cancel or the caller's context kills the whole group.
//  5. Output beyond the shared budget is dropped and flagged as truncated.
//
// Calls share nothing but the semaphore and the in-flight registry, so a
// Gateway is safe for concurrent use.
//
// Shutdown:
//
//	server.RegisterOnShutdown(func() { gateway.CancelAll() })
//	...
//	gateway.CancelAll()
//	if err := gateway.Drain(ctx); err != nil {
//	    log.Warn().Int("in_flight", gateway.InFlight()).Msg("Commands still running")
//	}
//
// After CancelAll every new Execute returns a canceled Result without
// starting a process.
type Gateway struct {
	cfg Config
	sem *semaphore.Weighted

	mu      sync.Mutex
	running map[string]*run
	closed  bool
}

// NewGateway creates a Gateway. Zero config fields take DefaultConfig values.
func NewGateway(cfg Config) *Gateway {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.Shell == "" {
		cfg.Shell = def.Shell
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	return &Gateway{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		running: make(map[string]*run),
	}
}

// prepare turns command text into an argument vector.
func (g *Gateway) prepare(command string) ([]string, error) {
	if g.cfg.Mode == ModeShell {
		return []string{g.cfg.Shell, "-c", command}, nil
	}
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("parse command: empty command")
	}
	return argv, nil
}

// childEnv builds the minimal environment for a child.
func childEnv(extra map[string]string) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	env := []string{"PATH=" + path, "LANG=C.UTF-8"}
	if home := os.Getenv("HOME"); home != "" {
		env = append(env, "HOME="+home)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// Execute runs command and waits for it to finish.
//
// The returned error is non-nil only when the process could not be started
// for a reason other than a missing or non-executable program, wrapping
// ErrSpawnFailure. Non-zero exits, timeouts and cancellations are reported
// through the Result. limits override the Gateway defaults for this call.
func (g *Gateway) Execute(ctx context.Context, command string, limits Limits) (*Result, error) {
	id := limits.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}
	timeout := limits.Timeout
	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}
	maxOutput := limits.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = g.cfg.MaxOutputBytes
	}
	log := logging.Ctx(ctx).With().Str("execution_id", id).Logger()

	argv, err := g.prepare(command)
	if err != nil {
		metrics.RecordExecution("failure", 0, false, false)
		return &Result{ExecutionID: id, ExitCode: -1, Error: err.Error()}, nil
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		metrics.RecordExecution("canceled", 0, false, false)
		return &Result{ExecutionID: id, ExitCode: -1, Canceled: true, Error: "canceled before start"}, nil
	}
	defer g.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	r := &run{cancel: cancel}
	if err := g.register(id, r); err != nil {
		if errors.Is(err, errGatewayClosed) {
			metrics.RecordExecution("canceled", 0, false, false)
			return &Result{ExecutionID: id, ExitCode: -1, Canceled: true, Error: err.Error()}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailure, err)
	}
	defer g.unregister(id)

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	configureProcessGroup(cmd, g.cfg.TerminationGrace)
	cmd.WaitDelay = g.cfg.TerminationGrace + 5*time.Second
	cmd.Env = childEnv(limits.Env)
	cmd.Dir = g.cfg.WorkDir

	budget := newOutputBudget(maxOutput)
	stdout, stderr := budget.writer(), budget.writer()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// a missing work dir would surface from Start as ENOENT on the program
	if g.cfg.WorkDir != "" {
		if _, err := os.Stat(g.cfg.WorkDir); err != nil {
			metrics.RecordExecution("spawn_error", 0, false, false)
			log.Error().Err(err).Msg("Execution work dir unavailable")
			return nil, fmt.Errorf("%w: %v", ErrSpawnFailure, err)
		}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if r.canceled.Load() || ctx.Err() != nil {
			metrics.RecordExecution("canceled", 0, false, false)
			return &Result{ExecutionID: id, ExitCode: -1, Canceled: true, Error: "canceled before start"}, nil
		}
		if code, ok := notRunnable(err); ok {
			metrics.RecordExecution("failure", 0, false, false)
			return &Result{ExecutionID: id, ExitCode: code, Error: err.Error()}, nil
		}
		metrics.RecordExecution("spawn_error", 0, false, false)
		log.Error().Err(err).Str("program", argv[0]).Msg("Failed to start command")
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailure, err)
	}

	metrics.ExecutionsInFlight.Inc()
	waitErr := cmd.Wait()
	metrics.ExecutionsInFlight.Dec()

	res := &Result{
		ExecutionID:     id,
		ExitCode:        exitCode(cmd, waitErr),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		Duration:        time.Since(start),
	}

	outcome := "success"
	switch {
	case r.canceled.Load() || errors.Is(ctx.Err(), context.Canceled):
		res.Canceled = true
		res.Error = "command canceled"
		outcome = "canceled"
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.Error = fmt.Sprintf("command timed out after %s", timeout)
		outcome = "timeout"
	case res.ExitCode != 0:
		res.Error = fmt.Sprintf("exit status %d", res.ExitCode)
		outcome = "failure"
	default:
		res.Success = true
	}

	metrics.RecordExecution(outcome, res.Duration, res.StdoutTruncated, res.StderrTruncated)
	log.Debug().
		Str("outcome", outcome).
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Bool("truncated", res.StdoutTruncated || res.StderrTruncated).
		Msg("Command finished")
	return res, nil
}

// notRunnable maps "no such program" and "not executable" start errors to
// shell style exit codes. They are caller mistakes, not infrastructure faults.
func notRunnable(err error) (int, bool) {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return exitNotFound, true
	case errors.Is(err, os.ErrPermission):
		return exitNotExecutable, true
	default:
		return 0, false
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

func (g *Gateway) register(id string, r *run) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errGatewayClosed
	}
	if _, exists := g.running[id]; exists {
		return fmt.Errorf("duplicate execution id %s", id)
	}
	g.running[id] = r
	return nil
}

func (g *Gateway) unregister(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, id)
}

// Cancel kills the run registered under id. It reports whether a run was found.
func (g *Gateway) Cancel(id string) bool {
	g.mu.Lock()
	r, ok := g.running[id]
	g.mu.Unlock()
	if !ok {
		return false
	}
	r.canceled.Store(true)
	r.cancel()
	return true
}

// CancelAll kills every in-flight run and makes later Execute calls return
// a canceled Result without starting a process. It returns the number of
// runs it canceled and is safe to call more than once.
func (g *Gateway) CancelAll() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for _, r := range g.running {
		r.canceled.Store(true)
		r.cancel()
	}
	return len(g.running)
}

// Drain waits until no run is in flight or ctx is done.
func (g *Gateway) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for g.InFlight() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// InFlight returns the number of running executions.
func (g *Gateway) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.running)
}
