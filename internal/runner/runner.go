// Package runner supervises Python child processes: script execution,
// syntax checks, and pip package operations, with timeouts,
// cancellation, output capture, and progress inference.
package runner

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/XERGER/EmbedPython/internal/logx"
	"github.com/XERGER/EmbedPython/internal/protocol"
	"github.com/XERGER/EmbedPython/internal/python"
)

const killGrace = 1 * time.Second

// Result is the outcome of one supervised child process.
type Result struct {
	ExecutionID string
	Success     bool
	Stdout      string
	Stderr      string
	Duration    time.Duration
	ExitCode    int
	Cancelled   bool
	TimedOut    bool
}

// ProgressFunc receives progress stages while an operation runs.
type ProgressFunc func(executionID string, op protocol.OperationType, stage string)

// Runner owns all live child processes. Package-mutating operations
// are serialized per site directory through pipMu.
type Runner struct {
	env        *python.Env
	log        *slog.Logger
	pipTimeout time.Duration

	mu    sync.Mutex
	procs map[string]*execution

	pipMu     sync.Mutex
	ensurePip sync.Once
}

// execution tracks one running child for cancellation.
type execution struct {
	id         string
	cmd        *exec.Cmd
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

func (e *execution) requestCancel() {
	e.cancelOnce.Do(func() { close(e.cancelCh) })
}

// New returns a Runner for the given interpreter environment.
func New(env *python.Env, pipTimeout time.Duration) *Runner {
	if pipTimeout <= 0 {
		pipTimeout = 5 * time.Minute
	}
	return &Runner{
		env:        env,
		log:        logx.WithComponent("runner"),
		pipTimeout: pipTimeout,
	}
}

// Env exposes the interpreter environment.
func (r *Runner) Env() *python.Env { return r.env }

func (r *Runner) track(id string, cmd *exec.Cmd) (*execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.procs == nil {
		r.procs = make(map[string]*execution)
	}
	if _, exists := r.procs[id]; exists {
		return nil, fmt.Errorf("execution ID %q is already in use", id)
	}
	ex := &execution{id: id, cmd: cmd, cancelCh: make(chan struct{})}
	r.procs[id] = ex
	return ex, nil
}

func (r *Runner) untrack(id string) {
	r.mu.Lock()
	delete(r.procs, id)
	r.mu.Unlock()
}

// Cancel requests termination of the execution's child process.
// Returns false for unknown ids.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	ex, ok := r.procs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	ex.requestCancel()
	return true
}

// Active reports the number of live executions.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// RunScript executes script with the bundled interpreter and blocks
// until a terminal outcome. timeout <= 0 disables the deadline.
func (r *Runner) RunScript(id, script string, args []any, timeout time.Duration) Result {
	composed := composeScript(script, args)

	cmd := exec.Command(r.env.Executable(), "-c", composed)
	cmd.Env = r.env.ProcessEnv()
	cmd.Dir = r.env.Home

	return r.supervise(id, cmd, timeout)
}

// CheckSyntax compiles the script without executing it. A syntax error
// surfaces on stderr with a non-zero exit.
func (r *Runner) CheckSyntax(id, script string, timeout time.Duration) Result {
	harness := "import sys\n" +
		"script = " + pyStringLiteral(script) + "\n" +
		"try:\n" +
		"    compile(script, '<string>', 'exec')\n" +
		"except SyntaxError as e:\n" +
		"    print('SyntaxError: %s at line %s' % (e.msg, e.lineno), file=sys.stderr)\n" +
		"    sys.exit(1)\n"

	cmd := exec.Command(r.env.Executable(), "-c", harness)
	cmd.Env = r.env.ProcessEnv()
	cmd.Dir = r.env.Home

	return r.supervise(id, cmd, timeout)
}

// supervise starts cmd, captures its output, and resolves the first of
// completion, timeout, or cancellation into a Result.
func (r *Runner) supervise(id string, cmd *exec.Cmd, timeout time.Duration) Result {
	stdout := newOutputBuffer(0)
	stderr := newOutputBuffer(0)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	ex, err := r.track(id, cmd)
	if err != nil {
		return Result{ExecutionID: id, Success: false, Stderr: err.Error()}
	}
	defer r.untrack(id)

	started := time.Now()

	if err := cmd.Start(); err != nil {
		r.log.Error("failed to start interpreter", "executionId", id, "error", err)
		return Result{
			ExecutionID: id,
			Success:     false,
			Stderr:      fmt.Sprintf("%v Process error occurred.", err),
			Duration:    time.Since(started),
			ExitCode:    -1,
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case waitErr := <-done:
		res := Result{
			ExecutionID: id,
			Stdout:      stdout.String(),
			Stderr:      stderr.String(),
			Duration:    time.Since(started),
		}
		if waitErr == nil {
			res.Success = true
			return res
		}
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Stderr = res.Stderr + " Process error occurred."
		}
		return res

	case <-deadline:
		r.log.Warn("execution timed out", "executionId", id, "timeout", timeout)
		r.kill(cmd, done)
		return Result{
			ExecutionID: id,
			Stdout:      stdout.String(),
			Stderr:      appendLine(stderr.String(), "Execution timed out."),
			Duration:    time.Since(started),
			TimedOut:    true,
		}

	case <-ex.cancelCh:
		r.log.Debug("execution cancelled", "executionId", id)
		r.kill(cmd, done)
		return Result{
			ExecutionID: id,
			Stdout:      stdout.String(),
			Stderr:      appendLine(stderr.String(), "Execution canceled by user."),
			Duration:    time.Since(started),
			Cancelled:   true,
		}
	}
}

// kill terminates the child and waits up to the grace period for the
// reaper to finish.
func (r *Runner) kill(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(killGrace):
		r.log.Warn("child did not exit within grace period after kill")
	}
}

func appendLine(existing, line string) string {
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}
