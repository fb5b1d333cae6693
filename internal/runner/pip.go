package runner

import (
	"bufio"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/XERGER/EmbedPython/internal/protocol"
	"github.com/XERGER/EmbedPython/internal/python"
)

// classifyStage maps a pip stdout line to the human-readable progress
// stage reported to clients. Unmatched non-empty lines pass through
// verbatim.
func classifyStage(line string) string {
	switch {
	case strings.HasPrefix(line, "Collecting"):
		return "Collecting package information..."
	case strings.HasPrefix(line, "Downloading"):
		return "Downloading package..."
	case strings.HasPrefix(line, "Installing"):
		return "Installing package..."
	default:
		return line
	}
}

// pipArgs builds the interpreter argument list for a package
// operation. All installs target the site directory and bypass the
// cache.
func (r *Runner) pipArgs(op protocol.OperationType, identifier string) []string {
	site := r.env.SiteDir()
	switch op {
	case protocol.OpInstall, protocol.OpInstallLocal:
		return []string{"-m", "pip", "install", identifier, "--no-cache-dir", "--target", site}
	case protocol.OpReinstall:
		return []string{"-m", "pip", "install", "--force-reinstall", identifier, "--no-cache-dir", "--target", site}
	case protocol.OpUpdate, protocol.OpUpdateLocal:
		return []string{"-m", "pip", "install", "--upgrade", identifier, "--no-cache-dir", "--target", site}
	case protocol.OpSearch:
		return []string{"-m", "pip", "search", identifier}
	default:
		return nil
	}
}

// mutatesSite reports whether the operation writes to the site
// directory and therefore must be serialized.
func mutatesSite(op protocol.OperationType) bool {
	switch op {
	case protocol.OpInstall, protocol.OpReinstall, protocol.OpUpdate,
		protocol.OpInstallLocal, protocol.OpUpdateLocal,
		protocol.OpUninstall, protocol.OpUpgradeAll:
		return true
	}
	return false
}

// RunPackage performs one package operation and blocks until a
// terminal outcome, invoking progress for each inferred stage.
func (r *Runner) RunPackage(id string, op protocol.OperationType, identifier string, progress ProgressFunc) Result {
	if progress == nil {
		progress = func(string, protocol.OperationType, string) {}
	}

	if mutatesSite(op) {
		r.pipMu.Lock()
		defer r.pipMu.Unlock()
	}

	started := time.Now()

	switch op {
	case protocol.OpInstall:
		if r.env.IsInstalled(identifier) {
			return Result{
				ExecutionID: id,
				Success:     true,
				Stdout:      fmt.Sprintf("Package '%s' is already installed.", identifier),
				Duration:    time.Since(started),
			}
		}
	case protocol.OpUpdate:
		if !r.env.IsInstalled(identifier) {
			return Result{
				ExecutionID: id,
				Success:     false,
				Stderr:      fmt.Sprintf("Package '%s' is not installed; cannot update.", identifier),
				Duration:    time.Since(started),
			}
		}
	case protocol.OpUninstall:
		return r.uninstall(id, identifier, started, progress)
	case protocol.OpUpgradeAll:
		return r.upgradeAll(id, started, progress)
	}

	r.bootstrapPip()
	return r.runPip(id, op, r.pipArgs(op, identifier), progress)
}

// uninstall removes the package directly from the site directory; pip
// is not involved.
func (r *Runner) uninstall(id, name string, started time.Time, progress ProgressFunc) Result {
	progress(id, protocol.OpUninstall, fmt.Sprintf("Removing package '%s'...", name))

	removed, err := r.env.Uninstall(name)
	res := Result{
		ExecutionID: id,
		Duration:    time.Since(started),
	}
	if err != nil {
		res.Stderr = err.Error()
		res.ExitCode = 1
		return res
	}

	res.Success = true
	res.Stdout = fmt.Sprintf("Uninstalled package: %s", name)
	if len(removed) > 0 {
		res.Stdout += "\nRemoved: " + strings.Join(removed, ", ")
	}
	return res
}

// upgradeAll updates every installed package in turn, aggregating the
// outcome. One failing package marks the whole run failed but does not
// stop the remaining upgrades.
func (r *Runner) upgradeAll(id string, started time.Time, progress ProgressFunc) Result {
	packages := r.env.ListInstalled()
	if len(packages) == 0 {
		return Result{
			ExecutionID: id,
			Success:     true,
			Stdout:      "No packages installed.",
			Duration:    time.Since(started),
		}
	}

	r.bootstrapPip()

	var stdout, stderr []string
	failed := false
	cancelled := false
	remaining := len(packages)

	for _, pkg := range packages {
		progress(id, protocol.OpUpgradeAll, fmt.Sprintf("Upgrading '%s' (%d remaining)...", pkg, remaining))
		remaining--

		// The parent id tracks each child in turn so cancel reaches the
		// live pip process.
		res := r.runPip(id, protocol.OpUpgradeAll, r.pipArgs(protocol.OpUpdate, pkg), func(_ string, _ protocol.OperationType, stage string) {
			progress(id, protocol.OpUpgradeAll, stage)
		})
		if res.Stdout != "" {
			stdout = append(stdout, res.Stdout)
		}
		if res.Stderr != "" {
			stderr = append(stderr, res.Stderr)
		}
		if !res.Success {
			failed = true
		}
		if res.Cancelled {
			cancelled = true
			break
		}
	}

	return Result{
		ExecutionID: id,
		Success:     !failed && !cancelled,
		Stdout:      strings.Join(stdout, "\n"),
		Stderr:      strings.Join(stderr, "\n"),
		Duration:    time.Since(started),
		Cancelled:   cancelled,
	}
}

// bootstrapPip runs ensurepip once per broker lifetime before the
// first pip spawn.
func (r *Runner) bootstrapPip() {
	r.ensurePip.Do(func() {
		cmd := exec.Command(r.env.Executable(), "-m", "ensurepip")
		cmd.Env = r.env.ProcessEnv()
		cmd.Dir = r.env.Home
		if out, err := cmd.CombinedOutput(); err != nil {
			r.log.Warn("ensurepip failed", "error", err, "output", strings.TrimSpace(string(out)))
		}
	})
}

// runPip spawns the interpreter with the given pip arguments,
// streaming stdout/stderr lines into progress events while
// accumulating the full output.
func (r *Runner) runPip(id string, op protocol.OperationType, args []string, progress ProgressFunc) Result {
	cmd := exec.Command(r.env.Executable(), args...)
	cmd.Env = r.env.ProcessEnv()
	cmd.Dir = r.env.Home

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExecutionID: id, Stderr: err.Error(), ExitCode: -1}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExecutionID: id, Stderr: err.Error(), ExitCode: -1}
	}

	ex, err := r.track(id, cmd)
	if err != nil {
		return Result{ExecutionID: id, Stderr: err.Error()}
	}
	defer r.untrack(id)

	started := time.Now()

	if err := cmd.Start(); err != nil {
		r.log.Error("failed to start pip", "executionId", id, "error", err)
		return Result{
			ExecutionID: id,
			Stderr:      fmt.Sprintf("%v Process error occurred.", err),
			Duration:    time.Since(started),
			ExitCode:    -1,
		}
	}

	stdout := newOutputBuffer(0)
	stderr := newOutputBuffer(0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			stdout.Write([]byte(line + "\n"))
			if strings.TrimSpace(line) != "" {
				progress(id, op, classifyStage(line))
			}
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			stderr.Write([]byte(line + "\n"))
			if strings.TrimSpace(line) != "" {
				progress(id, op, line)
			}
		}
	}()

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(r.pipTimeout)
	defer timer.Stop()

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

	case <-timer.C:
		r.log.Warn("package operation timed out", "executionId", id, "timeout", r.pipTimeout)
		r.kill(cmd, done)
		return Result{
			ExecutionID: id,
			Stdout:      stdout.String(),
			Stderr:      appendLine(stderr.String(), "Execution timed out."),
			Duration:    time.Since(started),
			TimedOut:    true,
		}

	case <-ex.cancelCh:
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

// PackageInfo runs `pip show` for the package and parses the fields.
func (r *Runner) PackageInfo(name string) (map[string]string, error) {
	r.bootstrapPip()

	cmd := exec.Command(r.env.Executable(), "-m", "pip", "show", name)
	cmd.Env = r.env.ProcessEnv()
	cmd.Dir = r.env.Home

	stdout := newOutputBuffer(0)
	stderr := newOutputBuffer(0)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start pip show: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("pip show %s: %s", name, strings.TrimSpace(stderr.String()))
		}
	case <-time.After(30 * time.Second):
		r.kill(cmd, done)
		return nil, fmt.Errorf("pip show %s timed out", name)
	}

	info := python.ParsePipShow(stdout.String())
	if info == nil {
		return nil, fmt.Errorf("no information for package '%s'", name)
	}
	return info, nil
}
