// Package runner executes shell commands with a hard time limit and
// classifies how they ended.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/elijahnyp/home_bridge/util"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
)

// Outcome says how a command run ended.
type Outcome int

const (
	Completed Outcome = iota
	TimedOut
	SpawnFailed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case SpawnFailed:
		return "spawn_failed"
	}
	return "unknown"
}

// Spec is a configured command. It is not modified after load.
type Spec struct {
	Command string
	Timeout time.Duration
}

// Result is the classified end of one run. ExitCode and Stdout are only
// meaningful when Outcome is Completed.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
	Elapsed  time.Duration
}

func (r Result) Success() bool {
	return r.Outcome == Completed && r.ExitCode == 0
}

const defaultWaitDelay = 500 * time.Millisecond

// Runner spawns commands through Shell. The zero value uses /bin/sh -c.
type Runner struct {
	Shell []string
	// WaitDelay bounds how long Run waits for stdio to close after the
	// process was killed.
	WaitDelay time.Duration
}

var Default = &Runner{}

func (r *Runner) shell() []string {
	if len(r.Shell) == 0 {
		return []string{"/bin/sh", "-c"}
	}
	return r.Shell
}

func (r *Runner) waitDelay() time.Duration {
	if r.WaitDelay <= 0 {
		return defaultWaitDelay
	}
	return r.WaitDelay
}

// Run executes spec and waits at most spec.Timeout for it. A command that
// overruns is killed together with every process it spawned. Stdout is
// only kept when capture is set.
func (r *Runner) Run(ctx context.Context, spec Spec, capture bool) Result {
	runID := uuid.New().String()[:8]
	start := time.Now()

	runCtx := ctx
	cancel := func() {}
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	shell := r.shell()
	args := append(append([]string{}, shell[1:]...), spec.Command)
	cmd := exec.CommandContext(runCtx, shell[0], args...)
	var stdout, stderr bytes.Buffer
	if capture {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		terminate(cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}
	cmd.WaitDelay = r.waitDelay()

	util.Logger.Trace().Msgf("run %s: starting %q timeout %v", runID, spec.Command, spec.Timeout)
	if err := cmd.Start(); err != nil {
		outcome := SpawnFailed
		if runCtx.Err() != nil {
			outcome = TimedOut
		}
		return Result{Outcome: outcome, ExitCode: -1, Err: err, Elapsed: time.Since(start)}
	}

	err := cmd.Wait()
	res := Result{
		Stderr:  stderr.String(),
		Err:     err,
		Elapsed: time.Since(start),
	}
	if runCtx.Err() != nil {
		res.Outcome = TimedOut
		res.ExitCode = -1
		res.Err = runCtx.Err()
		util.Logger.Trace().Msgf("run %s: killed after %v", runID, res.Elapsed)
		return res
	}

	res.Outcome = Completed
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		// stdio copy failures and the like
		res.ExitCode = -1
	}
	if capture {
		res.Stdout = strings.TrimRightFunc(stdout.String(), unicode.IsSpace)
	}
	util.Logger.Trace().Msgf("run %s: exit %d after %v", runID, res.ExitCode, res.Elapsed)
	return res
}

// terminate kills pid and all of its descendants. Descendants are collected
// before the parent dies so they are not lost to reparenting.
func terminate(pid int) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	descendants := collectDescendants(p)
	if err := p.Kill(); err != nil {
		util.Logger.Debug().Msgf("kill %d: %v", pid, err)
	}
	for _, child := range descendants {
		if err := child.Kill(); err != nil {
			util.Logger.Debug().Msgf("kill child %d: %v", child.Pid, err)
		}
	}
}

func collectDescendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	all := make([]*process.Process, 0, len(children))
	for _, child := range children {
		all = append(all, child)
		all = append(all, collectDescendants(child)...)
	}
	return all
}
