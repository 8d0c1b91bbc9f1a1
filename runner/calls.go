package runner

import (
	"context"
	"time"

	"github.com/elijahnyp/home_bridge/util"
)

// CallWithTimeout runs command and returns its exit code, or -1 when it
// timed out or could not be started. Non-zero exits are logged unless
// logReturnCode is false, for probes where non-zero is an expected answer.
func (r *Runner) CallWithTimeout(ctx context.Context, command string, timeout time.Duration, logReturnCode bool) int {
	res := r.Run(ctx, Spec{Command: command, Timeout: timeout}, false)
	switch res.Outcome {
	case TimedOut:
		util.Logger.Error().Msgf("Timeout for command: %s", command)
		return -1
	case SpawnFailed:
		util.Logger.Error().Msgf("Error trying to exec command: %s: %v", command, res.Err)
		return -1
	}
	if res.ExitCode != 0 && logReturnCode {
		util.Logger.Error().Msgf("Command failed (with return code %d): %s", res.ExitCode, command)
		if res.Stderr != "" {
			util.Logger.Debug().Msgf("stderr of %s: %s", command, res.Stderr)
		}
	}
	return res.ExitCode
}

// CheckOutput runs command and returns its trimmed stdout. ok is false if
// the command exited non-zero, timed out or could not be started.
func (r *Runner) CheckOutput(ctx context.Context, command string, timeout time.Duration) (string, bool) {
	res := r.Run(ctx, Spec{Command: command, Timeout: timeout}, true)
	switch res.Outcome {
	case TimedOut:
		util.Logger.Error().Msgf("Timeout for command: %s", command)
		return "", false
	case SpawnFailed:
		util.Logger.Error().Msgf("Error trying to exec command: %s: %v", command, res.Err)
		return "", false
	}
	if res.ExitCode != 0 {
		util.Logger.Error().Msgf("Command failed (with return code %d): %s", res.ExitCode, command)
		return "", false
	}
	return res.Stdout, true
}

func CallWithTimeout(ctx context.Context, command string, timeout time.Duration, logReturnCode bool) int {
	return Default.CallWithTimeout(ctx, command, timeout, logReturnCode)
}

func CheckOutput(ctx context.Context, command string, timeout time.Duration) (string, bool) {
	return Default.CheckOutput(ctx, command, timeout)
}
