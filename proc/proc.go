// Package proc runs local subprocesses for the orchestrator: the vagrant
// CLI, ssh-keygen housekeeping and the test harness itself.
package proc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Cmd describes one local command invocation.
type Cmd struct {
	// Args is the command and its arguments. Must not be empty.
	Args []string
	// Dir is the working directory, empty for the current one.
	Dir string
	// Env holds KEY=VALUE entries layered on top of the parent
	// environment.
	Env []string
}

// Runner runs a local command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) error
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.Code)
}

// SignalError reports a command that was killed by a signal before it
// could produce an exit status. It is deliberately not collapsed into an
// exit code: a signal death is not a test verdict.
type SignalError struct {
	Signal string
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("command terminated by signal %s", e.Signal)
}

// ExecRunner runs commands with os/exec, streaming output to the
// parent's stdout and stderr.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Cmd) error {
	if len(c.Args) == 0 {
		return errors.New("empty command")
	}
	slog.Info("running", "command", strings.Join(c.Args, " "))

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), c.Env...)

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return &ExitError{Code: code}
		}
		return &SignalError{Signal: exitErr.ProcessState.String()}
	}
	return err
}

// RemoveKnownHost removes all keys belonging to host from the ssh
// known_hosts file, so a recreated machine cannot trip host-key
// verification against keys from a previous run.
func RemoveKnownHost(ctx context.Context, r Runner, host string) error {
	return r.Run(ctx, Cmd{Args: []string{"ssh-keygen", "-R", host}})
}
