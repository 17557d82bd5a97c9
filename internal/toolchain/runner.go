// Package toolchain runs the external conversion tools and builds the
// environment the OpenVINO tools expect.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"k8s.io/klog/v2"
)

// Command describes one external tool invocation
type Command struct {
	Path string
	Args []string
	// Env is the complete environment of the child; nil inherits ours
	Env []string
	Dir string
}

// String renders the command line for logs
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Runner runs a command to completion and reports its exit status.
// A non-nil error means the command could not be started at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) (int, error)
}

// ExecRunner runs commands as child processes, streaming their output
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner returns a runner attached to the process streams
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run blocks until the command exits. There is no timeout: a hung tool
// hangs the conversion.
func (r *ExecRunner) Run(ctx context.Context, c Command) (int, error) {
	log := klog.FromContext(ctx)
	log.V(2).Info("running tool", "command", c.String(), "dir", c.Dir)

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	cmd.Env = c.Env
	cmd.Dir = c.Dir

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status := exitErr.ExitCode()
		log.V(2).Info("tool exited", "command", c.Path, "status", status)
		return status, nil
	}

	return -1, fmt.Errorf("failed to start %s: %w", c.Path, err)
}

// ExitError reports a tool that ran but exited with a non-zero status
type ExitError struct {
	Tool   string
	Status int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Tool, e.Status)
}

// Exec runs cmd and folds a non-zero exit status into an *ExitError
func Exec(ctx context.Context, r Runner, tool string, cmd Command) error {
	status, err := r.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if status != 0 {
		return &ExitError{Tool: tool, Status: status}
	}
	return nil
}
