package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/danmuck/reportgate/internal/protocol"
)

// Exit codes reported when the process never produced one.
const (
	ExitNotFound  int64 = 127
	ExitNoStatus  int64 = -1
	exitUnstarted int64 = 1
)

// CommandRunner abstracts command execution for report producers.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (protocol.WorkerOutput, error)
}

// ExecRunner executes commands on the local host. A non-zero exit is data,
// not an error; err is set only when the command could not run to completion.
type ExecRunner struct{}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (protocol.WorkerOutput, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := int64(0)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		exitCode = ExitNoStatus
		err = fmt.Errorf("tools: %s: %w", name, ctx.Err())
	default:
		var exitErr *exec.ExitError
		var execErr *exec.Error
		if errors.As(err, &exitErr) {
			exitCode = int64(exitErr.ExitCode())
			err = nil
		} else if errors.As(err, &execErr) {
			exitCode = ExitNotFound
		} else {
			exitCode = exitUnstarted
		}
	}
	return NewOutput(stdout.String(), stderr.String(), exitCode), err
}

// NewOutput builds a WorkerOutput with the formatted combined summary.
func NewOutput(stdout string, stderr string, exitCode int64) protocol.WorkerOutput {
	return protocol.WorkerOutput{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Output:   FormatOutput(stdout, stderr, exitCode),
	}
}
