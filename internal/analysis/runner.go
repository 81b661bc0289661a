package analysis

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandOutput is what a finished process produced.
type CommandOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandOutput, error)
}

// ExecRunner runs commands with os/exec. A process that starts and exits
// non-zero is not an error; its exit code is returned.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandOutput, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := CommandOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	out.ExitCode = -1
	return out, err
}
