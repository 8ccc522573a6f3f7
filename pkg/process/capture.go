package process

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"
)

// CaptureResult is the outcome of a one-shot command
type CaptureResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

func (r CaptureResult) Success() bool {
	return r.ExitCode == 0
}

// StderrText is the trimmed stderr, used as the user facing failure message
func (r CaptureResult) StderrText() string {
	return strings.TrimSpace(string(r.Stderr))
}

// RunCapture runs a short command to completion and captures both streams.
// A non-zero exit is not an error; only failing to run the command is.
func RunCapture(ctx context.Context, spec Spec, id string, logger logging.Logger) (CaptureResult, error) {
	if ctx == nil {
		return CaptureResult{ExitCode: -1}, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}

	cmd, err := buildCommand(ctx, spec, id, logger)
	if err != nil {
		return CaptureResult{ExitCode: -1}, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debugf("Running one-shot command, id: %s, program: %s, args: %v", id, spec.Program, spec.Args)

	runErr := cmd.Run()
	result := CaptureResult{
		ExitCode: exitCodeOf(cmd, runErr),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, errors.NewCancelledError("command cancelled", ctxErr).WithContext("id", id)
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			logger.Errorf("Failed to run command, id: %s, error: %v", id, runErr)
			return result, errors.NewSpawnError("failed to run command", runErr).
				WithContext("id", id).
				WithContext("program", spec.Program)
		}
	}

	logger.Debugf("One-shot command finished, id: %s, exit code: %d", id, result.ExitCode)
	return result, nil
}
