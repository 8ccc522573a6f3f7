package process

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"
)

// Spec describes how to launch one child process
type Spec struct {
	Program          string        `yaml:"program" toml:"program"`
	Args             []string      `yaml:"args,omitempty" toml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty" toml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty" toml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty" toml:"wait_delay,omitempty"`
}

// WithArgs returns a copy of the spec with extra arguments appended
func (s Spec) WithArgs(args ...string) Spec {
	out := s
	out.Args = make([]string, 0, len(s.Args)+len(args))
	out.Args = append(out.Args, s.Args...)
	out.Args = append(out.Args, args...)
	return out
}

// buildCommand validates the spec, resolves the program on PATH and prepares
// an unstarted command bound to ctx
func buildCommand(ctx context.Context, spec Spec, id string, logger logging.Logger) (*exec.Cmd, error) {
	if err := ValidateSpec(spec); err != nil {
		logger.Errorf("Process spec validation failed, id: %s, error: %v", id, err)
		return nil, errors.NewSpawnError("invalid process spec", err).WithContext("id", id)
	}

	path, err := exec.LookPath(spec.Program)
	if err != nil {
		logger.Errorf("Executable not found, id: %s, program: %s, error: %v", id, spec.Program, err)
		return nil, errors.NewSpawnError("executable not found", err).
			WithContext("id", id).
			WithContext("program", spec.Program)
	}

	cmd := exec.CommandContext(ctx, path, spec.Args...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = append(os.Environ(), spec.Environment...)
	cmd.WaitDelay = spec.WaitDelay

	setupProcessAttributes(cmd)

	logger.Debugf("Prepared process, id: %s, path: '%s', args: %v, working directory: '%s'",
		id, path, spec.Args, spec.WorkingDirectory)

	return cmd, nil
}
