package process

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/WittorioJaro/localAgents/pkg/errors"
)

// ValidateSpec checks a launch spec before anything is executed
func ValidateSpec(spec Spec) error {
	if strings.TrimSpace(spec.Program) == "" {
		return errors.NewValidationError("program is required", nil)
	}

	if spec.WorkingDirectory != "" {
		if !filepath.IsAbs(spec.WorkingDirectory) {
			return errors.NewValidationError("working directory must be absolute path", nil).
				WithContext("working_directory", spec.WorkingDirectory)
		}
		info, err := os.Stat(spec.WorkingDirectory)
		if err != nil {
			return errors.NewValidationError("working directory not accessible: "+spec.WorkingDirectory, err)
		}
		if !info.IsDir() {
			return errors.NewValidationError("working directory is not a directory: "+spec.WorkingDirectory, nil)
		}
	}

	for _, env := range spec.Environment {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("invalid environment variable format: "+env, nil)
		}
	}

	if spec.WaitDelay < 0 {
		return errors.NewValidationError("wait delay cannot be negative", nil)
	}

	return nil
}
