package supervisor

import (
	"strings"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/monitoring"
	"github.com/WittorioJaro/localAgents/pkg/process"
)

func ValidateServiceSpec(spec ServiceSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return errors.NewValidationError("service name is required", nil)
	}

	if !spec.AlreadyRunning {
		if err := process.ValidateSpec(spec.Launch); err != nil {
			return errors.NewValidationError("invalid launch specification", err).WithContext("service", spec.Name)
		}
	}

	if spec.Check == nil {
		if err := monitoring.ValidateCheckConfig(spec.Readiness); err != nil {
			return errors.NewValidationError("invalid readiness check", err).WithContext("service", spec.Name)
		}
	} else if err := monitoring.ValidateProbeOptions(spec.Readiness.Probe.WithDefaults()); err != nil {
		return errors.NewValidationError("invalid probe options", err).WithContext("service", spec.Name)
	}

	return nil
}
