package monitoring

import "github.com/WittorioJaro/localAgents/pkg/errors"

// ValidateProbeOptions validates a readiness retry policy
func ValidateProbeOptions(options ProbeOptions) error {
	if options.Interval <= 0 {
		return errors.NewValidationError("probe interval must be positive", nil)
	}
	if options.MaxAttempts <= 0 {
		return errors.NewValidationError("probe max attempts must be positive", nil)
	}
	if options.Timeout <= 0 {
		return errors.NewValidationError("probe timeout must be positive", nil)
	}
	return nil
}

// ValidateCheckConfig validates readiness check configuration
func ValidateCheckConfig(config CheckConfig) error {
	if err := ValidateProbeOptions(config.Probe.WithDefaults()); err != nil {
		return errors.NewValidationError("invalid probe options", err)
	}

	switch config.Type {
	case CheckTypeHTTP:
		if config.HTTP.URL == "" {
			return errors.NewValidationError("HTTP URL is required for HTTP readiness check", nil)
		}

	case CheckTypeGRPC:
		if config.GRPC.Address == "" {
			return errors.NewValidationError("gRPC address is required for gRPC readiness check", nil)
		}

	case CheckTypeTCP:
		if config.TCP.Address == "" {
			return errors.NewValidationError("TCP address is required for TCP readiness check", nil)
		}
		if config.TCP.Port <= 0 || config.TCP.Port > 65535 {
			return errors.NewValidationError("TCP port must be between 1 and 65535", nil)
		}

	case CheckTypeExec:
		if config.Exec.Command == "" {
			return errors.NewValidationError("command is required for exec readiness check", nil)
		}

	default:
		return errors.NewValidationError("unsupported readiness check type: "+string(config.Type), nil)
	}

	return nil
}
