package host

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/events"
	"github.com/WittorioJaro/localAgents/pkg/logcollection"
	"github.com/WittorioJaro/localAgents/pkg/telemetry"
)

// Foreground runs alongside the host until it returns or the host is told to stop
type Foreground func(ctx context.Context, h *Host) error

type RunOptions struct {
	// ConfigFile is optional; built-in defaults are used when empty
	ConfigFile string
	// RunDuration stops the host after the given time; zero runs until a signal
	RunDuration time.Duration
	Lookup      func(string) (string, bool)
	Observer    events.Observer
	Foreground  Foreground
}

// LoadConfig reads the configuration file (or the defaults), applies
// environment overrides and validates the result
func LoadConfig(configFile string, lookup func(string) (string, bool)) (*Config, error) {
	var config *Config
	if configFile == "" {
		config = DefaultConfig()
	} else {
		loaded, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if lookup != nil {
		if err := ApplyEnvironment(config, lookup); err != nil {
			return nil, err
		}
	}

	if err := ValidateConfig(config); err != nil {
		return nil, errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}
	return config, nil
}

func Run(ctx context.Context, config *Config, options RunOptions, structured logcollection.StructuredLogger) error {
	logger := logcollection.ModuleLogger(structured, "runner")
	logger.Infof("Host runner starting...")

	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %v", options.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.RunDuration)
		defer cancel()
	}

	shutdownTelemetry, err := telemetry.Initialize(ctx, config.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warnf("Telemetry shutdown failed: %v", err)
		}
	}()

	h, err := New(config, structured, options.Observer)
	if err != nil {
		return errors.NewInternalError("failed to create host", err)
	}

	if err := h.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), config.Host.ForceShutdownTimeout)
		defer cancel()
		_ = h.Stop(stopCtx)
		return err
	}

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	foregroundCtx, cancelForeground := context.WithCancel(ctx)
	defer cancelForeground()
	foregroundDone := make(chan error, 1)
	if options.Foreground != nil {
		go func() {
			foregroundDone <- options.Foreground(foregroundCtx, h)
		}()
	}

	var runErr error
	select {
	case receivedSignal := <-sig:
		logger.Infof("Host runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Host runner context done")
	case runErr = <-foregroundDone:
		logger.Infof("Foreground finished, error: %v", runErr)
	}
	cancelForeground()

	stopCtx, cancel := context.WithTimeout(context.Background(), config.Host.ForceShutdownTimeout)
	defer cancel()
	if err := h.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}

	logger.Infof("Host runner stopped")
	return runErr
}

// ValidateConfigFile validates a configuration file without running anything
func ValidateConfigFile(configFile string) error {
	_, err := LoadConfig(configFile, nil)
	return err
}

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	ControlPort   int              `json:"control_port"`
	DataDir       string           `json:"data_dir"`
	WatchSchedule string           `json:"watch_schedule"`
	Journal       bool             `json:"journal"`
	Telemetry     bool             `json:"telemetry"`
	Services      []ServiceSummary `json:"services"`
}

type ServiceSummary struct {
	Name           string   `json:"name"`
	Program        string   `json:"program,omitempty"`
	Args           []string `json:"args,omitempty"`
	AlreadyRunning bool     `json:"already_running"`
	ReadinessType  string   `json:"readiness_type"`
	MaxAttempts    int      `json:"max_attempts"`
}

func GetConfigSummary(config *Config) ConfigSummary {
	summary := ConfigSummary{
		ControlPort:   config.Host.ControlPort,
		DataDir:       config.Host.DataDir,
		WatchSchedule: config.Host.WatchSchedule,
		Journal:       !config.Host.DisableJournal,
		Telemetry:     config.Telemetry.Enabled,
	}
	for _, spec := range ServiceSpecs(config) {
		service := ServiceSummary{
			Name:           spec.Name,
			AlreadyRunning: spec.AlreadyRunning,
			ReadinessType:  string(spec.Readiness.Type),
			MaxAttempts:    spec.Readiness.Probe.MaxAttempts,
		}
		if !spec.AlreadyRunning {
			service.Program = spec.Launch.Program
			service.Args = spec.Launch.Args
		}
		summary.Services = append(summary.Services, service)
	}
	return summary
}
