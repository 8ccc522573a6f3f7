package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	logconfig "github.com/WittorioJaro/localAgents/pkg/logcollection/config"
	"github.com/WittorioJaro/localAgents/pkg/monitoring"
	"github.com/WittorioJaro/localAgents/pkg/processfile"
	"github.com/WittorioJaro/localAgents/pkg/supervisor"
	"github.com/WittorioJaro/localAgents/pkg/telemetry"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	OllamaServiceName = "ollama"
	CrewAIServiceName = "crewai"

	DefaultControlPort   = 50055
	DefaultCrewAIPort    = 3001
	DefaultCrewAIModule  = "crew_wrapper"
	DefaultPython        = "python3"
	DefaultWatchSchedule = "@every 30s"
	// WatchDisabled turns the periodic re-probe off
	WatchDisabled = "off"
)

// Config represents the top-level configuration file structure
type Config struct {
	Host      Options                 `yaml:"host" toml:"host"`
	Ollama    OllamaConfig            `yaml:"ollama" toml:"ollama"`
	CrewAI    CrewAIConfig            `yaml:"crewai" toml:"crewai"`
	Telemetry telemetry.Config        `yaml:"telemetry" toml:"telemetry"`
	Logging   logconfig.LoggingConfig `yaml:"logging" toml:"logging"`
}

// Options represents host-level configuration
type Options struct {
	ControlPort          int           `yaml:"control_port" toml:"control_port"`
	DataDir              string        `yaml:"data_dir,omitempty" toml:"data_dir,omitempty"`
	DisableJournal       bool          `yaml:"disable_journal,omitempty" toml:"disable_journal,omitempty"`
	WatchSchedule        string        `yaml:"watch_schedule,omitempty" toml:"watch_schedule,omitempty"`
	StartupTimeout       time.Duration `yaml:"startup_timeout,omitempty" toml:"startup_timeout,omitempty"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty" toml:"force_shutdown_timeout,omitempty"`
	// EnsureOnStart ensures both services concurrently when the host starts
	EnsureOnStart *bool `yaml:"ensure_on_start,omitempty" toml:"ensure_on_start,omitempty"`
}

type OllamaConfig struct {
	Binary         string                  `yaml:"binary,omitempty" toml:"binary,omitempty"`
	ServeArgs      []string                `yaml:"serve_args,omitempty" toml:"serve_args,omitempty"`
	Environment    []string                `yaml:"environment,omitempty" toml:"environment,omitempty"`
	AlreadyRunning bool                    `yaml:"already_running,omitempty" toml:"already_running,omitempty"`
	Probe          monitoring.ProbeOptions `yaml:"probe,omitempty" toml:"probe,omitempty"`
	// Readiness overrides the default "<binary> --version" check
	Readiness *monitoring.CheckConfig `yaml:"readiness,omitempty" toml:"readiness,omitempty"`
}

type CrewAIConfig struct {
	Python           string                  `yaml:"python,omitempty" toml:"python,omitempty"`
	Module           string                  `yaml:"module,omitempty" toml:"module,omitempty"`
	Port             int                     `yaml:"port,omitempty" toml:"port,omitempty"`
	WorkingDirectory string                  `yaml:"working_directory,omitempty" toml:"working_directory,omitempty"`
	Environment      []string                `yaml:"environment,omitempty" toml:"environment,omitempty"`
	AlreadyRunning   bool                    `yaml:"already_running,omitempty" toml:"already_running,omitempty"`
	TaskTimeout      time.Duration           `yaml:"task_timeout,omitempty" toml:"task_timeout,omitempty"`
	Probe            monitoring.ProbeOptions `yaml:"probe,omitempty" toml:"probe,omitempty"`
	// Readiness overrides the default GET /docs check
	Readiness *monitoring.CheckConfig `yaml:"readiness,omitempty" toml:"readiness,omitempty"`
}

// BaseURL is derived from Port so the launch args and the bridge never disagree
func (c CrewAIConfig) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.Port)
}

// DefaultConfig is used when no configuration file is given
func DefaultConfig() *Config {
	config := &Config{
		Telemetry: telemetry.DefaultConfig(),
		Logging:   logconfig.DefaultLoggingConfig(),
	}
	_ = setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads the configuration from a YAML file, or TOML when
// the file name ends in .toml
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config := Config{
		Telemetry: telemetry.DefaultConfig(),
		Logging:   logconfig.DefaultLoggingConfig(),
	}

	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		if _, err := toml.Decode(string(data), &config); err != nil {
			return nil, errors.NewValidationError("failed to parse TOML configuration", err).WithContext("filename", filename)
		}
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
		}
	}

	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}

	return &config, nil
}

// ApplyEnvironment overrides binary paths and ports from LOCALAGENTS_* variables
func ApplyEnvironment(config *Config, lookup func(string) (string, bool)) error {
	if value, ok := lookup("LOCALAGENTS_OLLAMA_BINARY"); ok && value != "" {
		config.Ollama.Binary = value
	}
	if value, ok := lookup("LOCALAGENTS_PYTHON"); ok && value != "" {
		config.CrewAI.Python = value
	}
	if value, ok := lookup("LOCALAGENTS_DATA_DIR"); ok && value != "" {
		config.Host.DataDir = value
	}
	if value, ok := lookup("LOCALAGENTS_CREWAI_PORT"); ok && value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return errors.NewValidationError("invalid LOCALAGENTS_CREWAI_PORT", err).WithContext("value", value)
		}
		config.CrewAI.Port = port
	}
	if value, ok := lookup("LOCALAGENTS_CONTROL_PORT"); ok && value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return errors.NewValidationError("invalid LOCALAGENTS_CONTROL_PORT", err).WithContext("value", value)
		}
		config.Host.ControlPort = port
	}
	return nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) error {
	if config.Host.ControlPort == 0 {
		config.Host.ControlPort = DefaultControlPort
	}
	if config.Host.DataDir == "" {
		config.Host.DataDir = processfile.DefaultDataDirectory(processfile.DefaultAppName)
	}
	if config.Host.WatchSchedule == "" {
		config.Host.WatchSchedule = DefaultWatchSchedule
	}
	if config.Host.StartupTimeout == 0 {
		config.Host.StartupTimeout = 2 * time.Minute
	}
	if config.Host.ForceShutdownTimeout == 0 {
		config.Host.ForceShutdownTimeout = 20 * time.Second
	}
	if config.Host.EnsureOnStart == nil {
		enabled := true
		config.Host.EnsureOnStart = &enabled
	}

	if config.Ollama.Binary == "" {
		config.Ollama.Binary = "ollama"
	}
	if len(config.Ollama.ServeArgs) == 0 {
		config.Ollama.ServeArgs = []string{"serve"}
	}
	config.Ollama.Probe = config.Ollama.Probe.WithDefaults()

	if config.CrewAI.Python == "" {
		config.CrewAI.Python = DefaultPython
	}
	if config.CrewAI.Module == "" {
		config.CrewAI.Module = DefaultCrewAIModule
	}
	if config.CrewAI.Port == 0 {
		config.CrewAI.Port = DefaultCrewAIPort
	}
	if config.CrewAI.TaskTimeout == 0 {
		config.CrewAI.TaskTimeout = 10 * time.Minute
	}
	config.CrewAI.Probe = config.CrewAI.Probe.WithDefaults()

	config.Logging.ApplyDefaults()
	return nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	collection := errors.NewErrorCollection()

	if err := ValidatePort(config.Host.ControlPort); err != nil {
		collection.Add(errors.NewValidationError("invalid host control port", err))
	}
	if config.Host.WatchSchedule != WatchDisabled {
		if _, err := cron.ParseStandard(config.Host.WatchSchedule); err != nil {
			collection.Add(errors.NewValidationError("invalid watch schedule", err).WithContext("schedule", config.Host.WatchSchedule))
		}
	}
	if err := ValidateTimeout(config.Host.StartupTimeout, "startup"); err != nil {
		collection.Add(err)
	}
	if err := ValidateTimeout(config.Host.ForceShutdownTimeout, "force shutdown"); err != nil {
		collection.Add(err)
	}

	if err := ValidatePort(config.CrewAI.Port); err != nil {
		collection.Add(errors.NewValidationError("invalid crewai port", err))
	}
	if err := ValidateTimeout(config.CrewAI.TaskTimeout, "task"); err != nil {
		collection.Add(err)
	}
	if config.CrewAI.Port == config.Host.ControlPort {
		collection.Add(errors.NewValidationError(
			fmt.Sprintf("crewai port and control port are both %d", config.CrewAI.Port), nil))
	}

	for _, spec := range ServiceSpecs(config) {
		if err := supervisor.ValidateServiceSpec(spec); err != nil {
			collection.Add(err)
		}
	}

	if err := config.Logging.Validate(); err != nil {
		collection.Add(errors.NewValidationError("invalid logging configuration", err))
	}
	if config.Telemetry.Enabled && config.Telemetry.Endpoint == "" {
		collection.Add(errors.NewValidationError("telemetry endpoint is required when telemetry is enabled", nil))
	}

	if collection.HasErrors() {
		return errors.NewValidationError("configuration validation failed", collection.ToError())
	}
	return nil
}
