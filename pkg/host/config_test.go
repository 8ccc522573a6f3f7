package host

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/monitoring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFromFile_YAML(t *testing.T) {
	path := writeConfigFile(t, "localagents.yaml", `
host:
  control_port: 50123
  data_dir: /tmp/localagents-test
  watch_schedule: "@every 1m"
ollama:
  binary: /usr/local/bin/ollama
  probe:
    interval: 500ms
    max_attempts: 20
crewai:
  python: /opt/venv/bin/python
  port: 3101
  task_timeout: 5m
logging:
  level: debug
  format: json
`)

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(config))

	assert.Equal(t, 50123, config.Host.ControlPort)
	assert.Equal(t, "@every 1m", config.Host.WatchSchedule)
	assert.Equal(t, "/usr/local/bin/ollama", config.Ollama.Binary)
	assert.Equal(t, []string{"serve"}, config.Ollama.ServeArgs)
	assert.Equal(t, 500*time.Millisecond, config.Ollama.Probe.Interval)
	assert.Equal(t, 20, config.Ollama.Probe.MaxAttempts)
	assert.Equal(t, monitoring.DefaultProbeTimeout, config.Ollama.Probe.Timeout)

	assert.Equal(t, "/opt/venv/bin/python", config.CrewAI.Python)
	assert.Equal(t, DefaultCrewAIModule, config.CrewAI.Module)
	assert.Equal(t, 3101, config.CrewAI.Port)
	assert.Equal(t, 5*time.Minute, config.CrewAI.TaskTimeout)
	assert.Equal(t, "http://127.0.0.1:3101", config.CrewAI.BaseURL())

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.False(t, config.Telemetry.Enabled)
	require.NotNil(t, config.Host.EnsureOnStart)
	assert.True(t, *config.Host.EnsureOnStart)
}

func TestLoadConfigFromFile_TOML(t *testing.T) {
	path := writeConfigFile(t, "localagents.toml", `
[host]
control_port = 50124
watch_schedule = "off"
ensure_on_start = false

[ollama]
already_running = true

[crewai]
port = 3201

[telemetry]
enabled = true
endpoint = "collector:4318"
`)

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(config))

	assert.Equal(t, 50124, config.Host.ControlPort)
	assert.Equal(t, WatchDisabled, config.Host.WatchSchedule)
	assert.False(t, *config.Host.EnsureOnStart)
	assert.True(t, config.Ollama.AlreadyRunning)
	assert.Equal(t, 3201, config.CrewAI.Port)
	assert.True(t, config.Telemetry.Enabled)
	assert.Equal(t, "collector:4318", config.Telemetry.Endpoint)
	assert.Equal(t, "localagents", config.Telemetry.ServiceName)
}

func TestLoadConfigFromFile_Errors(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsIOError(err))

	path := writeConfigFile(t, "broken.yaml", "host: [not, a, map")
	_, err = LoadConfigFromFile(path)
	assert.True(t, errors.IsValidationError(err))

	path = writeConfigFile(t, "broken.toml", "[host\ncontrol_port = ")
	_, err = LoadConfigFromFile(path)
	assert.True(t, errors.IsValidationError(err))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad_control_port", func(c *Config) { c.Host.ControlPort = 70000 }},
		{"bad_crewai_port", func(c *Config) { c.CrewAI.Port = -1 }},
		{"port_collision", func(c *Config) { c.CrewAI.Port = c.Host.ControlPort }},
		{"bad_schedule", func(c *Config) { c.Host.WatchSchedule = "every now and then" }},
		{"zero_task_timeout", func(c *Config) { c.CrewAI.TaskTimeout = 0 }},
		{"empty_ollama_binary", func(c *Config) { c.Ollama.Binary = " " }},
		{"bad_readiness_override", func(c *Config) {
			c.CrewAI.Readiness = &monitoring.CheckConfig{Type: monitoring.CheckTypeHTTP}
		}},
		{"bad_log_level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"telemetry_without_endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}},
	}

	require.NoError(t, ValidateConfig(DefaultConfig()))
	assert.True(t, errors.IsValidationError(ValidateConfig(nil)))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := ValidateConfig(config)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestValidateConfig_AlreadyRunningSkipsLaunch(t *testing.T) {
	config := DefaultConfig()
	config.Ollama.Binary = ""
	config.Ollama.AlreadyRunning = true
	config.Ollama.Readiness = &monitoring.CheckConfig{
		Type: monitoring.CheckTypeHTTP,
		HTTP: monitoring.HTTPCheckConfig{URL: "http://127.0.0.1:11434/api/version"},
	}
	assert.NoError(t, ValidateConfig(config))
}

func TestApplyEnvironment(t *testing.T) {
	env := map[string]string{
		"LOCALAGENTS_OLLAMA_BINARY": "/opt/ollama/bin/ollama",
		"LOCALAGENTS_PYTHON":        "/opt/venv/bin/python3",
		"LOCALAGENTS_CREWAI_PORT":   "3333",
		"LOCALAGENTS_DATA_DIR":      "/var/lib/localagents",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	config := DefaultConfig()
	require.NoError(t, ApplyEnvironment(config, lookup))
	assert.Equal(t, "/opt/ollama/bin/ollama", config.Ollama.Binary)
	assert.Equal(t, "/opt/venv/bin/python3", config.CrewAI.Python)
	assert.Equal(t, 3333, config.CrewAI.Port)
	assert.Equal(t, "/var/lib/localagents", config.Host.DataDir)
	assert.Equal(t, DefaultControlPort, config.Host.ControlPort)

	env["LOCALAGENTS_CONTROL_PORT"] = "not-a-port"
	assert.True(t, errors.IsValidationError(ApplyEnvironment(DefaultConfig(), lookup)))
}

func TestServiceSpecs(t *testing.T) {
	config := DefaultConfig()
	config.CrewAI.Port = 3555
	config.CrewAI.Environment = []string{"OPENAI_API_KEY=none"}

	specs := ServiceSpecs(config)
	require.Len(t, specs, 2)

	ollamaSpec := specs[0]
	assert.Equal(t, OllamaServiceName, ollamaSpec.Name)
	assert.Equal(t, "ollama", ollamaSpec.Launch.Program)
	assert.Equal(t, []string{"serve"}, ollamaSpec.Launch.Args)
	assert.Equal(t, monitoring.CheckTypeExec, ollamaSpec.Readiness.Type)
	assert.Equal(t, "ollama", ollamaSpec.Readiness.Exec.Command)
	assert.Equal(t, []string{"--version"}, ollamaSpec.Readiness.Exec.Args)
	assert.Equal(t, monitoring.DefaultProbeOptions(), ollamaSpec.Readiness.Probe)

	crewSpec := specs[1]
	assert.Equal(t, CrewAIServiceName, crewSpec.Name)
	assert.Equal(t, DefaultPython, crewSpec.Launch.Program)
	assert.Equal(t, []string{"-m", "crew_wrapper", "3555"}, crewSpec.Launch.Args)
	assert.Equal(t, []string{"PYTHONUNBUFFERED=1", "OPENAI_API_KEY=none"}, crewSpec.Launch.Environment)
	assert.Equal(t, monitoring.CheckTypeHTTP, crewSpec.Readiness.Type)
	assert.Equal(t, "http://127.0.0.1:3555/docs", crewSpec.Readiness.HTTP.URL)
}

func TestServiceSpecs_ReadinessOverrideKeepsOwnProbe(t *testing.T) {
	config := DefaultConfig()
	config.Ollama.Probe = monitoring.ProbeOptions{Interval: 2 * time.Second, MaxAttempts: 5, Timeout: time.Second}
	config.Ollama.Readiness = &monitoring.CheckConfig{
		Type:  monitoring.CheckTypeHTTP,
		HTTP:  monitoring.HTTPCheckConfig{URL: "http://127.0.0.1:11434/api/version"},
		Probe: monitoring.ProbeOptions{MaxAttempts: 30},
	}

	spec := ServiceSpecs(config)[0]
	assert.Equal(t, monitoring.CheckTypeHTTP, spec.Readiness.Type)
	assert.Equal(t, 30, spec.Readiness.Probe.MaxAttempts)
	assert.Equal(t, monitoring.DefaultProbeInterval, spec.Readiness.Probe.Interval)

	config.Ollama.Readiness.Probe = monitoring.ProbeOptions{}
	spec = ServiceSpecs(config)[0]
	assert.Equal(t, 5, spec.Readiness.Probe.MaxAttempts)
	assert.Equal(t, 2*time.Second, spec.Readiness.Probe.Interval)
}

func TestLoadConfig_DefaultsAndEnvironment(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "LOCALAGENTS_CREWAI_PORT" {
			return "3999", true
		}
		return "", false
	}

	config, err := LoadConfig("", lookup)
	require.NoError(t, err)
	assert.Equal(t, 3999, config.CrewAI.Port)

	summary := GetConfigSummary(config)
	require.Len(t, summary.Services, 2)
	assert.Equal(t, OllamaServiceName, summary.Services[0].Name)
	assert.Equal(t, "exec", summary.Services[0].ReadinessType)
	assert.Equal(t, []string{"-m", "crew_wrapper", "3999"}, summary.Services[1].Args)
	assert.True(t, summary.Journal)

	path := writeConfigFile(t, "bad.yaml", "host:\n  control_port: 99999\n")
	assert.True(t, errors.IsValidationError(ValidateConfigFile(path)))
}

func TestLoadConfigFromFile_SampleConfig(t *testing.T) {
	config, err := LoadConfigFromFile(filepath.Join("..", "..", "config", "localagents.yaml"))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(config))

	assert.Equal(t, DefaultControlPort, config.Host.ControlPort)
	assert.Equal(t, 20*time.Second, config.Host.ForceShutdownTimeout)
	require.NotNil(t, config.Host.EnsureOnStart)
	assert.True(t, *config.Host.EnsureOnStart)
	assert.Equal(t, []string{"serve"}, config.Ollama.ServeArgs)
	assert.Equal(t, 30, config.CrewAI.Probe.MaxAttempts)
	assert.Equal(t, 10*time.Minute, config.CrewAI.TaskTimeout)
	assert.Equal(t, "http://127.0.0.1:3001", config.CrewAI.BaseURL())
	assert.False(t, config.Telemetry.Enabled)
}
