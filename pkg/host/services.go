package host

import (
	"strconv"

	"github.com/WittorioJaro/localAgents/pkg/monitoring"
	"github.com/WittorioJaro/localAgents/pkg/process"
	"github.com/WittorioJaro/localAgents/pkg/supervisor"
)

// ServiceSpecs builds the supervised services described by the configuration:
// the inference server first, then the task service
func ServiceSpecs(config *Config) []supervisor.ServiceSpec {
	return []supervisor.ServiceSpec{
		ollamaServiceSpec(config.Ollama),
		crewAIServiceSpec(config.CrewAI),
	}
}

func ollamaServiceSpec(config OllamaConfig) supervisor.ServiceSpec {
	readiness := monitoring.CheckConfig{
		Type: monitoring.CheckTypeExec,
		Exec: monitoring.ExecCheckConfig{
			Command: config.Binary,
			Args:    []string{"--version"},
		},
	}
	if config.Readiness != nil {
		readiness = *config.Readiness
	}
	readiness.Probe = mergeProbe(readiness.Probe, config.Probe)

	return supervisor.ServiceSpec{
		Name: OllamaServiceName,
		Launch: process.Spec{
			Program:     config.Binary,
			Args:        append([]string(nil), config.ServeArgs...),
			Environment: config.Environment,
		},
		AlreadyRunning: config.AlreadyRunning,
		Readiness:      readiness,
	}
}

func crewAIServiceSpec(config CrewAIConfig) supervisor.ServiceSpec {
	readiness := monitoring.CheckConfig{
		Type: monitoring.CheckTypeHTTP,
		HTTP: monitoring.HTTPCheckConfig{
			URL:    config.BaseURL() + "/docs",
			Method: "GET",
		},
	}
	if config.Readiness != nil {
		readiness = *config.Readiness
	}
	readiness.Probe = mergeProbe(readiness.Probe, config.Probe)

	environment := append([]string{"PYTHONUNBUFFERED=1"}, config.Environment...)

	return supervisor.ServiceSpec{
		Name: CrewAIServiceName,
		Launch: process.Spec{
			Program:          config.Python,
			Args:             []string{"-m", config.Module, strconv.Itoa(config.Port)},
			Environment:      environment,
			WorkingDirectory: config.WorkingDirectory,
		},
		AlreadyRunning: config.AlreadyRunning,
		Readiness:      readiness,
	}
}

// mergeProbe lets an explicit readiness block keep its own probe settings
func mergeProbe(explicit, section monitoring.ProbeOptions) monitoring.ProbeOptions {
	if explicit == (monitoring.ProbeOptions{}) {
		return section.WithDefaults()
	}
	return explicit.WithDefaults()
}
