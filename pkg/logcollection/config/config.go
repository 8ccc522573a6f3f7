package config

import (
	"fmt"
)

// LoggingConfig configures the host logger and the collection of child process output
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`           // "debug", "info", "warn", "error"
	Format     string `yaml:"format" toml:"format"`         // "json", "console"
	Output     string `yaml:"output" toml:"output"`         // "stdout", "stderr" or a file path
	Caller     bool   `yaml:"caller" toml:"caller"`         // include caller information
	Stacktrace bool   `yaml:"stacktrace" toml:"stacktrace"` // include stacktrace on errors

	// Child process output collection
	CaptureStdout bool `yaml:"capture_stdout" toml:"capture_stdout"`
	CaptureStderr bool `yaml:"capture_stderr" toml:"capture_stderr"`
	TailLines     int  `yaml:"tail_lines" toml:"tail_lines"` // recent lines kept per service for status
}

const DefaultTailLines = 50

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:         "info",
		Format:        "console",
		Output:        "stderr",
		Caller:        false,
		Stacktrace:    true,
		CaptureStdout: true,
		CaptureStderr: true,
		TailLines:     DefaultTailLines,
	}
}

// ApplyDefaults fills zero values with defaults, leaving explicit settings untouched
func (c *LoggingConfig) ApplyDefaults() {
	defaults := DefaultLoggingConfig()
	if c.Level == "" {
		c.Level = defaults.Level
	}
	if c.Format == "" {
		c.Format = defaults.Format
	}
	if c.Output == "" {
		c.Output = defaults.Output
	}
	if c.TailLines == 0 {
		c.TailLines = defaults.TailLines
	}
}

func (c LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Level)
	}
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Format)
	}
	if c.TailLines < 0 {
		return fmt.Errorf("tail_lines cannot be negative")
	}
	return nil
}
