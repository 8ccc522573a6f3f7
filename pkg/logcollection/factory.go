package logcollection

import (
	"fmt"

	"github.com/WittorioJaro/localAgents/pkg/logcollection/config"
	"github.com/WittorioJaro/localAgents/pkg/logging"
)

// NewStructuredLogger validates the configuration and builds the zap backed logger
func NewStructuredLogger(cfg config.LoggingConfig) (StructuredLogger, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	return NewZapAdapter(cfg)
}

// NewDefaultStructuredLogger is used by tools that run without a configuration file
func NewDefaultStructuredLogger() StructuredLogger {
	logger, err := NewZapAdapter(config.DefaultLoggingConfig())
	if err != nil {
		// the default config only targets stderr, which cannot fail to open
		panic(err)
	}
	return logger
}

// ModuleLogger returns a printf logger for one module, backed by the structured logger
func ModuleLogger(structured StructuredLogger, module string) logging.Logger {
	return logging.FromPrintf(fmt.Sprintf("module: %s , ", module), structured)
}
