// Package ollama wraps the one-shot invocations of the model-inference CLI
package ollama

import (
	"context"
	"regexp"
	"strings"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/process"
)

const DefaultBinary = "ollama"

var modelNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-/]*(:[A-Za-z0-9._\-]+)?$`)

// ValidateModelName rejects names that the CLI would read as flags or that
// could not be a model reference
func ValidateModelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.NewValidationError("model name is required", nil)
	}
	if !modelNameRegex.MatchString(name) {
		return errors.NewValidationError("invalid model name", nil).WithContext("model", name)
	}
	return nil
}

type Client struct {
	base   process.Spec
	logger logging.Logger
}

// NewClient uses binary as the CLI executable; an empty binary means "ollama"
// resolved on PATH
func NewClient(binary string, environment []string, logger logging.Logger) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Client{
		base: process.Spec{
			Program:     binary,
			Environment: environment,
		},
		logger: logger,
	}
}

func (c *Client) Binary() string {
	return c.base.Program
}

// ServeSpec is the long running server launch
func (c *Client) ServeSpec(args ...string) process.Spec {
	if len(args) == 0 {
		args = []string{"serve"}
	}
	return c.base.WithArgs(args...)
}

// PullSpec is the streaming pull launch; progress is written to stderr
func (c *Client) PullSpec(model string) process.Spec {
	return c.base.WithArgs("pull", model)
}

// Version runs --version; exit status 0 means the CLI is installed and the
// server answers
func (c *Client) Version(ctx context.Context) (string, error) {
	result, err := process.RunCapture(ctx, c.base.WithArgs("--version"), "ollama-version", c.logger)
	if err != nil {
		return "", err
	}
	if !result.Success() {
		return "", commandFailed("version check failed", result)
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

// List returns the installed model names, always fetched fresh
func (c *Client) List(ctx context.Context) ([]string, error) {
	result, err := process.RunCapture(ctx, c.base.WithArgs("list"), "ollama-list", c.logger)
	if err != nil {
		return nil, err
	}
	if !result.Success() {
		return nil, commandFailed("failed to list models", result)
	}
	models := ParseListing(string(result.Stdout))
	c.logger.Debugf("Listed models, count: %d", len(models))
	return models, nil
}

// Delete removes an installed model. On failure the CLI's stderr becomes the
// error message.
func (c *Client) Delete(ctx context.Context, model string) error {
	if err := ValidateModelName(model); err != nil {
		return err
	}

	result, err := process.RunCapture(ctx, c.base.WithArgs("rm", model), "ollama-rm", c.logger)
	if err != nil {
		return err
	}
	if !result.Success() {
		return commandFailed("failed to delete model", result).WithContext("model", model)
	}
	c.logger.Infof("Deleted model, model: %s", model)
	return nil
}

func commandFailed(message string, result process.CaptureResult) *errors.DomainError {
	text := result.StderrText()
	if text == "" {
		text = message
	}
	return errors.NewProcessError(text, nil).
		WithContext("exit_code", result.ExitCode).
		WithContext("operation", message)
}
