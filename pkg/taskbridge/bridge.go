// Package taskbridge forwards agent tasks to the local task-execution service
package taskbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/ollama"
	"github.com/WittorioJaro/localAgents/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultServiceName = "crewai"
	DefaultTimeout     = 10 * time.Minute
	executePath        = "/execute"
	maxResponseBytes   = 8 << 20
)

// Request is the task handed to the execution service
type Request struct {
	ModelName string `json:"model_name"`
	Task      string `json:"task"`
	Role      string `json:"role"`
	Goal      string `json:"goal"`
	Backstory string `json:"backstory,omitempty"`
}

func (r Request) Validate() error {
	missing := []string{}
	if strings.TrimSpace(r.ModelName) == "" {
		missing = append(missing, "model_name")
	}
	if strings.TrimSpace(r.Task) == "" {
		missing = append(missing, "task")
	}
	if strings.TrimSpace(r.Role) == "" {
		missing = append(missing, "role")
	}
	if strings.TrimSpace(r.Goal) == "" {
		missing = append(missing, "goal")
	}
	if len(missing) > 0 {
		return errors.NewValidationError("missing required fields: "+strings.Join(missing, ", "), nil)
	}
	return nil
}

type ModelLister interface {
	List(ctx context.Context) ([]string, error)
}

type ServiceEnsurer interface {
	EnsureRunning(ctx context.Context, name string) error
}

// Journal records task runs; optional
type Journal interface {
	TaskStarted(ctx context.Context, runID string, req Request, startedAt time.Time) error
	TaskFinished(ctx context.Context, runID string, runErr error, finishedAt time.Time) error
}

type Config struct {
	// BaseURL is the task service root, e.g. http://127.0.0.1:3001
	BaseURL     string
	ServiceName string
	Timeout     time.Duration
	Journal     Journal
	HTTPClient  *http.Client
}

type Bridge struct {
	config   Config
	models   ModelLister
	services ServiceEnsurer
	client   *http.Client
	logger   logging.Logger
}

func New(config Config, models ModelLister, services ServiceEnsurer, logger logging.Logger) *Bridge {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Bridge{
		config:   config,
		models:   models,
		services: services,
		client:   client,
		logger:   logger,
	}
}

type successPayload struct {
	Result *string `json:"result"`
}

type errorPayload struct {
	Detail json.RawMessage `json:"detail"`
}

type structuredDetail struct {
	Detail    string `json:"detail"`
	Traceback string `json:"traceback"`
}

// Run forwards req once its model is installed and the service answers.
// Failures reported by the service come back as upstream_task errors whose
// context carries "detail" and, when present, "traceback".
func (b *Bridge) Run(ctx context.Context, req Request) (result string, err error) {
	runID := uuid.New().String()
	ctx, span := telemetry.StartSpan(ctx, "taskbridge.run", attribute.String("model", req.ModelName), attribute.String("run_id", runID))
	defer func() { telemetry.End(span, err) }()

	if err := req.Validate(); err != nil {
		return "", err
	}

	installed, err := b.models.List(ctx)
	if err != nil {
		return "", err
	}
	if !ollama.Contains(installed, req.ModelName) {
		return "", errors.NewValidationError(fmt.Sprintf("Model %s is not installed", req.ModelName), nil).
			WithContext("model", req.ModelName)
	}

	if err := b.services.EnsureRunning(ctx, b.config.ServiceName); err != nil {
		return "", err
	}

	b.journalStarted(ctx, runID, req)
	defer func() { b.journalFinished(ctx, runID, err) }()

	b.logger.Infof("Executing task, id: %s, model: %s", runID, req.ModelName)
	return b.execute(ctx, runID, req)
}

func (b *Bridge) execute(ctx context.Context, runID string, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.NewInternalError("failed to encode task request", err)
	}

	url := b.config.BaseURL + executePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.NewInternalError("failed to create task request", err).WithContext("url", url)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.NewCancelledError("task request cancelled", ctx.Err()).WithContext("run_id", runID)
		}
		b.logger.Errorf("Task service unreachable, id: %s, error: %v", runID, err)
		return "", errors.NewServiceUnreachableError("failed to execute task", err).
			WithContext("url", url).
			WithContext("run_id", runID)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", errors.NewNetworkError("failed to read task response", err).WithContext("run_id", runID)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", b.decodeFailure(runID, resp.StatusCode, raw)
	}

	var payload successPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Result == nil {
		if err == nil {
			err = fmt.Errorf("result field missing")
		}
		return "", errors.NewInternalError("failed to parse task response", err).WithContext("run_id", runID)
	}

	b.logger.Infof("Task finished, id: %s, result length: %d", runID, len(*payload.Result))
	return *payload.Result, nil
}

func (b *Bridge) decodeFailure(runID string, status int, raw []byte) error {
	var payload errorPayload
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Detail) == 0 {
		if err == nil {
			err = fmt.Errorf("detail field missing")
		}
		return errors.NewInternalError("failed to parse task error response", err).
			WithContext("status", status).
			WithContext("run_id", runID)
	}

	var detail structuredDetail
	var text string
	if err := json.Unmarshal(payload.Detail, &text); err == nil {
		detail.Detail = text
	} else if err := json.Unmarshal(payload.Detail, &detail); err != nil {
		// validation failures arrive as a list of problems; keep them verbatim
		detail.Detail = string(payload.Detail)
	}

	if detail.Traceback != "" {
		b.logger.Debugf("Task service traceback, id: %s:\n%s", runID, detail.Traceback)
	}
	b.logger.Warnf("Task failed, id: %s, status: %d, detail: %s", runID, status, detail.Detail)

	upstream := errors.NewUpstreamTaskError(detail.Detail, nil).
		WithContext("status", status).
		WithContext("run_id", runID).
		WithContext("detail", detail.Detail)
	if detail.Traceback != "" {
		upstream = upstream.WithContext("traceback", detail.Traceback)
	}
	return upstream
}

func (b *Bridge) journalStarted(ctx context.Context, runID string, req Request) {
	if b.config.Journal == nil {
		return
	}
	if err := b.config.Journal.TaskStarted(ctx, runID, req, time.Now()); err != nil {
		b.logger.Warnf("Failed to journal task start, id: %s, error: %v", runID, err)
	}
}

func (b *Bridge) journalFinished(ctx context.Context, runID string, runErr error) {
	if b.config.Journal == nil {
		return
	}
	if err := b.config.Journal.TaskFinished(context.WithoutCancel(ctx), runID, runErr, time.Now()); err != nil {
		b.logger.Warnf("Failed to journal task outcome, id: %s, error: %v", runID, err)
	}
}

// Traceback returns the diagnostic trace attached to an upstream task error
func Traceback(err error) string {
	var domainErr *errors.DomainError
	if !errors.As(err, &domainErr) {
		return ""
	}
	return domainErr.ContextString("traceback")
}
