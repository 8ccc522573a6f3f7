package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/process"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Result int

const (
	NotReady Result = iota
	Ready
)

func (r Result) String() string {
	if r == Ready {
		return "ready"
	}
	return "not_ready"
}

// Check is one readiness attempt. NotReady and a returned error are both
// retryable from the caller's point of view.
type Check interface {
	Check(ctx context.Context) (Result, error)
}

type CheckFunc func(ctx context.Context) (Result, error)

func (f CheckFunc) Check(ctx context.Context) (Result, error) {
	return f(ctx)
}

type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeGRPC CheckType = "grpc"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeExec CheckType = "exec"
)

type HTTPCheckConfig struct {
	URL     string            `yaml:"url" toml:"url"`
	Method  string            `yaml:"method,omitempty" toml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" toml:"headers,omitempty"`
}

type GRPCCheckConfig struct {
	Address string `yaml:"address" toml:"address"`
	Service string `yaml:"service,omitempty" toml:"service,omitempty"`
}

type TCPCheckConfig struct {
	Address string `yaml:"address" toml:"address"`
	Port    int    `yaml:"port" toml:"port"`
}

type ExecCheckConfig struct {
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args,omitempty" toml:"args,omitempty"`
}

type CheckConfig struct {
	Type CheckType `yaml:"type" toml:"type"`

	HTTP HTTPCheckConfig `yaml:"http,omitempty" toml:"http,omitempty"`
	GRPC GRPCCheckConfig `yaml:"grpc,omitempty" toml:"grpc,omitempty"`
	TCP  TCPCheckConfig  `yaml:"tcp,omitempty" toml:"tcp,omitempty"`
	Exec ExecCheckConfig `yaml:"exec,omitempty" toml:"exec,omitempty"`

	Probe ProbeOptions `yaml:"probe,omitempty" toml:"probe,omitempty"`
}

// NewCheck builds the check described by config
func NewCheck(config CheckConfig, id string, logger logging.Logger) (Check, error) {
	if err := ValidateCheckConfig(config); err != nil {
		return nil, errors.NewValidationError("invalid readiness check configuration", err).WithContext("id", id)
	}

	switch config.Type {
	case CheckTypeHTTP:
		return &httpCheck{config: config.HTTP, id: id, logger: logger, client: &http.Client{}}, nil
	case CheckTypeGRPC:
		return &grpcCheck{config: config.GRPC, id: id, logger: logger}, nil
	case CheckTypeTCP:
		return &tcpCheck{config: config.TCP, id: id, logger: logger}, nil
	case CheckTypeExec:
		return &execCheck{config: config.Exec, id: id, logger: logger}, nil
	}
	return nil, errors.NewValidationError("unsupported readiness check type: "+string(config.Type), nil)
}

type httpCheck struct {
	config HTTPCheckConfig
	id     string
	logger logging.Logger
	client *http.Client
}

func (h *httpCheck) Check(ctx context.Context) (Result, error) {
	h.logger.Debugf("Performing HTTP readiness check, id: %s, url: %s", h.id, h.config.URL)

	method := h.config.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, h.config.URL, nil)
	if err != nil {
		return NotReady, errors.NewValidationError("failed to create HTTP request", err).WithContext("url", h.config.URL)
	}
	for key, value := range h.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return NotReady, errors.NewServiceUnreachableError("HTTP request failed", err).WithContext("url", h.config.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Ready, nil
	}
	h.logger.Debugf("HTTP readiness check not ready, id: %s, status: %d", h.id, resp.StatusCode)
	return NotReady, nil
}

type grpcCheck struct {
	config GRPCCheckConfig
	id     string
	logger logging.Logger
}

func (g *grpcCheck) Check(ctx context.Context) (Result, error) {
	g.logger.Debugf("Performing gRPC readiness check, id: %s, address: %s, service: %s", g.id, g.config.Address, g.config.Service)

	conn, err := grpc.NewClient(g.config.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return NotReady, errors.NewNetworkError("failed to create gRPC client", err).WithContext("address", g.config.Address)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: g.config.Service})
	if err != nil {
		return NotReady, errors.NewServiceUnreachableError("gRPC health check failed", err).WithContext("address", g.config.Address)
	}
	if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
		return Ready, nil
	}
	return NotReady, nil
}

type tcpCheck struct {
	config TCPCheckConfig
	id     string
	logger logging.Logger
}

func (t *tcpCheck) Check(ctx context.Context) (Result, error) {
	address := net.JoinHostPort(t.config.Address, strconv.Itoa(t.config.Port))
	t.logger.Debugf("Performing TCP readiness check, id: %s, address: %s", t.id, address)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return NotReady, errors.NewServiceUnreachableError(fmt.Sprintf("TCP connection to %s failed", address), err)
	}
	conn.Close()
	return Ready, nil
}

type execCheck struct {
	config ExecCheckConfig
	id     string
	logger logging.Logger
}

func (e *execCheck) Check(ctx context.Context) (Result, error) {
	e.logger.Debugf("Performing exec readiness check, id: %s, command: %s, args: %v", e.id, e.config.Command, e.config.Args)

	spec := process.Spec{Program: e.config.Command, Args: e.config.Args}
	result, err := process.RunCapture(ctx, spec, e.id+"-probe", e.logger)
	if err != nil {
		return NotReady, err
	}
	if result.Success() {
		return Ready, nil
	}
	e.logger.Debugf("Exec readiness check not ready, id: %s, exit code: %d", e.id, result.ExitCode)
	return NotReady, nil
}
