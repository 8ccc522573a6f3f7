package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func fastProbe(attempts int) ProbeOptions {
	return ProbeOptions{Interval: 5 * time.Millisecond, MaxAttempts: attempts, Timeout: time.Second}
}

func TestWaitUntilReady_ReadyAfterRetries(t *testing.T) {
	var calls int32
	check := CheckFunc(func(ctx context.Context) (Result, error) {
		n := atomic.AddInt32(&calls, 1)
		switch n {
		case 1:
			return NotReady, fmt.Errorf("connection refused")
		case 2:
			return NotReady, nil
		}
		return Ready, nil
	})

	err := WaitUntilReady(context.Background(), check, fastProbe(10), "ollama", logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWaitUntilReady_Exhausted(t *testing.T) {
	var calls int32
	check := CheckFunc(func(ctx context.Context) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return NotReady, nil
	})

	err := WaitUntilReady(context.Background(), check, fastProbe(4), "crewai", logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsProbeTimeoutError(err))
	assert.Contains(t, err.Error(), "crewai did not become ready after 4 attempts")
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestWaitUntilReady_Cancelled(t *testing.T) {
	check := CheckFunc(func(ctx context.Context) (Result, error) {
		return NotReady, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	opts := ProbeOptions{Interval: 10 * time.Millisecond, MaxAttempts: 1000, Timeout: time.Second}
	err := WaitUntilReady(ctx, check, opts, "ollama", logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
}

func TestWaitUntilReady_SleepsBeforeFirstAttempt(t *testing.T) {
	var firstCall time.Time
	check := CheckFunc(func(ctx context.Context) (Result, error) {
		firstCall = time.Now()
		return Ready, nil
	})

	start := time.Now()
	opts := ProbeOptions{Interval: 30 * time.Millisecond, MaxAttempts: 1, Timeout: time.Second}
	require.NoError(t, WaitUntilReady(context.Background(), check, opts, "ollama", logging.NewNopLogger()))
	assert.GreaterOrEqual(t, firstCall.Sub(start), 30*time.Millisecond)
}

func TestHTTPCheck(t *testing.T) {
	var status int32 = http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/docs", r.URL.Path)
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer server.Close()

	check, err := NewCheck(CheckConfig{Type: CheckTypeHTTP, HTTP: HTTPCheckConfig{URL: server.URL + "/docs"}}, "crewai", logging.NewNopLogger())
	require.NoError(t, err)

	result, err := check.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NotReady, result)

	atomic.StoreInt32(&status, http.StatusOK)
	result, err = check.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ready, result)
}

func TestHTTPCheck_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	check, err := NewCheck(CheckConfig{Type: CheckTypeHTTP, HTTP: HTTPCheckConfig{URL: url}}, "crewai", logging.NewNopLogger())
	require.NoError(t, err)

	result, err := check.Check(context.Background())
	assert.Equal(t, NotReady, result)
	assert.True(t, errors.IsServiceUnreachableError(err))
}

func TestTCPCheck(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port

	check, err := NewCheck(CheckConfig{Type: CheckTypeTCP, TCP: TCPCheckConfig{Address: "127.0.0.1", Port: port}}, "ollama", logging.NewNopLogger())
	require.NoError(t, err)

	result, err := check.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ready, result)

	listener.Close()
	result, err = check.Check(context.Background())
	assert.Equal(t, NotReady, result)
	assert.Error(t, err)
}

func TestGRPCCheck(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	healthServer.SetServingStatus("ollama", healthpb.HealthCheckResponse_NOT_SERVING)

	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(listener.Addr().(*net.TCPAddr).Port))
	check, err := NewCheck(CheckConfig{Type: CheckTypeGRPC, GRPC: GRPCCheckConfig{Address: address, Service: "ollama"}}, "ollama", logging.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := check.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, NotReady, result)

	healthServer.SetServingStatus("ollama", healthpb.HealthCheckResponse_SERVING)
	result, err = check.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, Ready, result)
}

func TestExecCheck(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	ready, err := NewCheck(CheckConfig{Type: CheckTypeExec, Exec: ExecCheckConfig{Command: "/bin/sh", Args: []string{"-c", "exit 0"}}}, "ollama", logging.NewNopLogger())
	require.NoError(t, err)
	result, err := ready.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ready, result)

	notReady, err := NewCheck(CheckConfig{Type: CheckTypeExec, Exec: ExecCheckConfig{Command: "/bin/sh", Args: []string{"-c", "exit 1"}}}, "ollama", logging.NewNopLogger())
	require.NoError(t, err)
	result, err = notReady.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NotReady, result)

	missing, err := NewCheck(CheckConfig{Type: CheckTypeExec, Exec: ExecCheckConfig{Command: "definitely-not-an-installed-binary-4242"}}, "ollama", logging.NewNopLogger())
	require.NoError(t, err)
	result, err = missing.Check(context.Background())
	assert.Equal(t, NotReady, result)
	assert.True(t, errors.IsSpawnError(err))
}

func TestNewCheck_Invalid(t *testing.T) {
	_, err := NewCheck(CheckConfig{Type: CheckTypeHTTP}, "crewai", logging.NewNopLogger())
	assert.True(t, errors.IsValidationError(err))
}
