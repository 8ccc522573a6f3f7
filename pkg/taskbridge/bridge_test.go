package taskbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLister struct {
	models []string
	err    error
}

func (s staticLister) List(ctx context.Context) ([]string, error) {
	return s.models, s.err
}

type countingEnsurer struct {
	calls int32
	err   error
	name  string
}

func (c *countingEnsurer) EnsureRunning(ctx context.Context, name string) error {
	atomic.AddInt32(&c.calls, 1)
	c.name = name
	return c.err
}

func validRequest() Request {
	return Request{
		ModelName: "llama3:8b",
		Task:      "Summarize the release notes",
		Role:      "Writer",
		Goal:      "Produce a short summary",
	}
}

func newTaskServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestRun_Success(t *testing.T) {
	server, calls := newTaskServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3:8b", body["model_name"])
		assert.Equal(t, "Summarize the release notes", body["task"])
		assert.NotContains(t, body, "backstory")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": "Release 1.2 fixes three bugs."}`))
	})

	ensurer := &countingEnsurer{}
	bridge := New(Config{BaseURL: server.URL + "/"}, staticLister{models: []string{"llama3:8b", "mistral:7b"}}, ensurer, logging.NewNopLogger())

	result, err := bridge.Run(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "Release 1.2 fixes three bugs.", result)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ensurer.calls))
	assert.Equal(t, DefaultServiceName, ensurer.name)
}

func TestRun_ModelNotInstalledMakesNoCalls(t *testing.T) {
	server, calls := newTaskServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no HTTP call expected")
	})

	ensurer := &countingEnsurer{}
	bridge := New(Config{BaseURL: server.URL}, staticLister{models: []string{"mistral:7b"}}, ensurer, logging.NewNopLogger())

	_, err := bridge.Run(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Contains(t, err.Error(), "Model llama3:8b is not installed")
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&ensurer.calls))
}

func TestRun_UpstreamFailure(t *testing.T) {
	tests := []struct {
		name              string
		status            int
		body              string
		expectedDetail    string
		expectedTraceback string
	}{
		{
			name:              "structured_detail_with_traceback",
			status:            http.StatusInternalServerError,
			body:              `{"detail": {"detail": "model crashed", "traceback": "Traceback (most recent call last):\n  File \"workflow.py\""}}`,
			expectedDetail:    "model crashed",
			expectedTraceback: "Traceback (most recent call last):\n  File \"workflow.py\"",
		},
		{
			name:           "plain_string_detail",
			status:         http.StatusBadRequest,
			body:           `{"detail": "bad request"}`,
			expectedDetail: "bad request",
		},
		{
			name:           "structured_detail_without_traceback",
			status:         http.StatusInternalServerError,
			body:           `{"detail": {"detail": "timeout talking to model", "traceback": null}}`,
			expectedDetail: "timeout talking to model",
		},
		{
			name:           "validation_list",
			status:         http.StatusUnprocessableEntity,
			body:           `{"detail": [{"loc": ["body", "goal"], "msg": "field required"}]}`,
			expectedDetail: `[{"loc": ["body", "goal"], "msg": "field required"}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTaskServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			bridge := New(Config{BaseURL: server.URL}, staticLister{models: []string{"llama3:8b"}}, &countingEnsurer{}, logging.NewNopLogger())

			_, err := bridge.Run(context.Background(), validRequest())
			require.Error(t, err)
			assert.True(t, errors.IsUpstreamTaskError(err))

			var domainErr *errors.DomainError
			require.True(t, errors.As(err, &domainErr))
			assert.Equal(t, tt.expectedDetail, domainErr.Message)
			assert.Equal(t, tt.expectedDetail, domainErr.ContextString("detail"))
			assert.Equal(t, tt.expectedTraceback, Traceback(err))
			assert.NotContains(t, domainErr.Message, "Traceback")
		})
	}
}

func TestRun_DecodeFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "error_not_json", status: http.StatusInternalServerError, body: "Internal Server Error"},
		{name: "error_without_detail", status: http.StatusInternalServerError, body: `{"message": "nope"}`},
		{name: "success_not_json", status: http.StatusOK, body: "<html>ok</html>"},
		{name: "success_without_result", status: http.StatusOK, body: `{"output": "x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTaskServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, tt.body)
			})
			bridge := New(Config{BaseURL: server.URL}, staticLister{models: []string{"llama3:8b"}}, &countingEnsurer{}, logging.NewNopLogger())

			_, err := bridge.Run(context.Background(), validRequest())
			require.Error(t, err)
			assert.True(t, errors.IsInternalError(err))
		})
	}
}

func TestRun_ServiceUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	bridge := New(Config{BaseURL: url}, staticLister{models: []string{"llama3:8b"}}, &countingEnsurer{}, logging.NewNopLogger())

	_, err := bridge.Run(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, errors.IsServiceUnreachableError(err))
}

func TestRun_EnsureFailureStopsBeforeHTTP(t *testing.T) {
	server, calls := newTaskServer(t, func(w http.ResponseWriter, r *http.Request) {})
	ensurer := &countingEnsurer{err: errors.NewProbeTimeoutError("service crewai did not become ready after 10 attempts", nil)}
	bridge := New(Config{BaseURL: server.URL}, staticLister{models: []string{"llama3:8b"}}, ensurer, logging.NewNopLogger())

	_, err := bridge.Run(context.Background(), validRequest())
	assert.True(t, errors.IsProbeTimeoutError(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestRun_ListingFailure(t *testing.T) {
	bridge := New(Config{BaseURL: "http://127.0.0.1:1"}, staticLister{err: errors.NewSpawnError("executable not found", nil)}, &countingEnsurer{}, logging.NewNopLogger())

	_, err := bridge.Run(context.Background(), validRequest())
	assert.True(t, errors.IsSpawnError(err))
}

func TestRequest_Validate(t *testing.T) {
	assert.NoError(t, validRequest().Validate())

	err := Request{ModelName: "llama3:8b"}.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Contains(t, err.Error(), "task, role, goal")
}
