package mcptools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/domain"
	"github.com/WittorioJaro/localAgents/pkg/download"
	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/ollama"
	"github.com/WittorioJaro/localAgents/pkg/supervisor"
	"github.com/WittorioJaro/localAgents/pkg/taskbridge"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockContract struct {
	mock.Mock
}

func (m *mockContract) EnsureServices(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockContract) EnsureService(ctx context.Context, name string) error {
	return m.Called(name).Error(0)
}

func (m *mockContract) ListModels(ctx context.Context) ([]string, error) {
	args := m.Called()
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockContract) PullModel(ctx context.Context, model string) (download.Outcome, error) {
	args := m.Called(model)
	return args.Get(0).(download.Outcome), args.Error(1)
}

func (m *mockContract) DeleteModel(ctx context.Context, model string) error {
	return m.Called(model).Error(0)
}

func (m *mockContract) RunTask(ctx context.Context, req taskbridge.Request) (string, error) {
	args := m.Called(req)
	return args.String(0), args.Error(1)
}

func (m *mockContract) Catalog(ctx context.Context) ([]ollama.CatalogEntry, error) {
	args := m.Called()
	return args.Get(0).([]ollama.CatalogEntry), args.Error(1)
}

func (m *mockContract) Status(ctx context.Context) (domain.HostStatus, error) {
	args := m.Called()
	return args.Get(0).(domain.HostStatus), args.Error(1)
}

func connect(t *testing.T, contract domain.Contract) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	server := NewServer(contract, "test", logging.NewNopLogger())
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		session.Close()
		serverSession.Wait()
	})
	return session
}

func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}
	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text, result.IsError
}

func TestTools_Listed(t *testing.T) {
	session := connect(t, &mockContract{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"ensure_services", "ensure_service", "list_models", "model_catalog",
		"pull_model", "delete_model", "run_task", "host_status",
	}, names)
}

func TestTools_Services(t *testing.T) {
	contract := &mockContract{}
	contract.On("EnsureServices").Return(nil)
	contract.On("EnsureService", "crewai").Return(errors.NewServiceUnreachableError("service did not become ready", nil))
	session := connect(t, contract)

	text, isErr := call(t, session, "ensure_services", nil)
	assert.False(t, isErr)
	assert.Equal(t, "all services are running", text)

	text, isErr = call(t, session, "ensure_service", map[string]any{"name": "crewai"})
	assert.True(t, isErr)
	assert.Contains(t, text, "service did not become ready")

	text, isErr = call(t, session, "ensure_service", map[string]any{"name": ""})
	assert.True(t, isErr)
	assert.Equal(t, "name is required", text)

	contract.AssertExpectations(t)
}

func TestTools_Models(t *testing.T) {
	contract := &mockContract{}
	contract.On("ListModels").Return([]string{"llama3.2:3b"}, nil)
	contract.On("Catalog").Return([]ollama.CatalogEntry{{Name: "mistral:7b", Status: ollama.StatusDownloading, Progress: 42}}, nil)
	contract.On("PullModel", "llama3.2:3b").Return(download.Outcome{JobID: "j1", Model: "llama3.2:3b", Succeeded: true}, nil)
	contract.On("PullModel", "nope:1b").Return(download.Outcome{JobID: "j2", Model: "nope:1b", Message: "pull model manifest: file does not exist"}, nil)
	contract.On("DeleteModel", "mistral:7b").Return(nil)
	session := connect(t, contract)

	text, isErr := call(t, session, "list_models", nil)
	require.False(t, isErr)
	var models []string
	require.NoError(t, json.Unmarshal([]byte(text), &models))
	assert.Equal(t, []string{"llama3.2:3b"}, models)

	text, isErr = call(t, session, "model_catalog", nil)
	require.False(t, isErr)
	var entries []ollama.CatalogEntry
	require.NoError(t, json.Unmarshal([]byte(text), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, ollama.StatusDownloading, entries[0].Status)
	assert.Equal(t, 42.0, entries[0].Progress)

	text, isErr = call(t, session, "pull_model", map[string]any{"model": "llama3.2:3b"})
	assert.False(t, isErr)
	assert.Equal(t, "model llama3.2:3b downloaded", text)

	text, isErr = call(t, session, "pull_model", map[string]any{"model": "nope:1b"})
	assert.True(t, isErr)
	assert.Equal(t, "pull model manifest: file does not exist", text)

	text, isErr = call(t, session, "delete_model", map[string]any{"model": "mistral:7b"})
	assert.False(t, isErr)
	assert.Equal(t, "model mistral:7b deleted", text)

	contract.AssertExpectations(t)
}

func TestTools_RunTask(t *testing.T) {
	contract := &mockContract{}
	req := taskbridge.Request{ModelName: "llama3.2:3b", Task: "Summarize", Role: "Writer", Goal: "Be brief"}
	contract.On("RunTask", req).Return("a summary", nil)
	contract.On("RunTask", mock.MatchedBy(func(r taskbridge.Request) bool { return r.ModelName == "missing:1b" })).
		Return("", errors.NewValidationError("model missing:1b is not installed", nil))
	session := connect(t, contract)

	text, isErr := call(t, session, "run_task", map[string]any{
		"model_name": "llama3.2:3b",
		"task":       "Summarize",
		"role":       "Writer",
		"goal":       "Be brief",
	})
	assert.False(t, isErr)
	assert.Equal(t, "a summary", text)

	text, isErr = call(t, session, "run_task", map[string]any{
		"model_name": "missing:1b",
		"task":       "Summarize",
		"role":       "Writer",
		"goal":       "Be brief",
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "is not installed")
}

func TestTools_HostStatus(t *testing.T) {
	contract := &mockContract{}
	contract.On("Status").Return(domain.HostStatus{
		Services: []domain.ServiceReport{{
			ServiceStatus: supervisor.ServiceStatus{Name: "ollama", State: supervisor.StateRunning},
		}},
		OllamaVersion: "ollama version is 0.3.12",
	}, nil)
	session := connect(t, contract)

	text, isErr := call(t, session, "host_status", nil)
	require.False(t, isErr)

	var status domain.HostStatus
	require.NoError(t, json.Unmarshal([]byte(text), &status))
	require.Len(t, status.Services, 1)
	assert.Equal(t, "ollama", status.Services[0].Name)
	assert.Equal(t, supervisor.StateRunning, status.Services[0].State)
	assert.Equal(t, "ollama version is 0.3.12", status.OllamaVersion)
}
