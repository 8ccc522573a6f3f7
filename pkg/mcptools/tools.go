// Package mcptools exposes the host command surface as MCP tools
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/WittorioJaro/localAgents/pkg/domain"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/taskbridge"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ServerName = "localagents"
)

type ServiceArgs struct {
	Name string `json:"name" jsonschema:"the supervised service to start if needed: ollama or crewai"`
}

type ModelArgs struct {
	Model string `json:"model" jsonschema:"the model reference, e.g. llama3.2:3b"`
}

type RunTaskArgs struct {
	ModelName string `json:"model_name" jsonschema:"an installed model to run the agent with"`
	Task      string `json:"task" jsonschema:"what the agent should do"`
	Role      string `json:"role" jsonschema:"the agent's role"`
	Goal      string `json:"goal" jsonschema:"the agent's goal"`
	Backstory string `json:"backstory,omitempty" jsonschema:"optional agent backstory"`
}

type NoArgs struct{}

// NewServer builds an MCP server whose tools call contract
func NewServer(contract domain.Contract, version string, logger logging.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version,
	}, nil)
	Register(server, contract, logger)
	return server
}

// Register adds every host tool to server
func Register(server *mcp.Server, contract domain.Contract, logger logging.Logger) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ensure_services",
		Description: "Start the model server and the task service if they are not already running, and wait until both answer.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ NoArgs) (*mcp.CallToolResult, any, error) {
		if err := contract.EnsureServices(ctx); err != nil {
			return errorResult(logger, "ensure_services", err), nil, nil
		}
		return textResult("all services are running"), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ensure_service",
		Description: "Start one supervised service if it is not already running and wait until it answers.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ServiceArgs) (*mcp.CallToolResult, any, error) {
		if args.Name == "" {
			return invalidArgs("name is required"), nil, nil
		}
		if err := contract.EnsureService(ctx, args.Name); err != nil {
			return errorResult(logger, "ensure_service", err), nil, nil
		}
		return textResult(fmt.Sprintf("service %s is running", args.Name)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_models",
		Description: "List the models installed in the local model server.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ NoArgs) (*mcp.CallToolResult, any, error) {
		models, err := contract.ListModels(ctx)
		if err != nil {
			return errorResult(logger, "list_models", err), nil, nil
		}
		return jsonResult(logger, "list_models", models), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "model_catalog",
		Description: "List the curated installable models with their download status.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ NoArgs) (*mcp.CallToolResult, any, error) {
		entries, err := contract.Catalog(ctx)
		if err != nil {
			return errorResult(logger, "model_catalog", err), nil, nil
		}
		return jsonResult(logger, "model_catalog", entries), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pull_model",
		Description: "Download a model and wait for the download to finish. Large models can take several minutes.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ModelArgs) (*mcp.CallToolResult, any, error) {
		if args.Model == "" {
			return invalidArgs("model is required"), nil, nil
		}
		outcome, err := contract.PullModel(ctx, args.Model)
		if err != nil {
			return errorResult(logger, "pull_model", err), nil, nil
		}
		if !outcome.Succeeded {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: outcome.Message}},
			}, nil, nil
		}
		return textResult(fmt.Sprintf("model %s downloaded", args.Model)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_model",
		Description: "Remove an installed model.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ModelArgs) (*mcp.CallToolResult, any, error) {
		if args.Model == "" {
			return invalidArgs("model is required"), nil, nil
		}
		if err := contract.DeleteModel(ctx, args.Model); err != nil {
			return errorResult(logger, "delete_model", err), nil, nil
		}
		return textResult(fmt.Sprintf("model %s deleted", args.Model)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_task",
		Description: "Run an agent task on the task service with an installed model and return its result.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args RunTaskArgs) (*mcp.CallToolResult, any, error) {
		result, err := contract.RunTask(ctx, taskbridge.Request{
			ModelName: args.ModelName,
			Task:      args.Task,
			Role:      args.Role,
			Goal:      args.Goal,
			Backstory: args.Backstory,
		})
		if err != nil {
			return errorResult(logger, "run_task", err), nil, nil
		}
		return textResult(result), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "host_status",
		Description: "Report supervised services, their processes, recent output and downloads in flight.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ NoArgs) (*mcp.CallToolResult, any, error) {
		status, err := contract.Status(ctx)
		if err != nil {
			return errorResult(logger, "host_status", err), nil, nil
		}
		return jsonResult(logger, "host_status", status), nil, nil
	})
}

// Run serves the tools over stdio until ctx is done or the client disconnects
func Run(ctx context.Context, contract domain.Contract, version string, logger logging.Logger) error {
	logger.Infof("Serving MCP tools over stdio")
	return NewServer(contract, version, logger).Run(ctx, &mcp.StdioTransport{})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func invalidArgs(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
	}
}

// errorResult reports a failed call to the client instead of failing the
// protocol exchange
func errorResult(logger logging.Logger, tool string, err error) *mcp.CallToolResult {
	logger.Warnf("Tool failed, tool: %s, error: %v", tool, err)
	text := err.Error()
	if tb := taskbridge.Traceback(err); tb != "" {
		logger.Debugf("Tool failure traceback, tool: %s:\n%s", tool, tb)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(logger logging.Logger, tool string, v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(logger, tool, fmt.Errorf("marshaling response: %w", err))
	}
	return textResult(string(data))
}
