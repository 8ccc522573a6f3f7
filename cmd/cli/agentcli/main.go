package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/control"
	"github.com/WittorioJaro/localAgents/pkg/domain"
	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/host"
	"github.com/WittorioJaro/localAgents/pkg/logcollection"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/processfile"
	"github.com/WittorioJaro/localAgents/pkg/taskbridge"

	flags "github.com/jessevdk/go-flags"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type globalOptions struct {
	Address       string `long:"address" description:"control server address; read from the host's port file when omitted"`
	DataDir       string `long:"data-dir" description:"host data directory holding the port file"`
	Timeout       int    `long:"timeout" default:"30" description:"request timeout in seconds; pulls and tasks may need much more"`
	RetryAttempts int    `long:"retry" default:"10" description:"health check attempts before giving up on the server"`
	Verbose       bool   `long:"verbose" short:"v" description:"log the client side of every call"`
}

var opts globalOptions

type client struct {
	conn     *control.Connection
	contract domain.Contract
	logger   logging.Logger
}

func connect() (*client, context.Context, context.CancelFunc, error) {
	logger := logging.NewNopLogger()
	if opts.Verbose {
		logger = logcollection.ModuleLogger(logcollection.NewDefaultStructuredLogger(), "agentcli")
	}

	address := resolveAddress(logger)
	conn, err := control.NewConnection(address, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.Timeout)*time.Second)
	if err := waitForServer(ctx, conn, logger); err != nil {
		cancel()
		conn.Shutdown()
		return nil, nil, nil, err
	}

	return &client{
		conn:     conn,
		contract: control.NewGRPCClientGateway(conn.GRPC(), logger),
		logger:   logger,
	}, ctx, cancel, nil
}

func waitForServer(ctx context.Context, conn *control.Connection, logger logging.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		status, err := conn.ServiceHealth(ctx, "")
		if err == nil && status == healthpb.HealthCheckResponse_SERVING {
			return nil
		}
		lastErr = err
		logger.Debugf("Control server not ready, attempt: %d, status: %v, error: %v", attempt, status, err)

		select {
		case <-ctx.Done():
			return errors.NewCancelledError("waiting for control server cancelled", ctx.Err())
		case <-time.After(time.Second):
		}
	}
	return errors.NewServiceUnreachableError("control server is not serving", lastErr)
}

func resolveAddress(logger logging.Logger) string {
	if opts.Address != "" {
		return opts.Address
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = processfile.DefaultDataDirectory(processfile.DefaultAppName)
	}
	runFiles := processfile.NewProcessFileManager(processfile.ProcessFileConfig{
		BaseDirectory: filepath.Join(dataDir, processfile.RunDirectoryName),
	}, logger)

	port, err := runFiles.ReadPortFile(host.RunFileID)
	if err != nil {
		logger.Debugf("No usable port file, using the default port, error: %v", err)
		port = host.DefaultControlPort
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func (c *client) close() {
	c.conn.Shutdown()
}

// do runs fn against a fresh connection and prints its result as JSON
func do(fn func(ctx context.Context, contract domain.Contract) (interface{}, error)) error {
	c, ctx, cancel, err := connect()
	if err != nil {
		return err
	}
	defer cancel()
	defer c.close()

	result, err := fn(ctx, c.contract)
	if err != nil {
		if tb := taskbridge.Traceback(err); tb != "" {
			fmt.Fprintln(os.Stderr, tb)
		}
		return err
	}
	return printJSON(result)
}

func printJSON(v interface{}) error {
	if v == nil {
		return nil
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

type statusCommand struct{}

func (cmd *statusCommand) Execute(args []string) error {
	return do(func(ctx context.Context, contract domain.Contract) (interface{}, error) {
		return contract.Status(ctx)
	})
}

type healthCommand struct {
	Args struct {
		Service string `positional-arg-name:"service" description:"supervised service; empty for the control server"`
	} `positional-args:"yes"`
}

func (cmd *healthCommand) Execute(args []string) error {
	c, ctx, cancel, err := connect()
	if err != nil {
		return err
	}
	defer cancel()
	defer c.close()

	status, err := c.conn.ServiceHealth(ctx, cmd.Args.Service)
	if err != nil {
		return err
	}
	fmt.Println(status.String())
	if status != healthpb.HealthCheckResponse_SERVING {
		os.Exit(2)
	}
	return nil
}

type ensureCommand struct {
	Args struct {
		Service string `positional-arg-name:"service" description:"ollama or crewai; both when omitted"`
	} `positional-args:"yes"`
}

func (cmd *ensureCommand) Execute(args []string) error {
	return do(func(ctx context.Context, contract domain.Contract) (interface{}, error) {
		if cmd.Args.Service == "" {
			return nil, contract.EnsureServices(ctx)
		}
		return nil, contract.EnsureService(ctx, cmd.Args.Service)
	})
}

type modelsCommand struct{}

func (cmd *modelsCommand) Execute(args []string) error {
	return do(func(ctx context.Context, contract domain.Contract) (interface{}, error) {
		return contract.ListModels(ctx)
	})
}

type catalogCommand struct{}

func (cmd *catalogCommand) Execute(args []string) error {
	return do(func(ctx context.Context, contract domain.Contract) (interface{}, error) {
		return contract.Catalog(ctx)
	})
}

type modelArgs struct {
	Model string `positional-arg-name:"model" required:"yes"`
}

type pullCommand struct {
	Args modelArgs `positional-args:"yes" required:"yes"`
}

func (cmd *pullCommand) Execute(args []string) error {
	return do(func(ctx context.Context, contract domain.Contract) (interface{}, error) {
		outcome, err := contract.PullModel(ctx, cmd.Args.Model)
		if err != nil {
			return nil, err
		}
		if !outcome.Succeeded {
			printJSON(outcome)
			return nil, errors.NewProcessError(outcome.Message, nil).WithContext("model", outcome.Model)
		}
		return outcome, nil
	})
}

type deleteCommand struct {
	Args modelArgs `positional-args:"yes" required:"yes"`
}

func (cmd *deleteCommand) Execute(args []string) error {
	return do(func(ctx context.Context, contract domain.Contract) (interface{}, error) {
		return nil, contract.DeleteModel(ctx, cmd.Args.Model)
	})
}

type taskCommand struct {
	Model     string `long:"model" required:"yes" description:"installed model to run the agent with"`
	Role      string `long:"role" required:"yes"`
	Goal      string `long:"goal" required:"yes"`
	Backstory string `long:"backstory"`
	Args      struct {
		Task string `positional-arg-name:"task" required:"yes"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *taskCommand) Execute(args []string) error {
	return do(func(ctx context.Context, contract domain.Contract) (interface{}, error) {
		result, err := contract.RunTask(ctx, taskbridge.Request{
			ModelName: cmd.Model,
			Task:      cmd.Args.Task,
			Role:      cmd.Role,
			Goal:      cmd.Goal,
			Backstory: cmd.Backstory,
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"result": result}, nil
	})
}

type validateCommand struct {
	Args struct {
		ConfigFile string `positional-arg-name:"config" required:"yes"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *validateCommand) Execute(args []string) error {
	config, err := host.LoadConfig(cmd.Args.ConfigFile, os.LookupEnv)
	if err != nil {
		return err
	}
	return printJSON(host.GetConfigSummary(config))
}

func main() {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)

	parser.AddCommand("status", "Show host status", "Show supervised services, their processes, recent output and downloads in flight", &statusCommand{})
	parser.AddCommand("health", "Check health", "Query the health service for the control server or one supervised service", &healthCommand{})
	parser.AddCommand("ensure", "Start services", "Start services that are not already running and wait until they answer", &ensureCommand{})
	parser.AddCommand("models", "List installed models", "List the models installed in the local model server", &modelsCommand{})
	parser.AddCommand("catalog", "Show the model catalog", "List curated models with their download status", &catalogCommand{})
	parser.AddCommand("pull", "Download a model", "Download a model and wait for it to finish", &pullCommand{})
	parser.AddCommand("delete", "Delete a model", "Remove an installed model", &deleteCommand{})
	parser.AddCommand("task", "Run an agent task", "Run an agent task with an installed model and print its result", &taskCommand{})
	parser.AddCommand("validate", "Validate a configuration file", "Load and validate a host configuration file without contacting the server", &validateCommand{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.IsValidationError(err) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}
