package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/events"
	"github.com/WittorioJaro/localAgents/pkg/host"
	"github.com/WittorioJaro/localAgents/pkg/logcollection"
	"github.com/WittorioJaro/localAgents/pkg/mcptools"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

var version = "dev"

type flagOptions struct {
	Config         string `long:"config" short:"c" description:"path to the configuration file (yaml or toml)"`
	RunDuration    int    `long:"run-duration" description:"Duration in seconds to run the host (debug feature)"`
	EnvFile        string `long:"env-file" description:"dotenv file with LOCALAGENTS_* overrides"`
	MCP            bool   `long:"mcp" description:"serve the host tools over MCP on stdin/stdout"`
	ValidateConfig bool   `long:"validate-config" description:"validate the configuration and exit"`
	Version        bool   `long:"version" description:"print the version and exit"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("agentsrv %s\n", version)
		return
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load env file %s: %v\n", opts.EnvFile, err)
			os.Exit(1)
		}
	} else {
		// a missing .env is normal outside development
		_ = godotenv.Load()
	}

	config, err := host.LoadConfig(opts.Config, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if opts.ValidateConfig {
		fmt.Printf("Configuration is valid: %+v\n", host.GetConfigSummary(config))
		return
	}

	if opts.MCP && config.Logging.Output == "stdout" {
		// stdout carries the MCP protocol
		config.Logging.Output = "stderr"
	}

	structured, err := logcollection.NewStructuredLogger(config.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer structured.Sync()

	logger := logcollection.ModuleLogger(structured, "agentsrv")
	logger.Infof("opts: %+v", opts)

	options := host.RunOptions{
		ConfigFile:  opts.Config,
		RunDuration: time.Duration(opts.RunDuration) * time.Second,
		Lookup:      os.LookupEnv,
		Observer: events.ObserverFunc(func(event events.Event) error {
			logger.Debugf("Event, name: %s, subject: %s, payload: %+v", event.Name, event.Subject, event.Payload)
			return nil
		}),
	}
	if opts.MCP {
		mcpLogger := logcollection.ModuleLogger(structured, "mcp")
		options.Foreground = func(ctx context.Context, h *host.Host) error {
			return mcptools.Run(ctx, h, version, mcpLogger)
		}
	}

	if err := host.Run(context.Background(), config, options, structured); err != nil {
		logger.Errorf("Host failed: %v", err)
		structured.Sync()
		os.Exit(1)
	}
}
