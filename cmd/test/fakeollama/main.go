package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// fakeollama mimics the parts of the ollama command line the host drives.
// Installed models are empty marker files under FAKE_OLLAMA_DIR.

type globalOptions struct {
	Version bool `long:"version" short:"v" description:"print the version"`
}

var opts globalOptions

func stateDir() string {
	if dir := os.Getenv("FAKE_OLLAMA_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "fakeollama")
}

func modelPath(model string) string {
	return filepath.Join(stateDir(), "model-"+strings.ReplaceAll(model, "/", "_"))
}

type serveCommand struct {
	RunDuration int `long:"run-duration" description:"Duration in seconds to serve (debug feature)"`
}

func (cmd *serveCommand) Execute(args []string) error {
	ctx := context.Background()
	if cmd.RunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cmd.RunDuration)*time.Second)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	if err := os.MkdirAll(stateDir(), 0o755); err != nil {
		return err
	}
	marker := filepath.Join(stateDir(), "serving")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return err
	}
	defer os.Remove(marker)

	fmt.Fprintf(os.Stderr, "Listening on 127.0.0.1:11434 (version 0.3.12)\n")

	select {
	case receivedSignal := <-sig:
		fmt.Fprintf(os.Stderr, "fakeollama received signal: %v\n", receivedSignal)
	case <-ctx.Done():
		fmt.Fprintf(os.Stderr, "fakeollama timed out\n")
	}
	return nil
}

type pullCommand struct {
	Delay int `long:"delay-ms" default:"200" description:"delay between progress redraws"`
	Args  struct {
		Model string `positional-arg-name:"model" required:"yes"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *pullCommand) Execute(args []string) error {
	if strings.HasPrefix(cmd.Args.Model, "missing") {
		fmt.Fprintf(os.Stderr, "pulling manifest\nError: pull model manifest: file does not exist\n")
		os.Exit(1)
	}

	delay := time.Duration(cmd.Delay) * time.Millisecond
	fmt.Fprintf(os.Stderr, "pulling manifest\n")
	for percent := 0; percent <= 100; percent += 25 {
		done := float64(percent) / 100 * 2.0
		bar := strings.Repeat("█", percent/10) + strings.Repeat(" ", 10-percent/10)
		fmt.Fprintf(os.Stderr, "pulling 8eeb52dfb3bb  %3d%% ▕%s▏ %.1f GB/2.0 GB  10 MB/s  1m40s\r", percent, bar, done)
		time.Sleep(delay)
	}
	fmt.Fprintf(os.Stderr, "\nverifying sha256 digest\nwriting manifest\nsuccess\n")

	if err := os.MkdirAll(stateDir(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(modelPath(cmd.Args.Model), nil, 0o644)
}

type listCommand struct{}

func (cmd *listCommand) Execute(args []string) error {
	matches, err := filepath.Glob(filepath.Join(stateDir(), "model-*"))
	if err != nil {
		return err
	}
	sort.Strings(matches)

	fmt.Printf("NAME\tID\tSIZE\tMODIFIED\n")
	for _, m := range matches {
		name := strings.TrimPrefix(filepath.Base(m), "model-")
		fmt.Printf("%s\t8eeb52dfb3bb\t2.0 GB\t2 minutes ago\n", name)
	}
	return nil
}

type rmCommand struct {
	Args struct {
		Model string `positional-arg-name:"model" required:"yes"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *rmCommand) Execute(args []string) error {
	if err := os.Remove(modelPath(cmd.Args.Model)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: model '%s' not found\n", cmd.Args.Model)
		os.Exit(1)
	}
	fmt.Printf("deleted '%s'\n", cmd.Args.Model)
	return nil
}

func main() {
	parser := flags.NewParser(&opts, flags.HelpFlag)
	parser.SubcommandsOptional = true

	parser.AddCommand("serve", "Start the fake server", "", &serveCommand{})
	parser.AddCommand("pull", "Pretend to download a model", "", &pullCommand{})
	parser.AddCommand("list", "List fake models", "", &listCommand{})
	parser.AddCommand("rm", "Remove a fake model", "", &rmCommand{})

	if _, err := parser.Parse(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if opts.Version {
		if _, err := os.Stat(filepath.Join(stateDir(), "serving")); err != nil {
			fmt.Printf("Warning: could not connect to a running Ollama instance\n")
			fmt.Printf("Warning: client version is 0.3.12\n")
			os.Exit(1)
		}
		fmt.Printf("ollama version is 0.3.12\n")
	}
}
