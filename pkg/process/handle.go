package process

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"
)

// EventBufferSize bounds the channel between the stream readers and the monitor
const EventBufferSize = 64

const maxLineSize = 1024 * 1024

type EventKind int

const (
	StdoutLine EventKind = iota
	StderrLine
	SpawnFailed
	Terminated
)

func (k EventKind) String() string {
	switch k {
	case StdoutLine:
		return "stdout"
	case StderrLine:
		return "stderr"
	case SpawnFailed:
		return "spawn_failed"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// OutputEvent is one item of the ordered event stream of a spawned process.
// Line is set for StdoutLine/StderrLine, Err for SpawnFailed, ExitCode for Terminated.
type OutputEvent struct {
	Kind     EventKind
	Line     string
	Err      error
	ExitCode int
}

func (e OutputEvent) String() string {
	switch e.Kind {
	case StdoutLine, StderrLine:
		return fmt.Sprintf("%s: %s", e.Kind, e.Line)
	case SpawnFailed:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case Terminated:
		return fmt.Sprintf("%s: exit code %d", e.Kind, e.ExitCode)
	}
	return e.Kind.String()
}

// IsFinal reports whether no further events follow this one
func (e OutputEvent) IsFinal() bool {
	return e.Kind == SpawnFailed || e.Kind == Terminated
}

// Handle is the owned reference to one spawned process. Only the component that
// called Spawn may terminate it.
type Handle struct {
	id        string
	pid       int
	startedAt time.Time
	logger    logging.Logger

	done     chan struct{}
	mu       sync.Mutex
	exitCode int
	exitErr  error
}

func (h *Handle) ID() string {
	return h.id
}

// Pid is 0 when the spawn failed
func (h *Handle) Pid() int {
	return h.pid
}

func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Done is closed once the process has exited and its streams are drained
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process is gone
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code and whether the process has exited.
// A spawn failure or a signal-terminated process reports -1.
func (h *Handle) ExitCode() (int, bool) {
	if !h.Exited() {
		return 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, true
}

// Terminate asks the process group to stop and kills it after timeout
func (h *Handle) Terminate(timeout time.Duration) error {
	if h.pid <= 0 || h.Exited() {
		return nil
	}

	h.logger.Infof("Terminating process, id: %s, PID: %d, timeout: %v", h.id, h.pid, timeout)

	if err := sendTerminationSignal(h.pid); err != nil {
		h.logger.Warnf("Termination signal failed, id: %s, PID: %d, error: %v", h.id, h.pid, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		h.logger.Infof("Process terminated gracefully, id: %s, PID: %d", h.id, h.pid)
		return nil
	case <-timer.C:
	}

	h.logger.Warnf("Process did not exit within %v, killing, id: %s, PID: %d", timeout, h.id, h.pid)
	if err := forceKill(h.pid); err != nil {
		return errors.NewProcessError("failed to kill process", err).
			WithContext("id", h.id).
			WithContext("pid", h.pid)
	}
	return nil
}

func (h *Handle) finish(exitCode int, err error) {
	h.mu.Lock()
	h.exitCode = exitCode
	h.exitErr = err
	h.mu.Unlock()
	close(h.done)
}

// Spawn starts the process described by spec and returns its handle together
// with the ordered event stream. It never blocks beyond the OS start call.
// A start failure is reported as a single SpawnFailed event, after which the
// channel is closed. Terminated is sent only after both streams are drained.
//
// The child is not bound to ctx; long running services outlive the request
// that started them and are stopped through Handle.Terminate.
func Spawn(ctx context.Context, spec Spec, id string, logger logging.Logger) (*Handle, <-chan OutputEvent) {
	events := make(chan OutputEvent, EventBufferSize)
	handle := &Handle{
		id:       id,
		logger:   logger,
		done:     make(chan struct{}),
		exitCode: -1,
	}

	fail := func(err error) (*Handle, <-chan OutputEvent) {
		handle.finish(-1, err)
		events <- OutputEvent{Kind: SpawnFailed, Err: err}
		close(events)
		return handle, events
	}

	if ctx == nil {
		return fail(errors.NewValidationError("context cannot be nil", nil).WithContext("id", id))
	}
	if err := ctx.Err(); err != nil {
		return fail(errors.NewCancelledError("spawn cancelled", err).WithContext("id", id))
	}

	cmd, err := buildCommand(context.Background(), spec, id, logger)
	if err != nil {
		return fail(err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(errors.NewSpawnError("failed to create stdout pipe", err).WithContext("id", id))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(errors.NewSpawnError("failed to create stderr pipe", err).WithContext("id", id))
	}

	logger.Infof("Spawning process, id: %s, program: %s, args: %v", id, spec.Program, spec.Args)

	if err := cmd.Start(); err != nil {
		logger.Errorf("Failed to start process, id: %s, error: %v", id, err)
		return fail(errors.NewSpawnError("failed to start the process", err).
			WithContext("id", id).
			WithContext("program", spec.Program))
	}

	handle.pid = cmd.Process.Pid
	handle.startedAt = time.Now()
	logger.Infof("Successfully spawned process, id: %s, PID: %d", id, handle.pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go readLines(stdout, StdoutLine, events, &readers)
	go readLines(stderr, StderrLine, events, &readers)

	go func() {
		readers.Wait()
		waitErr := cmd.Wait()
		code := exitCodeOf(cmd, waitErr)
		logger.Infof("Process exited, id: %s, PID: %d, exit code: %d", id, handle.pid, code)
		handle.finish(code, waitErr)
		events <- OutputEvent{Kind: Terminated, ExitCode: code}
		close(events)
	}()

	return handle, events
}

func readLines(r io.Reader, kind EventKind, events chan<- OutputEvent, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(ScanLinesOrCarriageReturns)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		events <- OutputEvent{Kind: kind, Line: line}
	}
	// drain what the scanner left behind so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

// ScanLinesOrCarriageReturns is a bufio.SplitFunc that ends a line at '\n' or '\r'.
// Terminal progress bars redraw a line with '\r', each redraw becomes its own line.
func ScanLinesOrCarriageReturns(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}
