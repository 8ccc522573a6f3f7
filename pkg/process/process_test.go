package process

import (
	"bufio"
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logcollection"
	logconfig "github.com/WittorioJaro/localAgents/pkg/logcollection/config"
	"github.com/WittorioJaro/localAgents/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shSpec(t *testing.T, script string) Spec {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell based process tests require /bin/sh")
	}
	return Spec{Program: "/bin/sh", Args: []string{"-c", script}}
}

func collectEvents(t *testing.T, events <-chan OutputEvent) []OutputEvent {
	t.Helper()
	var out []OutputEvent
	timeout := time.After(10 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-timeout:
			t.Fatalf("event stream did not close, got %d events", len(out))
			return out
		}
	}
}

func linesOf(events []OutputEvent, kind EventKind) []string {
	var lines []string
	for _, e := range events {
		if e.Kind == kind {
			lines = append(lines, e.Line)
		}
	}
	return lines
}

func TestSpawn_StreamsLinesThenTerminated(t *testing.T) {
	spec := shSpec(t, "printf 'one\\ntwo\\n'; printf 'err1\\n' 1>&2; printf 'three\\n'; exit 0")

	handle, events := Spawn(context.Background(), spec, "test-spawn", logging.NewNopLogger())
	got := collectEvents(t, events)

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, Terminated, last.Kind)
	assert.Equal(t, 0, last.ExitCode)
	assert.True(t, last.IsFinal())

	assert.Equal(t, []string{"one", "two", "three"}, linesOf(got, StdoutLine))
	assert.Equal(t, []string{"err1"}, linesOf(got, StderrLine))

	for _, e := range got[:len(got)-1] {
		assert.False(t, e.IsFinal(), "only the last event may be final")
	}

	assert.Greater(t, handle.Pid(), 0)
	code, exited := handle.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, 0, code)
}

func TestSpawn_NonZeroExit(t *testing.T) {
	spec := shSpec(t, "echo 'Error: pull model manifest: file does not exist' 1>&2; exit 3")

	handle, events := Spawn(context.Background(), spec, "test-exit", logging.NewNopLogger())
	got := collectEvents(t, events)

	require.Len(t, got, 2)
	assert.Equal(t, StderrLine, got[0].Kind)
	assert.Equal(t, Terminated, got[1].Kind)
	assert.Equal(t, 3, got[1].ExitCode)

	<-handle.Done()
	code, _ := handle.ExitCode()
	assert.Equal(t, 3, code)
}

func TestSpawn_MissingExecutableFailsFast(t *testing.T) {
	spec := Spec{Program: "definitely-not-an-installed-binary-4242", Args: []string{"serve"}}

	handle, events := Spawn(context.Background(), spec, "test-missing", logging.NewNopLogger())
	got := collectEvents(t, events)

	require.Len(t, got, 1)
	assert.Equal(t, SpawnFailed, got[0].Kind)
	assert.True(t, errors.IsSpawnError(got[0].Err))
	assert.Equal(t, 0, handle.Pid())
	assert.True(t, handle.Exited())
	code, exited := handle.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, -1, code)
	assert.NoError(t, handle.Terminate(time.Second))
}

func TestSpawn_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, events := Spawn(ctx, Spec{Program: "ollama"}, "test-cancelled", logging.NewNopLogger())
	got := collectEvents(t, events)

	require.Len(t, got, 1)
	assert.Equal(t, SpawnFailed, got[0].Kind)
	assert.True(t, errors.IsCancelledError(got[0].Err))
}

func TestSpawn_SplitsCarriageReturns(t *testing.T) {
	spec := shSpec(t, "printf 'pulling 10%%\\rpulling 20%%\\r\\nverifying sha256 digest\\n' 1>&2")

	_, events := Spawn(context.Background(), spec, "test-cr", logging.NewNopLogger())
	got := collectEvents(t, events)

	assert.Equal(t, []string{"pulling 10%", "pulling 20%", "verifying sha256 digest"}, linesOf(got, StderrLine))
}

func TestScanLinesOrCarriageReturns(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("a\rb\r\nc\n\nd"))
	scanner.Split(ScanLinesOrCarriageReturns)

	var tokens []string
	for scanner.Scan() {
		tokens = append(tokens, scanner.Text())
	}

	assert.Equal(t, []string{"a", "b", "", "c", "", "d"}, tokens)
}

func TestHandle_Terminate(t *testing.T) {
	spec := shSpec(t, "sleep 30")

	handle, events := Spawn(context.Background(), spec, "test-terminate", logging.NewNopLogger())
	run := Monitor("test-terminate", events, MonitorOptions{}, logging.NewNopLogger())

	require.NoError(t, handle.Terminate(5*time.Second))

	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("monitor did not finish after terminate")
	}

	final, ok := run.Final()
	require.True(t, ok)
	assert.Equal(t, Terminated, final.Kind)
	assert.NotEqual(t, 0, final.ExitCode)
}

func TestMonitor_RoutesLinesAndSignalsFinal(t *testing.T) {
	spec := shSpec(t, "echo 'Listening on 127.0.0.1:11434'; echo 'pulling manifest' 1>&2; echo 'success' 1>&2; exit 0")

	collector := logcollection.NewCollector(logconfig.DefaultLoggingConfig(), logcollection.NewZapAdapterFromLogger(zap.NewNop()))

	var mu sync.Mutex
	var classified []string
	finalCalls := 0

	_, events := Spawn(context.Background(), spec, "ollama", logging.NewNopLogger())
	run := Monitor("ollama", events, MonitorOptions{
		Collector: collector,
		Classifier: func(line string) {
			mu.Lock()
			classified = append(classified, line)
			mu.Unlock()
		},
		OnFinal: func(OutputEvent) {
			mu.Lock()
			finalCalls++
			mu.Unlock()
		},
	}, logging.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := run.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, Terminated, final.Kind)
	assert.Equal(t, 0, final.ExitCode)
	assert.Equal(t, 3, run.Lines())

	mu.Lock()
	assert.Equal(t, []string{"pulling manifest", "success"}, classified)
	assert.Equal(t, 1, finalCalls)
	mu.Unlock()

	status, ok := collector.Status("ollama")
	require.True(t, ok)
	assert.Equal(t, int64(1), status.StdoutLines)
	assert.Equal(t, int64(2), status.StderrLines)
}

func TestMonitor_WaitCancelled(t *testing.T) {
	events := make(chan OutputEvent)
	run := Monitor("stuck", events, MonitorOptions{}, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := run.Wait(ctx)
	assert.True(t, errors.IsCancelledError(err))

	close(events)
	<-run.Done()
	_, ok := run.Final()
	assert.False(t, ok)
}

func TestRunCapture(t *testing.T) {
	spec := shSpec(t, "echo out; echo err 1>&2; exit 2")

	result, err := RunCapture(context.Background(), spec, "test-capture", logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, result.ExitCode)
	assert.False(t, result.Success())
	assert.Equal(t, "out\n", string(result.Stdout))
	assert.Equal(t, "err", result.StderrText())
}

func TestRunCapture_MissingExecutable(t *testing.T) {
	_, err := RunCapture(context.Background(), Spec{Program: "definitely-not-an-installed-binary-4242"}, "test-capture-missing", logging.NewNopLogger())
	assert.True(t, errors.IsSpawnError(err))
}
