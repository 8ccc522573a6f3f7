package process

import (
	"context"
	"sync"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logcollection"
	"github.com/WittorioJaro/localAgents/pkg/logging"
)

// LineClassifier is offered every stderr line of a monitored process
type LineClassifier func(line string)

type MonitorOptions struct {
	// Collector receives stdout and stderr lines; nil means lines are only debug logged
	Collector logcollection.LineCollector
	// Classifier is optional and sees stderr lines only
	Classifier LineClassifier
	// OnFinal runs once with the SpawnFailed or Terminated event, before Done is closed
	OnFinal func(OutputEvent)
}

// MonitorRun tracks the single consumer goroutine attached to one spawn
type MonitorRun struct {
	id   string
	done chan struct{}

	mu       sync.Mutex
	final    OutputEvent
	hasFinal bool
	lines    int
}

// Monitor starts the consumer for one event stream. It returns immediately;
// the goroutine ends when the stream is closed, never earlier.
func Monitor(id string, events <-chan OutputEvent, opts MonitorOptions, logger logging.Logger) *MonitorRun {
	run := &MonitorRun{
		id:   id,
		done: make(chan struct{}),
	}
	go run.loop(events, opts, logger)
	return run
}

func (m *MonitorRun) loop(events <-chan OutputEvent, opts MonitorOptions, logger logging.Logger) {
	defer close(m.done)

	for event := range events {
		switch event.Kind {
		case StdoutLine:
			m.countLine()
			if opts.Collector != nil {
				opts.Collector.Collect(m.id, logcollection.StdoutStream, event.Line)
			} else {
				logger.Debugf("stdout, id: %s: %s", m.id, event.Line)
			}
		case StderrLine:
			m.countLine()
			if opts.Collector != nil {
				opts.Collector.Collect(m.id, logcollection.StderrStream, event.Line)
			} else {
				logger.Debugf("stderr, id: %s: %s", m.id, event.Line)
			}
			if opts.Classifier != nil {
				opts.Classifier(event.Line)
			}
		case SpawnFailed:
			logger.Errorf("Process spawn failed, id: %s, error: %v", m.id, event.Err)
			m.recordFinal(event, opts.OnFinal)
		case Terminated:
			logger.Infof("Process terminated, id: %s, exit code: %d", m.id, event.ExitCode)
			m.recordFinal(event, opts.OnFinal)
		}
	}
}

func (m *MonitorRun) countLine() {
	m.mu.Lock()
	m.lines++
	m.mu.Unlock()
}

func (m *MonitorRun) recordFinal(event OutputEvent, onFinal func(OutputEvent)) {
	m.mu.Lock()
	m.final = event
	m.hasFinal = true
	m.mu.Unlock()
	if onFinal != nil {
		onFinal(event)
	}
}

// Done is closed when the event stream has ended
func (m *MonitorRun) Done() <-chan struct{} {
	return m.done
}

// Final returns the terminal event once it has been observed
func (m *MonitorRun) Final() (OutputEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.final, m.hasFinal
}

// Lines is the number of output lines consumed so far
func (m *MonitorRun) Lines() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines
}

// Wait blocks until the stream ends or ctx is done and returns the terminal event
func (m *MonitorRun) Wait(ctx context.Context) (OutputEvent, error) {
	select {
	case <-m.done:
	case <-ctx.Done():
		return OutputEvent{}, errors.NewCancelledError("waiting for process cancelled", ctx.Err()).WithContext("id", m.id)
	}
	final, ok := m.Final()
	if !ok {
		return OutputEvent{}, errors.NewInternalError("event stream ended without a terminal event", nil).WithContext("id", m.id)
	}
	return final, nil
}
