// Package download runs model pulls, turning the CLI's stderr into progress
// events and exactly one terminal outcome per pull.
package download

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/events"
	"github.com/WittorioJaro/localAgents/pkg/logcollection"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/ollama"
	"github.com/WittorioJaro/localAgents/pkg/process"
	"github.com/WittorioJaro/localAgents/pkg/progress"
	"github.com/WittorioJaro/localAgents/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultTerminateTimeout = 5 * time.Second

// ModelCLI is the part of the model CLI a pull needs
type ModelCLI interface {
	PullSpec(model string) process.Spec
	List(ctx context.Context) ([]string, error)
}

// Journal records pull history; optional
type Journal interface {
	PullStarted(ctx context.Context, jobID, model string, startedAt time.Time) error
	PullFinished(ctx context.Context, jobID string, outcome Outcome, finishedAt time.Time) error
}

type Spawner func(ctx context.Context, spec process.Spec, id string, logger logging.Logger) (*process.Handle, <-chan process.OutputEvent)

type Options struct {
	Collector        logcollection.LineCollector
	Journal          Journal
	TerminateTimeout time.Duration
	Spawner          Spawner
}

// JobInfo describes a pull in flight
type JobInfo struct {
	ID        string                     `json:"id"`
	Model     string                     `json:"model"`
	PID       int                        `json:"pid,omitempty"`
	StartedAt time.Time                  `json:"started_at"`
	Progress  *progress.DownloadProgress `json:"progress,omitempty"`
}

type job struct {
	info    JobInfo
	run     *pullRun
	handle  *process.Handle
	monitor *process.MonitorRun
}

type Orchestrator struct {
	cli     ModelCLI
	options Options
	logger  logging.Logger
	parser  *progress.Parser

	mu       sync.Mutex
	jobs     map[string]*job
	byModel  map[string]string
	statuses map[string]ollama.CatalogEntry
	closed   bool

	// active counts Pull calls between reserve and finish
	active     sync.WaitGroup
	background sync.WaitGroup
}

func New(cli ModelCLI, options Options, logger logging.Logger) *Orchestrator {
	if options.TerminateTimeout <= 0 {
		options.TerminateTimeout = DefaultTerminateTimeout
	}
	if options.Spawner == nil {
		options.Spawner = process.Spawn
	}
	return &Orchestrator{
		cli:      cli,
		options:  options,
		logger:   logger,
		parser:   progress.NewParser(logger),
		jobs:     make(map[string]*job),
		byModel:  make(map[string]string),
		statuses: make(map[string]ollama.CatalogEntry),
	}
}

// pullRun holds the per invocation state shared with the monitor goroutine
type pullRun struct {
	id       string
	model    string
	observer events.Observer
	logger   logging.Logger

	once     sync.Once
	finished atomic.Bool
	terminal chan Outcome
}

func (r *pullRun) decide(o Outcome) {
	r.once.Do(func() {
		o.JobID = r.id
		o.Model = r.model
		r.finished.Store(true)
		r.terminal <- o
	})
}

// Pull downloads model and blocks until its terminal outcome. Progress is
// delivered to observer as download-progress events; on success the fresh
// listing is delivered once as models-updated.
func (o *Orchestrator) Pull(ctx context.Context, model string, observer events.Observer) Outcome {
	if err := ollama.ValidateModelName(model); err != nil {
		return Outcome{Model: model, Message: err.Error()}
	}

	id := uuid.New().String()
	ctx, span := telemetry.StartSpan(ctx, "download.pull", attribute.String("model", model), attribute.String("job_id", id))

	run := &pullRun{
		id:       id,
		model:    model,
		observer: observer,
		logger:   o.logger,
		terminal: make(chan Outcome, 1),
	}

	if err := o.reserve(run); err != nil {
		telemetry.End(span, err)
		return Outcome{JobID: id, Model: model, Message: err.Error()}
	}
	defer o.active.Done()

	startedAt := time.Now()
	o.journalStarted(ctx, id, model, startedAt)
	o.logger.Infof("Starting pull, id: %s, model: %s", id, model)

	handle, stream := o.options.Spawner(context.Background(), o.cli.PullSpec(model), id, o.logger)
	monitor := process.Monitor(id, stream, process.MonitorOptions{
		Collector:  o.options.Collector,
		Classifier: func(line string) { o.classify(run, line) },
		OnFinal: func(event process.OutputEvent) {
			switch event.Kind {
			case process.SpawnFailed:
				run.decide(failed(event.Err.Error()))
			case process.Terminated:
				if event.ExitCode == 0 {
					run.decide(succeeded())
				} else {
					run.decide(failed(exitStatusMessage(event.ExitCode)))
				}
			}
		},
	}, o.logger)

	o.attach(id, handle, monitor)

	var outcome Outcome
	select {
	case outcome = <-run.terminal:
	case <-ctx.Done():
		run.decide(failed("download cancelled"))
		outcome = <-run.terminal
	}

	if !outcome.Succeeded {
		o.logger.Warnf("Pull failed, id: %s, model: %s, message: %s", id, model, outcome.Message)
	} else {
		o.logger.Infof("Pull succeeded, id: %s, model: %s", id, model)
	}

	o.finish(ctx, run, outcome, handle, monitor)

	if outcome.Succeeded {
		o.publishListing(ctx, id, observer)
	}
	events.Publish(observer, events.NewEvent(events.DownloadFinished, model, outcome), o.logger)

	var spanErr error
	if !outcome.Succeeded {
		spanErr = errors.NewClassifiedError(outcome.Message, nil)
	}
	telemetry.End(span, spanErr)
	return outcome
}

func (o *Orchestrator) classify(run *pullRun, raw string) {
	if run.finished.Load() {
		return
	}

	c := o.parser.ParseLine(run.id, raw)
	switch c.Kind {
	case progress.Informational:
		run.logger.Debugf("Pull status, id: %s, line: %s", run.id, raw)
	case progress.Progress:
		o.updateProgress(run.id, run.model, c.Progress)
		events.Publish(run.observer, events.NewEvent(events.DownloadProgress, run.model, *c.Progress), run.logger)
	case progress.Error:
		run.decide(failed(c.Message))
	}
}

func (o *Orchestrator) publishListing(ctx context.Context, id string, observer events.Observer) {
	models, err := o.cli.List(ctx)
	if err != nil {
		o.logger.Warnf("Listing refresh after pull failed, id: %s, error: %v", id, err)
		return
	}
	events.Publish(observer, events.NewEvent(events.ModelsUpdated, "", models), o.logger)
}

func (o *Orchestrator) reserve(run *pullRun) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	id, model := run.id, run.model
	if o.closed {
		return errors.NewCancelledError("downloads are shutting down", nil).WithContext("model", model)
	}
	if existing, ok := o.byModel[model]; ok {
		return errors.NewConflictError("download already in progress", nil).
			WithContext("model", model).
			WithContext("job_id", existing)
	}
	o.byModel[model] = id
	o.jobs[id] = &job{info: JobInfo{ID: id, Model: model, StartedAt: time.Now()}, run: run}
	o.statuses[model] = ollama.CatalogEntry{Name: model, Status: ollama.StatusDownloading}
	o.active.Add(1)
	return nil
}

func (o *Orchestrator) attach(id string, handle *process.Handle, monitor *process.MonitorRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j, ok := o.jobs[id]; ok {
		j.handle = handle
		j.monitor = monitor
		j.info.PID = handle.Pid()
	}
}

func (o *Orchestrator) updateProgress(id, model string, p *progress.DownloadProgress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j, ok := o.jobs[id]; ok {
		latest := *p
		j.info.Progress = &latest
	}
	if st, ok := o.statuses[model]; ok && st.Status == ollama.StatusDownloading {
		st.Progress = p.Percent
		o.statuses[model] = st
	}
}

// finish records the outcome and, in the background, stops a process that
// is still running and forgets the job once its monitor has drained
func (o *Orchestrator) finish(ctx context.Context, run *pullRun, outcome Outcome, handle *process.Handle, monitor *process.MonitorRun) {
	o.mu.Lock()
	delete(o.byModel, run.model)
	if outcome.Succeeded {
		delete(o.statuses, run.model)
	} else {
		o.statuses[run.model] = ollama.CatalogEntry{Name: run.model, Status: ollama.StatusError, Error: outcome.Message}
	}
	o.mu.Unlock()

	o.journalFinished(ctx, run.id, outcome)

	o.background.Add(1)
	go func() {
		defer o.background.Done()
		if !handle.Exited() {
			if err := handle.Terminate(o.options.TerminateTimeout); err != nil {
				o.logger.Warnf("Failed to stop pull process, id: %s, error: %v", run.id, err)
			}
		}
		<-monitor.Done()

		o.mu.Lock()
		delete(o.jobs, run.id)
		o.mu.Unlock()
		if o.options.Collector != nil {
			o.options.Collector.Forget(run.id)
		}
		o.logger.Debugf("Pull job released, id: %s", run.id)
	}()
}

func (o *Orchestrator) journalStarted(ctx context.Context, id, model string, startedAt time.Time) {
	if o.options.Journal == nil {
		return
	}
	if err := o.options.Journal.PullStarted(ctx, id, model, startedAt); err != nil {
		o.logger.Warnf("Failed to journal pull start, id: %s, error: %v", id, err)
	}
}

func (o *Orchestrator) journalFinished(ctx context.Context, id string, outcome Outcome) {
	if o.options.Journal == nil {
		return
	}
	if err := o.options.Journal.PullFinished(context.WithoutCancel(ctx), id, outcome, time.Now()); err != nil {
		o.logger.Warnf("Failed to journal pull outcome, id: %s, error: %v", id, err)
	}
}

// Jobs lists pulls whose process has not been released yet
func (o *Orchestrator) Jobs() []JobInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]JobInfo, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, j.info)
	}
	return out
}

// Statuses returns per model download state: downloading or error. Models
// whose last pull succeeded are absent.
func (o *Orchestrator) Statuses() map[string]ollama.CatalogEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]ollama.CatalogEntry, len(o.statuses))
	for k, v := range o.statuses {
		out[k] = v
	}
	return out
}

// Close refuses new pulls, fails every pull still in flight with a
// cancelled outcome and waits until their processes are stopped and released.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	inFlight := make([]*pullRun, 0, len(o.jobs))
	for _, j := range o.jobs {
		if !j.run.finished.Load() {
			inFlight = append(inFlight, j.run)
		}
	}
	o.mu.Unlock()

	for _, run := range inFlight {
		o.logger.Infof("Cancelling pull on close, id: %s, model: %s", run.id, run.model)
		run.decide(failed("download cancelled"))
	}

	done := make(chan struct{})
	go func() {
		// every finish has registered its cleanup once active drains
		o.active.Wait()
		o.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.NewCancelledError("waiting for pull cleanup cancelled", ctx.Err())
	}
}
