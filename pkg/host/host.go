package host

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/control"
	"github.com/WittorioJaro/localAgents/pkg/domain"
	"github.com/WittorioJaro/localAgents/pkg/download"
	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/events"
	"github.com/WittorioJaro/localAgents/pkg/journal"
	"github.com/WittorioJaro/localAgents/pkg/logcollection"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/ollama"
	"github.com/WittorioJaro/localAgents/pkg/processfile"
	"github.com/WittorioJaro/localAgents/pkg/processstate"
	"github.com/WittorioJaro/localAgents/pkg/supervisor"
	"github.com/WittorioJaro/localAgents/pkg/taskbridge"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// HostState represents the lifecycle of the host
type HostState string

const (
	HostStateNotStarted HostState = "not_started"
	HostStateRunning    HostState = "running"
	HostStateStopping   HostState = "stopping"
	HostStateStopped    HostState = "stopped"
)

// RunFileID names the PID and port files the host writes while serving
const RunFileID = "agentsrv"

const (
	journalFileName = "journal.db"
	refreshTimeout  = 10 * time.Second
)

// Host owns the supervisor, the download orchestrator and the task bridge
// and exposes them through domain.Contract
type Host struct {
	config    *Config
	logger    logging.Logger
	observer  events.Observer
	collector logcollection.LineCollector

	supervisor *supervisor.Supervisor
	health     *control.HealthReporter
	ollama     *ollama.Client
	downloads  *download.Orchestrator
	bridge     *taskbridge.Bridge
	journal    *journal.Journal
	runFiles   *processfile.ProcessFileManager

	server    *control.Server
	scheduler *cron.Cron

	mu        sync.Mutex
	state     HostState
	startedAt time.Time
	startup   sync.WaitGroup
	cancel    context.CancelFunc
}

var _ domain.Contract = (*Host)(nil)

// New builds the host from a validated configuration. Nothing is spawned
// until Start or a contract call needs it.
func New(config *Config, structured logcollection.StructuredLogger, observer events.Observer) (*Host, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	logger := logcollection.ModuleLogger(structured, "host")
	collector := logcollection.NewCollector(config.Logging, structured)

	h := &Host{
		config:    config,
		logger:    logger,
		observer:  observer,
		collector: collector,
		state:     HostStateNotStarted,
	}
	h.runFiles = processfile.NewProcessFileManager(processfile.ProcessFileConfig{
		BaseDirectory: filepath.Join(config.Host.DataDir, processfile.RunDirectoryName),
	}, logcollection.ModuleLogger(structured, "processfile"))

	if !config.Host.DisableJournal {
		if err := os.MkdirAll(config.Host.DataDir, 0o755); err != nil {
			return nil, errors.NewIOError("failed to create data directory", err).WithContext("data_dir", config.Host.DataDir)
		}
		j, err := journal.Open(filepath.Join(config.Host.DataDir, journalFileName), logcollection.ModuleLogger(structured, "journal"))
		if err != nil {
			return nil, err
		}
		if _, err := j.MarkInterrupted(context.Background()); err != nil {
			logger.Warnf("Failed to mark interrupted journal records, error: %v", err)
		}
		h.journal = j
	}

	h.health = control.NewHealthReporter(logcollection.ModuleLogger(structured, "health"))
	h.supervisor = supervisor.New(supervisor.Options{
		Collector: collector,
		Observer:  observer,
		Listeners: []supervisor.StateListener{h.health},
	}, logcollection.ModuleLogger(structured, "supervisor"))

	for _, spec := range ServiceSpecs(config) {
		if err := h.supervisor.Register(spec); err != nil {
			h.closeJournal()
			return nil, err
		}
	}

	h.ollama = ollama.NewClient(config.Ollama.Binary, config.Ollama.Environment, logcollection.ModuleLogger(structured, "ollama"))

	downloadOptions := download.Options{Collector: collector}
	taskConfig := taskbridge.Config{
		BaseURL:     config.CrewAI.BaseURL(),
		ServiceName: CrewAIServiceName,
		Timeout:     config.CrewAI.TaskTimeout,
	}
	if h.journal != nil {
		downloadOptions.Journal = h.journal
		taskConfig.Journal = h.journal
	}

	h.downloads = download.New(h.ollama, downloadOptions, logcollection.ModuleLogger(structured, "download"))
	h.bridge = taskbridge.New(taskConfig, h.ollama, h.supervisor, logcollection.ModuleLogger(structured, "taskbridge"))

	return h, nil
}

// Start opens the control server, schedules the watch and, when configured,
// ensures both services in the background
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != HostStateNotStarted {
		return errors.NewConflictError("host already started", nil).WithContext("state", string(h.state))
	}

	server, err := control.NewServer(control.ServerOptions{Port: h.config.Host.ControlPort}, h.logger)
	if err != nil {
		return err
	}
	control.RegisterGRPCServerHandler(server.GRPC(), h, h.logger)
	h.health.Register(server.GRPC())
	server.Start()
	h.server = server
	h.writeRunFiles()

	if h.config.Host.WatchSchedule != WatchDisabled {
		h.scheduler = cron.New()
		if _, err := h.scheduler.AddFunc(h.config.Host.WatchSchedule, h.watch); err != nil {
			h.server.Stop(ctx)
			return errors.NewValidationError("invalid watch schedule", err).WithContext("schedule", h.config.Host.WatchSchedule)
		}
		h.scheduler.Start()
		h.logger.Infof("Watch scheduled, schedule: %s", h.config.Host.WatchSchedule)
	}

	startupCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	if h.config.Host.EnsureOnStart == nil || *h.config.Host.EnsureOnStart {
		h.startup.Add(1)
		go func() {
			defer h.startup.Done()
			h.startupRoutine(startupCtx)
		}()
	}

	h.startedAt = time.Now()
	h.state = HostStateRunning
	h.logger.Infof("Host started, control address: %s", server.Address())
	return nil
}

// writeRunFiles lets local clients find the control port; failures are not fatal
func (h *Host) writeRunFiles() {
	if err := h.runFiles.WritePIDFile(RunFileID, os.Getpid()); err != nil {
		h.logger.Warnf("Failed to write PID file, error: %v", err)
	}
	if err := h.runFiles.WritePortFile(RunFileID, h.server.Port()); err != nil {
		h.logger.Warnf("Failed to write port file, error: %v", err)
	}
}

// startupRoutine ensures every service; failures are logged, never fatal
func (h *Host) startupRoutine(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, h.config.Host.StartupTimeout)
	defer cancel()

	if err := h.EnsureServices(ctx); err != nil {
		h.logger.Warnf("Startup routine finished with errors: %v", err)
		return
	}
	h.logger.Infof("Startup routine finished, all services running")
}

// watch re-probes every service without spawning
func (h *Host) watch() {
	for _, name := range h.supervisor.Names() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		state, err := h.supervisor.Refresh(ctx, name)
		cancel()
		if err != nil {
			h.logger.Warnf("Watch refresh failed, id: %s, error: %v", name, err)
			continue
		}
		h.logger.Debugf("Watch refresh, id: %s, state: %s", name, state)
	}
}

// Stop shuts everything down in reverse order of creation
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.state == HostStateStopping || h.state == HostStateStopped {
		h.mu.Unlock()
		return nil
	}
	wasRunning := h.state == HostStateRunning
	h.state = HostStateStopping
	h.mu.Unlock()

	h.logger.Infof("Stopping host...")
	collection := errors.NewErrorCollection()

	if h.cancel != nil {
		h.cancel()
	}
	h.startup.Wait()

	if h.scheduler != nil {
		stopped := h.scheduler.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}

	collection.Add(h.downloads.Close(ctx))
	collection.Add(h.supervisor.Shutdown(ctx))
	h.health.Shutdown()

	if wasRunning && h.server != nil {
		h.server.Stop(ctx)
		collection.Add(h.runFiles.RemoveFiles(RunFileID))
	}
	h.closeJournal()

	h.mu.Lock()
	h.state = HostStateStopped
	h.mu.Unlock()

	if collection.HasErrors() {
		h.logger.Warnf("Host stopped with errors: %v", collection)
		return collection.ToError()
	}
	h.logger.Infof("Host stopped")
	return nil
}

func (h *Host) closeJournal() {
	if h.journal == nil {
		return
	}
	if err := h.journal.Close(); err != nil {
		h.logger.Warnf("Failed to close journal, error: %v", err)
	}
}

func (h *Host) State() HostState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ControlAddress is empty until Start
func (h *Host) ControlAddress() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server == nil {
		return ""
	}
	return h.server.Address()
}

// Journal is nil when the journal is disabled
func (h *Host) Journal() *journal.Journal {
	return h.journal
}

// EnsureServices ensures every registered service concurrently. One service
// failing does not cancel the others.
func (h *Host) EnsureServices(ctx context.Context) error {
	var g errgroup.Group
	var mu sync.Mutex
	collection := errors.NewErrorCollection()

	for _, name := range h.supervisor.Names() {
		g.Go(func() error {
			if err := h.supervisor.EnsureRunning(ctx, name); err != nil {
				h.logger.Warnf("Failed to ensure service, id: %s, error: %v", name, err)
				mu.Lock()
				collection.Add(err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return collection.ToError()
}

func (h *Host) EnsureService(ctx context.Context, name string) error {
	return h.supervisor.EnsureRunning(ctx, name)
}

func (h *Host) ListModels(ctx context.Context) ([]string, error) {
	return h.ollama.List(ctx)
}

// PullModel blocks until the pull has a terminal outcome. A rejected request
// is an error; a failed download is a non-succeeded Outcome.
func (h *Host) PullModel(ctx context.Context, model string) (download.Outcome, error) {
	if err := ollama.ValidateModelName(model); err != nil {
		return download.Outcome{Model: model}, err
	}
	return h.downloads.Pull(ctx, model, h.observer), nil
}

func (h *Host) DeleteModel(ctx context.Context, model string) error {
	if err := h.ollama.Delete(ctx, model); err != nil {
		return err
	}
	models, err := h.ollama.List(ctx)
	if err != nil {
		h.logger.Warnf("Failed to refresh listing after delete, model: %s, error: %v", model, err)
		return nil
	}
	events.Publish(h.observer, events.NewEvent(events.ModelsUpdated, model, models), h.logger)
	return nil
}

func (h *Host) RunTask(ctx context.Context, req taskbridge.Request) (string, error) {
	return h.bridge.Run(ctx, req)
}

// Catalog falls back to download state only when the listing fails
func (h *Host) Catalog(ctx context.Context) ([]ollama.CatalogEntry, error) {
	installed, err := h.ollama.List(ctx)
	if err != nil {
		h.logger.Warnf("Failed to list installed models for catalog, error: %v", err)
		installed = nil
	}
	return ollama.CatalogWithStatus(installed, h.downloads.Statuses()), nil
}

func (h *Host) Status(ctx context.Context) (domain.HostStatus, error) {
	services := h.supervisor.Status()
	reports := make([]domain.ServiceReport, 0, len(services))
	for _, service := range services {
		report := domain.ServiceReport{
			ServiceStatus: service,
			RecentLines:   h.collector.Recent(service.Name),
		}
		if service.PID > 0 {
			snapshot, err := processstate.Take(ctx, service.PID)
			if err != nil {
				h.logger.Debugf("Process snapshot failed, id: %s, PID: %d, error: %v", service.Name, service.PID, err)
			} else {
				report.Process = &snapshot
			}
		}
		reports = append(reports, report)
	}

	version, err := h.ollama.Version(ctx)
	if err != nil {
		h.logger.Debugf("Version check failed, error: %v", err)
	}

	h.mu.Lock()
	startedAt := h.startedAt
	h.mu.Unlock()

	return domain.HostStatus{
		Services:      reports,
		Downloads:     h.downloads.Jobs(),
		OllamaVersion: version,
		StartedAt:     startedAt,
	}, nil
}
