// Package supervisor keeps named long running services available on demand:
// a cheap probe first, then at most one spawn per name followed by a bounded
// readiness wait.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/events"
	"github.com/WittorioJaro/localAgents/pkg/logcollection"
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/monitoring"
	"github.com/WittorioJaro/localAgents/pkg/process"
	"github.com/WittorioJaro/localAgents/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const DefaultTerminateTimeout = 10 * time.Second

// Spawner starts a process; process.Spawn in production
type Spawner func(ctx context.Context, spec process.Spec, id string, logger logging.Logger) (*process.Handle, <-chan process.OutputEvent)

type Options struct {
	Collector        logcollection.LineCollector
	Observer         events.Observer
	Listeners        []StateListener
	TerminateTimeout time.Duration
	Spawner          Spawner
}

type Supervisor struct {
	options Options
	logger  logging.Logger

	mu       sync.RWMutex
	services map[string]*managedService
	group    singleflight.Group

	// lifetime bounds every shared ensure attempt; Shutdown cancels it
	lifetime context.Context
	stop     context.CancelFunc
}

type managedService struct {
	spec  ServiceSpec
	check monitoring.Check

	mu        sync.Mutex
	state     State
	handle    *process.Handle
	monitor   *process.MonitorRun
	spawns    int
	lastError string
}

func New(options Options, logger logging.Logger) *Supervisor {
	if options.TerminateTimeout <= 0 {
		options.TerminateTimeout = DefaultTerminateTimeout
	}
	if options.Spawner == nil {
		options.Spawner = process.Spawn
	}
	lifetime, stop := context.WithCancel(context.Background())
	return &Supervisor{
		options:  options,
		logger:   logger,
		services: make(map[string]*managedService),
		lifetime: lifetime,
		stop:     stop,
	}
}

// AddListener must be called before any service is ensured
func (s *Supervisor) AddListener(listener StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options.Listeners = append(s.options.Listeners, listener)
}

// Register adds a service in the unknown state
func (s *Supervisor) Register(spec ServiceSpec) error {
	if err := ValidateServiceSpec(spec); err != nil {
		return err
	}

	check := spec.Check
	if check == nil {
		var err error
		check, err = monitoring.NewCheck(spec.Readiness, spec.Name, s.logger)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	if _, exists := s.services[spec.Name]; exists {
		s.mu.Unlock()
		return errors.NewConflictError("service already registered", nil).WithContext("service", spec.Name)
	}
	svc := &managedService{spec: spec, check: check, state: StateUnknown}
	s.services[spec.Name] = svc
	s.mu.Unlock()

	s.logger.Infof("Registered service, id: %s, already running: %t", spec.Name, spec.AlreadyRunning)
	s.notify(spec.Name, StateUnknown)
	return nil
}

func (s *Supervisor) lookup(name string) (*managedService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[name]
	if !ok {
		return nil, errors.NewNotFoundError("service not registered", nil).WithContext("service", name)
	}
	return svc, nil
}

// Names returns the registered service names, sorted
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnsureRunning returns nil once the service answers its readiness check.
// Concurrent callers for one name share a single attempt. The attempt is
// bounded by the probe budget and the supervisor's lifetime, never by a
// caller's ctx; a caller's ctx only bounds its own wait.
func (s *Supervisor) EnsureRunning(ctx context.Context, name string) error {
	svc, err := s.lookup(name)
	if err != nil {
		return err
	}

	ctx, span := telemetry.StartSpan(ctx, "supervisor.ensure_running", attribute.String("service", name))

	ch := s.group.DoChan(name, func() (interface{}, error) {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		release := context.AfterFunc(s.lifetime, cancel)
		defer release()
		return nil, s.ensure(flightCtx, svc)
	})

	select {
	case res := <-ch:
		span.SetAttributes(attribute.Bool("shared", res.Shared))
		telemetry.End(span, res.Err)
		return res.Err
	case <-ctx.Done():
		err := errors.NewCancelledError("ensure running cancelled", ctx.Err()).WithContext("service", name)
		telemetry.End(span, err)
		return err
	}
}

func (s *Supervisor) ensure(ctx context.Context, svc *managedService) error {
	name := svc.spec.Name
	probe := svc.spec.Readiness.Probe.WithDefaults()

	s.setState(svc, StateProbing, "")
	result, err := monitoring.ProbeOnce(ctx, svc.check, probe.Timeout)
	if err == nil && result == monitoring.Ready {
		s.logger.Debugf("Service already running, id: %s", name)
		s.setState(svc, StateRunning, "")
		return nil
	}
	if err != nil {
		s.logger.Debugf("Initial probe failed, id: %s, error: %v", name, err)
	}

	s.setState(svc, StateStarting, "")

	switch {
	case svc.spec.AlreadyRunning:
		s.logger.Infof("Service is managed externally, waiting for it, id: %s", name)
	case svc.alive():
		s.logger.Infof("Service process still alive, re-probing instead of spawning, id: %s, PID: %d", name, svc.pid())
	default:
		if err := s.spawn(svc); err != nil {
			s.setState(svc, StateFailedToStart, err.Error())
			return err
		}
	}

	if err := monitoring.WaitUntilReady(ctx, svc.check, probe, name, s.logger); err != nil {
		if errors.IsCancelledError(err) {
			if s.lifetime.Err() == nil {
				s.setState(svc, StateStarting, "")
			}
			return err
		}
		failure := errors.NewProbeTimeoutError(
			fmt.Sprintf("service %s did not become ready after %d attempts", name, probe.MaxAttempts), err).
			WithContext("service", name).
			WithContext("attempts", probe.MaxAttempts)
		s.logger.Errorf("Service failed to start, id: %s, error: %v", name, failure)
		s.setState(svc, StateFailedToStart, failure.Error())
		return failure
	}

	s.setState(svc, StateRunning, "")
	return nil
}

// spawn starts the process and attaches its monitor; a spawn failure is
// waited for so it can be returned synchronously
func (s *Supervisor) spawn(svc *managedService) error {
	name := svc.spec.Name

	handle, stream := s.options.Spawner(context.Background(), svc.spec.Launch, name, s.logger)
	monitor := process.Monitor(name, stream, process.MonitorOptions{
		Collector: s.options.Collector,
		OnFinal: func(event process.OutputEvent) {
			s.onFinal(svc, handle, event)
		},
	}, s.logger)

	svc.mu.Lock()
	svc.handle = handle
	svc.monitor = monitor
	svc.spawns++
	svc.mu.Unlock()

	if handle.Pid() > 0 {
		return nil
	}

	<-monitor.Done()
	final, _ := monitor.Final()
	if final.Err != nil {
		return final.Err
	}
	return errors.NewSpawnError("process did not start", nil).WithContext("service", name)
}

func (s *Supervisor) onFinal(svc *managedService, handle *process.Handle, event process.OutputEvent) {
	if event.Kind != process.Terminated {
		return
	}

	svc.mu.Lock()
	current := svc.handle == handle
	running := svc.state == StateRunning
	svc.mu.Unlock()

	if !current {
		return
	}
	s.logger.Warnf("Supervised process exited, id: %s, exit code: %d", svc.spec.Name, event.ExitCode)
	if running {
		s.setState(svc, StateUnknown, fmt.Sprintf("process exited with status %d", event.ExitCode))
	}
}

// Refresh probes a service once without ever spawning. Services in the middle
// of a start are left alone.
func (s *Supervisor) Refresh(ctx context.Context, name string) (State, error) {
	svc, err := s.lookup(name)
	if err != nil {
		return StateUnknown, err
	}

	current := svc.currentState()
	if current == StateProbing || current == StateStarting {
		return current, nil
	}

	probe := svc.spec.Readiness.Probe.WithDefaults()
	result, probeErr := monitoring.ProbeOnce(ctx, svc.check, probe.Timeout)
	switch {
	case probeErr == nil && result == monitoring.Ready:
		if current != StateRunning {
			s.setState(svc, StateRunning, "")
		}
	case current == StateRunning:
		message := "service stopped answering its readiness check"
		if probeErr != nil {
			message = probeErr.Error()
		}
		s.setState(svc, StateUnknown, message)
	}
	return svc.currentState(), nil
}

func (s *Supervisor) State(name string) (State, error) {
	svc, err := s.lookup(name)
	if err != nil {
		return StateUnknown, err
	}
	return svc.currentState(), nil
}

func (s *Supervisor) Status() []ServiceStatus {
	names := s.Names()
	out := make([]ServiceStatus, 0, len(names))
	for _, name := range names {
		svc, err := s.lookup(name)
		if err != nil {
			continue
		}
		out = append(out, svc.status())
	}
	return out
}

// Shutdown terminates every process this supervisor spawned, best-effort
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stop()

	s.mu.RLock()
	services := make([]*managedService, 0, len(s.services))
	for _, svc := range s.services {
		services = append(services, svc)
	}
	s.mu.RUnlock()

	collection := errors.NewErrorCollection()
	for _, svc := range services {
		svc.mu.Lock()
		handle := svc.handle
		monitor := svc.monitor
		svc.mu.Unlock()

		if handle == nil {
			continue
		}
		if !handle.Exited() {
			s.logger.Infof("Stopping service, id: %s, PID: %d", svc.spec.Name, handle.Pid())
			if err := handle.Terminate(s.options.TerminateTimeout); err != nil {
				collection.Add(err)
			}
		}
		if monitor != nil {
			select {
			case <-monitor.Done():
			case <-ctx.Done():
				collection.Add(errors.NewCancelledError("shutdown cancelled", ctx.Err()).WithContext("service", svc.spec.Name))
			}
		}
		s.setState(svc, StateUnknown, "")
	}
	return collection.ToError()
}

func (s *Supervisor) setState(svc *managedService, state State, lastError string) {
	svc.mu.Lock()
	previous := svc.state
	svc.state = state
	if lastError != "" || state == StateRunning {
		svc.lastError = lastError
	}
	svc.mu.Unlock()

	if previous == state {
		return
	}
	s.logger.Infof("Service state changed, id: %s, state: %s->%s", svc.spec.Name, previous, state)
	s.notify(svc.spec.Name, state)
}

func (s *Supervisor) notify(name string, state State) {
	s.mu.RLock()
	listeners := s.options.Listeners
	s.mu.RUnlock()

	for _, l := range listeners {
		l.OnStateChange(name, state)
	}
	events.Publish(s.options.Observer, events.NewEvent(events.ServiceState, name, state), s.logger)
}

func (svc *managedService) currentState() State {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.state
}

func (svc *managedService) alive() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.handle != nil && svc.handle.Pid() > 0 && !svc.handle.Exited()
}

func (svc *managedService) pid() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.handle == nil {
		return 0
	}
	return svc.handle.Pid()
}

func (svc *managedService) status() ServiceStatus {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	st := ServiceStatus{
		Name:      svc.spec.Name,
		State:     svc.state,
		Spawns:    svc.spawns,
		LastError: svc.lastError,
	}
	if svc.handle != nil {
		st.PID = svc.handle.Pid()
		st.StartedAt = svc.handle.StartedAt()
		if code, exited := svc.handle.ExitCode(); exited {
			st.ExitCode = &code
		}
	}
	return st
}
