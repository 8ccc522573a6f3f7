package supervisor

import (
	"time"

	"github.com/WittorioJaro/localAgents/pkg/monitoring"
	"github.com/WittorioJaro/localAgents/pkg/process"
)

type State string

const (
	StateUnknown       State = "unknown"
	StateProbing       State = "probing"
	StateStarting      State = "starting"
	StateRunning       State = "running"
	StateFailedToStart State = "failed_to_start"
)

// ServiceSpec describes one named service. Check, when set, replaces the
// check built from Readiness.
type ServiceSpec struct {
	Name string `yaml:"name" toml:"name"`
	// Launch is ignored when AlreadyRunning is set
	Launch         process.Spec           `yaml:"launch" toml:"launch"`
	AlreadyRunning bool                   `yaml:"already_running,omitempty" toml:"already_running,omitempty"`
	Readiness      monitoring.CheckConfig `yaml:"readiness" toml:"readiness"`
	Check          monitoring.Check       `yaml:"-" toml:"-"`
}

// ServiceStatus is a copy of a service's supervision state
type ServiceStatus struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Spawns    int       `json:"spawns"`
	StartedAt time.Time `json:"started_at,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// StateListener is told about every state transition, in order, per service
type StateListener interface {
	OnStateChange(name string, state State)
}

type StateListenerFunc func(name string, state State)

func (f StateListenerFunc) OnStateChange(name string, state State) {
	f(name, state)
}
