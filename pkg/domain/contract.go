package domain

import (
	"context"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/download"
	"github.com/WittorioJaro/localAgents/pkg/logcollection"
	"github.com/WittorioJaro/localAgents/pkg/ollama"
	"github.com/WittorioJaro/localAgents/pkg/processstate"
	"github.com/WittorioJaro/localAgents/pkg/supervisor"
	"github.com/WittorioJaro/localAgents/pkg/taskbridge"
)

// Contract is the command surface of the host
type Contract interface {
	EnsureServices(ctx context.Context) error
	EnsureService(ctx context.Context, name string) error
	ListModels(ctx context.Context) ([]string, error)
	PullModel(ctx context.Context, model string) (download.Outcome, error)
	DeleteModel(ctx context.Context, model string) error
	RunTask(ctx context.Context, req taskbridge.Request) (string, error)
	Catalog(ctx context.Context) ([]ollama.CatalogEntry, error)
	Status(ctx context.Context) (HostStatus, error)
}

type ServiceReport struct {
	supervisor.ServiceStatus
	Process     *processstate.Snapshot        `json:"process,omitempty"`
	RecentLines []logcollection.CollectedLine `json:"recent_lines,omitempty"`
}

type HostStatus struct {
	Services      []ServiceReport    `json:"services"`
	Downloads     []download.JobInfo `json:"downloads"`
	OllamaVersion string             `json:"ollama_version,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
}
