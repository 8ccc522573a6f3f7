package logcollection

import (
	"sync"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/logcollection/config"
)

// collector routes child process lines into the structured logger and keeps a
// bounded tail per service for status reporting
type collector struct {
	config config.LoggingConfig
	logger StructuredLogger

	mu       sync.RWMutex
	services map[string]*serviceLog
}

type serviceLog struct {
	logger StructuredLogger
	status ServiceLogStatus
	tail   []CollectedLine
	next   int
	full   bool
}

func NewCollector(cfg config.LoggingConfig, logger StructuredLogger) LineCollector {
	return &collector{
		config:   cfg,
		logger:   logger,
		services: make(map[string]*serviceLog),
	}
}

func (c *collector) Collect(serviceID string, stream StreamType, line string) {
	if stream == StdoutStream && !c.config.CaptureStdout {
		return
	}
	if stream == StderrStream && !c.config.CaptureStderr {
		return
	}

	c.mu.Lock()
	svc := c.serviceLocked(serviceID)
	now := time.Now()
	switch stream {
	case StdoutStream:
		svc.status.StdoutLines++
	case StderrStream:
		svc.status.StderrLines++
	}
	svc.status.TotalBytes += int64(len(line))
	svc.status.LastLineAt = now
	svc.push(CollectedLine{Timestamp: now, Stream: stream, Line: line})
	logger := svc.logger
	c.mu.Unlock()

	logger.LogWithFields(DebugLevel, line, Stream(stream))
}

func (c *collector) Status(serviceID string) (ServiceLogStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, ok := c.services[serviceID]
	if !ok {
		return ServiceLogStatus{}, false
	}
	return svc.status, true
}

// Recent returns the retained lines for a service, oldest first
func (c *collector) Recent(serviceID string) []CollectedLine {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, ok := c.services[serviceID]
	if !ok || len(svc.tail) == 0 {
		return nil
	}
	if !svc.full {
		out := make([]CollectedLine, svc.next)
		copy(out, svc.tail[:svc.next])
		return out
	}
	out := make([]CollectedLine, 0, len(svc.tail))
	out = append(out, svc.tail[svc.next:]...)
	out = append(out, svc.tail[:svc.next]...)
	return out
}

func (c *collector) Forget(serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, serviceID)
}

func (c *collector) serviceLocked(serviceID string) *serviceLog {
	svc, ok := c.services[serviceID]
	if ok {
		return svc
	}
	size := c.config.TailLines
	if size < 0 {
		size = 0
	}
	svc = &serviceLog{
		logger: c.logger.WithService(serviceID),
		status: ServiceLogStatus{ServiceID: serviceID},
		tail:   make([]CollectedLine, size),
	}
	c.services[serviceID] = svc
	return svc
}

func (s *serviceLog) push(line CollectedLine) {
	if len(s.tail) == 0 {
		return
	}
	s.tail[s.next] = line
	s.next++
	if s.next == len(s.tail) {
		s.next = 0
		s.full = true
	}
}
