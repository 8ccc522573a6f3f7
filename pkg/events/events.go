// Package events carries fire-and-forget notifications from the supervision
// core toward whatever front end is attached.
package events

import (
	"sync"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/logging"
)

const (
	DownloadProgress = "download-progress"
	ModelsUpdated    = "models-updated"
	ServiceState     = "service-state"
	DownloadFinished = "download-finished"
)

type Event struct {
	Name    string      `json:"name"`
	Subject string      `json:"subject,omitempty"`
	Payload interface{} `json:"payload"`
	Time    time.Time   `json:"time"`
}

func NewEvent(name, subject string, payload interface{}) Event {
	return Event{
		Name:    name,
		Subject: subject,
		Payload: payload,
		Time:    time.Now(),
	}
}

// Observer receives events. Returning an error never affects the operation
// that emitted the event; the publisher only logs it.
type Observer interface {
	OnEvent(event Event) error
}

type ObserverFunc func(event Event) error

func (f ObserverFunc) OnEvent(event Event) error {
	return f(event)
}

// Publish delivers event to observer, logging a delivery failure. A nil
// observer is allowed.
func Publish(observer Observer, event Event, logger logging.Logger) {
	if observer == nil {
		return
	}
	if err := observer.OnEvent(event); err != nil {
		logger.Warnf("Event delivery failed, event: %s, subject: %s, error: %v", event.Name, event.Subject, err)
	}
}

// Multi fans one event out to several observers and returns the first error
type Multi []Observer

func (m Multi) OnEvent(event Event) error {
	var first error
	for _, o := range m {
		if o == nil {
			continue
		}
		if err := o.OnEvent(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps the most recent events in memory
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewRecorder keeps at most limit events; limit <= 0 keeps everything
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) OnEvent(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

// Events returns a copy, optionally filtered by name
func (r *Recorder) Events(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if name == "" || e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Count is the number of recorded events with the given name
func (r *Recorder) Count(name string) int {
	return len(r.Events(name))
}
