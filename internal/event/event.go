// Package event carries user-visible notices from the sync core to
// whatever surface hosts it. The sink is an explicit dependency of the
// use cases rather than an ambient global bus.
package event

import (
	"github.com/serverdeck/serverdeck/internal/logger"
	"github.com/sirupsen/logrus"
)

// Kind tags a notice for presentation.
type Kind string

const (
	KindInfo     Kind = "info"
	KindQueued   Kind = "queued"
	KindError    Kind = "error"
	KindReminder Kind = "reminder"
)

// Event is one user-visible notice.
type Event struct {
	Kind     Kind
	Message  string
	ServerID int64 // 0 when the notice is not tied to one server
}

// Sink receives notices. Implementations must be safe for concurrent use
// and must not block.
type Sink interface {
	Notify(e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

func (f SinkFunc) Notify(e Event) {
	f(e)
}

// LogSink writes notices to the component log. Used by the CLI and as a
// harmless default when no UI surface is attached.
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink creates a sink backed by the shared logger.
func NewLogSink() *LogSink {
	return &LogSink{log: logger.WithComponent("events")}
}

func (s *LogSink) Notify(e Event) {
	entry := s.log.WithField("kind", e.Kind)
	if e.ServerID != 0 {
		entry = entry.WithField("server", e.ServerID)
	}
	if e.Kind == KindError {
		entry.Warn(e.Message)
		return
	}
	entry.Info(e.Message)
}
