// Package reminder schedules user-defined raid reminders against cached
// servers and fires them through the event sink.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/serverdeck/serverdeck/internal/event"
	"github.com/serverdeck/serverdeck/internal/logger"
	"github.com/serverdeck/serverdeck/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrPastFireTime is returned when a reminder is created in the past.
var ErrPastFireTime = errors.New("reminder fire time is in the past")

// Storage is the store surface reminders persist through.
type Storage interface {
	UpsertReminder(ctx context.Context, r store.Reminder) error
	DueReminders(ctx context.Context, now time.Time) ([]store.Reminder, error)
	DeleteReminder(ctx context.Context, id string) error
}

// Service manages raid reminders.
type Service struct {
	storage Storage
	sink    event.Sink
	now     func() time.Time
	log     *logrus.Entry
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithClock overrides the clock (useful for testing).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a reminder service.
func NewService(storage Storage, sink event.Sink, opts ...ServiceOption) *Service {
	s := &Service{
		storage: storage,
		sink:    sink,
		now:     time.Now,
		log:     logger.WithComponent("reminder"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Add creates a reminder for a server at the given instant.
func (s *Service) Add(ctx context.Context, serverID int64, label string, fireAt time.Time) (store.Reminder, error) {
	if !fireAt.After(s.now()) {
		return store.Reminder{}, ErrPastFireTime
	}

	r := store.Reminder{
		ID:        uuid.New().String(),
		ServerID:  serverID,
		Label:     label,
		FireAt:    fireAt.UTC(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.storage.UpsertReminder(ctx, r); err != nil {
		return store.Reminder{}, err
	}

	return r, nil
}

// Remove deletes a reminder by id.
func (s *Service) Remove(ctx context.Context, id string) error {
	return s.storage.DeleteReminder(ctx, id)
}

// FireDue notifies and deletes every reminder whose fire time has passed.
// It returns the number of reminders fired. Safe to re-invoke: fired
// reminders are gone, so a repeated run finds nothing.
func (s *Service) FireDue(ctx context.Context) (int, error) {
	due, err := s.storage.DueReminders(ctx, s.now())
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, r := range due {
		message := r.Label
		if message == "" {
			message = fmt.Sprintf("raid reminder for server %d", r.ServerID)
		}
		if s.sink != nil {
			s.sink.Notify(event.Event{
				Kind:     event.KindReminder,
				Message:  message,
				ServerID: r.ServerID,
			})
		}
		if err := s.storage.DeleteReminder(ctx, r.ID); err != nil {
			return fired, err
		}
		fired++
	}

	if fired > 0 {
		s.log.WithField("fired", fired).Debug("reminders fired")
	}
	return fired, nil
}
