// Package app wires the stores, remote client, pager, syncer and toggle
// use cases into one application container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serverdeck/serverdeck/internal/api"
	"github.com/serverdeck/serverdeck/internal/config"
	"github.com/serverdeck/serverdeck/internal/event"
	"github.com/serverdeck/serverdeck/internal/listing"
	"github.com/serverdeck/serverdeck/internal/logger"
	"github.com/serverdeck/serverdeck/internal/pager"
	"github.com/serverdeck/serverdeck/internal/reminder"
	"github.com/serverdeck/serverdeck/internal/store"
	"github.com/serverdeck/serverdeck/internal/store/sqlite"
	"github.com/serverdeck/serverdeck/internal/syncer"
	"github.com/serverdeck/serverdeck/internal/toggle"
	"github.com/serverdeck/serverdeck/internal/work"
	"github.com/sirupsen/logrus"
)

// RefreshJob is the scheduler job name for the full resync loop.
const RefreshJob = "refresh"

// RemindersJob is the scheduler job name for firing due reminders.
const RemindersJob = "reminders"

// App is the main application container with dependency injection.
type App struct {
	config    *config.Config
	store     store.Store
	client    *api.Client
	mediator  *pager.Mediator
	refresher *pager.Refresher
	processor *syncer.Processor
	toggles   *toggle.Toggles
	reminders *reminder.Service
	stream    *api.Stream
	sched     *work.Scheduler
	sink      event.Sink
	log       *logrus.Entry
}

// Option is a function that configures the App.
type Option func(*App)

// WithStore overrides the default SQLite store.
func WithStore(st store.Store) Option {
	return func(a *App) {
		a.store = st
	}
}

// WithClient overrides the default API client.
func WithClient(c *api.Client) Option {
	return func(a *App) {
		a.client = c
	}
}

// WithSink sets the event sink toggles and reminders notify through.
func WithSink(sink event.Sink) Option {
	return func(a *App) {
		a.sink = sink
	}
}

// New creates a fully wired App from the given configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		config: cfg,
		log:    logger.WithComponent("app"),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		st, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		a.store = st
	}
	if a.client == nil {
		a.client = api.NewClient(cfg.API.BaseURL,
			api.WithTimeout(cfg.API.Timeout),
			api.WithAPIKey(cfg.API.Key),
		)
	}
	if a.sink == nil {
		a.sink = event.NewLogSink()
	}

	sort := listing.SortKey(cfg.Refresh.Sort)

	a.mediator = pager.NewMediator(a.store, a.client,
		pager.WithPageSize(cfg.Refresh.PageSize),
		pager.WithSort(sort),
	)
	a.refresher = pager.NewRefresher(a.store, a.client,
		pager.WithRefreshPageSize(cfg.Refresh.PageSize),
		pager.WithRefreshSort(sort),
		pager.WithMinInterval(cfg.Refresh.MinInterval),
		pager.WithMaxPages(cfg.Refresh.MaxPages),
		pager.WithRetryThreshold(cfg.Refresh.RetryThreshold),
	)
	a.processor = syncer.NewProcessor(a.store, a.client)
	a.reminders = reminder.NewService(a.store, a.sink)

	a.sched = work.New()
	for _, family := range store.Families() {
		a.sched.Register(syncer.JobName(family), a.familyJob(family))
	}
	a.sched.Register(RefreshJob, func(ctx context.Context) error {
		_, err := a.refresher.RefreshAll(ctx)
		return err
	})
	a.sched.Register(RemindersJob, func(ctx context.Context) error {
		_, err := a.reminders.FireDue(ctx)
		return err
	})

	a.toggles = toggle.NewToggles(a.store, a.client, a.sched, a.sink)

	if cfg.API.StreamURL != "" {
		a.stream = api.NewStream(cfg.API.StreamURL, a.applyLiveUpdate,
			api.WithStreamAPIKey(cfg.API.Key),
		)
	}

	return a, nil
}

// applyLiveUpdate merges one streamed server snapshot through the same
// flag-preserving upsert path page fetches use.
func (a *App) applyLiveUpdate(srv listing.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.UpsertServers(ctx, []listing.Server{srv}); err != nil {
		a.log.WithError(err).WithField("server", srv.ID).Warn("live update merge failed")
	}
}

// familyJob adapts queue draining for one family to a scheduler job.
// Transient leftovers return an error so the scheduler retries with
// backoff; permanent discards do not.
func (a *App) familyJob(family store.Family) work.Job {
	return func(ctx context.Context) error {
		retry, err := a.processor.ProcessFamily(ctx, family)
		if err != nil {
			return err
		}
		if retry {
			return fmt.Errorf("family %s still has queued operations", family)
		}
		return nil
	}
}

// Store returns the local store.
func (a *App) Store() store.Store {
	return a.store
}

// Client returns the remote listing client.
func (a *App) Client() *api.Client {
	return a.client
}

// Mediator returns the paging bridge.
func (a *App) Mediator() *pager.Mediator {
	return a.mediator
}

// Refresher returns the full-resync loop.
func (a *App) Refresher() *pager.Refresher {
	return a.refresher
}

// Processor returns the sync queue processor.
func (a *App) Processor() *syncer.Processor {
	return a.processor
}

// Toggles returns the favorite/subscription/purchase use cases.
func (a *App) Toggles() *toggle.Toggles {
	return a.toggles
}

// Reminders returns the raid reminder service.
func (a *App) Reminders() *reminder.Service {
	return a.reminders
}

// Stream returns the live update stream, or nil when no stream endpoint
// is configured. Callers own the Listen lifecycle.
func (a *App) Stream() *api.Stream {
	return a.stream
}

// Scheduler returns the background job scheduler.
func (a *App) Scheduler() *work.Scheduler {
	return a.sched
}

// SyncAll schedules queue drains for every family with pending work.
func (a *App) SyncAll(ctx context.Context) error {
	for _, family := range store.Families() {
		ops, err := a.store.PendingOperations(ctx, family)
		if err != nil {
			return err
		}
		if len(ops) > 0 {
			a.sched.Schedule(syncer.JobName(family))
		}
	}
	return nil
}

// Close stops background jobs and closes the store.
func (a *App) Close() error {
	var errs []error
	if a.stream != nil {
		if err := a.stream.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.sched != nil {
		a.sched.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
