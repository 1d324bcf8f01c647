// Package work provides an in-process guaranteed-execution scheduler:
// named background jobs retried with exponential backoff until they
// succeed or report a permanent failure. Re-scheduling a job by name
// replaces its pending run instead of duplicating it.
package work

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/serverdeck/serverdeck/internal/logger"
	"github.com/sirupsen/logrus"
)

// Job is one retryable unit of work. Returning nil reports success and
// ends the run; wrapping an error with backoff.Permanent stops retries.
type Job func(ctx context.Context) error

type run struct {
	cancel context.CancelFunc
}

// Scheduler runs registered jobs with retry until success.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]Job
	pending map[string]*run
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	policy  func() backoff.BackOff
	log     *logrus.Entry
	closed  bool
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithBackOff overrides the retry policy factory (useful for testing).
func WithBackOff(policy func() backoff.BackOff) Option {
	return func(s *Scheduler) {
		s.policy = policy
	}
}

// New creates a scheduler with an exponential retry policy.
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		jobs:    make(map[string]Job),
		pending: make(map[string]*run),
		ctx:     ctx,
		cancel:  cancel,
		policy:  defaultPolicy,
		log:     logger.WithComponent("work"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func defaultPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 5 * time.Minute
	policy.MaxElapsedTime = 0 // retry until success or permanent failure
	return policy
}

// Register binds a job to a stable name. Scheduling an unregistered name
// is a logged no-op.
func (s *Scheduler) Register(name string, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = job
}

// Schedule requests a run of the named job. A pending run of the same
// name is cancelled and replaced.
func (s *Scheduler) Schedule(name string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		s.log.WithField("job", name).Warn("schedule request for unregistered job")
		return
	}

	if prior, ok := s.pending[name]; ok {
		prior.cancel()
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	current := &run{cancel: cancel}
	s.pending[name] = current
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			s.mu.Lock()
			if s.pending[name] == current {
				delete(s.pending, name)
			}
			s.mu.Unlock()
		}()

		err := backoff.Retry(func() error {
			if runCtx.Err() != nil {
				return backoff.Permanent(runCtx.Err())
			}
			return job(runCtx)
		}, backoff.WithContext(s.policy(), runCtx))

		if err != nil && runCtx.Err() == nil {
			s.log.WithError(err).WithField("job", name).Error("job gave up")
			return
		}
		if err == nil {
			s.log.WithField("job", name).Debug("job completed")
		}
	}()
}

// Close cancels all pending runs and waits for them to stop.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
