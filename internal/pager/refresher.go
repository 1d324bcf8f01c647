package pager

import (
	"context"
	"errors"
	"fmt"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/serverdeck/serverdeck/internal/api"
	"github.com/serverdeck/serverdeck/internal/listing"
	"github.com/serverdeck/serverdeck/internal/logger"
	"github.com/serverdeck/serverdeck/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrRetriesExhausted is returned when the refresher gives up after the
// configured number of consecutive transient failures. All continuation
// state is cleared first, so the next invocation restarts from scratch.
var ErrRetriesExhausted = errors.New("refresh retries exhausted")

const (
	defaultPageSize       = 25
	defaultMinInterval    = 5 * time.Minute
	defaultMaxPages       = 10
	defaultRetryThreshold = 3
	fetchAvgWindow        = 10
)

// RefreshOutcome is the result of one RefreshAll invocation.
type RefreshOutcome int

const (
	// RefreshCompleted means pages were fetched up to exhaustion or the
	// per-invocation page bound.
	RefreshCompleted RefreshOutcome = iota
	// RefreshSkipped means the minimum refresh interval had not elapsed.
	RefreshSkipped
)

// Refresher eagerly walks the whole listing, page by page, into the
// cache. Re-entrancy is handled by the timestamp gate rather than a lock:
// a second invocation inside the refresh window short-circuits.
type Refresher struct {
	cache          Cache
	fetcher        Fetcher
	partition      string
	pageSize       int
	sort           listing.SortKey
	minInterval    time.Duration
	maxPages       int
	retryThreshold int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	avg   *movingaverage.MovingAverage
	log   *logrus.Entry
}

// RefresherOption configures the Refresher.
type RefresherOption func(*Refresher)

// WithRefreshPartition sets the remote-key partition.
func WithRefreshPartition(partition string) RefresherOption {
	return func(r *Refresher) {
		r.partition = partition
	}
}

// WithRefreshPageSize sets the requested page size.
func WithRefreshPageSize(size int) RefresherOption {
	return func(r *Refresher) {
		r.pageSize = size
	}
}

// WithRefreshSort sets the upstream sort order.
func WithRefreshSort(sort listing.SortKey) RefresherOption {
	return func(r *Refresher) {
		r.sort = sort
	}
}

// WithMinInterval sets the minimum time between full refresh runs.
func WithMinInterval(interval time.Duration) RefresherOption {
	return func(r *Refresher) {
		r.minInterval = interval
	}
}

// WithMaxPages bounds the number of pages fetched per invocation.
func WithMaxPages(pages int) RefresherOption {
	return func(r *Refresher) {
		r.maxPages = pages
	}
}

// WithRetryThreshold sets how many consecutive transient failures the
// refresher tolerates before giving up.
func WithRetryThreshold(threshold int) RefresherOption {
	return func(r *Refresher) {
		r.retryThreshold = threshold
	}
}

// WithRefreshClock overrides the clock (useful for testing).
func WithRefreshClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		r.now = now
	}
}

// WithSleep overrides the retry-after wait (useful for testing).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RefresherOption {
	return func(r *Refresher) {
		r.sleep = sleep
	}
}

// NewRefresher creates a full-resync refresher over the cache and fetcher.
func NewRefresher(cache Cache, fetcher Fetcher, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		cache:          cache,
		fetcher:        fetcher,
		partition:      store.DefaultPartition,
		pageSize:       defaultPageSize,
		sort:           listing.SortRank,
		minInterval:    defaultMinInterval,
		maxPages:       defaultMaxPages,
		retryThreshold: defaultRetryThreshold,
		now:            time.Now,
		sleep:          sleepContext,
		avg:            movingaverage.New(fetchAvgWindow),
		log:            logger.WithComponent("refresher"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RefreshAll walks the listing from the stored cursor (or from scratch)
// until exhaustion or the per-invocation page bound.
func (r *Refresher) RefreshAll(ctx context.Context) (RefreshOutcome, error) {
	var cursor *string

	key, err := r.cache.RemoteKey(ctx, r.partition)
	switch {
	case err == nil:
		if r.now().Sub(key.LastUpdated) < r.minInterval {
			r.log.WithField("age", r.now().Sub(key.LastUpdated)).Debug("refresh skipped, within interval")
			return RefreshSkipped, nil
		}
		cursor = key.NextPage
	case errors.Is(err, store.ErrNotFound):
		// First run, start from the beginning.
	default:
		return RefreshCompleted, err
	}

	failures := 0
	fetched := 0

	for fetched < r.maxPages {
		if ctx.Err() != nil {
			return RefreshCompleted, ctx.Err()
		}

		start := r.now()
		page, err := r.fetcher.FetchPage(ctx, api.PageRequest{
			Size:   r.pageSize,
			Sort:   r.sort,
			Cursor: cursor,
		})
		if err != nil {
			if !listing.IsRetryable(err) {
				return RefreshCompleted, err
			}

			failures++
			r.log.WithError(err).WithField("failures", failures).Warn("page fetch failed")
			if failures >= r.retryThreshold {
				if clearErr := r.cache.ClearRemoteKeys(ctx); clearErr != nil {
					r.log.WithError(clearErr).Error("failed to clear remote keys")
				}
				return RefreshCompleted, fmt.Errorf("%w after %d consecutive failures: %w", ErrRetriesExhausted, failures, err)
			}

			if hint, ok := listing.RetryAfterHint(err); ok {
				if wait := hint.Sub(r.now()); wait > 0 {
					if sleepErr := r.sleep(ctx, wait); sleepErr != nil {
						return RefreshCompleted, sleepErr
					}
				}
			}
			continue
		}

		r.avg.Add(r.now().Sub(start).Seconds())

		if err := r.cache.UpsertServers(ctx, page.Servers); err != nil {
			return RefreshCompleted, err
		}
		if err := r.cache.SetRemoteKey(ctx, store.RemoteKey{
			Partition:   r.partition,
			NextPage:    page.NextCursor,
			PrevPage:    cursor,
			LastUpdated: r.now().UTC(),
		}); err != nil {
			return RefreshCompleted, err
		}

		failures = 0
		fetched++
		r.log.WithFields(logrus.Fields{
			"page":      fetched,
			"servers":   len(page.Servers),
			"avg_fetch": fmt.Sprintf("%.2fs", r.avg.Avg()),
		}).Debug("page merged")

		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}

	return RefreshCompleted, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
