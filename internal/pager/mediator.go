// Package pager bridges the upstream paginated listing and the local
// cache: a mediator serving incremental load-more signals, and a
// refresher that eagerly walks the whole listing.
package pager

import (
	"context"
	"errors"
	"time"

	"github.com/serverdeck/serverdeck/internal/api"
	"github.com/serverdeck/serverdeck/internal/listing"
	"github.com/serverdeck/serverdeck/internal/logger"
	"github.com/serverdeck/serverdeck/internal/store"
	"github.com/sirupsen/logrus"
)

// Fetcher fetches listing pages from the upstream API.
type Fetcher interface {
	FetchPage(ctx context.Context, req api.PageRequest) (listing.Page, error)
}

// Cache is the store surface the paging pipeline writes through.
type Cache interface {
	UpsertServers(ctx context.Context, servers []listing.Server) error
	RemoteKey(ctx context.Context, partition string) (store.RemoteKey, error)
	SetRemoteKey(ctx context.Context, key store.RemoteKey) error
	ClearRemoteKeys(ctx context.Context) error
}

// LoadType tells the mediator what kind of load signal arrived.
type LoadType int

const (
	// LoadRefresh restarts pagination from the first page.
	LoadRefresh LoadType = iota
	// LoadAppend continues from the stored cursor.
	LoadAppend
)

// LoadResult is the terminal state of one load signal. A failed load is
// reported through the returned error; stored continuation state is left
// untouched so a retry resumes from the same cursor.
type LoadResult int

const (
	// LoadAppended means a page was fetched and merged into the cache.
	LoadAppended LoadResult = iota
	// LoadExhausted means the listing has no further pages.
	LoadExhausted
)

// Mediator decides whether a load-more signal needs a network fetch and
// keeps the cache and continuation state consistent when it does.
type Mediator struct {
	cache     Cache
	fetcher   Fetcher
	partition string
	pageSize  int
	sort      listing.SortKey
	now       func() time.Time
	log       *logrus.Entry
}

// MediatorOption configures the Mediator.
type MediatorOption func(*Mediator)

// WithPartition sets the remote-key partition of this paging session.
func WithPartition(partition string) MediatorOption {
	return func(m *Mediator) {
		m.partition = partition
	}
}

// WithPageSize sets the requested page size.
func WithPageSize(size int) MediatorOption {
	return func(m *Mediator) {
		m.pageSize = size
	}
}

// WithSort sets the upstream sort order.
func WithSort(sort listing.SortKey) MediatorOption {
	return func(m *Mediator) {
		m.sort = sort
	}
}

// WithClock overrides the clock (useful for testing).
func WithClock(now func() time.Time) MediatorOption {
	return func(m *Mediator) {
		m.now = now
	}
}

// NewMediator creates a paging mediator over the given cache and fetcher.
func NewMediator(cache Cache, fetcher Fetcher, opts ...MediatorOption) *Mediator {
	m := &Mediator{
		cache:     cache,
		fetcher:   fetcher,
		partition: store.DefaultPartition,
		pageSize:  defaultPageSize,
		sort:      listing.SortRank,
		now:       time.Now,
		log:       logger.WithComponent("pager"),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Load handles one load signal from the host pager.
func (m *Mediator) Load(ctx context.Context, loadType LoadType) (LoadResult, error) {
	var cursor *string
	initial := true

	if loadType == LoadAppend {
		key, err := m.cache.RemoteKey(ctx, m.partition)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// No continuation state yet: treat the append as the
			// initial load.
		case err != nil:
			return LoadAppended, err
		case key.NextPage == nil:
			return LoadExhausted, nil
		default:
			cursor = key.NextPage
			initial = false
		}
	}

	page, err := m.fetcher.FetchPage(ctx, api.PageRequest{
		Size:   m.pageSize,
		Sort:   m.sort,
		Cursor: cursor,
	})
	if err != nil {
		m.log.WithError(err).Debug("page fetch failed")
		return LoadAppended, err
	}

	if err := m.cache.UpsertServers(ctx, page.Servers); err != nil {
		return LoadAppended, err
	}

	key := store.RemoteKey{
		Partition:   m.partition,
		NextPage:    page.NextCursor,
		PrevPage:    cursor,
		LastUpdated: m.now().UTC(),
	}
	if err := m.cache.SetRemoteKey(ctx, key); err != nil {
		return LoadAppended, err
	}

	m.log.WithFields(logrus.Fields{
		"servers": len(page.Servers),
		"initial": initial,
		"more":    page.NextCursor != nil,
	}).Debug("page merged")

	if page.NextCursor == nil {
		return LoadExhausted, nil
	}
	return LoadAppended, nil
}
