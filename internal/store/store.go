package store

import (
	"context"
	"errors"
	"time"

	"github.com/serverdeck/serverdeck/internal/listing"
)

// Common errors.
var (
	ErrNotFound    = errors.New("record not found")
	ErrStoreClosed = errors.New("store is closed")
)

// ServerStore persists cached server listings.
//
// UpsertServers must preserve the locally owned IsFavorite/IsSubscribed
// columns of records that already exist: listing fetches never carry flag
// truth, so a re-fetch must not clobber a user's optimistic state.
type ServerStore interface {
	UpsertServers(ctx context.Context, servers []listing.Server) error
	GetServer(ctx context.Context, id int64) (listing.Server, error)
	ListServers(ctx context.Context, opts ListOptions) ([]listing.Server, error)
	CountServers(ctx context.Context) (int64, error)

	UpdateFavorite(ctx context.Context, id int64, favorite bool) error
	UpdateSubscription(ctx context.Context, id int64, subscribed bool) error

	// ClearServersAndKeys wipes cached records and all continuation state.
	// Used on logout and explicit cache invalidation.
	ClearServersAndKeys(ctx context.Context) error
}

// RemoteKeyStore persists per-partition pagination continuation state.
type RemoteKeyStore interface {
	RemoteKey(ctx context.Context, partition string) (RemoteKey, error)
	SetRemoteKey(ctx context.Context, key RemoteKey) error
	ClearRemoteKeys(ctx context.Context) error
}

// QueueStore persists pending sync operations, one queue per family.
//
// UpsertOperation replaces any prior entry for the same (family, target)
// pair, so a later toggle supersedes an earlier queued one.
type QueueStore interface {
	PendingOperations(ctx context.Context, family Family) ([]SyncOperation, error)
	UpsertOperation(ctx context.Context, op SyncOperation) error
	DeleteOperation(ctx context.Context, family Family, targetID string) error
}

// ReminderStore persists user-defined raid reminders.
type ReminderStore interface {
	UpsertReminder(ctx context.Context, r Reminder) error
	DueReminders(ctx context.Context, now time.Time) ([]Reminder, error)
	DeleteReminder(ctx context.Context, id string) error
}

// Store is the full persistence surface of the sync core.
type Store interface {
	ServerStore
	RemoteKeyStore
	QueueStore
	ReminderStore

	Close() error
}

// ListOptions filters and pages local server queries.
type ListOptions struct {
	Sort           listing.SortKey
	FavoritesOnly  bool
	SubscribedOnly bool
	Search         string // substring match on name

	Limit  int // 0 = no limit
	Offset int
}
