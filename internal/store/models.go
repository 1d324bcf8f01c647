package store

import (
	"time"
)

// DefaultPartition is the remote-key partition used by the single listing
// paging session. Filtered sessions would use their own partition ids.
const DefaultPartition = "default"

// RemoteKey is the continuation state of one paging session.
type RemoteKey struct {
	Partition   string
	NextPage    *string // nil = no more pages
	PrevPage    *string
	LastUpdated time.Time
}

// Family identifies one sync-operation queue.
type Family string

const (
	FamilyFavorite     Family = "favorite"
	FamilySubscription Family = "subscription"
	FamilyPurchase     Family = "purchase"
)

// Families lists every queue family in processing order.
func Families() []Family {
	return []Family{FamilyFavorite, FamilySubscription, FamilyPurchase}
}

// OpState is the lifecycle state of a queued operation. Completed
// operations are deleted rather than marked, so pending is the only state.
type OpState string

const OpStatePending OpState = "pending"

// SyncOperation is a durable record of an intended mutation that has not
// been confirmed by the remote service yet. At most one pending operation
// exists per (family, target): a later toggle overwrites the stored
// desired state instead of appending.
type SyncOperation struct {
	ID       string // uuid, regenerated on each upsert
	Family   Family
	TargetID string // server id for toggles, purchase token for purchases
	Add      bool   // desired state for favorite/subscription toggles
	Token    string // purchase confirmation token
	State    OpState
	QueuedAt time.Time
}

// Reminder is a user-defined raid reminder tied to a cached server.
type Reminder struct {
	ID        string
	ServerID  int64
	Label     string
	FireAt    time.Time
	CreatedAt time.Time
}
