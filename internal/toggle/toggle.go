// Package toggle implements the optimistic-update entry points for
// favourite, subscription and purchase mutations.
package toggle

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/serverdeck/serverdeck/internal/event"
	"github.com/serverdeck/serverdeck/internal/listing"
	"github.com/serverdeck/serverdeck/internal/logger"
	"github.com/serverdeck/serverdeck/internal/store"
	"github.com/serverdeck/serverdeck/internal/syncer"
	"github.com/sirupsen/logrus"
)

// Remote is the set of mutation calls a toggle attempts first.
type Remote interface {
	AddFavorite(ctx context.Context, serverID int64) error
	RemoveFavorite(ctx context.Context, serverID int64) error
	Subscribe(ctx context.Context, serverID int64) error
	Unsubscribe(ctx context.Context, serverID int64) error
	ConfirmPurchase(ctx context.Context, token string) error
}

// Storage is the store surface toggles write through.
type Storage interface {
	UpdateFavorite(ctx context.Context, id int64, favorite bool) error
	UpdateSubscription(ctx context.Context, id int64, subscribed bool) error
	UpsertOperation(ctx context.Context, op store.SyncOperation) error
	DeleteOperation(ctx context.Context, family store.Family, targetID string) error
}

// Scheduler requests deferred execution of a named background job.
// Re-requesting a pending job replaces it rather than duplicating it.
type Scheduler interface {
	Schedule(job string)
}

// Outcome is the result of one toggle call.
type Outcome int

const (
	// Applied means the remote confirmed immediately and local state
	// matches the desired state.
	Applied Outcome = iota
	// Queued means the remote was unreachable; local state was applied
	// optimistically and a sync operation was queued for replay.
	Queued
	// Failed means the remote rejected the mutation permanently; local
	// state was not touched.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Queued:
		return "queued"
	default:
		return "failed"
	}
}

// Toggles holds the optimistic-update use cases.
type Toggles struct {
	storage Storage
	remote  Remote
	sched   Scheduler
	sink    event.Sink
	log     *logrus.Entry
}

// NewToggles creates the toggle use cases. sched and sink may be nil when
// no background scheduler or notice surface is attached.
func NewToggles(storage Storage, remote Remote, sched Scheduler, sink event.Sink) *Toggles {
	return &Toggles{
		storage: storage,
		remote:  remote,
		sched:   sched,
		sink:    sink,
		log:     logger.WithComponent("toggle"),
	}
}

// ToggleFavorite sets a server's favourite flag to the desired state.
func (t *Toggles) ToggleFavorite(ctx context.Context, serverID int64, desired bool) (Outcome, error) {
	call := t.remote.RemoveFavorite
	if desired {
		call = t.remote.AddFavorite
	}
	return t.toggle(ctx, store.FamilyFavorite, serverID, desired, func(ctx context.Context) error {
		return call(ctx, serverID)
	}, t.storage.UpdateFavorite)
}

// ToggleSubscription sets a server's subscription flag to the desired state.
func (t *Toggles) ToggleSubscription(ctx context.Context, serverID int64, desired bool) (Outcome, error) {
	call := t.remote.Unsubscribe
	if desired {
		call = t.remote.Subscribe
	}
	return t.toggle(ctx, store.FamilySubscription, serverID, desired, func(ctx context.Context) error {
		return call(ctx, serverID)
	}, t.storage.UpdateSubscription)
}

func (t *Toggles) toggle(
	ctx context.Context,
	family store.Family,
	serverID int64,
	desired bool,
	remoteCall func(ctx context.Context) error,
	applyLocal func(ctx context.Context, id int64, value bool) error,
) (Outcome, error) {
	targetID := strconv.FormatInt(serverID, 10)

	remoteErr := remoteCall(ctx)
	if remoteErr == nil {
		if err := applyLocal(ctx, serverID, desired); err != nil && !errors.Is(err, store.ErrNotFound) {
			return Failed, err
		}
		// Clear any stale queued operation for this target.
		if err := t.storage.DeleteOperation(ctx, family, targetID); err != nil {
			return Failed, err
		}
		return Applied, nil
	}

	if !listing.IsRetryable(remoteErr) {
		return Failed, remoteErr
	}

	// Transient or unknown: apply optimistically so the caller's surface
	// reflects the intent immediately, then queue for replay.
	if err := applyLocal(ctx, serverID, desired); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Failed, err
	}
	if err := t.storage.UpsertOperation(ctx, store.SyncOperation{
		Family:   family,
		TargetID: targetID,
		Add:      desired,
	}); err != nil {
		return Failed, err
	}

	t.schedule(family)
	t.notify(event.Event{
		Kind:     event.KindQueued,
		Message:  fmt.Sprintf("%s change saved, will sync when back online", family),
		ServerID: serverID,
	})
	t.log.WithFields(logrus.Fields{
		"family": family,
		"server": serverID,
	}).WithError(remoteErr).Debug("remote toggle failed, queued")

	// Unknown failures still queue but are surfaced to the caller.
	if reqErr, ok := listing.AsRequestError(remoteErr); ok && reqErr.Kind == listing.KindUnknown {
		return Queued, remoteErr
	}
	return Queued, nil
}

// ConfirmPurchase acknowledges a purchase token, queueing the
// confirmation when the remote is unreachable.
func (t *Toggles) ConfirmPurchase(ctx context.Context, token string) (Outcome, error) {
	remoteErr := t.remote.ConfirmPurchase(ctx, token)
	if remoteErr == nil {
		if err := t.storage.DeleteOperation(ctx, store.FamilyPurchase, token); err != nil {
			return Failed, err
		}
		return Applied, nil
	}

	if !listing.IsRetryable(remoteErr) {
		return Failed, remoteErr
	}

	if err := t.storage.UpsertOperation(ctx, store.SyncOperation{
		Family:   store.FamilyPurchase,
		TargetID: token,
		Token:    token,
	}); err != nil {
		return Failed, err
	}

	t.schedule(store.FamilyPurchase)
	t.notify(event.Event{
		Kind:    event.KindQueued,
		Message: "purchase confirmation queued, will sync when back online",
	})

	if reqErr, ok := listing.AsRequestError(remoteErr); ok && reqErr.Kind == listing.KindUnknown {
		return Queued, remoteErr
	}
	return Queued, nil
}

func (t *Toggles) schedule(family store.Family) {
	if t.sched != nil {
		t.sched.Schedule(syncer.JobName(family))
	}
}

func (t *Toggles) notify(e event.Event) {
	if t.sink != nil {
		t.sink.Notify(e)
	}
}
