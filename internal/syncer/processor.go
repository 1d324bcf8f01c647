// Package syncer drains the durable sync-operation queues against the
// remote service, reconciling local cache state as operations confirm.
package syncer

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/serverdeck/serverdeck/internal/listing"
	"github.com/serverdeck/serverdeck/internal/logger"
	"github.com/serverdeck/serverdeck/internal/store"
	"github.com/sirupsen/logrus"
)

// Remote is the set of mutation calls the processor can replay.
type Remote interface {
	AddFavorite(ctx context.Context, serverID int64) error
	RemoveFavorite(ctx context.Context, serverID int64) error
	Subscribe(ctx context.Context, serverID int64) error
	Unsubscribe(ctx context.Context, serverID int64) error
	ConfirmPurchase(ctx context.Context, token string) error
}

// Storage is the store surface the processor reconciles through.
type Storage interface {
	PendingOperations(ctx context.Context, family store.Family) ([]store.SyncOperation, error)
	DeleteOperation(ctx context.Context, family store.Family, targetID string) error
	UpdateFavorite(ctx context.Context, id int64, favorite bool) error
	UpdateSubscription(ctx context.Context, id int64, subscribed bool) error
}

// JobName is the stable scheduler job name of one queue family.
func JobName(family store.Family) string {
	return "sync:" + string(family)
}

// Result summarizes one processor invocation. Each family's batch outcome
// is independent: a retryable failure in one family never blocks another.
type Result struct {
	mu        sync.Mutex
	retry     map[store.Family]bool
	Confirmed int
	Discarded int
}

// NeedsRetry reports whether a family's batch should be rescheduled.
func (r *Result) NeedsRetry(family store.Family) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retry[family]
}

// RetryFamilies lists the families whose batches should be rescheduled.
func (r *Result) RetryFamilies() []store.Family {
	r.mu.Lock()
	defer r.mu.Unlock()
	var families []store.Family
	for _, f := range store.Families() {
		if r.retry[f] {
			families = append(families, f)
		}
	}
	return families
}

func (r *Result) markRetry(family store.Family) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retry[family] = true
}

func (r *Result) addConfirmed(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Confirmed += n
}

func (r *Result) addDiscarded(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Discarded += n
}

// Processor replays queued operations. Exactly-once effect per operation
// comes from the delete-on-success / delete-on-permanent rule, not from a
// lock: a re-invocation after a partial prior run simply finds the
// already-confirmed entries absent.
type Processor struct {
	storage Storage
	remote  Remote
	log     *logrus.Entry
}

// NewProcessor creates a processor over the given storage and remote.
func NewProcessor(storage Storage, remote Remote) *Processor {
	return &Processor{
		storage: storage,
		remote:  remote,
		log:     logger.WithComponent("syncer"),
	}
}

// Process drains every queue family, one goroutine per family.
func (p *Processor) Process(ctx context.Context) *Result {
	result := &Result{retry: make(map[store.Family]bool)}

	var wg sync.WaitGroup
	for _, family := range store.Families() {
		wg.Add(1)
		go func(family store.Family) {
			defer wg.Done()
			retry, err := p.processFamily(ctx, family, result)
			if err != nil {
				p.log.WithError(err).WithField("family", family).Error("queue drain failed")
				result.markRetry(family)
				return
			}
			if retry {
				result.markRetry(family)
			}
		}(family)
	}
	wg.Wait()

	return result
}

// ProcessFamily drains a single queue family. It returns true when the
// batch hit a retryable failure and should be rescheduled.
func (p *Processor) ProcessFamily(ctx context.Context, family store.Family) (bool, error) {
	result := &Result{retry: make(map[store.Family]bool)}
	return p.processFamily(ctx, family, result)
}

func (p *Processor) processFamily(ctx context.Context, family store.Family, result *Result) (bool, error) {
	ops, err := p.storage.PendingOperations(ctx, family)
	if err != nil {
		return false, err
	}

	retry := false
	for _, op := range ops {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}

		err := p.replay(ctx, op)
		switch {
		case err == nil:
			if err := p.reconcile(ctx, op); err != nil {
				return true, err
			}
			if err := p.storage.DeleteOperation(ctx, family, op.TargetID); err != nil {
				return true, err
			}
			result.addConfirmed(1)

		case !listing.IsRetryable(err):
			// Business rejections are discarded, not retried forever.
			// The optimistic local state is deliberately left in place.
			p.log.WithError(err).WithFields(logrus.Fields{
				"family": family,
				"target": op.TargetID,
			}).Warn("discarding permanently rejected operation")
			if err := p.storage.DeleteOperation(ctx, family, op.TargetID); err != nil {
				return true, err
			}
			result.addDiscarded(1)

		default:
			retry = true
		}
	}

	return retry, nil
}

// replay re-attempts the remote call an operation stands for.
func (p *Processor) replay(ctx context.Context, op store.SyncOperation) error {
	switch op.Family {
	case store.FamilyFavorite:
		id, err := strconv.ParseInt(op.TargetID, 10, 64)
		if err != nil {
			return listing.Permanent("bad_target", "malformed server id "+op.TargetID)
		}
		if op.Add {
			return p.remote.AddFavorite(ctx, id)
		}
		return p.remote.RemoveFavorite(ctx, id)

	case store.FamilySubscription:
		id, err := strconv.ParseInt(op.TargetID, 10, 64)
		if err != nil {
			return listing.Permanent("bad_target", "malformed server id "+op.TargetID)
		}
		if op.Add {
			return p.remote.Subscribe(ctx, id)
		}
		return p.remote.Unsubscribe(ctx, id)

	case store.FamilyPurchase:
		return p.remote.ConfirmPurchase(ctx, op.Token)

	default:
		return listing.Permanent("bad_family", "unknown queue family "+string(op.Family))
	}
}

// reconcile applies the confirmed operation's targeted local mutation.
// The server may have been evicted from the cache in the meantime, which
// is fine: the next fetch re-creates it without flags.
func (p *Processor) reconcile(ctx context.Context, op store.SyncOperation) error {
	switch op.Family {
	case store.FamilyFavorite:
		id, _ := strconv.ParseInt(op.TargetID, 10, 64)
		if err := p.storage.UpdateFavorite(ctx, id, op.Add); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	case store.FamilySubscription:
		id, _ := strconv.ParseInt(op.TargetID, 10, 64)
		if err := p.storage.UpdateSubscription(ctx, id, op.Add); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	// Purchases have no cached state to reconcile.
	return nil
}
