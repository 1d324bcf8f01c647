package toggle

import (
	"context"
	"sync"
	"testing"

	"github.com/serverdeck/serverdeck/internal/event"
	"github.com/serverdeck/serverdeck/internal/listing"
	"github.com/serverdeck/serverdeck/internal/store"
	"github.com/serverdeck/serverdeck/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRemote struct {
	err   error
	calls int
}

func (s *stubRemote) do() error {
	s.calls++
	return s.err
}

func (s *stubRemote) AddFavorite(ctx context.Context, id int64) error    { return s.do() }
func (s *stubRemote) RemoveFavorite(ctx context.Context, id int64) error { return s.do() }
func (s *stubRemote) Subscribe(ctx context.Context, id int64) error      { return s.do() }
func (s *stubRemote) Unsubscribe(ctx context.Context, id int64) error    { return s.do() }
func (s *stubRemote) ConfirmPurchase(ctx context.Context, token string) error {
	return s.do()
}

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []string
}

func (r *recordingScheduler) Schedule(job string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func seedServer(t *testing.T, s *sqlite.Store, id int64) {
	t.Helper()
	require.NoError(t, s.UpsertServers(context.Background(), []listing.Server{
		{ID: id, Name: "Seeded"},
	}))
}

func TestToggles_AppliedOnRemoteSuccess(t *testing.T) {
	s, err := sqlite.NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	seedServer(t, s, 42)

	remote := &stubRemote{}
	sched := &recordingScheduler{}
	toggles := NewToggles(s, remote, sched, nil)

	outcome, err := toggles.ToggleFavorite(ctx, 42, true)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	srv, err := s.GetServer(ctx, 42)
	require.NoError(t, err)
	assert.True(t, srv.IsFavorite)

	ops, err := s.PendingOperations(ctx, store.FamilyFavorite)
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Empty(t, sched.jobs)
}

func TestToggles_QueuedOnTransientFailure(t *testing.T) {
	s, err := sqlite.NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	seedServer(t, s, 42)

	remote := &stubRemote{err: listing.Transient(assert.AnError)}
	sched := &recordingScheduler{}
	var notices []event.Event
	sink := event.SinkFunc(func(e event.Event) {
		notices = append(notices, e)
	})
	toggles := NewToggles(s, remote, sched, sink)

	outcome, err := toggles.ToggleFavorite(ctx, 42, true)
	require.NoError(t, err)
	assert.Equal(t, Queued, outcome)

	// Local state reflects the intent immediately.
	srv, err := s.GetServer(ctx, 42)
	require.NoError(t, err)
	assert.True(t, srv.IsFavorite)

	ops, err := s.PendingOperations(ctx, store.FamilyFavorite)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.True(t, ops[0].Add)

	assert.Equal(t, []string{"sync:favorite"}, sched.jobs)
	require.Len(t, notices, 1)
	assert.Equal(t, event.KindQueued, notices[0].Kind)
}

func TestToggles_OfflineDoubleToggleSupersedes(t *testing.T) {
	s, err := sqlite.NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	seedServer(t, s, 42)

	remote := &stubRemote{err: listing.Transient(assert.AnError)}
	toggles := NewToggles(s, remote, nil, nil)

	_, err = toggles.ToggleFavorite(ctx, 42, true)
	require.NoError(t, err)
	_, err = toggles.ToggleFavorite(ctx, 42, false)
	require.NoError(t, err)

	// Exactly one queued operation, carrying the latest desired state.
	ops, err := s.PendingOperations(ctx, store.FamilyFavorite)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.False(t, ops[0].Add)

	srv, err := s.GetServer(ctx, 42)
	require.NoError(t, err)
	assert.False(t, srv.IsFavorite)
}

func TestToggles_FailedOnPermanentRejection(t *testing.T) {
	s, err := sqlite.NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	seedServer(t, s, 7)

	remote := &stubRemote{err: listing.Permanent("subscription_limit_exceeded", "limit reached")}
	toggles := NewToggles(s, remote, nil, nil)

	outcome, err := toggles.ToggleSubscription(ctx, 7, true)
	require.Error(t, err)
	assert.Equal(t, Failed, outcome)

	// No optimistic mutation, nothing queued.
	srv, err := s.GetServer(ctx, 7)
	require.NoError(t, err)
	assert.False(t, srv.IsSubscribed)

	ops, err := s.PendingOperations(ctx, store.FamilySubscription)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestToggles_UnknownFailureQueuesButSurfaces(t *testing.T) {
	s, err := sqlite.NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	seedServer(t, s, 42)

	remote := &stubRemote{err: &listing.RequestError{Kind: listing.KindUnknown, StatusCode: 418}}
	toggles := NewToggles(s, remote, nil, nil)

	outcome, err := toggles.ToggleFavorite(ctx, 42, true)
	assert.Equal(t, Queued, outcome)
	require.Error(t, err)

	ops, err := s.PendingOperations(ctx, store.FamilyFavorite)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestToggles_SuccessClearsStaleQueueEntry(t *testing.T) {
	s, err := sqlite.NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	seedServer(t, s, 42)

	// A prior offline toggle left an entry behind.
	require.NoError(t, s.UpsertOperation(ctx, store.SyncOperation{
		Family:   store.FamilyFavorite,
		TargetID: "42",
		Add:      true,
	}))

	remote := &stubRemote{}
	toggles := NewToggles(s, remote, nil, nil)

	outcome, err := toggles.ToggleFavorite(ctx, 42, false)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	ops, err := s.PendingOperations(ctx, store.FamilyFavorite)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestToggles_ConfirmPurchase(t *testing.T) {
	s, err := sqlite.NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	remote := &stubRemote{err: listing.Transient(assert.AnError)}
	sched := &recordingScheduler{}
	toggles := NewToggles(s, remote, sched, nil)

	outcome, err := toggles.ConfirmPurchase(ctx, "tok-abc")
	require.NoError(t, err)
	assert.Equal(t, Queued, outcome)
	assert.Equal(t, []string{"sync:purchase"}, sched.jobs)

	ops, err := s.PendingOperations(ctx, store.FamilyPurchase)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "tok-abc", ops[0].Token)

	// Connectivity returns; a direct confirm clears the queue entry.
	remote.err = nil
	outcome, err = toggles.ConfirmPurchase(ctx, "tok-abc")
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	ops, err = s.PendingOperations(ctx, store.FamilyPurchase)
	require.NoError(t, err)
	assert.Empty(t, ops)
}
