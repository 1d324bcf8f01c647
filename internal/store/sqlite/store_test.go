package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/serverdeck/serverdeck/internal/listing"
	"github.com/serverdeck/serverdeck/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(id int64, name string) listing.Server {
	return listing.Server{
		ID:         id,
		Name:       name,
		Address:    "192.168.1.1:28015",
		Map:        "Procedural Map",
		Region:     "eu",
		Players:    120,
		MaxPlayers: 200,
		Rank:       int(id),
		LastWipe:   time.Date(2026, 8, 1, 18, 0, 0, 0, time.UTC),
	}
}

func TestStore_UpsertAndGetServer(t *testing.T) {
	s, err := NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	err = s.UpsertServers(ctx, []listing.Server{testServer(1, "Rustopia EU")})
	require.NoError(t, err)

	got, err := s.GetServer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Rustopia EU", got.Name)
	assert.Equal(t, "eu", got.Region)
	assert.False(t, got.IsFavorite)
	assert.False(t, got.IsSubscribed)

	_, err = s.GetServer(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_UpsertPreservesLocalFlags(t *testing.T) {
	s, err := NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.UpsertServers(ctx, []listing.Server{testServer(1, "Rustopia EU")}))
	require.NoError(t, s.UpdateFavorite(ctx, 1, true))
	require.NoError(t, s.UpdateSubscription(ctx, 1, true))

	// Re-fetch overwrites the record wholesale but must not touch the flags.
	refetched := testServer(1, "Rustopia EU Main")
	refetched.Players = 180
	require.NoError(t, s.UpsertServers(ctx, []listing.Server{refetched}))

	got, err := s.GetServer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Rustopia EU Main", got.Name)
	assert.Equal(t, 180, got.Players)
	assert.True(t, got.IsFavorite)
	assert.True(t, got.IsSubscribed)
}

func TestStore_UpdateFlagDoesNotDisturbOtherFields(t *testing.T) {
	s, err := NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.UpsertServers(ctx, []listing.Server{testServer(7, "Vanilla x1")}))
	require.NoError(t, s.UpdateFavorite(ctx, 7, true))

	got, err := s.GetServer(ctx, 7)
	require.NoError(t, err)
	assert.True(t, got.IsFavorite)
	assert.False(t, got.IsSubscribed)
	assert.Equal(t, "Vanilla x1", got.Name)
	assert.Equal(t, 120, got.Players)

	// Updating a missing server reports not found.
	err = s.UpdateFavorite(ctx, 999, true)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ListServers(t *testing.T) {
	s, err := NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	a := testServer(1, "Alpha")
	a.Players = 50
	b := testServer(2, "Bravo")
	b.Players = 150
	c := testServer(3, "Charlie")
	c.Players = 100
	require.NoError(t, s.UpsertServers(ctx, []listing.Server{a, b, c}))
	require.NoError(t, s.UpdateFavorite(ctx, 2, true))

	byPlayers, err := s.ListServers(ctx, store.ListOptions{Sort: listing.SortPlayers})
	require.NoError(t, err)
	require.Len(t, byPlayers, 3)
	assert.Equal(t, int64(2), byPlayers[0].ID)

	favs, err := s.ListServers(ctx, store.ListOptions{FavoritesOnly: true})
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, int64(2), favs[0].ID)

	matched, err := s.ListServers(ctx, store.ListOptions{Search: "rav"})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "Bravo", matched[0].Name)

	limited, err := s.ListServers(ctx, store.ListOptions{Sort: listing.SortRank, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	count, err := s.CountServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestStore_RemoteKeys(t *testing.T) {
	s, err := NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	_, err = s.RemoteKey(ctx, store.DefaultPartition)
	assert.ErrorIs(t, err, store.ErrNotFound)

	next := "cursor-2"
	err = s.SetRemoteKey(ctx, store.RemoteKey{
		Partition:   store.DefaultPartition,
		NextPage:    &next,
		LastUpdated: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	key, err := s.RemoteKey(ctx, store.DefaultPartition)
	require.NoError(t, err)
	require.NotNil(t, key.NextPage)
	assert.Equal(t, "cursor-2", *key.NextPage)
	assert.Nil(t, key.PrevPage)
	assert.False(t, key.LastUpdated.IsZero())

	// Replaced wholesale, nil next marks exhaustion.
	err = s.SetRemoteKey(ctx, store.RemoteKey{
		Partition:   store.DefaultPartition,
		PrevPage:    &next,
		LastUpdated: time.Now().UTC(),
	})
	require.NoError(t, err)

	key, err = s.RemoteKey(ctx, store.DefaultPartition)
	require.NoError(t, err)
	assert.Nil(t, key.NextPage)
	require.NotNil(t, key.PrevPage)

	require.NoError(t, s.ClearRemoteKeys(ctx))
	_, err = s.RemoteKey(ctx, store.DefaultPartition)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ClearServersAndKeys(t *testing.T) {
	s, err := NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.UpsertServers(ctx, []listing.Server{testServer(1, "Alpha")}))
	require.NoError(t, s.SetRemoteKey(ctx, store.RemoteKey{
		Partition:   store.DefaultPartition,
		LastUpdated: time.Now().UTC(),
	}))

	require.NoError(t, s.ClearServersAndKeys(ctx))

	count, err := s.CountServers(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = s.RemoteKey(ctx, store.DefaultPartition)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_QueueSupersession(t *testing.T) {
	s, err := NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	// Two toggles of the same target while offline collapse into one
	// queued operation carrying the most recent desired state.
	err = s.UpsertOperation(ctx, store.SyncOperation{
		Family:   store.FamilyFavorite,
		TargetID: "42",
		Add:      true,
	})
	require.NoError(t, err)

	err = s.UpsertOperation(ctx, store.SyncOperation{
		Family:   store.FamilyFavorite,
		TargetID: "42",
		Add:      false,
	})
	require.NoError(t, err)

	ops, err := s.PendingOperations(ctx, store.FamilyFavorite)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "42", ops[0].TargetID)
	assert.False(t, ops[0].Add)
	assert.Equal(t, store.OpStatePending, ops[0].State)
	assert.NotEmpty(t, ops[0].ID)
}

func TestStore_QueueFamiliesAreIndependent(t *testing.T) {
	s, err := NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.UpsertOperation(ctx, store.SyncOperation{
		Family:   store.FamilyFavorite,
		TargetID: "42",
		Add:      true,
	}))
	require.NoError(t, s.UpsertOperation(ctx, store.SyncOperation{
		Family:   store.FamilySubscription,
		TargetID: "42",
		Add:      true,
	}))
	require.NoError(t, s.UpsertOperation(ctx, store.SyncOperation{
		Family:   store.FamilyPurchase,
		TargetID: "tok-abc",
		Token:    "tok-abc",
	}))

	for _, family := range store.Families() {
		ops, err := s.PendingOperations(ctx, family)
		require.NoError(t, err)
		assert.Len(t, ops, 1, "family %s", family)
	}

	require.NoError(t, s.DeleteOperation(ctx, store.FamilyFavorite, "42"))

	ops, err := s.PendingOperations(ctx, store.FamilyFavorite)
	require.NoError(t, err)
	assert.Empty(t, ops)

	ops, err = s.PendingOperations(ctx, store.FamilySubscription)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	// Deleting an already-deleted entry is a no-op.
	require.NoError(t, s.DeleteOperation(ctx, store.FamilyFavorite, "42"))
}

func TestStore_Reminders(t *testing.T) {
	s, err := NewInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Date(2026, 8, 31, 20, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertReminder(ctx, store.Reminder{
		ID:        "r1",
		ServerID:  1,
		Label:     "raid window opens",
		FireAt:    now.Add(-time.Minute),
		CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.UpsertReminder(ctx, store.Reminder{
		ID:        "r2",
		ServerID:  2,
		FireAt:    now.Add(time.Hour),
		CreatedAt: now.Add(-time.Hour),
	}))

	due, err := s.DueReminders(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "r1", due[0].ID)
	assert.Equal(t, "raid window opens", due[0].Label)

	require.NoError(t, s.DeleteReminder(ctx, "r1"))
	due, err = s.DueReminders(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestStore_ClosedStore(t *testing.T) {
	s, err := NewInMemory()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ctx := context.Background()

	err = s.UpsertServers(ctx, []listing.Server{testServer(1, "Alpha")})
	assert.ErrorIs(t, err, store.ErrStoreClosed)

	_, err = s.PendingOperations(ctx, store.FamilyFavorite)
	assert.ErrorIs(t, err, store.ErrStoreClosed)

	// Closing twice is fine.
	assert.NoError(t, s.Close())
}
