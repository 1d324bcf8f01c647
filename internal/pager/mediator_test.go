package pager

import (
	"context"
	"testing"

	"github.com/serverdeck/serverdeck/internal/api"
	"github.com/serverdeck/serverdeck/internal/listing"
	"github.com/serverdeck/serverdeck/internal/store"
	"github.com/serverdeck/serverdeck/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetcherFunc func(ctx context.Context, req api.PageRequest) (listing.Page, error)

func (f fetcherFunc) FetchPage(ctx context.Context, req api.PageRequest) (listing.Page, error) {
	return f(ctx, req)
}

func strPtr(s string) *string {
	return &s
}

// pagedFetcher serves a fixed sequence of pages keyed by cursor and
// counts calls.
func pagedFetcher(t *testing.T, calls *int) fetcherFunc {
	return func(ctx context.Context, req api.PageRequest) (listing.Page, error) {
		*calls++
		cursor := ""
		if req.Cursor != nil {
			cursor = *req.Cursor
		}
		switch cursor {
		case "":
			return listing.Page{
				Servers:    []listing.Server{{ID: 1, Name: "Alpha"}, {ID: 2, Name: "Bravo"}},
				NextCursor: strPtr("p2"),
			}, nil
		case "p2":
			return listing.Page{
				Servers:    []listing.Server{{ID: 3, Name: "Charlie"}},
				NextCursor: strPtr("p3"),
			}, nil
		case "p3":
			return listing.Page{
				Servers: []listing.Server{{ID: 4, Name: "Delta"}},
			}, nil
		default:
			t.Fatalf("unexpected cursor %q", cursor)
			return listing.Page{}, nil
		}
	}
}

func TestMediator_AppendWalksPages(t *testing.T) {
	cache, err := sqlite.NewInMemory()
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	calls := 0
	m := NewMediator(cache, pagedFetcher(t, &calls))

	// Initial append has no continuation state and fetches page one.
	result, err := m.Load(ctx, LoadAppend)
	require.NoError(t, err)
	assert.Equal(t, LoadAppended, result)
	assert.Equal(t, 1, calls)

	key, err := cache.RemoteKey(ctx, store.DefaultPartition)
	require.NoError(t, err)
	require.NotNil(t, key.NextPage)
	assert.Equal(t, "p2", *key.NextPage)

	result, err = m.Load(ctx, LoadAppend)
	require.NoError(t, err)
	assert.Equal(t, LoadAppended, result)

	// Final page reports exhaustion and stores a nil cursor.
	result, err = m.Load(ctx, LoadAppend)
	require.NoError(t, err)
	assert.Equal(t, LoadExhausted, result)
	assert.Equal(t, 3, calls)

	count, err := cache.CountServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	// A further append sees the nil cursor and skips the network.
	result, err = m.Load(ctx, LoadAppend)
	require.NoError(t, err)
	assert.Equal(t, LoadExhausted, result)
	assert.Equal(t, 3, calls)
}

func TestMediator_RefreshRestartsFromScratch(t *testing.T) {
	cache, err := sqlite.NewInMemory()
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	calls := 0
	m := NewMediator(cache, pagedFetcher(t, &calls))

	_, err = m.Load(ctx, LoadAppend)
	require.NoError(t, err)
	_, err = m.Load(ctx, LoadAppend)
	require.NoError(t, err)

	// Refresh ignores the stored cursor and fetches page one again.
	result, err := m.Load(ctx, LoadRefresh)
	require.NoError(t, err)
	assert.Equal(t, LoadAppended, result)

	key, err := cache.RemoteKey(ctx, store.DefaultPartition)
	require.NoError(t, err)
	require.NotNil(t, key.NextPage)
	assert.Equal(t, "p2", *key.NextPage)
}

func TestMediator_FailureLeavesCursorUntouched(t *testing.T) {
	cache, err := sqlite.NewInMemory()
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	calls := 0
	good := pagedFetcher(t, &calls)
	failing := false
	m := NewMediator(cache, fetcherFunc(func(ctx context.Context, req api.PageRequest) (listing.Page, error) {
		if failing {
			return listing.Page{}, listing.Transient(assert.AnError)
		}
		return good(ctx, req)
	}))

	_, err = m.Load(ctx, LoadAppend)
	require.NoError(t, err)

	failing = true
	_, err = m.Load(ctx, LoadAppend)
	require.Error(t, err)

	// The stored cursor still points at the page that failed, so the next
	// attempt resumes from the same place.
	key, err := cache.RemoteKey(ctx, store.DefaultPartition)
	require.NoError(t, err)
	require.NotNil(t, key.NextPage)
	assert.Equal(t, "p2", *key.NextPage)

	failing = false
	result, err := m.Load(ctx, LoadAppend)
	require.NoError(t, err)
	assert.Equal(t, LoadAppended, result)
}

func TestMediator_RefetchPreservesFlags(t *testing.T) {
	cache, err := sqlite.NewInMemory()
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	calls := 0
	m := NewMediator(cache, pagedFetcher(t, &calls))

	_, err = m.Load(ctx, LoadRefresh)
	require.NoError(t, err)
	require.NoError(t, cache.UpdateFavorite(ctx, 1, true))

	// Re-fetching the same page must not clobber the local flag.
	_, err = m.Load(ctx, LoadRefresh)
	require.NoError(t, err)

	srv, err := cache.GetServer(ctx, 1)
	require.NoError(t, err)
	assert.True(t, srv.IsFavorite)
}
