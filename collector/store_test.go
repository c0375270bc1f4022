package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(context.Background(), filepath.Join(t.TempDir(), "events.db"), zap.NewNop())
	require.NoError(t, err)
	store := NewStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenDB_EmptyPath(t *testing.T) {
	_, err := OpenDB(context.Background(), "  ", nil)
	require.Error(t, err)
}

func TestOpenDB_CreatesParentDirAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "events.db")
	db, err := OpenDB(context.Background(), path, nil)
	require.NoError(t, err)
	defer closeDB(db)

	assert.True(t, db.Migrator().HasColumn(&Event{}, "card_id"))
}

func TestStore_AppendThenRecentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	body := `{"title": "Card Moved", "message": "Alice moved [Fix bug](http://x/cards/abc-123) from **Backlog** to **Doing** on ProjectX"}`
	ev, err := Parse([]byte(body))
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, ev))
	require.NotZero(t, ev.ID)
	require.False(t, ev.ReceivedAt.IsZero())

	got, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	stored := got[0]
	assert.Equal(t, ev.ID, stored.ID)
	assert.Equal(t, "Card Moved", stored.EventType)
	assert.Equal(t, "Fix bug", stored.ItemName)
	assert.Equal(t, "ProjectX", stored.BoardName)
	assert.Equal(t, "Alice", stored.UserName)
	assert.Equal(t, strPtr("abc-123"), stored.CardID)
	assert.Equal(t, strPtr("Backlog"), stored.FromList)
	assert.Equal(t, strPtr("Doing"), stored.ToList)
	assert.Equal(t, body, stored.RawPayload)
	assert.True(t, ev.ReceivedAt.Equal(stored.ReceivedAt), "received_at %v != %v", ev.ReceivedAt, stored.ReceivedAt)
}

func TestStore_EmptyObjectIsStoredWithDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev, err := Parse([]byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, ev))

	got, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Unknown", got[0].EventType)
	assert.Equal(t, "N/A", got[0].ItemName)
	assert.Equal(t, "N/A", got[0].BoardName)
	assert.Equal(t, "System", got[0].UserName)
	assert.Nil(t, got[0].CardID)
	assert.Nil(t, got[0].FromList)
	assert.Nil(t, got[0].ToList)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(got[0].RawPayload), &payload))
	assert.Empty(t, payload)
}

func TestStore_RecentIsMostRecentFirstAndMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var appended []*Event
	for i := 0; i < 15; i++ {
		ev := ParsePayload(map[string]any{"title": "Card Created", "message": fmt.Sprintf("u%d created [c%d] on EP", i, i)})
		ev.RawPayload = "{}"
		require.NoError(t, store.Append(ctx, ev))
		appended = append(appended, ev)
	}
	for i := 1; i < len(appended); i++ {
		assert.True(t, appended[i].ReceivedAt.After(appended[i-1].ReceivedAt))
		assert.Greater(t, appended[i].ID, appended[i-1].ID)
	}

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	for i, ev := range recent {
		assert.Equal(t, appended[len(appended)-1-i].ID, ev.ID)
	}

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 15)
	assert.Equal(t, appended[len(appended)-1].ID, all[0].ID)
	assert.Equal(t, appended[0].ID, all[len(all)-1].ID)
}

func TestStore_RecentClampsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ev := newDefaultEvent()
		ev.RawPayload = "{}"
		require.NoError(t, store.Append(ctx, ev))
	}

	got, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = store.Recent(ctx, MaxListLimit*10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev, err := Parse([]byte(fmt.Sprintf(`{"event":"card_created","data":{"item":{"name":"n%d","id":"%d"}}}`, i, i)))
			if err != nil {
				errs <- err
				return
			}
			errs <- store.Append(ctx, ev)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, n)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].ReceivedAt.After(all[i].ReceivedAt))
	}
}

func TestStore_ClosedDBReturnsStorageError(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	err := store.Append(context.Background(), newDefaultEvent())
	var serr *StorageError
	require.ErrorAs(t, err, &serr)

	_, err = store.Recent(context.Background(), 10)
	require.ErrorAs(t, err, &serr)

	require.Error(t, store.Ping(context.Background()))
}
