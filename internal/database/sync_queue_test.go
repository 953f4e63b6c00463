package database

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"tripline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueueCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &models.SyncEntry{
		UserID:    "user-1",
		Table:     models.TableBookings,
		Action:    models.ActionUpdate,
		BookingID: "srv-1",
		Payload:   `{"status":"cancelled"}`,
	}

	// Enqueue
	err := store.EnqueueChange(ctx, entry)
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	// Drain reads without removing
	entries, err := store.PendingChanges(ctx, "user-1", 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "srv-1", entries[0].BookingID)

	entries, err = store.PendingChanges(ctx, "user-1", 100)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Remove by id
	require.NoError(t, store.RemoveChange(ctx, entry.ID))

	depth, err := store.QueueDepth(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestSyncQueue_FIFOOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.EnqueueChange(ctx, &models.SyncEntry{
			UserID:  "user-1",
			Table:   models.TableBookings,
			Action:  models.ActionUpdate,
			Payload: fmt.Sprintf(`{"n":%d}`, i),
		})
		require.NoError(t, err)
	}

	entries, err := store.PendingChanges(ctx, "user-1", 100)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].ID, entries[i-1].ID)
	}
}

func TestSyncQueue_ClearQueue(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, userID := range []string{"user-1", "user-1", "user-2"} {
		require.NoError(t, store.EnqueueChange(ctx, &models.SyncEntry{
			UserID: userID, Table: models.TableBookings, Action: models.ActionDelete, Payload: "{}",
		}))
	}

	require.NoError(t, store.ClearQueue(ctx, "user-1"))

	depth, err := store.QueueDepth(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, depth)

	// Other users' entries untouched
	depth, err = store.QueueDepth(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestRewriteQueuedBookingID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnqueueChange(ctx, &models.SyncEntry{
		UserID: "user-1", Table: models.TableBookings, Action: models.ActionUpdate,
		LocalKey: "local-1", Payload: "{}",
	}))

	require.NoError(t, store.RewriteQueuedBookingID(ctx, "local-1", "srv-7"))

	entries, err := store.PendingChanges(ctx, "user-1", 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "srv-7", entries[0].BookingID)
}

func TestSyncQueue_ConcurrentEnqueue(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.EnqueueChange(ctx, &models.SyncEntry{
				UserID: "user-1", Table: models.TableBookings, Action: models.ActionUpdate,
				Payload: fmt.Sprintf(`{"n":%d}`, n),
			})
		}(i)
	}
	wg.Wait()

	depth, err := store.QueueDepth(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 10, depth)
}
