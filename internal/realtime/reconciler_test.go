package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"tripline/internal/domain"
	"tripline/internal/events"
	"tripline/internal/models"
	"tripline/internal/syncer"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscription struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeFeed struct {
	mu       sync.Mutex
	subs     []*fakeSubscription
	filters  []map[string]string
	handlers []domain.ChangeHandler
	failures int
}

func (f *fakeFeed) Subscribe(ctx context.Context, table string, filter map[string]string, onChange domain.ChangeHandler) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, context.DeadlineExceeded
	}

	sub := &fakeSubscription{}
	f.subs = append(f.subs, sub)
	f.filters = append(f.filters, filter)
	f.handlers = append(f.handlers, onChange)
	return sub, nil
}

func (f *fakeFeed) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

func (f *fakeFeed) lastHandler() domain.ChangeHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handlers) == 0 {
		return nil
	}
	return f.handlers[len(f.handlers)-1]
}

type fakeRefresher struct {
	mu        sync.Mutex
	refreshed int
}

func (r *fakeRefresher) Sync(ctx context.Context, userID string) (models.SyncResult, error) {
	return models.SyncResult{}, nil
}

func (r *fakeRefresher) RefreshCache(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed++
	return nil
}

func (r *fakeRefresher) refreshCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshed
}

func setupReconciler(t *testing.T, online bool) (*Reconciler, *fakeFeed, *fakeRefresher, *events.EventBus) {
	t.Helper()

	feed := &fakeFeed{}
	refresher := &fakeRefresher{}
	bus := events.NewEventBus()
	logger := zerolog.Nop()

	retry := syncer.RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
	r := NewReconciler(feed, refresher, bus, retry, online, &logger)
	r.Start()
	t.Cleanup(func() { r.Close() })

	return r, feed, refresher, bus
}

func TestSetUser_OpensScopedSubscription(t *testing.T) {
	r, feed, _, _ := setupReconciler(t, true)

	require.NoError(t, r.SetUser(context.Background(), "user-1"))

	assert.Equal(t, 1, feed.openCount())
	assert.Equal(t, map[string]string{"user_id": "user-1"}, feed.filters[0])
}

func TestSetUser_SwitchClosesPrevious(t *testing.T) {
	r, feed, _, _ := setupReconciler(t, true)
	ctx := context.Background()

	require.NoError(t, r.SetUser(ctx, "user-1"))
	require.NoError(t, r.SetUser(ctx, "user-2"))

	assert.True(t, feed.subs[0].isClosed())
	assert.Equal(t, 1, feed.openCount())
	assert.Equal(t, map[string]string{"user_id": "user-2"}, feed.filters[1])
}

func TestSetUser_SameUserIsNoop(t *testing.T) {
	r, feed, _, _ := setupReconciler(t, true)
	ctx := context.Background()

	require.NoError(t, r.SetUser(ctx, "user-1"))
	require.NoError(t, r.SetUser(ctx, "user-1"))

	assert.Len(t, feed.subs, 1)
}

func TestSetUser_OfflineDefersSubscription(t *testing.T) {
	r, feed, _, bus := setupReconciler(t, false)

	require.NoError(t, r.SetUser(context.Background(), "user-1"))
	assert.Empty(t, feed.subs)

	require.NoError(t, bus.PublishJSON(events.EventReconnected, events.ConnectivityEventPayload{Online: true}))

	assert.Eventually(t, func() bool { return feed.openCount() == 1 }, time.Second, time.Millisecond)
}

func TestDisconnectClosesSubscription(t *testing.T) {
	r, feed, _, bus := setupReconciler(t, true)

	require.NoError(t, r.SetUser(context.Background(), "user-1"))
	require.Equal(t, 1, feed.openCount())

	require.NoError(t, bus.PublishJSON(events.EventDisconnected, events.ConnectivityEventPayload{Online: false}))
	assert.Zero(t, feed.openCount())

	// Recovery reopens for the same user
	require.NoError(t, bus.PublishJSON(events.EventReconnected, events.ConnectivityEventPayload{Online: true}))
	assert.Eventually(t, func() bool { return feed.openCount() == 1 }, time.Second, time.Millisecond)
}

func TestReconnectRetriesSubscription(t *testing.T) {
	r, feed, _, bus := setupReconciler(t, true)

	require.NoError(t, r.SetUser(context.Background(), "user-1"))
	require.NoError(t, bus.PublishJSON(events.EventDisconnected, events.ConnectivityEventPayload{Online: false}))

	feed.mu.Lock()
	feed.failures = 2
	feed.mu.Unlock()

	require.NoError(t, bus.PublishJSON(events.EventReconnected, events.ConnectivityEventPayload{Online: true}))

	// First two attempts fail, the third lands
	assert.Eventually(t, func() bool { return feed.openCount() == 1 }, time.Second, time.Millisecond)
}

func TestChangeEventRefreshesCache(t *testing.T) {
	r, feed, refresher, _ := setupReconciler(t, true)

	require.NoError(t, r.SetUser(context.Background(), "user-1"))
	handler := feed.lastHandler()
	require.NotNil(t, handler)

	handler(domain.ChangeEvent{Table: models.TableBookings, Action: models.ActionUpdate, UserID: "user-1"})
	assert.Equal(t, 1, refresher.refreshCount())

	// Pushes scoped to other users are dropped
	handler(domain.ChangeEvent{Table: models.TableBookings, Action: models.ActionUpdate, UserID: "user-2"})
	assert.Equal(t, 1, refresher.refreshCount())
}
