package realtime

import (
	"context"
	"sync"
	"time"

	"tripline/internal/domain"
	"tripline/internal/events"
	"tripline/internal/metrics"
	"tripline/internal/models"
	"tripline/internal/syncer"

	"github.com/rs/zerolog"
)

const refreshTimeout = 15 * time.Second

// Reconciler keeps at most one open change-feed subscription, scoped to the
// active user, and folds pushed changes back into the local cache.
type Reconciler struct {
	feed   domain.RealtimeFeed
	sync   domain.Synchronizer
	bus    *events.EventBus
	retry  syncer.RetryPolicy
	logger *zerolog.Logger

	mu     sync.Mutex
	userID string
	sub    domain.Subscription
	online bool
	// gen invalidates in-flight subscribe attempts when the target changes
	gen uint64
}

func NewReconciler(feed domain.RealtimeFeed, s domain.Synchronizer, bus *events.EventBus, retry syncer.RetryPolicy, initialOnline bool, logger *zerolog.Logger) *Reconciler {
	return &Reconciler{
		feed:   feed,
		sync:   s,
		bus:    bus,
		retry:  retry,
		online: initialOnline,
		logger: logger,
	}
}

// Start wires the reconciler to connectivity transitions: the subscription
// follows the link state, closing on loss and reopening on recovery.
func (r *Reconciler) Start() {
	r.bus.Subscribe(events.EventReconnected, func(e *events.Event) error {
		r.mu.Lock()
		r.online = true
		r.closeLocked()
		userID := r.userID
		gen := r.gen
		r.mu.Unlock()

		if userID != "" {
			go r.subscribeWithRetry(userID, gen)
		}
		return nil
	})

	r.bus.Subscribe(events.EventDisconnected, func(e *events.Event) error {
		r.mu.Lock()
		r.online = false
		r.closeLocked()
		r.mu.Unlock()
		return nil
	})
}

// SetUser switches the subscription to a new user. The previous subscription
// is always closed first, so at most one is ever open.
func (r *Reconciler) SetUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	if userID == r.userID && r.sub != nil {
		r.mu.Unlock()
		return nil
	}
	r.closeLocked()
	r.userID = userID
	gen := r.gen
	online := r.online
	r.mu.Unlock()

	if userID == "" || !online {
		return nil
	}
	return r.open(ctx, userID, gen)
}

// Close tears down the current subscription, if any.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

// closeLocked bumps the generation so stale subscribe attempts abandon
// their result. Caller holds r.mu.
func (r *Reconciler) closeLocked() error {
	r.gen++
	if r.sub == nil {
		return nil
	}
	err := r.sub.Close()
	r.sub = nil
	return err
}

func (r *Reconciler) open(ctx context.Context, userID string, gen uint64) error {
	sub, err := r.feed.Subscribe(ctx, models.TableBookings, map[string]string{"user_id": userID}, r.handleChange)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.gen != gen {
		// Target changed while dialing; this subscription lost the race
		r.mu.Unlock()
		sub.Close()
		return nil
	}
	r.sub = sub
	r.mu.Unlock()

	r.logger.Info().Str("user_id", userID).Msg("realtime subscription opened")
	return nil
}

func (r *Reconciler) subscribeWithRetry(userID string, gen uint64) {
	attempts := r.retry.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		r.mu.Lock()
		stale := r.gen != gen
		r.mu.Unlock()
		if stale {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		err := r.open(ctx, userID, gen)
		cancel()
		if err == nil {
			return
		}

		r.logger.Warn().Err(err).
			Str("user_id", userID).
			Int("attempt", attempt).
			Msg("realtime subscribe failed, backing off")
		time.Sleep(r.retry.NextDelay(attempt))
	}

	r.logger.Error().Str("user_id", userID).Msg("realtime subscribe retries exhausted")
}

// handleChange re-mirrors the authoritative list after every relevant push.
// Notifications for other users' rows are dropped.
func (r *Reconciler) handleChange(event domain.ChangeEvent) {
	metrics.IncRealtimeEvent(event.Action)

	r.mu.Lock()
	userID := r.userID
	r.mu.Unlock()

	if userID == "" || (event.UserID != "" && event.UserID != userID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := r.sync.RefreshCache(ctx, userID); err != nil {
		r.logger.Warn().Err(err).
			Str("user_id", userID).
			Str("action", event.Action).
			Msg("cache refresh after realtime change failed")
	}
}
