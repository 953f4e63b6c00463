package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"tripline/internal/domain"
	"tripline/internal/events"
	"tripline/internal/metrics"
	"tripline/internal/models"
	"tripline/internal/remote"

	"github.com/rs/zerolog"
)

// ErrSyncInProgress is returned when a drain is already running; the caller
// relies on the next trigger to catch residual entries.
var ErrSyncInProgress = errors.New("sync already in progress")

// Synchronizer drains the offline mutation queue against the remote store
// and then re-mirrors the authoritative booking list into the local cache.
type Synchronizer struct {
	cache  domain.LocalCache
	queue  domain.SyncQueue
	remote domain.RemoteStore
	state  domain.StateRepository
	bus    *events.EventBus
	logger *zerolog.Logger

	batchSize int
	inFlight  atomic.Bool
	userID    atomic.Value // string
}

func New(cache domain.LocalCache, queue domain.SyncQueue, remoteStore domain.RemoteStore, state domain.StateRepository, bus *events.EventBus, batchSize int, logger *zerolog.Logger) *Synchronizer {
	if batchSize <= 0 {
		batchSize = models.DefaultDrainBatchSize
	}
	s := &Synchronizer{
		cache:     cache,
		queue:     queue,
		remote:    remoteStore,
		state:     state,
		bus:       bus,
		logger:    logger,
		batchSize: batchSize,
	}
	s.userID.Store("")
	return s
}

// SetUser records whose queue the reconnect trigger drains.
func (s *Synchronizer) SetUser(userID string) {
	s.userID.Store(userID)
}

// Start registers the reconnect trigger on the event bus. The drain runs in
// its own goroutine so bus publishing never blocks on network I/O.
func (s *Synchronizer) Start() {
	s.bus.Subscribe(events.EventReconnected, func(e *events.Event) error {
		userID, _ := s.userID.Load().(string)
		if userID == "" {
			return nil
		}
		go func() {
			metrics.IncDrain("reconnect")
			if _, err := s.Sync(context.Background(), userID); err != nil && !errors.Is(err, ErrSyncInProgress) {
				s.logger.Error().Err(err).Str("user_id", userID).Msg("reconnect drain failed")
			}
		}()
		return nil
	})
}

// Sync drains queued mutations in insertion order, batch by batch until the
// queue holds nothing applicable, then refreshes the local cache from the
// server of record. At most one drain runs at a time; a
// second trigger arriving mid-drain returns ErrSyncInProgress immediately.
func (s *Synchronizer) Sync(ctx context.Context, userID string) (models.SyncResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return models.SyncResult{}, ErrSyncInProgress
	}
	defer s.inFlight.Store(false)

	var result models.SyncResult

	// Server ids assigned to local keys during this drain; fetched batches
	// predate the queue rewrite and need the same retargeting
	assigned := make(map[string]string)
	// Failed entries stay queued, so later batches skip them instead of
	// retrying within the same drain
	failed := make(map[int64]bool)

	for {
		entries, err := s.queue.PendingChanges(ctx, userID, s.batchSize)
		if err != nil {
			return result, err
		}

		progressed := false
		for i := range entries {
			entry := &entries[i]
			if failed[entry.ID] {
				continue
			}
			if entry.BookingID == "" && entry.LocalKey != "" {
				if id, ok := assigned[entry.LocalKey]; ok {
					entry.BookingID = id
				}
			}
			if err := s.applyEntry(ctx, entry, assigned); err != nil {
				// Best effort: a failed entry stays queued for the next drain
				failed[entry.ID] = true
				s.logger.Error().Err(err).
					Int64("entry_id", entry.ID).
					Str("action", entry.Action).
					Str("booking_id", entry.BookingID).
					Msg("apply queued change failed, continuing")
				continue
			}

			if err := s.queue.RemoveChange(ctx, entry.ID); err != nil {
				failed[entry.ID] = true
				s.logger.Error().Err(err).Int64("entry_id", entry.ID).Msg("remove confirmed change failed")
				continue
			}
			result.Synced++
			progressed = true
		}

		// The last batch was partial, or everything left is already failed
		if len(entries) < s.batchSize || !progressed {
			break
		}
	}

	result.Failed = len(failed)
	result.Total = result.Synced + result.Failed

	metrics.AddDrainedEntries("synced", result.Synced)
	metrics.AddDrainedEntries("failed", result.Failed)

	if err := s.RefreshCache(ctx, userID); err != nil {
		// Cached data stays authoritative for reads; never cleared here
		result.FromCache = true
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("post-drain refresh failed, serving cached data")
	}

	if depth, err := s.queue.QueueDepth(ctx, userID); err == nil {
		metrics.SetQueueDepth(depth)
	}

	s.recordState(ctx, userID, result)
	return result, nil
}

// RefreshCache fetches the authoritative booking list (newest first) and
// overwrites the user's local mirror wholesale.
func (s *Synchronizer) RefreshCache(ctx context.Context, userID string) error {
	bookings, err := remote.FetchUserBookings(ctx, s.remote, userID)
	if err != nil {
		s.markStale(ctx, userID)
		return err
	}

	if err := s.cache.ReplaceUserBookings(ctx, userID, bookings); err != nil {
		return err
	}

	if err := s.bus.PublishJSON(events.EventCacheRefreshed, map[string]any{
		"user_id": userID,
		"count":   len(bookings),
	}); err != nil {
		s.logger.Error().Err(err).Msg("publish cache refresh event")
	}

	return nil
}

func (s *Synchronizer) applyEntry(ctx context.Context, entry *models.SyncEntry, assigned map[string]string) error {
	switch entry.Action {
	case models.ActionCreate:
		row, err := s.remote.Insert(ctx, entry.Table, json.RawMessage(entry.Payload))
		if err != nil {
			return err
		}
		created, err := remote.DecodeBooking(row)
		if err != nil {
			return err
		}
		if entry.LocalKey != "" && created.ID != "" {
			assigned[entry.LocalKey] = created.ID
			// Later queued updates for this local key now target the server id
			if err := s.queue.RewriteQueuedBookingID(ctx, entry.LocalKey, created.ID); err != nil {
				s.logger.Error().Err(err).Str("local_key", entry.LocalKey).Msg("rewrite queued booking id failed")
			}
		}
		return nil

	case models.ActionUpdate:
		if entry.BookingID == "" {
			return errors.New("update entry has no server id yet")
		}
		_, err := s.remote.Update(ctx, entry.Table, entry.BookingID, json.RawMessage(entry.Payload))
		return err

	case models.ActionDelete:
		if entry.BookingID == "" {
			// Never reached the server; nothing to delete remotely
			return nil
		}
		return s.remote.Delete(ctx, entry.Table, entry.BookingID)

	default:
		return errors.New("unknown queue action: " + entry.Action)
	}
}

func (s *Synchronizer) recordState(ctx context.Context, userID string, result models.SyncResult) {
	if s.state == nil {
		return
	}
	err := s.state.SetSyncState(ctx, &models.SyncState{
		UserID:       userID,
		LastSyncedAt: time.Now(),
		Stale:        result.FromCache,
		LastSynced:   result.Synced,
		LastFailed:   result.Failed,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("record sync state failed")
	}
}

func (s *Synchronizer) markStale(ctx context.Context, userID string) {
	if s.state == nil {
		return
	}
	state, err := s.state.GetSyncState(ctx, userID)
	if err != nil || state == nil {
		state = &models.SyncState{UserID: userID}
	}
	state.Stale = true
	if err := s.state.SetSyncState(ctx, state); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("mark stale failed")
	}
}
