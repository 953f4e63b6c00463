package repository

import (
	"context"
	"sync/atomic"
	"time"

	"tripline/internal/domain"
	"tripline/internal/models"

	"github.com/rs/zerolog"
)

// FailoverStateRepository serves sync state from Redis and degrades to the
// in-memory repository while Redis is unreachable. Sync state is advisory,
// so losing it on failover is acceptable; the durable queue is not kept here.
type FailoverStateRepository struct {
	primary   domain.StateRepository
	fallback  domain.StateRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverStateRepository(primary, fallback domain.StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverStateRepository) GetSyncState(ctx context.Context, userID string) (*models.SyncState, error) {
	if !r.isDown.Load() {
		state, err := r.primary.GetSyncState(ctx, userID)
		if err == nil {
			return state, nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		state, err := r.primary.GetSyncState(ctx, userID)
		if err == nil {
			r.isDown.Store(false)
			return state, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.GetSyncState(ctx, userID)
}

func (r *FailoverStateRepository) SetSyncState(ctx context.Context, state *models.SyncState) error {
	if !r.isDown.Load() {
		err := r.primary.SetSyncState(ctx, state)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.SetSyncState(ctx, state)
}

func (r *FailoverStateRepository) ClearSyncState(ctx context.Context, userID string) error {
	if !r.isDown.Load() {
		err := r.primary.ClearSyncState(ctx, userID)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.ClearSyncState(ctx, userID)
}

func (r *FailoverStateRepository) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}
