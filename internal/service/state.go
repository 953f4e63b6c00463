package service

import (
	"context"

	"tripline/internal/domain"
	"tripline/internal/models"

	"github.com/rs/zerolog"
)

// SyncStateService exposes advisory sync freshness for status surfaces.
type SyncStateService struct {
	stateRepo domain.StateRepository
	queue     domain.SyncQueue
	logger    *zerolog.Logger
}

func NewSyncStateService(stateRepo domain.StateRepository, queue domain.SyncQueue, logger *zerolog.Logger) *SyncStateService {
	return &SyncStateService{
		stateRepo: stateRepo,
		queue:     queue,
		logger:    logger,
	}
}

// SyncStatus reports the user's last sync outcome together with the current
// queue depth. A user who never synced gets an empty, stale state.
func (s *SyncStateService) SyncStatus(ctx context.Context, userID string) (*models.SyncState, int, error) {
	state, err := s.stateRepo.GetSyncState(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to get sync state")
		return nil, 0, err
	}
	if state == nil {
		state = &models.SyncState{UserID: userID, Stale: true}
	}

	depth, err := s.queue.QueueDepth(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return state, depth, nil
}

// ClearSyncState drops the recorded state, typically on sign-out.
func (s *SyncStateService) ClearSyncState(ctx context.Context, userID string) error {
	return s.stateRepo.ClearSyncState(ctx, userID)
}
