package database

import (
	"context"
	"fmt"
	"time"

	"tripline/internal/models"
)

// EnqueueChange appends a mutation to the sync queue. The call returns once
// the local commit succeeds; it never talks to the network.
func (s *Store) EnqueueChange(ctx context.Context, entry *models.SyncEntry) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (user_id, tbl, action, booking_id, local_key, payload, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID,
		entry.Table,
		entry.Action,
		entry.BookingID,
		entry.LocalKey,
		entry.Payload,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue change: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = now

	return nil
}

// PendingChanges returns queued entries for the user in insertion order
// without removing them.
func (s *Store) PendingChanges(ctx context.Context, userID string, limit int) ([]models.SyncEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, tbl, action, booking_id, local_key, payload, created_at
         FROM sync_queue WHERE user_id = ? ORDER BY id ASC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending changes: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncEntry
	for rows.Next() {
		var e models.SyncEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Table, &e.Action, &e.BookingID, &e.LocalKey, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RemoveChange deletes one entry after the remote store confirmed it.
func (s *Store) RemoveChange(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove sync entry: %w", err)
	}
	return nil
}

// ClearQueue empties the user's queue. Consistency backstop only; the drain
// removes entries one by one as they are confirmed.
func (s *Store) ClearQueue(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return nil
}

// QueueDepth counts pending entries for the user.
func (s *Store) QueueDepth(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return count, nil
}

// RewriteQueuedBookingID replaces a local correlation key with the
// server-assigned id in the remaining queued entries, so updates queued
// behind an offline create target the right row once the create lands.
func (s *Store) RewriteQueuedBookingID(ctx context.Context, localKey, bookingID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET booking_id = ? WHERE local_key = ? AND booking_id = ''`,
		bookingID, localKey)
	if err != nil {
		return fmt.Errorf("failed to rewrite queued booking id: %w", err)
	}
	return nil
}
