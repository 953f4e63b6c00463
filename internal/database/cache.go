package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tripline/internal/models"
)

// ReplaceUserBookings overwrites the cached mirror for a user with the given
// list in one transaction. Row order is preserved so reads return the
// server's newest-first ordering without re-sorting.
func (s *Store) ReplaceUserBookings(ctx context.Context, userID string, bookings []models.Booking) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM booking_cache WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear cache for user: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO booking_cache (user_id, booking_id, local_key, payload, position, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare cache insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i, b := range bookings {
		payload, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode booking %s: %w", b.Key(), err)
		}
		if _, err := stmt.ExecContext(ctx, userID, b.ID, b.LocalKey, string(payload), i, now); err != nil {
			return fmt.Errorf("insert cached booking: %w", err)
		}
	}

	return tx.Commit()
}

// LoadUserBookings returns the most recently saved mirror for the user, in
// saved order. An empty cache is an empty slice, not an error.
func (s *Store) LoadUserBookings(ctx context.Context, userID string) ([]models.Booking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM booking_cache WHERE user_id = ? ORDER BY position ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("load cached bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan cached booking: %w", err)
		}
		var b models.Booking
		if err := json.Unmarshal([]byte(payload), &b); err != nil {
			return nil, fmt.Errorf("decode cached booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetCachedBooking finds one cached booking by server id or local key.
func (s *Store) GetCachedBooking(ctx context.Context, userID, key string) (*models.Booking, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM booking_cache
         WHERE user_id = ? AND (booking_id = ? OR local_key = ?) LIMIT 1`,
		userID, key, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cached booking: %w", err)
	}

	var b models.Booking
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, fmt.Errorf("decode cached booking: %w", err)
	}
	return &b, nil
}

// FindCachedBooking finds one cached booking by server id or local key across
// all users. Webhooks carry no user context, so the owner comes from the row.
func (s *Store) FindCachedBooking(ctx context.Context, key string) (*models.Booking, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM booking_cache
         WHERE booking_id = ? OR local_key = ? LIMIT 1`,
		key, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find cached booking: %w", err)
	}

	var b models.Booking
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, fmt.Errorf("decode cached booking: %w", err)
	}
	return &b, nil
}

// UpsertCachedBooking writes one optimistic row. A fresh booking with no
// cached row yet is inserted before the current first position, so the
// mirror stays newest-first.
func (s *Store) UpsertCachedBooking(ctx context.Context, userID string, booking *models.Booking) error {
	payload, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("encode booking: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE booking_cache SET booking_id = ?, local_key = ?, payload = ?, updated_at = ?
         WHERE user_id = ? AND (booking_id = ? OR local_key = ?)
           AND (booking_id <> '' OR local_key <> '')`,
		booking.ID, booking.LocalKey, string(payload), time.Now(),
		userID, booking.Key(), booking.Key())
	if err != nil {
		return fmt.Errorf("update cached booking: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update cached booking: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Новая запись — добавляем в начало зеркала (свежие первыми)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO booking_cache (user_id, booking_id, local_key, payload, position, updated_at)
         VALUES (?, ?, ?, ?, COALESCE((SELECT MIN(position) FROM booking_cache WHERE user_id = ?), 1) - 1, ?)`,
		userID, booking.ID, booking.LocalKey, string(payload), userID, time.Now())
	if err != nil {
		return fmt.Errorf("insert cached booking: %w", err)
	}
	return nil
}

// DeleteCachedBooking removes one row by server id or local key.
func (s *Store) DeleteCachedBooking(ctx context.Context, userID, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM booking_cache WHERE user_id = ? AND (booking_id = ? OR local_key = ?)`,
		userID, key, key)
	if err != nil {
		return fmt.Errorf("delete cached booking: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete cached booking: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
