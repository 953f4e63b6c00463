package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"tripline/internal/domain"
	"tripline/internal/models"
)

// FetchUserBookings returns the authoritative booking list for a user,
// newest-first by creation time.
func FetchUserBookings(ctx context.Context, store domain.RemoteStore, userID string) ([]models.Booking, error) {
	rows, err := store.Select(ctx, models.TableBookings,
		map[string]string{"user_id": userID}, "created_at.desc")
	if err != nil {
		return nil, err
	}

	bookings := make([]models.Booking, 0, len(rows))
	for _, row := range rows {
		var b models.Booking
		if err := json.Unmarshal(row, &b); err != nil {
			return nil, fmt.Errorf("decode booking row: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, nil
}

// DecodeBooking decodes one row returned by a write call.
func DecodeBooking(row json.RawMessage) (*models.Booking, error) {
	var b models.Booking
	if err := json.Unmarshal(row, &b); err != nil {
		return nil, fmt.Errorf("decode booking row: %w", err)
	}
	return &b, nil
}
