package models

import "time"

// SyncEntry is one queued, not-yet-confirmed mutation against the remote
// store. Entries are append-only: they are removed after the remote confirms
// the action, never edited in place.
type SyncEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Table     string    `json:"table"`
	Action    string    `json:"action"`
	BookingID string    `json:"booking_id"`
	LocalKey  string    `json:"local_key"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
