package models

import "time"

// SyncResult summarizes one queue drain for caller notification
// ("N of M changes synced"). FromCache is set when the post-drain refresh
// could not reach the remote store and reads keep serving the local mirror.
type SyncResult struct {
	Total     int  `json:"total"`
	Synced    int  `json:"synced"`
	Failed    int  `json:"failed"`
	FromCache bool `json:"from_cache"`
}

// SyncState is the per-user summary of the last reconciliation with the
// server of record. Stale is set when a refresh could not reach the remote
// store and reads are being served from the local mirror.
type SyncState struct {
	UserID       string    `json:"user_id"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	Stale        bool      `json:"stale"`
	LastSynced   int       `json:"last_synced"`
	LastFailed   int       `json:"last_failed"`
}
