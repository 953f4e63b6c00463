package domain

import (
	"context"
	"encoding/json"
	"time"

	"tripline/internal/models"
)

// LocalCache is the durable, connectivity-free mirror of the user's bookings.
type LocalCache interface {
	ReplaceUserBookings(ctx context.Context, userID string, bookings []models.Booking) error
	LoadUserBookings(ctx context.Context, userID string) ([]models.Booking, error)
	GetCachedBooking(ctx context.Context, userID, key string) (*models.Booking, error)
	FindCachedBooking(ctx context.Context, key string) (*models.Booking, error)
	UpsertCachedBooking(ctx context.Context, userID string, booking *models.Booking) error
	DeleteCachedBooking(ctx context.Context, userID, key string) error
}

// SyncQueue is the durable ordered log of not-yet-confirmed mutations.
type SyncQueue interface {
	EnqueueChange(ctx context.Context, entry *models.SyncEntry) error
	PendingChanges(ctx context.Context, userID string, limit int) ([]models.SyncEntry, error)
	RemoveChange(ctx context.Context, id int64) error
	ClearQueue(ctx context.Context, userID string) error
	QueueDepth(ctx context.Context, userID string) (int, error)
	RewriteQueuedBookingID(ctx context.Context, localKey, bookingID string) error
}

// RemoteStore is the server of record, addressed by table and filters.
type RemoteStore interface {
	Select(ctx context.Context, table string, filter map[string]string, order string) ([]json.RawMessage, error)
	Insert(ctx context.Context, table string, row any) (json.RawMessage, error)
	Update(ctx context.Context, table, id string, patch any) (json.RawMessage, error)
	Delete(ctx context.Context, table, id string) error
	Ping(ctx context.Context) error
}

// ChangeEvent is one push notification from the remote store's change feed.
type ChangeEvent struct {
	Table  string    `json:"table"`
	Action string    `json:"action"`
	RowID  string    `json:"row_id"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// ChangeHandler reacts to a single change notification.
type ChangeHandler func(event ChangeEvent)

// Subscription is one open change-feed channel; Close tears it down.
type Subscription interface {
	Close() error
}

// RealtimeFeed opens change-notification subscriptions on the remote store.
type RealtimeFeed interface {
	Subscribe(ctx context.Context, table string, filter map[string]string, onChange ChangeHandler) (Subscription, error)
}

// ConnectivityProvider reports process-wide online/offline state. Injectable
// so tests can drive transitions deterministically.
type ConnectivityProvider interface {
	Online() bool
}

// Synchronizer drains the queue and refreshes the local mirror.
type Synchronizer interface {
	Sync(ctx context.Context, userID string) (models.SyncResult, error)
	RefreshCache(ctx context.Context, userID string) error
}

// PaymentSession is a freshly initiated checkout: the hosted page to send
// the customer to and the gateway reference the webhook will echo back.
type PaymentSession struct {
	RedirectURL    string `json:"redirect_url"`
	TransactionRef string `json:"transaction_ref"`
}

// PaymentInitiator opens checkout sessions at the payment gateway.
type PaymentInitiator interface {
	Initiate(ctx context.Context, booking *models.Booking) (*PaymentSession, error)
}

// StateRepository keeps advisory per-user sync state and rate limits.
type StateRepository interface {
	GetSyncState(ctx context.Context, userID string) (*models.SyncState, error)
	SetSyncState(ctx context.Context, state *models.SyncState) error
	ClearSyncState(ctx context.Context, userID string) error
	CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error)
}

// EventPublisher fans events out to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
