package models

import "time"

// Booking mirrors one row of the remote bookings table. A booking created
// while offline has no server ID yet; it is addressed by LocalKey until the
// first successful sync assigns one.
type Booking struct {
	ID            string     `json:"id,omitempty"`
	LocalKey      string     `json:"local_key,omitempty"`
	UserID        string     `json:"user_id" validate:"required"`
	ServiceName   string     `json:"service_name" validate:"required"`
	ServiceType   string     `json:"service_type" validate:"required,oneof=flight hotel car stay event"`
	Location      string     `json:"location"`
	CustomerName  string     `json:"customer_name" validate:"required"`
	CustomerEmail string     `json:"customer_email" validate:"required,email"`
	CustomerPhone string     `json:"customer_phone"`
	StartDate     time.Time  `json:"start_date" validate:"required"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	Guests        int        `json:"guests" validate:"min=1"`
	Amount        float64    `json:"amount" validate:"min=0"`
	Currency      string     `json:"currency" validate:"required,len=3"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
	Notes         string     `json:"notes"`
	ExternalRef   string     `json:"external_ref,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Pending marks a cached row whose latest local mutation has not been
	// confirmed by the remote store yet.
	Pending bool `json:"pending,omitempty"`
}

// Key returns the server ID when present, otherwise the local correlation key.
func (b *Booking) Key() string {
	if b.ID != "" {
		return b.ID
	}
	return b.LocalKey
}

// Deletable reports whether the deletion guard allows removing the booking.
// Confirmed or completed bookings that have been paid must be cancelled and
// refunded first.
func (b *Booking) Deletable() bool {
	if b.PaymentStatus != PaymentPaid {
		return true
	}
	return b.Status != StatusConfirmed && b.Status != StatusCompleted
}

// PaymentTransitionAllowed enforces payment status monotonicity:
// pending -> paid|failed, paid -> refunded. failed and refunded are terminal.
func PaymentTransitionAllowed(from, to string) bool {
	switch from {
	case PaymentPending:
		return to == PaymentPaid || to == PaymentFailed
	case PaymentPaid:
		return to == PaymentRefunded
	default:
		return false
	}
}
