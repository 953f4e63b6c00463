package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WebhookEvent is the gateway's asynchronous verdict on a checkout session.
type WebhookEvent struct {
	Event          string    `json:"event"`
	BookingID      string    `json:"booking_id"`
	TransactionRef string    `json:"transaction_ref"`
	Status         string    `json:"status"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// VerifySignature checks the gateway's HMAC-SHA256 signature over the raw
// body. Comparison is constant time.
func VerifySignature(body []byte, signature, secret string) bool {
	if len(body) == 0 || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("invalid webhook body: %w", err)
	}

	if event.BookingID == "" {
		return nil, fmt.Errorf("webhook event is missing booking_id")
	}
	if event.Status == "" {
		return nil, fmt.Errorf("webhook event is missing status")
	}
	return &event, nil
}
