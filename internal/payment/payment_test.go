package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tripline/internal/config"
	"tripline/internal/models"
	"tripline/internal/remote"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "webhook-test-secret"

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func testBooking() *models.Booking {
	return &models.Booking{
		ID:            "bk-1",
		UserID:        "user-1",
		ServiceName:   "Lisbon City Stay",
		ServiceType:   "hotel",
		CustomerName:  "Ana Costa",
		CustomerEmail: "ana@example.com",
		Amount:        240,
		Currency:      "EUR",
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentPending,
	}
}

func newTestInitiator(baseURL string) *Initiator {
	logger := zerolog.Nop()
	return NewInitiator(config.PaymentConfig{
		BaseURL: baseURL,
		APIKey:  "pay-key",
		Method:  "card",
	}, &logger)
}

func TestInitiate_OpensCheckoutSession(t *testing.T) {
	var got checkoutRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer pay-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(checkoutResponse{
			RedirectURL:    "https://pay.example.com/s/abc",
			TransactionRef: "txn-123",
		})
	}))
	defer server.Close()

	session, err := newTestInitiator(server.URL).Initiate(context.Background(), testBooking())
	require.NoError(t, err)

	assert.Equal(t, "https://pay.example.com/s/abc", session.RedirectURL)
	assert.Equal(t, "txn-123", session.TransactionRef)
	assert.Equal(t, "bk-1", got.BookingID)
	assert.Equal(t, 240.0, got.Amount)
	assert.Equal(t, "card", got.Method)
	assert.NotEmpty(t, got.IdempotencyKey)
}

func TestInitiate_GatewayDecline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	_, err := newTestInitiator(server.URL).Initiate(context.Background(), testBooking())
	assert.ErrorIs(t, err, ErrGatewayDeclined)
	assert.NotErrorIs(t, err, remote.ErrNetworkUnavailable)
}

func TestInitiate_GatewayOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestInitiator(server.URL).Initiate(context.Background(), testBooking())
	assert.ErrorIs(t, err, remote.ErrNetworkUnavailable)
}

func TestInitiate_GatewayUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := newTestInitiator(server.URL).Initiate(context.Background(), testBooking())
	assert.ErrorIs(t, err, remote.ErrNetworkUnavailable)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"payment.succeeded","booking_id":"bk-1","status":"paid"}`)

	assert.True(t, VerifySignature(body, sign(body, testSecret), testSecret))
	assert.False(t, VerifySignature(body, sign(body, "other-secret"), testSecret))
	assert.False(t, VerifySignature([]byte(`{"tampered":true}`), sign(body, testSecret), testSecret))
	assert.False(t, VerifySignature(body, "", testSecret))
	assert.False(t, VerifySignature(body, sign(body, testSecret), ""))

	// Bare hex without the scheme prefix is accepted too
	bare := sign(body, testSecret)[len("sha256="):]
	assert.True(t, VerifySignature(body, bare, testSecret))
}

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent([]byte(`{
		"event": "payment.succeeded",
		"booking_id": "bk-1",
		"transaction_ref": "txn-123",
		"status": "paid",
		"amount": 240,
		"currency": "EUR",
		"occurred_at": "2026-03-01T10:00:00Z"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "bk-1", event.BookingID)
	assert.Equal(t, models.PaymentPaid, event.Status)
	assert.Equal(t, "txn-123", event.TransactionRef)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), event.OccurredAt)
}

func TestParseEvent_Invalid(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseEvent([]byte(`{"status":"paid"}`))
	assert.ErrorContains(t, err, "booking_id")

	_, err = ParseEvent([]byte(`{"booking_id":"bk-1"}`))
	assert.ErrorContains(t, err, "status")
}
