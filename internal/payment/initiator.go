package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tripline/internal/config"
	"tripline/internal/domain"
	"tripline/internal/metrics"
	"tripline/internal/models"
	"tripline/internal/remote"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrGatewayDeclined is returned when the gateway rejects the checkout
// request itself (bad amount, unsupported currency).
var ErrGatewayDeclined = errors.New("payment gateway declined the request")

// Initiator opens hosted checkout sessions. Initiation is strictly online:
// a gateway that cannot be reached surfaces the failure to the caller
// instead of queueing anything.
type Initiator struct {
	baseURL    string
	apiKey     string
	method     string
	httpClient *http.Client
	logger     *zerolog.Logger
}

func NewInitiator(cfg config.PaymentConfig, logger *zerolog.Logger) *Initiator {
	return &Initiator{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		method:  cfg.Method,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

type checkoutRequest struct {
	BookingID      string  `json:"booking_id"`
	IdempotencyKey string  `json:"idempotency_key"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Method         string  `json:"method"`
	Description    string  `json:"description"`
	CustomerEmail  string  `json:"customer_email"`
}

type checkoutResponse struct {
	RedirectURL    string `json:"redirect_url"`
	TransactionRef string `json:"transaction_ref"`
}

// Initiate opens a checkout session for a booking awaiting payment and
// returns where to redirect the customer.
func (i *Initiator) Initiate(ctx context.Context, booking *models.Booking) (*domain.PaymentSession, error) {
	if i.baseURL == "" {
		return nil, fmt.Errorf("payment gateway is not configured")
	}

	body, err := json.Marshal(checkoutRequest{
		BookingID:      booking.Key(),
		IdempotencyKey: uuid.NewString(),
		Amount:         booking.Amount,
		Currency:       booking.Currency,
		Method:         i.method,
		Description:    booking.ServiceName,
		CustomerEmail:  booking.CustomerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("encode checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+i.apiKey)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		metrics.IncPaymentInitiation("network_error")
		return nil, fmt.Errorf("%w: checkout request: %v", remote.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		metrics.IncPaymentInitiation("network_error")
		return nil, fmt.Errorf("%w: gateway returned %d", remote.ErrNetworkUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		metrics.IncPaymentInitiation("declined")
		return nil, fmt.Errorf("%w: status %d", ErrGatewayDeclined, resp.StatusCode)
	}

	var out checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode checkout response: %w", err)
	}
	if out.RedirectURL == "" || out.TransactionRef == "" {
		return nil, fmt.Errorf("gateway response is missing redirect url or transaction ref")
	}

	metrics.IncPaymentInitiation("initiated")
	i.logger.Info().
		Str("booking_id", booking.Key()).
		Str("transaction_ref", out.TransactionRef).
		Msg("checkout session opened")

	return &domain.PaymentSession{
		RedirectURL:    out.RedirectURL,
		TransactionRef: out.TransactionRef,
	}, nil
}
