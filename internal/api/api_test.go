package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tripline/internal/config"
	"tripline/internal/database"
	"tripline/internal/domain"
	"tripline/internal/events"
	"tripline/internal/export"
	"tripline/internal/models"
	"tripline/internal/remote"
	"tripline/internal/repository"
	"tripline/internal/service"
	"tripline/internal/syncer"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "api-test-secret"

type stubConn struct {
	online atomic.Bool
}

func (c *stubConn) Online() bool { return c.online.Load() }

type stubPayments struct{}

func (stubPayments) Initiate(ctx context.Context, booking *models.Booking) (*domain.PaymentSession, error) {
	return &domain.PaymentSession{RedirectURL: "https://pay.example.com/s/1", TransactionRef: "txn-1"}, nil
}

type stubRemote struct {
	mu     sync.Mutex
	rows   map[string]models.Booking
	nextID int
}

func newStubRemote() *stubRemote {
	return &stubRemote{rows: make(map[string]models.Booking)}
}

func (f *stubRemote) Select(ctx context.Context, table string, filter map[string]string, order string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, b := range f.rows {
		if id, ok := filter["id"]; ok && b.ID != id {
			continue
		}
		if uid, ok := filter["user_id"]; ok && b.UserID != uid {
			continue
		}
		raw, _ := json.Marshal(b)
		out = append(out, raw)
	}
	return out, nil
}

func (f *stubRemote) Insert(ctx context.Context, table string, row any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b models.Booking
	data, _ := json.Marshal(row)
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	f.nextID++
	b.ID = fmt.Sprintf("srv-%d", f.nextID)
	f.rows[b.ID] = b
	raw, _ := json.Marshal(b)
	return raw, nil
}

func (f *stubRemote) Update(ctx context.Context, table, id string, patch any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.rows[id]
	if !ok {
		return nil, remote.ErrRowNotFound
	}
	data, _ := json.Marshal(patch)
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	b.ID = id
	f.rows[id] = b
	raw, _ := json.Marshal(b)
	return raw, nil
}

func (f *stubRemote) Delete(ctx context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return remote.ErrRowNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *stubRemote) Ping(ctx context.Context) error { return nil }

type apiEnv struct {
	server *httptest.Server
	store  *database.Store
	remote *stubRemote
	conn   *stubConn
}

func setupAPI(t *testing.T, cfg config.APIConfig) *apiEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := database.NewStore(filepath.Join(dir, "tripline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &apiEnv{store: store, remote: newStubRemote(), conn: &stubConn{}}
	env.conn.online.Store(true)

	logger := zerolog.Nop()
	bus := events.NewEventBus()
	state := repository.NewMemoryStateRepository(time.Hour)

	bookingSvc := service.NewBookingService(store, store, env.remote, env.conn, stubPayments{}, state, bus, config.PaymentConfig{}, &logger)
	sync := syncer.New(store, store, env.remote, state, bus, 100, &logger)
	stateSvc := service.NewSyncStateService(state, store, &logger)
	exporter := export.NewExporter(store, config.ExportConfig{Path: filepath.Join(dir, "exports")}, &logger)

	fullCfg := &config.Config{
		API:     cfg,
		Payment: config.PaymentConfig{WebhookSecret: webhookSecret},
	}
	handlers := NewHandlers(bookingSvc, sync, stateSvc, exporter, env.conn, fullCfg, &logger)

	srv := NewHTTPServer(cfg, handlers, &logger)
	env.server = httptest.NewServer(srv.server.Handler)
	t.Cleanup(env.server.Close)

	return env
}

func (e *apiEnv) request(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "user-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func bookingBody() map[string]any {
	return map[string]any{
		"service_name":   "Sintra Day Trip",
		"service_type":   "event",
		"location":       "Sintra",
		"customer_name":  "Nuno Faria",
		"customer_email": "nuno@example.com",
		"start_date":     "2026-11-10T00:00:00Z",
		"guests":         2,
		"amount":         90,
		"currency":       "EUR",
	}
}

func decodeBooking(t *testing.T, resp *http.Response) models.Booking {
	t.Helper()
	var b models.Booking
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))
	return b
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	env := setupAPI(t, config.APIConfig{Enabled: true, Port: 0})

	resp := env.request(t, http.MethodPost, "/api/v1/bookings", bookingBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBooking(t, resp)
	assert.Equal(t, "srv-1", created.ID)
	assert.Equal(t, models.StatusPending, created.Status)

	resp = env.request(t, http.MethodGet, "/api/v1/bookings", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Bookings []models.Booking `json:"bookings"`
		Online   bool             `json:"online"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Bookings, 1)
	assert.True(t, list.Online)

	resp = env.request(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/confirm", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var confirmed confirmResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&confirmed))
	require.NotNil(t, confirmed.Payment)
	assert.Equal(t, "https://pay.example.com/s/1", confirmed.Payment.RedirectURL)

	// Checkout opened, so the booking is still awaiting its verdict
	resp = env.request(t, http.MethodGet, "/api/v1/bookings/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusPending, decodeBooking(t, resp).Status)

	resp = env.request(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decodeBooking(t, resp)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	resp = env.request(t, http.MethodDelete, "/api/v1/bookings/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	env := setupAPI(t, config.APIConfig{Enabled: true, Port: 0})

	// Unknown booking
	resp := env.request(t, http.MethodGet, "/api/v1/bookings/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Validation failure
	body := bookingBody()
	body["customer_email"] = "nope"
	resp = env.request(t, http.MethodPost, "/api/v1/bookings", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Double cancel conflicts
	resp = env.request(t, http.MethodPost, "/api/v1/bookings", bookingBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBooking(t, resp)

	resp = env.request(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.request(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Missing user header
	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/bookings", nil)
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestDeleteGuardOverHTTP(t *testing.T) {
	env := setupAPI(t, config.APIConfig{Enabled: true, Port: 0})

	resp := env.request(t, http.MethodPost, "/api/v1/bookings", bookingBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBooking(t, resp)

	resp = env.request(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/confirm", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := fmt.Sprintf(`{"event":"payment.succeeded","booking_id":"%s","transaction_ref":"txn-1","status":"paid"}`, created.ID)
	resp = env.webhook(t, payload, signBody(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Paid + confirmed must not be deletable
	resp = env.request(t, http.MethodPost, "/api/v1/bookings/"+created.ID+"/confirm", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.request(t, http.MethodDelete, "/api/v1/bookings/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func signBody(body string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (e *apiEnv) webhook(t *testing.T, body, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/webhooks/payment", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("X-Gateway-Signature", signature)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPaymentWebhook(t *testing.T) {
	env := setupAPI(t, config.APIConfig{Enabled: true, Port: 0})

	resp := env.request(t, http.MethodPost, "/api/v1/bookings", bookingBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBooking(t, resp)

	payload := fmt.Sprintf(`{"event":"payment.succeeded","booking_id":"%s","transaction_ref":"txn-1","status":"paid"}`, created.ID)

	// Wrong signature is rejected before any state change
	resp = env.webhook(t, payload, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.webhook(t, payload, signBody(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.request(t, http.MethodGet, "/api/v1/bookings/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	booking := decodeBooking(t, resp)
	assert.Equal(t, models.PaymentPaid, booking.PaymentStatus)

	// A replayed verdict is acknowledged without landing twice
	resp = env.webhook(t, payload, signBody(payload))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOfflineSyncRoundTrip(t *testing.T) {
	env := setupAPI(t, config.APIConfig{Enabled: true, Port: 0})
	env.conn.online.Store(false)

	resp := env.request(t, http.MethodPost, "/api/v1/bookings", bookingBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBooking(t, resp)
	assert.Empty(t, created.ID)
	assert.True(t, created.Pending)

	resp = env.request(t, http.MethodGet, "/api/v1/sync/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status syncStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.False(t, status.Online)
	assert.Equal(t, 1, status.QueueDepth)

	env.conn.online.Store(true)
	resp = env.request(t, http.MethodPost, "/api/v1/sync", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result models.SyncResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 1, result.Synced)

	resp = env.request(t, http.MethodGet, "/api/v1/sync/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Zero(t, status.QueueDepth)

	resp = env.request(t, http.MethodGet, "/api/v1/bookings", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Bookings []models.Booking `json:"bookings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Bookings, 1)
	assert.Equal(t, "srv-1", list.Bookings[0].ID)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderUserID: "X-User-ID",
			APIKeys: []config.APIClientKey{
				{Key: "full-access", Name: "storefront", Permissions: []string{"read:bookings", "write:bookings", "sync"}},
				{Key: "read-only", Name: "dashboard", Permissions: []string{"read:bookings"}},
			},
		},
	}
	env := setupAPI(t, cfg)

	// No key
	resp := env.request(t, http.MethodGet, "/api/v1/bookings", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong key
	resp = env.request(t, http.MethodGet, "/api/v1/bookings", nil, map[string]string{"X-API-Key": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Read allowed, write denied for the read-only key
	resp = env.request(t, http.MethodGet, "/api/v1/bookings", nil, map[string]string{"X-API-Key": "read-only"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.request(t, http.MethodPost, "/api/v1/bookings", bookingBody(), map[string]string{"X-API-Key": "read-only"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Full access key can write
	resp = env.request(t, http.MethodPost, "/api/v1/bookings", bookingBody(), map[string]string{"X-API-Key": "full-access"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Webhook and health bypass API-key auth
	resp = env.request(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimitOverHTTP(t *testing.T) {
	cfg := config.APIConfig{
		Enabled:   true,
		RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 2},
	}
	env := setupAPI(t, cfg)

	limited := false
	for i := 0; i < 5; i++ {
		resp := env.request(t, http.MethodGet, "/api/v1/bookings", nil, nil)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

func TestExportEndpoint(t *testing.T) {
	env := setupAPI(t, config.APIConfig{Enabled: true, Port: 0})

	resp := env.request(t, http.MethodPost, "/api/v1/bookings", bookingBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.request(t, http.MethodGet, "/api/v1/bookings/export", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
}

func TestPatchBooking(t *testing.T) {
	env := setupAPI(t, config.APIConfig{Enabled: true, Port: 0})

	resp := env.request(t, http.MethodPost, "/api/v1/bookings", bookingBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBooking(t, resp)

	resp = env.request(t, http.MethodPatch, "/api/v1/bookings/"+created.ID, map[string]any{"guests": 4, "notes": "window seat"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBooking(t, resp)
	assert.Equal(t, 4, updated.Guests)
	assert.Equal(t, "window seat", updated.Notes)

	// Unknown fields are rejected
	resp = env.request(t, http.MethodPatch, "/api/v1/bookings/"+created.ID, map[string]any{"status": "completed"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
