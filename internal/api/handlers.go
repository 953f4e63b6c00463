package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"tripline/internal/config"
	"tripline/internal/database"
	"tripline/internal/domain"
	"tripline/internal/models"
	"tripline/internal/payment"
	"tripline/internal/remote"
	"tripline/internal/service"
	"tripline/internal/syncer"

	"github.com/rs/zerolog"
)

// Handlers binds HTTP routes to the booking engine.
type Handlers struct {
	bookings      *service.BookingService
	sync          domain.Synchronizer
	state         *service.SyncStateService
	exporter      Exporter
	conn          domain.ConnectivityProvider
	userHeader    string
	webhookSecret string
	logger        *zerolog.Logger
}

// Exporter renders a user's bookings to a downloadable file.
type Exporter interface {
	ExportBookings(ctx context.Context, userID string) (string, error)
}

func NewHandlers(
	bookings *service.BookingService,
	sync domain.Synchronizer,
	state *service.SyncStateService,
	exporter Exporter,
	conn domain.ConnectivityProvider,
	cfg *config.Config,
	logger *zerolog.Logger,
) *Handlers {
	userHeader := strings.TrimSpace(cfg.API.Auth.HeaderUserID)
	if userHeader == "" {
		userHeader = "X-User-ID"
	}
	return &Handlers{
		bookings:      bookings,
		sync:          sync,
		state:         state,
		exporter:      exporter,
		conn:          conn,
		userHeader:    userHeader,
		webhookSecret: cfg.Payment.WebhookSecret,
		logger:        logger,
	}
}

func (h *Handlers) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(h.userHeader))
	if userID == "" {
		writeError(w, http.StatusBadRequest, h.userHeader+" header is required")
		return "", false
	}
	return userID, true
}

// writeServiceError maps the engine's error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, remote.ErrRowNotFound):
		writeError(w, http.StatusNotFound, "booking not found")
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrValidationFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, syncer.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, remote.ErrNetworkUnavailable):
		writeError(w, http.StatusServiceUnavailable, "remote store is unreachable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handlers) handleBookings(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		bookings, err := h.bookings.Bookings(r.Context(), userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings, "online": h.conn.Online()})

	case http.MethodPost:
		var booking models.Booking
		decoder := json.NewDecoder(r.Body)
		if err := decoder.Decode(&booking); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		booking.UserID = userID

		if err := h.bookings.CreateBooking(r.Context(), &booking); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, booking)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handlers) handleBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	key, verb, ok := parseBookingPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch verb {
	case "confirm":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		session, err := h.bookings.ConfirmBooking(r.Context(), userID, key)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		booking, err := h.bookings.GetBooking(r.Context(), userID, key)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, confirmResponse{Booking: booking, Payment: session})

	case "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		booking, err := h.bookings.CancelBooking(r.Context(), userID, key)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)

	case "":
		h.handleBookingByKey(w, r, userID, key)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handlers) handleBookingByKey(w http.ResponseWriter, r *http.Request, userID, key string) {
	switch r.Method {
	case http.MethodGet:
		booking, err := h.bookings.GetBooking(r.Context(), userID, key)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)

	case http.MethodPatch:
		var patch bookingPatch
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		booking, err := h.bookings.UpdateBooking(r.Context(), userID, key, patch.apply)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)

	case http.MethodDelete:
		if err := h.bookings.DeleteBooking(r.Context(), userID, key); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// bookingPatch lists the fields a client may edit; nil means unchanged.
type bookingPatch struct {
	ServiceName   *string    `json:"service_name"`
	Location      *string    `json:"location"`
	CustomerName  *string    `json:"customer_name"`
	CustomerEmail *string    `json:"customer_email"`
	CustomerPhone *string    `json:"customer_phone"`
	StartDate     *time.Time `json:"start_date"`
	EndDate       *time.Time `json:"end_date"`
	Guests        *int       `json:"guests"`
	Notes         *string    `json:"notes"`
}

func (p *bookingPatch) apply(b *models.Booking) {
	if p.ServiceName != nil {
		b.ServiceName = *p.ServiceName
	}
	if p.Location != nil {
		b.Location = *p.Location
	}
	if p.CustomerName != nil {
		b.CustomerName = *p.CustomerName
	}
	if p.CustomerEmail != nil {
		b.CustomerEmail = *p.CustomerEmail
	}
	if p.CustomerPhone != nil {
		b.CustomerPhone = *p.CustomerPhone
	}
	if p.StartDate != nil {
		b.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		b.EndDate = p.EndDate
	}
	if p.Guests != nil {
		b.Guests = *p.Guests
	}
	if p.Notes != nil {
		b.Notes = *p.Notes
	}
}

func (h *Handlers) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	result, err := h.sync.Sync(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	state, depth, err := h.state.SyncStatus(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syncStatusResponse{
		Online:       h.conn.Online(),
		Stale:        state.Stale,
		QueueDepth:   depth,
		LastSyncedAt: state.LastSyncedAt,
		LastSynced:   state.LastSynced,
		LastFailed:   state.LastFailed,
	})
}

func (h *Handlers) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	path, err := h.exporter.ExportBookings(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(path))
	http.ServeFile(w, r, path)
}

// handlePaymentWebhook is the gateway's callback. Authentication is the HMAC
// signature, not the API key.
func (h *Handlers) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Gateway-Signature")
	if !payment.VerifySignature(body, signature, h.webhookSecret) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	event, err := payment.ParseEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.bookings.ApplyPaymentResult(r.Context(), event.BookingID, event.Status); err != nil {
		// Replayed verdicts are acknowledged so the gateway stops retrying
		if errors.Is(err, service.ErrInvalidTransition) {
			h.logger.Warn().
				Str("booking_id", event.BookingID).
				Str("status", event.Status).
				Msg("duplicate or out-of-order payment webhook")
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": h.conn.Online(),
	})
}

// parseBookingPath splits /api/v1/bookings/{key}[/confirm|/cancel].
func parseBookingPath(path string) (key, verb string, ok bool) {
	const prefix = "/api/v1/bookings/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}

	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return "", "", false
		}
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}
