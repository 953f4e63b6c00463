package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tripline/internal/config"
	"tripline/internal/database"
	"tripline/internal/domain"
	"tripline/internal/events"
	"tripline/internal/models"
	"tripline/internal/remote"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var validate = validator.New()

// BookingService is the write path for bookings. Every mutation lands in the
// local cache immediately; the remote store is updated in the same call when
// the link is up, otherwise the change is queued for the next drain.
type BookingService struct {
	cache    domain.LocalCache
	queue    domain.SyncQueue
	remote   domain.RemoteStore
	conn     domain.ConnectivityProvider
	payments domain.PaymentInitiator
	state    domain.StateRepository
	eventBus domain.EventPublisher
	logger   *zerolog.Logger

	paymentLimit  int
	paymentWindow time.Duration
}

func NewBookingService(
	cache domain.LocalCache,
	queue domain.SyncQueue,
	remoteStore domain.RemoteStore,
	conn domain.ConnectivityProvider,
	payments domain.PaymentInitiator,
	state domain.StateRepository,
	eventBus domain.EventPublisher,
	cfg config.PaymentConfig,
	logger *zerolog.Logger,
) *BookingService {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = models.PaymentRateLimit
	}
	window := time.Duration(cfg.RateWindow) * time.Second
	if window <= 0 {
		window = models.PaymentRateWindow * time.Second
	}
	return &BookingService{
		cache:         cache,
		queue:         queue,
		remote:        remoteStore,
		conn:          conn,
		payments:      payments,
		state:         state,
		eventBus:      eventBus,
		logger:        logger,
		paymentLimit:  limit,
		paymentWindow: window,
	}
}

// Bookings returns the user's cached booking list, newest first. Reads never
// touch the network.
func (s *BookingService) Bookings(ctx context.Context, userID string) ([]models.Booking, error) {
	return s.cache.LoadUserBookings(ctx, userID)
}

// GetBooking returns one cached booking by server id or local key.
func (s *BookingService) GetBooking(ctx context.Context, userID, key string) (*models.Booking, error) {
	return s.cache.GetCachedBooking(ctx, userID, key)
}

// CreateBooking validates and persists a new booking. Offline creates get a
// local correlation key and wait in the queue for a server id.
func (s *BookingService) CreateBooking(ctx context.Context, booking *models.Booking) error {
	booking.ID = ""
	booking.LocalKey = uuid.NewString()
	booking.Status = models.StatusPending
	booking.PaymentStatus = models.PaymentPending
	now := time.Now()
	booking.CreatedAt = now
	booking.UpdatedAt = now

	if err := validate.Struct(booking); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	queued, err := s.writeThrough(ctx, booking, models.ActionCreate)
	if err != nil {
		return err
	}

	s.publishMutation(booking, models.ActionCreate, queued)
	return nil
}

// UpdateBooking applies edits to an existing booking. Cancelled and completed
// bookings are immutable.
func (s *BookingService) UpdateBooking(ctx context.Context, userID, key string, apply func(*models.Booking)) (*models.Booking, error) {
	booking, err := s.cache.GetCachedBooking(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if booking.Status == models.StatusCancelled || booking.Status == models.StatusCompleted {
		return nil, fmt.Errorf("%w: %s booking is immutable", ErrInvalidTransition, booking.Status)
	}

	apply(booking)
	booking.UserID = userID
	booking.UpdatedAt = time.Now()

	if err := validate.Struct(booking); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	queued, err := s.writeThrough(ctx, booking, models.ActionUpdate)
	if err != nil {
		return nil, err
	}

	s.publishMutation(booking, models.ActionUpdate, queued)
	return booking, nil
}

// ConfirmBooking confirms a pending booking. When payment is still owed it
// opens a checkout session instead and leaves the status pending until the
// gateway verdict arrives; initiation is online-only because the gateway must
// answer. A later confirm on a resolved payment completes the transition.
func (s *BookingService) ConfirmBooking(ctx context.Context, userID, key string) (*domain.PaymentSession, error) {
	booking, err := s.cache.GetCachedBooking(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: confirm requires a pending booking, got %s", ErrInvalidTransition, booking.Status)
	}

	var session *domain.PaymentSession
	if booking.PaymentStatus == models.PaymentPending {
		allowed, err := s.state.CheckRateLimit(ctx, userID, s.paymentLimit, s.paymentWindow)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("payment rate limit check failed, allowing")
		} else if !allowed {
			return nil, ErrRateLimited
		}

		session, err = s.payments.Initiate(ctx, booking)
		if err != nil {
			return nil, err
		}
		booking.ExternalRef = session.TransactionRef
	} else {
		booking.Status = models.StatusConfirmed
	}
	booking.UpdatedAt = time.Now()

	queued, err := s.writeThrough(ctx, booking, models.ActionUpdate)
	if err != nil {
		return nil, err
	}

	s.publishMutation(booking, models.ActionUpdate, queued)
	return session, nil
}

// CancelBooking cancels a booking. A paid booking is refunded in the same
// write so the two fields never diverge.
func (s *BookingService) CancelBooking(ctx context.Context, userID, key string) (*models.Booking, error) {
	booking, err := s.cache.GetCachedBooking(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if booking.Status == models.StatusCancelled {
		return nil, fmt.Errorf("%w: booking is already cancelled", ErrInvalidTransition)
	}

	booking.Status = models.StatusCancelled
	if booking.PaymentStatus == models.PaymentPaid {
		booking.PaymentStatus = models.PaymentRefunded
	}
	booking.UpdatedAt = time.Now()

	queued, err := s.writeThrough(ctx, booking, models.ActionUpdate)
	if err != nil {
		return nil, err
	}

	s.publishMutation(booking, models.ActionUpdate, queued)
	return booking, nil
}

// DeleteBooking removes a booking, subject to the deletion guard: paid
// bookings that are confirmed or completed must be cancelled first.
func (s *BookingService) DeleteBooking(ctx context.Context, userID, key string) error {
	booking, err := s.cache.GetCachedBooking(ctx, userID, key)
	if err != nil {
		return err
	}
	if !booking.Deletable() {
		return fmt.Errorf("%w: cancel and refund the booking before deleting", ErrForbidden)
	}

	queued := false
	if s.conn.Online() && booking.ID != "" {
		err := s.remote.Delete(ctx, models.TableBookings, booking.ID)
		switch {
		case err == nil:
		case errors.Is(err, remote.ErrRowNotFound):
			// Already gone remotely; still drop the cached row
		case errors.Is(err, remote.ErrNetworkUnavailable):
			queued = true
		default:
			return err
		}
	} else {
		queued = booking.ID != ""
	}

	if err := s.cache.DeleteCachedBooking(ctx, userID, booking.Key()); err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}

	if queued || booking.ID == "" {
		// For a row the server never saw the delete trails the queued create
		// and removes whatever id the drain assigns to it
		if err := s.queue.EnqueueChange(ctx, &models.SyncEntry{
			UserID:    userID,
			Table:     models.TableBookings,
			Action:    models.ActionDelete,
			BookingID: booking.ID,
			LocalKey:  booking.LocalKey,
			Payload:   "{}",
		}); err != nil {
			return err
		}
	}

	s.publishMutation(booking, models.ActionDelete, queued)
	return nil
}

// ApplyPaymentResult folds a verified gateway verdict into the booking. The
// gateway only reports paid or failed; refunds happen through CancelBooking.
func (s *BookingService) ApplyPaymentResult(ctx context.Context, bookingID, paymentStatus string) error {
	if paymentStatus != models.PaymentPaid && paymentStatus != models.PaymentFailed {
		return fmt.Errorf("%w: unexpected gateway verdict %q", ErrInvalidTransition, paymentStatus)
	}

	booking, err := s.resolveBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if !models.PaymentTransitionAllowed(booking.PaymentStatus, paymentStatus) {
		return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, booking.PaymentStatus, paymentStatus)
	}

	booking.PaymentStatus = paymentStatus
	booking.UpdatedAt = time.Now()

	queued, err := s.writeThrough(ctx, booking, models.ActionUpdate)
	if err != nil {
		return err
	}

	if err := s.eventBus.PublishJSON(events.EventPaymentResolved, events.BookingEventPayload{
		BookingID:     booking.ID,
		LocalKey:      booking.LocalKey,
		UserID:        booking.UserID,
		Action:        models.ActionUpdate,
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
		Queued:        queued,
		At:            time.Now(),
	}); err != nil {
		s.logger.Error().Err(err).Msg("publish payment resolved event")
	}

	return nil
}

// resolveBooking locates a booking without user context. The remote row is
// authoritative while the link is up; offline the cached mirror answers and
// the verdict waits in the queue like any other edit.
func (s *BookingService) resolveBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	if s.conn.Online() {
		rows, err := s.remote.Select(ctx, models.TableBookings, map[string]string{"id": bookingID}, "")
		switch {
		case err == nil:
			if len(rows) == 0 {
				return nil, database.ErrNotFound
			}
			return remote.DecodeBooking(rows[0])
		case errors.Is(err, remote.ErrNetworkUnavailable):
			s.logger.Warn().Err(err).Str("booking_id", bookingID).Msg("remote lookup failed, using cached row")
		default:
			return nil, err
		}
	}
	return s.cache.FindCachedBooking(ctx, bookingID)
}

// writeThrough persists the booking remotely when possible, otherwise caches
// it optimistically and queues the change. The returned flag reports whether
// the change is waiting in the queue.
func (s *BookingService) writeThrough(ctx context.Context, booking *models.Booking, action string) (bool, error) {
	if s.conn.Online() {
		err := s.writeRemote(ctx, booking, action)
		if err == nil {
			booking.Pending = false
			if err := s.cache.UpsertCachedBooking(ctx, booking.UserID, booking); err != nil {
				return false, err
			}
			return false, nil
		}
		if !errors.Is(err, remote.ErrNetworkUnavailable) {
			return false, err
		}
		// The link dropped mid-call; fall back to the offline path silently
		s.logger.Warn().Err(err).Str("action", action).Msg("remote write failed, queueing change")
	}

	booking.Pending = true
	if err := s.cache.UpsertCachedBooking(ctx, booking.UserID, booking); err != nil {
		return false, err
	}

	payload, err := marshalBooking(booking)
	if err != nil {
		return false, err
	}
	if err := s.queue.EnqueueChange(ctx, &models.SyncEntry{
		UserID:    booking.UserID,
		Table:     models.TableBookings,
		Action:    action,
		BookingID: booking.ID,
		LocalKey:  booking.LocalKey,
		Payload:   payload,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *BookingService) writeRemote(ctx context.Context, booking *models.Booking, action string) error {
	switch action {
	case models.ActionCreate:
		row, err := s.remote.Insert(ctx, models.TableBookings, booking)
		if err != nil {
			return err
		}
		created, err := remote.DecodeBooking(row)
		if err != nil {
			return err
		}
		booking.ID = created.ID
		booking.CreatedAt = created.CreatedAt
		return nil

	case models.ActionUpdate:
		if booking.ID == "" {
			// Not on the server yet, only the queue can carry this change
			return remote.ErrNetworkUnavailable
		}
		_, err := s.remote.Update(ctx, models.TableBookings, booking.ID, booking)
		return err

	default:
		return fmt.Errorf("unsupported write action: %s", action)
	}
}

func marshalBooking(b *models.Booking) (string, error) {
	row := *b
	row.Pending = false // local flag, never part of the remote row
	data, err := json.Marshal(&row)
	if err != nil {
		return "", fmt.Errorf("encode booking payload: %w", err)
	}
	return string(data), nil
}

func (s *BookingService) publishMutation(booking *models.Booking, action string, queued bool) {
	if err := s.eventBus.PublishJSON(events.EventBookingMutated, events.BookingEventPayload{
		BookingID:     booking.ID,
		LocalKey:      booking.LocalKey,
		UserID:        booking.UserID,
		Action:        action,
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
		Queued:        queued,
		At:            time.Now(),
	}); err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("publish booking event")
	}
}
