package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/broker"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/shopspring/decimal"
)

// BookingIntentManager creates bookings and works out what is owed.
type BookingIntentManager struct {
	repos  *repository.Repositories
	notify notifier
	log    *slog.Logger
	now    func() time.Time
}

// NewBookingIntentManager constructs a BookingIntentManager.
func NewBookingIntentManager(repos *repository.Repositories, n notifier, log *slog.Logger) *BookingIntentManager {
	return &BookingIntentManager{repos: repos, notify: n, log: log, now: utcNow}
}

// Create validates the request and stores a new booking.
//
// Platform-managed bookings start pending and take no capacity until their
// first payment confirms them. Manual bookings are confirmed at once and
// reserve their spaces immediately.
func (m *BookingIntentManager) Create(ctx context.Context, req model.CreateBookingRequest) (*model.BookingIntent, error) {
	req.EventID = strings.TrimSpace(req.EventID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.EventID == "" {
		return nil, invalid("eventId is required")
	}
	if req.UserID == "" {
		return nil, invalid("userId is required")
	}
	if req.NumberOfPeople <= 0 {
		return nil, invalid("numberOfPeople must be a positive integer")
	}
	if req.PaymentOption == "" {
		req.PaymentOption = model.PayFull
	}
	if req.PaymentOption != model.PayFull && req.PaymentOption != model.PayDeposit {
		return nil, invalid("paymentOption must be %q or %q", model.PayFull, model.PayDeposit)
	}

	event, err := m.repos.Events.GetByID(ctx, req.EventID)
	if err != nil {
		return nil, lookupError("event", req.EventID, err)
	}
	if !event.HasSpaceFor(req.NumberOfPeople) {
		return nil, fmt.Errorf("%d requested, %d left: %w", req.NumberOfPeople, event.AvailableSpaces, ErrCapacityExceeded)
	}

	total := event.Price.Mul(decimal.NewFromInt(int64(req.NumberOfPeople)))
	toPay := total
	if req.PaymentOption == model.PayDeposit {
		if !event.DepositAmount.IsPositive() {
			return nil, invalid("event %s does not accept deposits", event.ID)
		}
		toPay = decimal.Min(event.DepositAmount.Mul(decimal.NewFromInt(int64(req.NumberOfPeople))), total)
	}

	now := m.now()
	booking := &model.Booking{
		EventID:        event.ID,
		UserID:         req.UserID,
		NumberOfPeople: req.NumberOfPeople,
		PaymentOption:  req.PaymentOption,
		TotalAmount:    total,
		AmountPaid:     decimal.Zero,
		AmountDue:      total,
		PaymentStatus:  model.BookingPaymentPending,
		Status:         model.BookingPending,
		BookingDate:    now,
	}

	if !event.IsPlatformManaged() {
		if err := m.reserve(ctx, event, req.NumberOfPeople); err != nil {
			return nil, err
		}
		booking.Status = model.BookingConfirmed
		booking.CapacityHeld = true
		booking.ConfirmedAt = &now
		toPay = decimal.Zero
	}

	if err := m.repos.Bookings.Create(ctx, booking); err != nil {
		if booking.CapacityHeld {
			if rerr := m.repos.Events.AdjustSpaces(ctx, event.ID, req.NumberOfPeople); rerr != nil {
				m.log.Error("return reserved spaces failed", "event_id", event.ID, "spaces", req.NumberOfPeople, "error", rerr)
			}
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	m.log.Info("booking created",
		"booking_id", booking.ID,
		"event_id", event.ID,
		"people", booking.NumberOfPeople,
		"status", booking.Status,
	)
	m.notify.emit(ctx, broker.BookingCreated, booking.ID, event.ID, string(booking.Status), total)
	return &model.BookingIntent{Booking: booking, AmountToPay: toPay}, nil
}

// reserve takes n spaces from the event, re-reading it when another writer
// got there first.
func (m *BookingIntentManager) reserve(ctx context.Context, event *model.Event, n int) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if !event.HasSpaceFor(n) {
			return fmt.Errorf("%d requested, %d left: %w", n, event.AvailableSpaces, ErrCapacityExceeded)
		}
		ok, err := m.repos.Events.ReserveSpaces(ctx, event, n)
		if err != nil {
			return fmt.Errorf("reserve spaces: %w", err)
		}
		if ok {
			return nil
		}
		if event, err = m.repos.Events.GetByID(ctx, event.ID); err != nil {
			return fmt.Errorf("reload event: %w", err)
		}
	}
	return fmt.Errorf("reserve spaces on event %s: %w", event.ID, ErrConflict)
}

// Get returns a single booking by id.
func (m *BookingIntentManager) Get(ctx context.Context, id string) (*model.Booking, error) {
	if id == "" {
		return nil, invalid("booking id is required")
	}
	return m.repos.Bookings.GetByID(ctx, id)
}
