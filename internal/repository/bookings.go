package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/shopspring/decimal"
)

// BookingRepository handles persistence for bookings.
type BookingRepository struct {
	store Store
}

// NewBookingRepository constructs a BookingRepository.
func NewBookingRepository(store Store) *BookingRepository {
	return &BookingRepository{store: store}
}

// Create inserts a new booking with a store-generated id.
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = r.store.NewID(Bookings)
	}
	if b.AppliedPayments == nil {
		b.AppliedPayments = []string{}
	}
	if err := r.store.Create(ctx, Bookings, b.ID, b); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// GetByID returns a single booking or ErrNotFound.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	if err := r.store.Get(ctx, Bookings, id, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ApplyPayment credits amount from paymentID to the booking as observed.
// The write is conditional on status and amountPaid being unchanged, so a
// concurrent credit makes it report false and the caller re-reads.
// A pending booking is confirmed in the same write.
func (r *BookingRepository) ApplyPayment(ctx context.Context, observed *model.Booking, paymentID string, amount decimal.Decimal, now time.Time) (bool, error) {
	paid := observed.AmountPaid.Add(amount)
	due := observed.TotalAmount.Sub(paid)
	paymentStatus := model.BookingPaymentPartial
	if !due.IsPositive() {
		paymentStatus = model.BookingPaymentPaid
	}
	applied := append(append([]string{}, observed.AppliedPayments...), paymentID)

	fields := Fields{
		"amountPaid":      paid,
		"amountDue":       due,
		"paymentStatus":   paymentStatus,
		"status":          model.BookingConfirmed,
		"appliedPayments": applied,
	}
	if observed.Status == model.BookingPending {
		fields["confirmedAt"] = now
	}
	return r.store.MergeIf(ctx, Bookings, observed.ID,
		Fields{"status": observed.Status, "amountPaid": observed.AmountPaid},
		fields,
	)
}

// Cancel moves a pending or confirmed booking to cancelled.
func (r *BookingRepository) Cancel(ctx context.Context, observed *model.Booking, now time.Time) (bool, error) {
	return r.store.MergeIf(ctx, Bookings, observed.ID,
		Fields{"status": observed.Status},
		Fields{"status": model.BookingCancelled, "cancelledAt": now},
	)
}

// HoldCapacity flips capacityHeld from false to true on a confirmed booking.
// Only the caller that wins may take the spaces from the event.
func (r *BookingRepository) HoldCapacity(ctx context.Context, id string) (bool, error) {
	return r.store.MergeIf(ctx, Bookings, id,
		Fields{"capacityHeld": false, "status": model.BookingConfirmed},
		Fields{"capacityHeld": true},
	)
}

// RestoreCapacityHold undoes a ReleaseCapacity whose follow-up event update failed.
func (r *BookingRepository) RestoreCapacityHold(ctx context.Context, id string) (bool, error) {
	return r.store.MergeIf(ctx, Bookings, id,
		Fields{"capacityHeld": false},
		Fields{"capacityHeld": true},
	)
}

// ReleaseCapacity flips capacityHeld from true to false. Exactly one caller
// wins, and only the winner may give the spaces back to the event.
func (r *BookingRepository) ReleaseCapacity(ctx context.Context, id string) (bool, error) {
	return r.store.MergeIf(ctx, Bookings, id,
		Fields{"capacityHeld": true},
		Fields{"capacityHeld": false},
	)
}

// ListByEvent returns all bookings of an event.
func (r *BookingRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Booking, error) {
	var bookings []model.Booking
	if err := r.store.Query(ctx, Bookings, []Filter{Where("eventId", Eq, eventID)}, &bookings); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}
