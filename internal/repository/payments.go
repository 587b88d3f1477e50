package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
)

// PaymentRepository handles persistence for payments. A payment's id is the
// checkout reference the gateway reports back.
type PaymentRepository struct {
	store Store
}

// NewPaymentRepository constructs a PaymentRepository.
func NewPaymentRepository(store Store) *PaymentRepository {
	return &PaymentRepository{store: store}
}

// Create inserts a payment, generating a fresh reference when none is set.
func (r *PaymentRepository) Create(ctx context.Context, p *model.Payment) error {
	if p.ID == "" {
		p.ID = r.store.NewID(Payments)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := r.store.Create(ctx, Payments, p.ID, p); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID returns a payment by reference or ErrNotFound.
func (r *PaymentRepository) GetByID(ctx context.Context, reference string) (*model.Payment, error) {
	var p model.Payment
	if err := r.store.Get(ctx, Payments, reference, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CompletionStamp is what the gateway told us about a successful charge.
type CompletionStamp struct {
	PaidAt   time.Time
	Channel  string
	Currency string
	Customer *model.Customer
}

// Complete transitions a pending payment to completed. It reports false when
// the payment was not pending, which is how webhook replays are detected.
func (r *PaymentRepository) Complete(ctx context.Context, reference string, stamp CompletionStamp) (bool, error) {
	return r.store.MergeIf(ctx, Payments, reference,
		Fields{"status": model.PaymentPending},
		Fields{
			"status":   model.PaymentCompleted,
			"paidAt":   stamp.PaidAt,
			"channel":  stamp.Channel,
			"currency": stamp.Currency,
			"customer": stamp.Customer,
		},
	)
}

// Cancel transitions a pending payment to cancelled.
func (r *PaymentRepository) Cancel(ctx context.Context, reference string, now time.Time) (bool, error) {
	return r.store.MergeIf(ctx, Payments, reference,
		Fields{"status": model.PaymentPending},
		Fields{"status": model.PaymentCancelled, "cancelledAt": now},
	)
}

// SetBalanceCredited flips the balanceCredited marker from !credited to credited.
func (r *PaymentRepository) SetBalanceCredited(ctx context.Context, reference string, credited bool) (bool, error) {
	return r.store.MergeIf(ctx, Payments, reference,
		Fields{"balanceCredited": !credited},
		Fields{"balanceCredited": credited},
	)
}

// SetBalanceReversed flips the balanceReversed marker from !reversed to reversed.
func (r *PaymentRepository) SetBalanceReversed(ctx context.Context, reference string, reversed bool) (bool, error) {
	return r.store.MergeIf(ctx, Payments, reference,
		Fields{"balanceReversed": !reversed},
		Fields{"balanceReversed": reversed},
	)
}

// SetPromotionApplied flips the promotionApplied marker from !applied to applied.
func (r *PaymentRepository) SetPromotionApplied(ctx context.Context, reference string, applied bool) (bool, error) {
	return r.store.MergeIf(ctx, Payments, reference,
		Fields{"promotionApplied": !applied},
		Fields{"promotionApplied": applied},
	)
}

// ListByBooking returns every payment attempt made for a booking.
func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID string) ([]model.Payment, error) {
	var payments []model.Payment
	if err := r.store.Query(ctx, Payments, []Filter{Where("bookingId", Eq, bookingID)}, &payments); err != nil {
		return nil, fmt.Errorf("list payments for booking: %w", err)
	}
	return payments, nil
}

// ListByEvent returns payments of an event in the given status.
func (r *PaymentRepository) ListByEvent(ctx context.Context, eventID string, status model.PaymentStatus) ([]model.Payment, error) {
	var payments []model.Payment
	filters := []Filter{Where("eventId", Eq, eventID), Where("status", Eq, status)}
	if err := r.store.Query(ctx, Payments, filters, &payments); err != nil {
		return nil, fmt.Errorf("list payments for event: %w", err)
	}
	return payments, nil
}

// ListPendingBefore returns pending payments created before cutoff, at most limit.
func (r *PaymentRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Payment, error) {
	var payments []model.Payment
	filters := []Filter{Where("status", Eq, model.PaymentPending), Where("createdAt", Lt, cutoff)}
	if err := r.store.Query(ctx, Payments, filters, &payments); err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}
