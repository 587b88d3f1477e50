package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/broker"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// refundNamespace derives refund ids from payment ids, so a retried
// cancellation finds the refunds it already created.
var refundNamespace = uuid.MustParse("a3d2b0c4-5e61-4f7a-8c9d-1b2e3f405162")

// CancellationReason is stamped on refunds created by a cancellation.
const CancellationReason = "Booking Cancellation"

// CancellationService cancels bookings, returns their capacity and raises
// refunds for what was paid.
type CancellationService struct {
	repos     *repository.Repositories
	notify    notifier
	log       *slog.Logger
	retention decimal.Decimal
	now       func() time.Time
}

// NewCancellationService constructs a CancellationService. retention is the
// non-refundable share of each payment, e.g. 0.01.
func NewCancellationService(repos *repository.Repositories, n notifier, log *slog.Logger, retention decimal.Decimal) *CancellationService {
	return &CancellationService{repos: repos, notify: n, log: log, retention: retention, now: utcNow}
}

// Cancel cancels a booking. Each step re-checks state before writing, so a
// cancellation that failed part way can be retried to completion.
//
// Only pending payments are cancelled; completed payments get an initiated
// refund of amount × (1 − retention) that waits for admin approval, and
// their organizer share is taken back off the event balance.
func (s *CancellationService) Cancel(ctx context.Context, bookingID string, req model.CancelBookingRequest) (*model.CancellationResult, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return nil, invalid("booking id is required")
	}
	if strings.TrimSpace(req.EventID) == "" {
		return nil, invalid("eventId is required")
	}

	booking, err := s.repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, lookupError("booking", bookingID, err)
	}
	switch {
	case booking.EventID != req.EventID:
		return nil, invalid("booking %s does not belong to event %s", booking.ID, req.EventID)
	case req.UserID != "" && booking.UserID != req.UserID:
		return nil, invalid("booking %s does not belong to user %s", booking.ID, req.UserID)
	case req.NumberOfPeople != 0 && booking.NumberOfPeople != req.NumberOfPeople:
		return nil, invalid("numberOfPeople %d does not match booking (%d)", req.NumberOfPeople, booking.NumberOfPeople)
	}
	if !req.AmountPaid.IsZero() && !req.AmountPaid.Equal(booking.AmountPaid) {
		s.log.Warn("cancellation amountPaid differs from booking; using booking",
			"booking_id", booking.ID, "requested", req.AmountPaid.String(), "recorded", booking.AmountPaid.String())
	}

	if err := s.cancelBooking(ctx, booking); err != nil {
		return nil, err
	}
	if err := s.releaseCapacity(ctx, booking); err != nil {
		return nil, err
	}

	payments, err := s.repos.Payments.ListByBooking(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	result := &model.CancellationResult{
		CancelledBookingID: booking.ID,
		CancelledPayments:  []string{},
		RefundIDs:          []string{},
	}
	for i := range payments {
		p := &payments[i]
		switch p.Status {
		case model.PaymentPending:
			ok, err := s.repos.Payments.Cancel(ctx, p.ID, s.now())
			if err != nil {
				return nil, fmt.Errorf("cancel payment %s: %w", p.ID, err)
			}
			if !ok {
				// Completed by a webhook in the meantime; refund it instead.
				if p, err = s.repos.Payments.GetByID(ctx, p.ID); err != nil {
					return nil, fmt.Errorf("reload payment: %w", err)
				}
				if p.Status == model.PaymentCompleted {
					id, err := s.refundPayment(ctx, booking, p)
					if err != nil {
						return nil, err
					}
					if id != "" {
						result.RefundIDs = append(result.RefundIDs, id)
					}
				}
				continue
			}
			s.notify.emit(ctx, broker.PaymentCancelled, p.ID, p.EventID, string(model.PaymentCancelled), p.Amount)
			result.CancelledPayments = append(result.CancelledPayments, p.ID)
		case model.PaymentCancelled:
			result.CancelledPayments = append(result.CancelledPayments, p.ID)
		case model.PaymentCompleted:
			id, err := s.refundPayment(ctx, booking, p)
			if err != nil {
				return nil, err
			}
			if id != "" {
				result.RefundIDs = append(result.RefundIDs, id)
			}
		}
	}

	s.log.Info("booking cancelled",
		"booking_id", booking.ID,
		"event_id", booking.EventID,
		"cancelled_payments", len(result.CancelledPayments),
		"refunds", len(result.RefundIDs),
	)
	return result, nil
}

func (s *CancellationService) cancelBooking(ctx context.Context, b *model.Booking) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if b.Status == model.BookingCancelled {
			return nil
		}
		ok, err := s.repos.Bookings.Cancel(ctx, b, s.now())
		if err != nil {
			return fmt.Errorf("cancel booking %s: %w", b.ID, err)
		}
		if ok {
			s.notify.emit(ctx, broker.BookingCancelled, b.ID, b.EventID, string(model.BookingCancelled), b.AmountPaid)
			return nil
		}
		fresh, err := s.repos.Bookings.GetByID(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("reload booking: %w", err)
		}
		*b = *fresh
	}
	return fmt.Errorf("cancel booking %s: %w", b.ID, ErrConflict)
}

// releaseCapacity gives the booking's spaces back to the event, once, and
// only if the booking was holding them.
func (s *CancellationService) releaseCapacity(ctx context.Context, b *model.Booking) error {
	ok, err := s.repos.Bookings.ReleaseCapacity(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("release capacity of booking %s: %w", b.ID, err)
	}
	if !ok {
		return nil
	}
	if err := s.repos.Events.AdjustSpaces(ctx, b.EventID, b.NumberOfPeople); err != nil {
		if _, rerr := s.repos.Bookings.RestoreCapacityHold(ctx, b.ID); rerr != nil {
			s.log.Error("restore capacity hold failed", "booking_id", b.ID, "error", rerr)
		}
		return fmt.Errorf("return %d spaces to event %s: %w", b.NumberOfPeople, b.EventID, err)
	}
	return nil
}

// refundPayment raises the refund of a completed payment and reverses the
// payment's credit to the event balance.
func (s *CancellationService) refundPayment(ctx context.Context, b *model.Booking, p *model.Payment) (string, error) {
	id, err := s.issueRefund(ctx, b, p)
	if err != nil {
		return "", err
	}
	if err := s.reverseCredit(ctx, p); err != nil {
		return "", err
	}
	return id, nil
}

// reverseCredit debits the organizer share of p from its event, once. The
// marker is claimed before the event is touched and released again if the
// event update fails. A credit still owed for p is applied later by a
// webhook replay or the drift reconciler, so the two always net to zero.
func (s *CancellationService) reverseCredit(ctx context.Context, p *model.Payment) error {
	if !creditsBalance(p) || p.BalanceReversed {
		return nil
	}
	ok, err := s.repos.Payments.SetBalanceReversed(ctx, p.ID, true)
	if err != nil {
		return fmt.Errorf("mark payment %s reversed: %w", p.ID, err)
	}
	if !ok {
		return nil
	}
	if err := s.repos.Events.AdjustBalance(ctx, p.EventID, p.OrganizerAmount.Neg()); err != nil {
		if _, uerr := s.repos.Payments.SetBalanceReversed(ctx, p.ID, false); uerr != nil {
			s.log.Error("undo balance reversal marker failed", "reference", p.ID, "error", uerr)
		}
		return fmt.Errorf("debit event %s balance: %w", p.EventID, err)
	}
	s.log.Info("event balance debited for refunded payment",
		"event_id", p.EventID, "reference", p.ID, "amount", p.OrganizerAmount.String())
	return nil
}

// creditsBalance reports whether a completed payment counts toward its
// event's collection balance.
func creditsBalance(p *model.Payment) bool {
	return p.ManagedBy == model.ManagedByPlatform &&
		p.BookingID != "" &&
		p.PromotionID == "" &&
		p.OrganizerAmount.IsPositive()
}

// issueRefund creates the cancellation refund of a completed payment and
// returns its id. The id is derived from the payment, so repeating the call
// returns the existing refund.
func (s *CancellationService) issueRefund(ctx context.Context, b *model.Booking, p *model.Payment) (string, error) {
	if !p.Amount.IsPositive() {
		return "", nil
	}
	refund := &model.Refund{
		ID:             uuid.NewSHA1(refundNamespace, []byte("cancellation:"+p.ID)).String(),
		PaymentID:      p.ID,
		BookingID:      b.ID,
		EventID:        p.EventID,
		UserID:         b.UserID,
		Amount:         RefundAmount(p.Amount, s.retention),
		OriginalAmount: p.Amount,
		Reference:      p.ID,
		Status:         model.RefundInitiated,
		Reason:         CancellationReason,
		CreatedAt:      s.now(),
	}
	err := s.repos.Refunds.Create(ctx, refund)
	if errors.Is(err, repository.ErrAlreadyExists) {
		return refund.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("create refund for payment %s: %w", p.ID, err)
	}
	s.log.Info("refund initiated", "refund_id", refund.ID, "reference", p.ID, "amount", refund.Amount.String())
	s.notify.emit(ctx, broker.RefundCreated, refund.ID, refund.EventID, string(refund.Status), refund.Amount)
	return refund.ID, nil
}

// RefundAmount is what is returned of amount after the retention share,
// rounded to two decimal places and never more than amount.
func RefundAmount(amount, retention decimal.Decimal) decimal.Decimal {
	out := amount.Mul(decimal.NewFromInt(1).Sub(retention)).Round(2)
	return decimal.Min(out, amount)
}
