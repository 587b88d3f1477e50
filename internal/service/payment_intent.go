package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PaymentIntentService creates one pending Payment per checkout attempt.
type PaymentIntentService struct {
	repos    *repository.Repositories
	log      *slog.Logger
	currency string
}

// NewPaymentIntentService constructs a PaymentIntentService.
func NewPaymentIntentService(repos *repository.Repositories, log *slog.Logger, currency string) *PaymentIntentService {
	return &PaymentIntentService{repos: repos, log: log, currency: currency}
}

// Create stores a pending payment and returns its id as the checkout
// reference, with the amount in minor units. References are never reused:
// a retried checkout gets a new payment.
func (s *PaymentIntentService) Create(ctx context.Context, req model.CreatePaymentIntentRequest) (*model.PaymentIntent, error) {
	req.EventID = strings.TrimSpace(req.EventID)
	req.UserID = strings.TrimSpace(req.UserID)
	switch {
	case !req.Amount.IsPositive():
		return nil, invalid("amount must be positive")
	case req.EventID == "":
		return nil, invalid("eventId is required")
	case req.UserID == "":
		return nil, invalid("userId is required")
	case (req.BookingID == "") == (req.PromotionID == ""):
		return nil, invalid("exactly one of bookingId and promotionId is required")
	}
	if req.Amount.Exponent() < -2 {
		return nil, invalid("amount has more than two decimal places")
	}

	event, err := s.repos.Events.GetByID(ctx, req.EventID)
	if err != nil {
		return nil, lookupError("event", req.EventID, err)
	}

	payment := &model.Payment{
		EventID:   event.ID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Status:    model.PaymentPending,
		ManagedBy: event.PaymentManagement,
		Currency:  s.currency,
	}
	if payment.ManagedBy == "" {
		payment.ManagedBy = model.ManagedByPlatform
	}

	if req.BookingID != "" {
		booking, err := s.repos.Bookings.GetByID(ctx, req.BookingID)
		if err != nil {
			return nil, lookupError("booking", req.BookingID, err)
		}
		if booking.EventID != event.ID {
			return nil, invalid("booking %s does not belong to event %s", booking.ID, event.ID)
		}
		if booking.Status == model.BookingCancelled {
			return nil, transitionError("booking", booking.ID, booking.Status)
		}
		if !booking.AmountDue.IsPositive() {
			return nil, transitionError("booking", booking.ID, "fully paid")
		}
		if req.Amount.GreaterThan(booking.AmountDue) {
			return nil, invalid("amount %s exceeds amount due %s", req.Amount, booking.AmountDue)
		}
		payment.BookingID = booking.ID
		payment.PlatformFee, payment.OrganizerAmount = splitFee(req.Amount, event)
	} else {
		promo, err := s.repos.Promotions.GetByID(ctx, req.PromotionID)
		if err != nil {
			return nil, lookupError("promotion", req.PromotionID, err)
		}
		// Promotion purchases are platform revenue.
		payment.PromotionID = promo.ID
		payment.ManagedBy = model.ManagedByPlatform
		payment.PlatformFee = req.Amount
		payment.OrganizerAmount = decimal.Zero
	}

	if err := s.repos.Payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	s.log.Info("payment intent created",
		"reference", payment.ID,
		"event_id", payment.EventID,
		"booking_id", payment.BookingID,
		"promotion_id", payment.PromotionID,
		"amount", payment.Amount.String(),
	)
	return &model.PaymentIntent{Reference: payment.ID, Amount: gateway.MinorUnits(payment.Amount)}, nil
}

// Get returns a payment by reference.
func (s *PaymentIntentService) Get(ctx context.Context, reference string) (*model.Payment, error) {
	if reference == "" {
		return nil, invalid("reference is required")
	}
	return s.repos.Payments.GetByID(ctx, reference)
}

// splitFee divides amount between the platform and the organizer. Manual
// events pay no platform fee.
func splitFee(amount decimal.Decimal, event *model.Event) (fee, organizer decimal.Decimal) {
	if !event.IsPlatformManaged() {
		return decimal.Zero, amount
	}
	fee = amount.Mul(event.PlatformFeePercent).Div(hundred).Round(2)
	return fee, amount.Sub(fee)
}

// lookupError turns a repository miss into ErrNotFound naming what was missing.
func lookupError(what, id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}
