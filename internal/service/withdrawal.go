package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/broker"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// WithdrawalPayoutService handles organizer payouts against an event's
// collection balance.
type WithdrawalPayoutService struct {
	repos    *repository.Repositories
	gw       gateway.Client
	notify   notifier
	log      *slog.Logger
	feeRate  decimal.Decimal
	minFee   decimal.Decimal
	platform string
	now      func() time.Time

	// sf collapses concurrent approvals of one withdrawal.
	sf singleflight.Group
}

// NewWithdrawalPayoutService constructs a WithdrawalPayoutService.
func NewWithdrawalPayoutService(repos *repository.Repositories, gw gateway.Client, n notifier, log *slog.Logger, cfg Settings) *WithdrawalPayoutService {
	platform := nonSlug.ReplaceAllString(strings.ToLower(cfg.PlatformName), "")
	if platform == "" {
		platform = "platform"
	}
	return &WithdrawalPayoutService{
		repos:    repos,
		gw:       gw,
		notify:   n,
		log:      log,
		feeRate:  cfg.WithdrawalFeeRate,
		minFee:   cfg.WithdrawalMinFee,
		platform: platform,
		now:      utcNow,
	}
}

// WithdrawalFee is max(amount × rate, minFee), rounded to two places.
func WithdrawalFee(amount, rate, minFee decimal.Decimal) decimal.Decimal {
	return decimal.Max(amount.Mul(rate).Round(2), minFee)
}

// Request creates a pending withdrawal. The amount may not exceed the event's
// collection balance less what is already pending or processing.
func (s *WithdrawalPayoutService) Request(ctx context.Context, req model.CreateWithdrawalRequest) (*model.Withdrawal, error) {
	req.OrganizerID = strings.TrimSpace(req.OrganizerID)
	req.EventReference = strings.TrimSpace(req.EventReference)
	switch {
	case req.OrganizerID == "":
		return nil, invalid("organizerId is required")
	case req.EventReference == "":
		return nil, invalid("eventReference is required")
	case !req.Amount.IsPositive():
		return nil, invalid("amount must be positive")
	case req.AccountDetails.AccountNumber == "" || req.AccountDetails.BankCode == "":
		return nil, invalid("accountDetails.accountNumber and accountDetails.bankCode are required")
	case req.AccountDetails.AccountName == "":
		return nil, invalid("accountDetails.accountName is required")
	}

	event, err := s.repos.Events.GetByID(ctx, req.EventReference)
	if err != nil {
		return nil, lookupError("event", req.EventReference, err)
	}
	if event.OrganizerID != req.OrganizerID {
		return nil, invalid("event %s is not owned by organizer %s", event.ID, req.OrganizerID)
	}

	available, err := s.available(ctx, event, "")
	if err != nil {
		return nil, err
	}
	if req.Amount.GreaterThan(available) {
		return nil, fmt.Errorf("requested %s, available %s: %w", req.Amount, available, ErrInsufficientBalance)
	}

	fee := WithdrawalFee(req.Amount, s.feeRate, s.minFee)
	net := req.Amount.Sub(fee)
	if !net.IsPositive() {
		return nil, invalid("amount %s does not cover the withdrawal fee %s", req.Amount, fee)
	}

	w := &model.Withdrawal{
		OrganizerID:    req.OrganizerID,
		EventReference: event.ID,
		Amount:         req.Amount,
		PlatformFee:    fee,
		NetAmount:      net,
		Status:         model.WithdrawalPending,
		AccountDetails: req.AccountDetails,
		CreatedAt:      s.now(),
	}
	if err := s.repos.Withdrawals.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}
	s.log.Info("withdrawal requested",
		"withdrawal_id", w.ID,
		"event_id", event.ID,
		"amount", w.Amount.String(),
		"fee", fee.String(),
	)
	s.notify.emit(ctx, broker.WithdrawalRequested, w.ID, event.ID, string(w.Status), w.Amount)
	return w, nil
}

// available is the event balance not yet committed to other withdrawals.
// exclude leaves one withdrawal out of the sum.
func (s *WithdrawalPayoutService) available(ctx context.Context, event *model.Event, exclude string) (decimal.Decimal, error) {
	open, err := s.repos.Withdrawals.ListByEvent(ctx, event.ID, model.WithdrawalPending, model.WithdrawalProcessing)
	if err != nil {
		return decimal.Zero, err
	}
	committed := decimal.Zero
	for _, w := range open {
		if w.ID != exclude {
			committed = committed.Add(w.Amount)
		}
	}
	return event.CollectionBalance.Sub(committed), nil
}

// Approve starts the gateway transfer for a pending withdrawal. The transfer
// reference is fixed on the first attempt and reused by every retry, so a
// repeated approval cannot pay twice. The withdrawal stays pending until the
// gateway accepts and completes only on the transfer.success webhook.
func (s *WithdrawalPayoutService) Approve(ctx context.Context, id, adminID string) (*model.Withdrawal, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("withdrawal id is required")
	}
	if strings.TrimSpace(adminID) == "" {
		return nil, invalid("adminId is required")
	}
	// The shared call outlives any one caller; cancelling the first request
	// must not fail the others waiting on it.
	v, err, _ := s.sf.Do(id, func() (any, error) {
		return s.approve(context.WithoutCancel(ctx), id, adminID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Withdrawal), nil
}

func (s *WithdrawalPayoutService) approve(ctx context.Context, id, adminID string) (*model.Withdrawal, error) {
	w, err := s.repos.Withdrawals.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("withdrawal", id, err)
	}
	if w.Status != model.WithdrawalPending {
		return nil, transitionError("withdrawal", id, w.Status)
	}

	if w.TransferReference == "" {
		event, err := s.repos.Events.GetByID(ctx, w.EventReference)
		if err != nil {
			return nil, lookupError("event", w.EventReference, err)
		}
		available, err := s.available(ctx, event, w.ID)
		if err != nil {
			return nil, err
		}
		if w.Amount.GreaterThan(available) {
			return nil, fmt.Errorf("withdrawal %s needs %s, available %s: %w", w.ID, w.Amount, available, ErrInsufficientBalance)
		}
	}

	// The recipient comes first: a withdrawal whose account the gateway
	// refuses has no transfer reference and can still be rejected.
	recipient, err := s.gw.CreateTransferRecipient(ctx, w.AccountDetails)
	if err != nil {
		s.log.Error("create transfer recipient failed", "withdrawal_id", id, "error", err)
		return nil, err
	}

	ref := w.TransferReference
	if ref == "" {
		ref = s.transferReference()
		ok, err := s.repos.Withdrawals.AssignTransferReference(ctx, id, ref)
		if err != nil {
			return nil, fmt.Errorf("assign transfer reference: %w", err)
		}
		if !ok {
			if w, err = s.repos.Withdrawals.GetByID(ctx, id); err != nil {
				return nil, err
			}
			if w.Status != model.WithdrawalPending {
				return nil, transitionError("withdrawal", id, w.Status)
			}
			ref = w.TransferReference
		}
	}

	transfer, err := s.gw.InitiateTransfer(ctx, gateway.TransferRequest{
		Amount:        w.Amount,
		RecipientCode: recipient,
		Reference:     ref,
		Reason:        fmt.Sprintf("%s payout %s", s.platform, w.ID),
	})
	if err != nil {
		s.log.Error("initiate transfer failed", "withdrawal_id", id, "reference", ref, "error", err)
		return nil, err
	}

	ok, err := s.repos.Withdrawals.MarkProcessing(ctx, id, ref, recipient, transfer.TransferCode, adminID, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark withdrawal %s processing: %w", id, err)
	}
	if ok {
		s.log.Info("withdrawal transfer started", "withdrawal_id", id, "reference", ref, "admin_id", adminID)
		s.notify.emit(ctx, broker.WithdrawalProcessing, id, w.EventReference, string(model.WithdrawalProcessing), w.Amount)
	} else {
		s.log.Info("withdrawal advanced by webhook before approval was recorded", "withdrawal_id", id)
	}
	return s.repos.Withdrawals.GetByID(ctx, id)
}

// transferReference returns payout_<platform>_<unix millis>_<random>.
func (s *WithdrawalPayoutService) transferReference() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("payout_%s_%d_%s", s.platform, s.now().UnixMilli(), random)
}

// Reject terminally rejects a pending withdrawal. The balance is untouched.
// Once an approval has attempted a transfer the withdrawal can no longer be
// rejected, since the gateway may already be moving the money.
func (s *WithdrawalPayoutService) Reject(ctx context.Context, id, adminID, reason string) (*model.Withdrawal, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("withdrawal id is required")
	}
	if strings.TrimSpace(adminID) == "" {
		return nil, invalid("adminId is required")
	}
	ok, err := s.repos.Withdrawals.Reject(ctx, id, adminID, reason, s.now())
	if err != nil {
		return nil, lookupError("withdrawal", id, err)
	}
	w, err := s.repos.Withdrawals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		if w.Status == model.WithdrawalRejected {
			return w, nil
		}
		return nil, transitionError("withdrawal", id, w.Status)
	}
	s.log.Info("withdrawal rejected", "withdrawal_id", id, "admin_id", adminID)
	s.notify.emit(ctx, broker.WithdrawalRejected, id, w.EventReference, string(w.Status), w.Amount)
	return w, nil
}

// Get returns a withdrawal by id.
func (s *WithdrawalPayoutService) Get(ctx context.Context, id string) (*model.Withdrawal, error) {
	return s.repos.Withdrawals.GetByID(ctx, id)
}
