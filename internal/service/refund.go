package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/broker"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// AdminRefundReason is used when an admin creates a refund without a reason.
const AdminRefundReason = "Admin Refund"

// RefundApprovalWorkflow is the admin-gated path by which a refund leaves the
// platform.
type RefundApprovalWorkflow struct {
	repos  *repository.Repositories
	gw     gateway.Client
	notify notifier
	log    *slog.Logger
	now    func() time.Time

	// sf collapses concurrent approvals of one refund into a single gateway call.
	sf singleflight.Group
}

// NewRefundApprovalWorkflow constructs a RefundApprovalWorkflow.
func NewRefundApprovalWorkflow(repos *repository.Repositories, gw gateway.Client, n notifier, log *slog.Logger) *RefundApprovalWorkflow {
	return &RefundApprovalWorkflow{repos: repos, gw: gw, notify: n, log: log, now: utcNow}
}

// Create raises an initiated refund against a completed payment. The amount
// is capped at what was paid.
func (s *RefundApprovalWorkflow) Create(ctx context.Context, req model.CreateRefundRequest) (*model.Refund, error) {
	switch {
	case strings.TrimSpace(req.PaymentID) == "":
		return nil, invalid("paymentId is required")
	case !req.Amount.IsPositive():
		return nil, invalid("amount must be positive")
	case strings.TrimSpace(req.CreatedBy) == "":
		return nil, invalid("createdBy is required")
	}

	payment, err := s.repos.Payments.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, lookupError("payment", req.PaymentID, err)
	}
	if payment.Status != model.PaymentCompleted {
		return nil, transitionError("payment", payment.ID, payment.Status)
	}

	amount := req.Amount
	if amount.GreaterThan(payment.Amount) {
		s.log.Info("refund amount capped at payment amount",
			"reference", payment.ID, "requested", amount.String(), "cap", payment.Amount.String())
		amount = payment.Amount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = AdminRefundReason
	}

	refund := &model.Refund{
		PaymentID:      payment.ID,
		BookingID:      payment.BookingID,
		EventID:        payment.EventID,
		UserID:         payment.UserID,
		Amount:         amount,
		OriginalAmount: payment.Amount,
		Reference:      payment.ID,
		Status:         model.RefundInitiated,
		Reason:         reason,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      s.now(),
	}
	if err := s.repos.Refunds.Create(ctx, refund); err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}
	s.log.Info("refund initiated by admin", "refund_id", refund.ID, "reference", payment.ID, "amount", amount.String())
	s.notify.emit(ctx, broker.RefundCreated, refund.ID, refund.EventID, string(refund.Status), refund.Amount)
	return refund, nil
}

// Approve submits an initiated refund to the gateway. On acceptance the
// refund moves to processing; its final state arrives by webhook. A gateway
// failure leaves it initiated so the approval can be retried.
func (s *RefundApprovalWorkflow) Approve(ctx context.Context, id, adminID string) (*model.Refund, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("refund id is required")
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
	return v.(*model.Refund), nil
}

func (s *RefundApprovalWorkflow) approve(ctx context.Context, id, adminID string) (*model.Refund, error) {
	refund, err := s.repos.Refunds.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("refund", id, err)
	}
	if refund.Status != model.RefundInitiated {
		return nil, transitionError("refund", id, refund.Status)
	}
	if refund.ClaimToken != "" {
		return nil, transitionError("refund", id, "being submitted")
	}

	token := uuid.NewString()
	ok, err := s.repos.Refunds.Claim(ctx, id, token)
	if err != nil {
		return nil, fmt.Errorf("claim refund %s: %w", id, err)
	}
	if !ok {
		return nil, transitionError("refund", id, "claimed by another approval")
	}

	res, err := s.gw.Refund(ctx, gateway.RefundRequest{TransactionReference: refund.Reference, Amount: refund.Amount})
	if err != nil {
		if _, rerr := s.repos.Refunds.ReleaseClaim(ctx, id, token); rerr != nil {
			s.log.Error("release refund claim failed", "refund_id", id, "error", rerr)
		}
		s.log.Error("gateway refund failed", "refund_id", id, "reference", refund.Reference, "error", err)
		return nil, err
	}

	ok, err = s.repos.Refunds.MarkSubmitted(ctx, id, token, adminID, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark refund %s submitted: %w", id, err)
	}
	if ok {
		s.log.Info("refund submitted", "refund_id", id, "admin_id", adminID, "gateway_refund_id", res.ID)
		s.notify.emit(ctx, broker.RefundStatusChanged, id, refund.EventID, string(model.RefundProcessing), refund.Amount)
	} else {
		s.log.Info("refund advanced by webhook before submission was recorded", "refund_id", id)
	}
	return s.repos.Refunds.GetByID(ctx, id)
}

// Reject terminally rejects an initiated refund. No gateway call is made.
func (s *RefundApprovalWorkflow) Reject(ctx context.Context, id, adminID string) (*model.Refund, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("refund id is required")
	}
	if strings.TrimSpace(adminID) == "" {
		return nil, invalid("adminId is required")
	}
	refund, err := s.repos.Refunds.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("refund", id, err)
	}
	if refund.Status == model.RefundRejected {
		return refund, nil
	}
	ok, err := s.repos.Refunds.Reject(ctx, id, adminID, s.now())
	if err != nil {
		return nil, fmt.Errorf("reject refund %s: %w", id, err)
	}
	if !ok {
		if refund, err = s.repos.Refunds.GetByID(ctx, id); err != nil {
			return nil, err
		}
		if refund.Status == model.RefundRejected {
			return refund, nil
		}
		return nil, transitionError("refund", id, refund.Status)
	}
	s.log.Info("refund rejected", "refund_id", id, "admin_id", adminID)
	s.notify.emit(ctx, broker.RefundStatusChanged, id, refund.EventID, string(model.RefundRejected), refund.Amount)
	return s.repos.Refunds.GetByID(ctx, id)
}

// Get returns a refund by id.
func (s *RefundApprovalWorkflow) Get(ctx context.Context, id string) (*model.Refund, error) {
	return s.repos.Refunds.GetByID(ctx, id)
}
