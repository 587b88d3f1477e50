package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
)

// RefundRepository handles persistence for refunds.
type RefundRepository struct {
	store Store
}

// NewRefundRepository constructs a RefundRepository.
func NewRefundRepository(store Store) *RefundRepository {
	return &RefundRepository{store: store}
}

// Create inserts a refund. Callers that derive the id from the payment get
// ErrAlreadyExists on a retry instead of a duplicate refund.
func (r *RefundRepository) Create(ctx context.Context, refund *model.Refund) error {
	if refund.ID == "" {
		refund.ID = r.store.NewID(Refunds)
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	return r.store.Create(ctx, Refunds, refund.ID, refund)
}

// GetByID returns a refund or ErrNotFound.
func (r *RefundRepository) GetByID(ctx context.Context, id string) (*model.Refund, error) {
	var refund model.Refund
	if err := r.store.Get(ctx, Refunds, id, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// FindByReference returns refunds issued against a gateway transaction reference.
func (r *RefundRepository) FindByReference(ctx context.Context, reference string) ([]model.Refund, error) {
	var refunds []model.Refund
	if err := r.store.Query(ctx, Refunds, []Filter{Where("reference", Eq, reference)}, &refunds); err != nil {
		return nil, fmt.Errorf("find refunds by reference: %w", err)
	}
	return refunds, nil
}

// Claim reserves an initiated refund for submission to the gateway. Only one
// claimant can hold it; the status stays initiated until the gateway accepts.
func (r *RefundRepository) Claim(ctx context.Context, id, token string) (bool, error) {
	return r.store.MergeIf(ctx, Refunds, id,
		Fields{"status": model.RefundInitiated, "claimToken": ""},
		Fields{"claimToken": token},
	)
}

// ReleaseClaim gives up a claim after the gateway refused the refund.
func (r *RefundRepository) ReleaseClaim(ctx context.Context, id, token string) (bool, error) {
	return r.store.MergeIf(ctx, Refunds, id,
		Fields{"status": model.RefundInitiated, "claimToken": token},
		Fields{"claimToken": ""},
	)
}

// MarkSubmitted moves a claimed refund to processing once the gateway accepted it.
func (r *RefundRepository) MarkSubmitted(ctx context.Context, id, token, adminID string, now time.Time) (bool, error) {
	return r.store.MergeIf(ctx, Refunds, id,
		Fields{"status": model.RefundInitiated, "claimToken": token},
		Fields{"status": model.RefundProcessing, "processedBy": adminID, "processedAt": now, "claimToken": ""},
	)
}

// Reject terminally rejects an unclaimed initiated refund.
func (r *RefundRepository) Reject(ctx context.Context, id, adminID string, now time.Time) (bool, error) {
	return r.store.MergeIf(ctx, Refunds, id,
		Fields{"status": model.RefundInitiated, "claimToken": ""},
		Fields{"status": model.RefundRejected, "rejectedBy": adminID, "rejectedAt": now},
	)
}

// Advance moves a refund from the observed status to next, stamping the
// matching timestamp field. Any outstanding claim is dropped.
func (r *RefundRepository) Advance(ctx context.Context, id string, from, next model.RefundStatus, now time.Time) (bool, error) {
	fields := Fields{"status": next, "claimToken": ""}
	switch next {
	case model.RefundCompleted:
		fields["completedAt"] = now
	case model.RefundFailed:
		fields["failedAt"] = now
	case model.RefundProcessing:
		fields["processedAt"] = now
	}
	return r.store.MergeIf(ctx, Refunds, id, Fields{"status": from}, fields)
}
