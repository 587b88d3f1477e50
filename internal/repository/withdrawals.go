package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
)

// WithdrawalRepository handles persistence for organizer withdrawals.
type WithdrawalRepository struct {
	store Store
}

// NewWithdrawalRepository constructs a WithdrawalRepository.
func NewWithdrawalRepository(store Store) *WithdrawalRepository {
	return &WithdrawalRepository{store: store}
}

// Create inserts a withdrawal with a store-generated id.
func (r *WithdrawalRepository) Create(ctx context.Context, w *model.Withdrawal) error {
	if w.ID == "" {
		w.ID = r.store.NewID(Withdrawals)
	}
	if err := r.store.Create(ctx, Withdrawals, w.ID, w); err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

// GetByID returns a withdrawal or ErrNotFound.
func (r *WithdrawalRepository) GetByID(ctx context.Context, id string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	if err := r.store.Get(ctx, Withdrawals, id, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// FindByTransferReference returns the withdrawal paid out under reference, or ErrNotFound.
func (r *WithdrawalRepository) FindByTransferReference(ctx context.Context, reference string) (*model.Withdrawal, error) {
	var list []model.Withdrawal
	if err := r.store.Query(ctx, Withdrawals, []Filter{Where("transferReference", Eq, reference)}, &list); err != nil {
		return nil, fmt.Errorf("find withdrawal by transfer reference: %w", err)
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// AssignTransferReference fixes the transfer reference of a pending
// withdrawal the first time it is approved. Later approvals reuse it, so the
// gateway sees one transfer however many times approval is retried.
func (r *WithdrawalRepository) AssignTransferReference(ctx context.Context, id, reference string) (bool, error) {
	return r.store.MergeIf(ctx, Withdrawals, id,
		Fields{"status": model.WithdrawalPending, "transferReference": ""},
		Fields{"transferReference": reference},
	)
}

// MarkProcessing records that the gateway accepted the transfer.
func (r *WithdrawalRepository) MarkProcessing(ctx context.Context, id, reference, recipientCode, transferCode, adminID string, now time.Time) (bool, error) {
	return r.store.MergeIf(ctx, Withdrawals, id,
		Fields{"status": model.WithdrawalPending, "transferReference": reference},
		Fields{
			"status":                model.WithdrawalProcessing,
			"transferRecipientCode": recipientCode,
			"transferCode":          transferCode,
			"approvedBy":            adminID,
			"processingAt":          now,
		},
	)
}

// Reject terminally rejects a pending withdrawal no transfer was attempted for.
func (r *WithdrawalRepository) Reject(ctx context.Context, id, adminID, reason string, now time.Time) (bool, error) {
	return r.store.MergeIf(ctx, Withdrawals, id,
		Fields{"status": model.WithdrawalPending, "transferReference": ""},
		Fields{
			"status":          model.WithdrawalRejected,
			"rejectedBy":      adminID,
			"rejectionReason": reason,
			"rejectedAt":      now,
		},
	)
}

// Complete moves a withdrawal from the observed status to completed.
func (r *WithdrawalRepository) Complete(ctx context.Context, id string, from model.WithdrawalStatus, now time.Time) (bool, error) {
	return r.store.MergeIf(ctx, Withdrawals, id,
		Fields{"status": from},
		Fields{"status": model.WithdrawalCompleted, "completedAt": now},
	)
}

// SetBalanceDebited flips the balanceDebited marker from !debited to debited.
func (r *WithdrawalRepository) SetBalanceDebited(ctx context.Context, id string, debited bool) (bool, error) {
	return r.store.MergeIf(ctx, Withdrawals, id,
		Fields{"balanceDebited": !debited},
		Fields{"balanceDebited": debited},
	)
}

// ListByEvent returns withdrawals drawn against an event in any of statuses.
func (r *WithdrawalRepository) ListByEvent(ctx context.Context, eventID string, statuses ...model.WithdrawalStatus) ([]model.Withdrawal, error) {
	var all []model.Withdrawal
	if err := r.store.Query(ctx, Withdrawals, []Filter{Where("eventReference", Eq, eventID)}, &all); err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	if len(statuses) == 0 {
		return all, nil
	}
	out := make([]model.Withdrawal, 0, len(all))
	for _, w := range all {
		for _, s := range statuses {
			if w.Status == s {
				out = append(out, w)
				break
			}
		}
	}
	return out, nil
}
