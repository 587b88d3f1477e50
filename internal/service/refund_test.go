package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/stretchr/testify/require"
)

// paidCancellation books, pays and cancels, returning the refund it raised.
func (env *testEnv) paidCancellation(t *testing.T) *model.Refund {
	t.Helper()
	ctx := context.Background()
	event := env.seedEvent(t, nil)
	booking, ref := env.book(t, event.ID, 1, "1000")
	_, err := env.deliver(t, chargeBody(t, ref, dec("1000")))
	require.NoError(t, err)
	res, err := env.engine.Cancel.Cancel(ctx, booking.ID, model.CancelBookingRequest{EventID: event.ID})
	require.NoError(t, err)
	require.Len(t, res.RefundIDs, 1)
	refund, err := env.engine.Repos.Refunds.GetByID(ctx, res.RefundIDs[0])
	require.NoError(t, err)
	return refund
}

func TestRefundApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	refund := env.paidCancellation(t)

	got, err := env.engine.Refunds.Approve(ctx, refund.ID, "admin-1")
	require.NoError(t, err)
	require.Equal(t, model.RefundProcessing, got.Status)
	require.Equal(t, "admin-1", got.ProcessedBy)
	require.NotNil(t, got.ProcessedAt)
	require.Empty(t, got.ClaimToken)

	require.Len(t, env.gw.refunds, 1)
	require.Equal(t, refund.Reference, env.gw.refunds[0].TransactionReference)
	require.True(t, dec("990").Equal(env.gw.refunds[0].Amount))

	_, err = env.engine.Refunds.Approve(ctx, refund.ID, "admin-2")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = env.engine.Refunds.Reject(ctx, refund.ID, "admin-2")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, 1, env.gw.refundCalls())

	_, err = env.deliver(t, webhookBody(t, gateway.TypeRefundProcessed, map[string]any{
		"transaction_reference": refund.Reference,
		"amount":                gateway.MinorUnits(refund.Amount),
	}))
	require.NoError(t, err)
	got, err = env.engine.Refunds.Get(ctx, refund.ID)
	require.NoError(t, err)
	require.Equal(t, model.RefundCompleted, got.Status)
}

func TestRefundApproveGatewayFailureCanBeRetried(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	refund := env.paidCancellation(t)

	env.gw.refundErr = &gateway.Error{Op: "refund", StatusCode: 502, Message: "upstream unavailable"}
	_, err := env.engine.Refunds.Approve(ctx, refund.ID, "admin-1")
	var gerr *gateway.Error
	require.True(t, errors.As(err, &gerr))

	got, err := env.engine.Refunds.Get(ctx, refund.ID)
	require.NoError(t, err)
	require.Equal(t, model.RefundInitiated, got.Status)
	require.Empty(t, got.ClaimToken)

	env.gw.refundErr = nil
	got, err = env.engine.Refunds.Approve(ctx, refund.ID, "admin-1")
	require.NoError(t, err)
	require.Equal(t, model.RefundProcessing, got.Status)
	require.Equal(t, 1, env.gw.refundCalls())
}

func TestRefundConcurrentApprovalsCallGatewayOnce(t *testing.T) {
	env := newTestEnv(t)
	refund := env.paidCancellation(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Refunds.Approve(context.Background(), refund.ID, "admin-1")
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected approve error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, env.gw.refundCalls())
	got, err := env.engine.Refunds.Get(context.Background(), refund.ID)
	require.NoError(t, err)
	require.Equal(t, model.RefundProcessing, got.Status)
}

func TestRefundReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	refund := env.paidCancellation(t)

	got, err := env.engine.Refunds.Reject(ctx, refund.ID, "admin-1")
	require.NoError(t, err)
	require.Equal(t, model.RefundRejected, got.Status)
	require.Equal(t, "admin-1", got.RejectedBy)

	got, err = env.engine.Refunds.Reject(ctx, refund.ID, "admin-1")
	require.NoError(t, err, "rejecting twice is a no-op")
	require.Equal(t, model.RefundRejected, got.Status)

	_, err = env.engine.Refunds.Approve(ctx, refund.ID, "admin-1")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Zero(t, env.gw.refundCalls())
}

func TestRefundCreateByAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.seedEvent(t, nil)
	_, ref := env.book(t, event.ID, 1, "1000")

	_, err := env.engine.Refunds.Create(ctx, model.CreateRefundRequest{PaymentID: ref, Amount: dec("100"), CreatedBy: "admin-1"})
	require.ErrorIs(t, err, ErrInvalidTransition, "pending payments cannot be refunded")

	_, err = env.deliver(t, chargeBody(t, ref, dec("1000")))
	require.NoError(t, err)

	refund, err := env.engine.Refunds.Create(ctx, model.CreateRefundRequest{PaymentID: ref, Amount: dec("5000"), CreatedBy: "admin-1"})
	require.NoError(t, err)
	require.True(t, dec("1000").Equal(refund.Amount), "capped at the payment amount")
	require.Equal(t, AdminRefundReason, refund.Reason)
	require.Equal(t, model.RefundInitiated, refund.Status)

	_, err = env.engine.Refunds.Create(ctx, model.CreateRefundRequest{PaymentID: ref, Amount: dec("10")})
	require.True(t, IsValidation(err))
	_, err = env.engine.Refunds.Create(ctx, model.CreateRefundRequest{PaymentID: "missing", Amount: dec("10"), CreatedBy: "admin-1"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefundApproveOutlivesCallerContext(t *testing.T) {
	env := newTestEnv(t)
	refund := env.paidCancellation(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := env.engine.Refunds.Approve(ctx, refund.ID, "admin-1")
	require.NoError(t, err)
	require.Equal(t, model.RefundProcessing, got.Status)
	require.Equal(t, 1, env.gw.refundCalls())
}
