package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/stretchr/testify/require"
)

var testAccount = model.AccountDetails{AccountName: "Ada Obi", AccountNumber: "0123456789", BankCode: "058"}

func (env *testEnv) fundedEvent(t *testing.T, balance string) *model.Event {
	t.Helper()
	return env.seedEvent(t, func(e *model.Event) { e.CollectionBalance = dec(balance) })
}

func withdrawalReq(eventID, amount string) model.CreateWithdrawalRequest {
	return model.CreateWithdrawalRequest{
		OrganizerID:    "org-1",
		EventReference: eventID,
		Amount:         dec(amount),
		AccountDetails: testAccount,
	}
}

func TestWithdrawalFee(t *testing.T) {
	tests := []struct {
		amount, want string
	}{
		{"5000", "25"},
		{"1000", "10"},
		{"2000", "10"},
		{"2001", "10.01"},
		{"100000", "500"},
	}
	for _, tt := range tests {
		got := WithdrawalFee(dec(tt.amount), dec("0.005"), dec("10"))
		require.True(t, dec(tt.want).Equal(got), "WithdrawalFee(%s) = %s, want %s", tt.amount, got, tt.want)
	}
}

func TestWithdrawalRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       func(eventID string) model.CreateWithdrawalRequest
		wantErr   error
		wantValid bool
		wantFee   string
		wantNet   string
	}{
		{
			name:    "whole balance",
			req:     func(id string) model.CreateWithdrawalRequest { return withdrawalReq(id, "5000") },
			wantFee: "25",
			wantNet: "4975",
		},
		{
			name:    "minimum fee applies",
			req:     func(id string) model.CreateWithdrawalRequest { return withdrawalReq(id, "1000") },
			wantFee: "10",
			wantNet: "990",
		},
		{
			name:    "one over the balance",
			req:     func(id string) model.CreateWithdrawalRequest { return withdrawalReq(id, "5001") },
			wantErr: ErrInsufficientBalance,
		},
		{
			name:      "amount swallowed by fee",
			req:       func(id string) model.CreateWithdrawalRequest { return withdrawalReq(id, "10") },
			wantValid: true,
		},
		{
			name: "not the organizer",
			req: func(id string) model.CreateWithdrawalRequest {
				r := withdrawalReq(id, "100")
				r.OrganizerID = "org-2"
				return r
			},
			wantValid: true,
		},
		{
			name: "missing account",
			req: func(id string) model.CreateWithdrawalRequest {
				r := withdrawalReq(id, "100")
				r.AccountDetails = model.AccountDetails{}
				return r
			},
			wantValid: true,
		},
		{
			name:    "unknown event",
			req:     func(string) model.CreateWithdrawalRequest { return withdrawalReq("missing", "100") },
			wantErr: ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			event := env.fundedEvent(t, "5000")

			w, err := env.engine.Withdrawals.Request(context.Background(), tt.req(event.ID))
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				return
			case tt.wantValid:
				require.Error(t, err)
				require.True(t, IsValidation(err), "want validation error, got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, model.WithdrawalPending, w.Status)
			require.True(t, dec(tt.wantFee).Equal(w.PlatformFee), "fee %s", w.PlatformFee)
			require.True(t, dec(tt.wantNet).Equal(w.NetAmount), "net %s", w.NetAmount)
			require.Empty(t, w.TransferReference)
			require.True(t, dec("5000").Equal(env.event(t, event.ID).CollectionBalance), "requesting does not move the balance")
		})
	}
}

func TestWithdrawalRequestCountsOpenWithdrawals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.fundedEvent(t, "5000")

	_, err := env.engine.Withdrawals.Request(ctx, withdrawalReq(event.ID, "3000"))
	require.NoError(t, err)
	_, err = env.engine.Withdrawals.Request(ctx, withdrawalReq(event.ID, "2500"))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = env.engine.Withdrawals.Request(ctx, withdrawalReq(event.ID, "2000"))
	require.NoError(t, err)
}

func TestWithdrawalApproveAndTransferSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.fundedEvent(t, "5000")
	w, err := env.engine.Withdrawals.Request(ctx, withdrawalReq(event.ID, "5000"))
	require.NoError(t, err)

	got, err := env.engine.Withdrawals.Approve(ctx, w.ID, "admin-1")
	require.NoError(t, err)
	require.Equal(t, model.WithdrawalProcessing, got.Status)
	require.True(t, strings.HasPrefix(got.TransferReference, "payout_tourbook_"), got.TransferReference)
	require.Equal(t, "RCP_0123456789", got.TransferRecipientCode)
	require.Equal(t, "TRF_1", got.TransferCode)
	require.Equal(t, "admin-1", got.ApprovedBy)

	require.Len(t, env.gw.transfers, 1)
	require.Equal(t, got.TransferReference, env.gw.transfers[0].Reference)
	require.True(t, dec("5000").Equal(env.gw.transfers[0].Amount))
	require.True(t, dec("5000").Equal(env.event(t, event.ID).CollectionBalance), "balance moves on transfer success only")

	_, err = env.engine.Withdrawals.Approve(ctx, w.ID, "admin-1")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = env.engine.Withdrawals.Reject(ctx, w.ID, "admin-1", "changed my mind")
	require.ErrorIs(t, err, ErrInvalidTransition)

	body := webhookBody(t, gateway.TypeTransferSuccess, map[string]any{
		"reference":     got.TransferReference,
		"transfer_code": "TRF_1",
		"amount":        gateway.MinorUnits(dec("5000")),
	})
	for i := 0; i < 2; i++ {
		_, err = env.deliver(t, body)
		require.NoError(t, err)
	}

	done, err := env.engine.Withdrawals.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WithdrawalCompleted, done.Status)
	require.True(t, done.BalanceDebited)
	require.NotNil(t, done.CompletedAt)
	require.True(t, env.event(t, event.ID).CollectionBalance.IsZero())
}

func TestWithdrawalApproveRetryReusesReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.fundedEvent(t, "5000")
	w, err := env.engine.Withdrawals.Request(ctx, withdrawalReq(event.ID, "4000"))
	require.NoError(t, err)

	env.gw.transferErr = errors.New("gateway timeout")
	_, err = env.engine.Withdrawals.Approve(ctx, w.ID, "admin-1")
	require.Error(t, err)

	pending, err := env.engine.Withdrawals.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WithdrawalPending, pending.Status)
	require.NotEmpty(t, pending.TransferReference)

	_, err = env.engine.Withdrawals.Reject(ctx, w.ID, "admin-1", "")
	require.ErrorIs(t, err, ErrInvalidTransition, "a transfer may already be in flight")

	env.gw.transferErr = nil
	got, err := env.engine.Withdrawals.Approve(ctx, w.ID, "admin-1")
	require.NoError(t, err)
	require.Equal(t, model.WithdrawalProcessing, got.Status)
	require.Equal(t, pending.TransferReference, got.TransferReference)
	require.Len(t, env.gw.transfers, 1)
	require.Equal(t, pending.TransferReference, env.gw.transfers[0].Reference)
}

func TestWithdrawalReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.fundedEvent(t, "5000")
	w, err := env.engine.Withdrawals.Request(ctx, withdrawalReq(event.ID, "5000"))
	require.NoError(t, err)

	got, err := env.engine.Withdrawals.Reject(ctx, w.ID, "admin-1", "documents missing")
	require.NoError(t, err)
	require.Equal(t, model.WithdrawalRejected, got.Status)
	require.Equal(t, "documents missing", got.RejectionReason)

	got, err = env.engine.Withdrawals.Reject(ctx, w.ID, "admin-1", "documents missing")
	require.NoError(t, err)
	require.Equal(t, model.WithdrawalRejected, got.Status)

	_, err = env.engine.Withdrawals.Approve(ctx, w.ID, "admin-1")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Empty(t, env.gw.transfers)
	require.True(t, dec("5000").Equal(env.event(t, event.ID).CollectionBalance))

	// The rejected amount is available again.
	_, err = env.engine.Withdrawals.Request(ctx, withdrawalReq(event.ID, "5000"))
	require.NoError(t, err)

	_, err = env.engine.Withdrawals.Reject(ctx, "missing", "admin-1", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWithdrawalRefusedRecipientCanBeRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.fundedEvent(t, "5000")
	w, err := env.engine.Withdrawals.Request(ctx, withdrawalReq(event.ID, "5000"))
	require.NoError(t, err)

	env.gw.recipientErr = &gateway.Error{Op: "create transfer recipient", StatusCode: 422, Message: "Account number is invalid"}
	_, err = env.engine.Withdrawals.Approve(ctx, w.ID, "admin-1")
	var gerr *gateway.Error
	require.True(t, errors.As(err, &gerr), "got %v", err)
	require.Empty(t, env.gw.transfers)

	pending, err := env.engine.Withdrawals.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WithdrawalPending, pending.Status)
	require.Empty(t, pending.TransferReference, "no transfer can be in flight")

	got, err := env.engine.Withdrawals.Reject(ctx, w.ID, "admin-1", "bank account refused")
	require.NoError(t, err)
	require.Equal(t, model.WithdrawalRejected, got.Status)

	// The corrected request can claim the whole balance again.
	env.gw.recipientErr = nil
	_, err = env.engine.Withdrawals.Request(ctx, withdrawalReq(event.ID, "5000"))
	require.NoError(t, err)
}

func TestWithdrawalApproveOutlivesCallerContext(t *testing.T) {
	env := newTestEnv(t)
	event := env.fundedEvent(t, "5000")
	w, err := env.engine.Withdrawals.Request(context.Background(), withdrawalReq(event.ID, "5000"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := env.engine.Withdrawals.Approve(ctx, w.ID, "admin-1")
	require.NoError(t, err)
	require.Equal(t, model.WithdrawalProcessing, got.Status)
	require.Len(t, env.gw.transfers, 1)
}
