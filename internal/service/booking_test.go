package service

import (
	"context"
	"testing"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/stretchr/testify/require"
)

func TestBookingIntentCreate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*model.Event)
		req        model.CreateBookingRequest
		wantErr    error
		wantValid  bool
		wantStatus model.BookingStatus
		wantToPay  string
		wantSpaces int
	}{
		{
			name:       "platform full payment",
			req:        model.CreateBookingRequest{UserID: "user-1", NumberOfPeople: 2},
			wantStatus: model.BookingPending,
			wantToPay:  "2000",
			wantSpaces: 10,
		},
		{
			name:       "platform deposit",
			req:        model.CreateBookingRequest{UserID: "user-1", NumberOfPeople: 2, PaymentOption: model.PayDeposit},
			wantStatus: model.BookingPending,
			wantToPay:  "500",
			wantSpaces: 10,
		},
		{
			name:       "deposit larger than price is capped at total",
			mutate:     func(e *model.Event) { e.DepositAmount = dec("1500") },
			req:        model.CreateBookingRequest{UserID: "user-1", NumberOfPeople: 1, PaymentOption: model.PayDeposit},
			wantStatus: model.BookingPending,
			wantToPay:  "1000",
			wantSpaces: 10,
		},
		{
			name:       "manual event confirms and reserves at once",
			mutate:     func(e *model.Event) { e.PaymentManagement = model.ManagedByManual },
			req:        model.CreateBookingRequest{UserID: "user-1", NumberOfPeople: 3},
			wantStatus: model.BookingConfirmed,
			wantToPay:  "0",
			wantSpaces: 7,
		},
		{
			name:    "more people than spaces",
			req:     model.CreateBookingRequest{UserID: "user-1", NumberOfPeople: 11},
			wantErr: ErrCapacityExceeded,
		},
		{
			name:      "no people",
			req:       model.CreateBookingRequest{UserID: "user-1", NumberOfPeople: 0},
			wantValid: true,
		},
		{
			name:      "missing user",
			req:       model.CreateBookingRequest{NumberOfPeople: 1},
			wantValid: true,
		},
		{
			name:      "deposit on event without one",
			mutate:    func(e *model.Event) { e.DepositAmount = dec("0") },
			req:       model.CreateBookingRequest{UserID: "user-1", NumberOfPeople: 1, PaymentOption: model.PayDeposit},
			wantValid: true,
		},
		{
			name:      "unknown payment option",
			req:       model.CreateBookingRequest{UserID: "user-1", NumberOfPeople: 1, PaymentOption: "installments"},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			event := env.seedEvent(t, tt.mutate)
			tt.req.EventID = event.ID

			intent, err := env.engine.Bookings.Create(context.Background(), tt.req)
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

			b := intent.Booking
			require.NotEmpty(t, b.ID)
			require.Equal(t, tt.wantStatus, b.Status)
			require.Equal(t, model.BookingPaymentPending, b.PaymentStatus)
			require.True(t, dec(tt.wantToPay).Equal(intent.AmountToPay), "amountToPay %s", intent.AmountToPay)
			require.True(t, b.AmountPaid.IsZero())
			requireBookingBalanced(t, b)

			require.Equal(t, tt.wantSpaces, env.event(t, event.ID).AvailableSpaces)
			env.requireCapacityBalanced(t, event.ID)
		})
	}
}

func TestBookingIntentCreateUnknownEvent(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Bookings.Create(context.Background(), model.CreateBookingRequest{
		EventID:        "nope",
		UserID:         "user-1",
		NumberOfPeople: 1,
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManualBookingsNeverOversell(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.seedEvent(t, func(e *model.Event) {
		e.PaymentManagement = model.ManagedByManual
		e.TotalSpaces = 5
		e.AvailableSpaces = 5
	})

	var created, rejected int
	for i := 0; i < 4; i++ {
		_, err := env.engine.Bookings.Create(ctx, model.CreateBookingRequest{EventID: event.ID, UserID: "user-1", NumberOfPeople: 2})
		if err != nil {
			require.ErrorIs(t, err, ErrCapacityExceeded)
			rejected++
			continue
		}
		created++
	}
	require.Equal(t, 2, created)
	require.Equal(t, 2, rejected)
	require.Equal(t, 1, env.event(t, event.ID).AvailableSpaces)
	env.requireCapacityBalanced(t, event.ID)
}
