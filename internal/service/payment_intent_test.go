package service

import (
	"context"
	"testing"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/stretchr/testify/require"
)

func TestPaymentIntentCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.seedEvent(t, nil)
	intent, err := env.engine.Bookings.Create(ctx, model.CreateBookingRequest{EventID: event.ID, UserID: "user-1", NumberOfPeople: 2})
	require.NoError(t, err)

	pi, err := env.engine.Payments.Create(ctx, model.CreatePaymentIntentRequest{
		Amount:    dec("2000"),
		EventID:   event.ID,
		UserID:    "user-1",
		BookingID: intent.Booking.ID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(200000), pi.Amount)

	p := env.payment(t, pi.Reference)
	require.Equal(t, model.PaymentPending, p.Status)
	require.Equal(t, model.ManagedByPlatform, p.ManagedBy)
	require.True(t, dec("100").Equal(p.PlatformFee))
	require.True(t, dec("1900").Equal(p.OrganizerAmount))
	require.Equal(t, "NGN", p.Currency)

	again, err := env.engine.Payments.Create(ctx, model.CreatePaymentIntentRequest{
		Amount:    dec("2000"),
		EventID:   event.ID,
		UserID:    "user-1",
		BookingID: intent.Booking.ID,
	})
	require.NoError(t, err)
	require.NotEqual(t, pi.Reference, again.Reference, "a retried checkout gets a new reference")
}

func TestPaymentIntentFeeSplit(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*model.Event)
		amount        string
		wantFee       string
		wantOrganizer string
	}{
		{name: "five percent", amount: "1000", wantFee: "50", wantOrganizer: "950"},
		{name: "rounds to cents", mutate: func(e *model.Event) { e.PlatformFeePercent = dec("2.5") }, amount: "333.33", wantFee: "8.33", wantOrganizer: "325"},
		{name: "manual events pay no fee", mutate: func(e *model.Event) { e.PaymentManagement = model.ManagedByManual }, amount: "1000", wantFee: "0", wantOrganizer: "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			event := env.seedEvent(t, tt.mutate)
			intent, err := env.engine.Bookings.Create(context.Background(), model.CreateBookingRequest{EventID: event.ID, UserID: "user-1", NumberOfPeople: 1})
			require.NoError(t, err)

			ref := env.pay(t, intent.Booking.ID, event.ID, tt.amount)
			p := env.payment(t, ref)
			require.True(t, dec(tt.wantFee).Equal(p.PlatformFee), "fee %s", p.PlatformFee)
			require.True(t, dec(tt.wantOrganizer).Equal(p.OrganizerAmount), "organizer %s", p.OrganizerAmount)
			require.True(t, p.PlatformFee.Add(p.OrganizerAmount).Equal(p.Amount))
		})
	}
}

func TestPaymentIntentPromotionIsPlatformRevenue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.seedEvent(t, func(e *model.Event) { e.PaymentManagement = model.ManagedByManual })
	promo, err := env.engine.Catalog.CreatePromotion(ctx, model.CreatePromotionRequest{Name: "Boost", DurationDays: 3, Price: dec("1500")})
	require.NoError(t, err)

	pi, err := env.engine.Payments.Create(ctx, model.CreatePaymentIntentRequest{
		Amount:      dec("1500"),
		EventID:     event.ID,
		UserID:      "org-1",
		PromotionID: promo.ID,
	})
	require.NoError(t, err)

	p := env.payment(t, pi.Reference)
	require.Equal(t, model.ManagedByPlatform, p.ManagedBy)
	require.True(t, dec("1500").Equal(p.PlatformFee))
	require.True(t, p.OrganizerAmount.IsZero())
}

func TestPaymentIntentValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.seedEvent(t, nil)
	intent, err := env.engine.Bookings.Create(ctx, model.CreateBookingRequest{EventID: event.ID, UserID: "user-1", NumberOfPeople: 1})
	require.NoError(t, err)
	bookingID := intent.Booking.ID

	cancelled, err := env.engine.Bookings.Create(ctx, model.CreateBookingRequest{EventID: event.ID, UserID: "user-1", NumberOfPeople: 1})
	require.NoError(t, err)
	_, err = env.engine.Cancel.Cancel(ctx, cancelled.Booking.ID, model.CancelBookingRequest{EventID: event.ID})
	require.NoError(t, err)

	tests := []struct {
		name      string
		req       model.CreatePaymentIntentRequest
		wantErr   error
		wantValid bool
	}{
		{name: "zero amount", req: model.CreatePaymentIntentRequest{Amount: dec("0"), BookingID: bookingID}, wantValid: true},
		{name: "neither target", req: model.CreatePaymentIntentRequest{Amount: dec("10")}, wantValid: true},
		{name: "both targets", req: model.CreatePaymentIntentRequest{Amount: dec("10"), BookingID: bookingID, PromotionID: "p"}, wantValid: true},
		{name: "sub-cent amount", req: model.CreatePaymentIntentRequest{Amount: dec("10.001"), BookingID: bookingID}, wantValid: true},
		{name: "more than due", req: model.CreatePaymentIntentRequest{Amount: dec("1000.01"), BookingID: bookingID}, wantValid: true},
		{name: "unknown booking", req: model.CreatePaymentIntentRequest{Amount: dec("10"), BookingID: "missing"}, wantErr: ErrNotFound},
		{name: "unknown promotion", req: model.CreatePaymentIntentRequest{Amount: dec("10"), PromotionID: "missing"}, wantErr: ErrNotFound},
		{name: "cancelled booking", req: model.CreatePaymentIntentRequest{Amount: dec("10"), BookingID: cancelled.Booking.ID}, wantErr: ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.EventID = event.ID
			tt.req.UserID = "user-1"
			_, err := env.engine.Payments.Create(ctx, tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantValid {
				require.True(t, IsValidation(err), "want validation error, got %v", err)
			}
		})
	}
}
