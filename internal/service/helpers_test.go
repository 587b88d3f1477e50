package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/broker"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testSecret = "sk_test_secret"

// fakeGateway is a hand-written gateway.Client that records every call.
type fakeGateway struct {
	mu sync.Mutex

	txs       map[string]*gateway.Transaction
	verifyErr error

	recipientErr error
	transferErr  error
	refundErr    error

	recipients []model.AccountDetails
	transfers  []gateway.TransferRequest
	refunds    []gateway.RefundRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{txs: map[string]*gateway.Transaction{}}
}

func (f *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*gateway.Transaction, error) {
	if err := cancelled(ctx, "verify transaction"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	tx, ok := f.txs[reference]
	if !ok {
		return nil, &gateway.Error{Op: "verify transaction", StatusCode: 400, Message: "Transaction reference not found"}
	}
	return tx, nil
}

func (f *fakeGateway) CreateTransferRecipient(ctx context.Context, account model.AccountDetails) (string, error) {
	if err := cancelled(ctx, "create transfer recipient"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recipientErr != nil {
		return "", f.recipientErr
	}
	f.recipients = append(f.recipients, account)
	return "RCP_" + account.AccountNumber, nil
}

func (f *fakeGateway) InitiateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.Transfer, error) {
	if err := cancelled(ctx, "initiate transfer"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.transfers = append(f.transfers, req)
	return &gateway.Transfer{Reference: req.Reference, TransferCode: "TRF_1", Status: "pending"}, nil
}

func (f *fakeGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	if err := cancelled(ctx, "refund"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunds = append(f.refunds, req)
	return &gateway.RefundResult{ID: int64(len(f.refunds)), Status: "pending"}, nil
}

// cancelled fails a gateway call the way the HTTP client does once ctx ends.
func cancelled(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &gateway.Error{Op: op, Err: err}
	}
	return nil
}

func (f *fakeGateway) refundCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

// capturePublisher records published settlement events.
type capturePublisher struct {
	mu     sync.Mutex
	events []broker.SettlementEvent
}

func (p *capturePublisher) Publish(ctx context.Context, key string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := value.(broker.SettlementEvent); ok {
		p.events = append(p.events, ev)
	}
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type testEnv struct {
	engine *Engine
	store  *repository.MemoryStore
	gw     *fakeGateway
	pub    *capturePublisher
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLogger(t, discardLogger())
}

func newTestEnvWithLogger(t *testing.T, log *slog.Logger) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	gw := newFakeGateway()
	pub := &capturePublisher{}
	cfg := DefaultSettings()
	cfg.WebhookSecret = testSecret
	return &testEnv{
		engine: NewEngine(store, gw, pub, log, cfg),
		store:  store,
		gw:     gw,
		pub:    pub,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// seedEvent stores a platform-managed event priced at 1000 with 10 spaces
// and a 5% platform fee. mutate may adjust it before it is stored.
func (env *testEnv) seedEvent(t *testing.T, mutate func(*model.Event)) *model.Event {
	t.Helper()
	e := &model.Event{
		Title:              "Lagos food walk",
		OrganizerID:        "org-1",
		Price:              dec("1000"),
		DepositAmount:      dec("250"),
		TotalSpaces:        10,
		AvailableSpaces:    10,
		CollectionBalance:  decimal.Zero,
		PaymentManagement:  model.ManagedByPlatform,
		PlatformFeePercent: dec("5"),
	}
	if mutate != nil {
		mutate(e)
	}
	require.NoError(t, env.engine.Repos.Events.Create(context.Background(), e))
	return e
}

func (env *testEnv) event(t *testing.T, id string) *model.Event {
	t.Helper()
	e, err := env.engine.Repos.Events.GetByID(context.Background(), id)
	require.NoError(t, err)
	return e
}

func (env *testEnv) booking(t *testing.T, id string) *model.Booking {
	t.Helper()
	b, err := env.engine.Repos.Bookings.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (env *testEnv) payment(t *testing.T, ref string) *model.Payment {
	t.Helper()
	p, err := env.engine.Repos.Payments.GetByID(context.Background(), ref)
	require.NoError(t, err)
	return p
}

// book creates a platform booking for people and a payment intent of amount.
func (env *testEnv) book(t *testing.T, eventID string, people int, amount string) (*model.Booking, string) {
	t.Helper()
	ctx := context.Background()
	intent, err := env.engine.Bookings.Create(ctx, model.CreateBookingRequest{
		EventID:        eventID,
		UserID:         "user-1",
		NumberOfPeople: people,
	})
	require.NoError(t, err)
	pi, err := env.engine.Payments.Create(ctx, model.CreatePaymentIntentRequest{
		Amount:    dec(amount),
		EventID:   eventID,
		UserID:    "user-1",
		BookingID: intent.Booking.ID,
	})
	require.NoError(t, err)
	return intent.Booking, pi.Reference
}

func (env *testEnv) pay(t *testing.T, bookingID, eventID, amount string) string {
	t.Helper()
	pi, err := env.engine.Payments.Create(context.Background(), model.CreatePaymentIntentRequest{
		Amount:    dec(amount),
		EventID:   eventID,
		UserID:    "user-1",
		BookingID: bookingID,
	})
	require.NoError(t, err)
	return pi.Reference
}

// deliver signs body and hands it to the reconciler as the HTTP layer would.
func (env *testEnv) deliver(t *testing.T, body []byte) (model.WebhookAck, error) {
	t.Helper()
	return env.engine.Webhooks.HandleWebhook(context.Background(), body, gateway.Sign(testSecret, body))
}

func webhookBody(t *testing.T, event string, data map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	return raw
}

func chargeBody(t *testing.T, ref string, amount decimal.Decimal) []byte {
	return webhookBody(t, gateway.TypeChargeSuccess, map[string]any{
		"reference": ref,
		"amount":    gateway.MinorUnits(amount),
		"paid_at":   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Format(time.RFC3339),
		"channel":   "card",
		"currency":  "NGN",
		"customer":  map[string]any{"email": "traveler@example.com", "customer_code": "CUS_1"},
	})
}

// requireBookingBalanced checks amountPaid + amountDue == totalAmount.
func requireBookingBalanced(t *testing.T, b *model.Booking) {
	t.Helper()
	require.True(t, b.AmountPaid.Add(b.AmountDue).Equal(b.TotalAmount),
		"amountPaid %s + amountDue %s != totalAmount %s", b.AmountPaid, b.AmountDue, b.TotalAmount)
}

// requireCapacityBalanced checks availableSpaces + held people == totalSpaces.
func (env *testEnv) requireCapacityBalanced(t *testing.T, eventID string) {
	t.Helper()
	e := env.event(t, eventID)
	bookings, err := env.engine.Repos.Bookings.ListByEvent(context.Background(), eventID)
	require.NoError(t, err)
	held := 0
	for _, b := range bookings {
		if b.CapacityHeld {
			held += b.NumberOfPeople
		}
	}
	require.Equal(t, e.TotalSpaces, e.AvailableSpaces+held)
}
