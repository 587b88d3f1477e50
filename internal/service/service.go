// Package service implements the payment and settlement engine: booking and
// payment intents, webhook reconciliation, cancellation, refunds, withdrawals
// and the periodic reconciliation jobs.
//
// No operation here runs inside a transaction. Each cross-record update is a
// sequence of single-document writes. Writes that can race are conditional
// (repository MergeIf) and side effects on shared counters are guarded by
// per-record markers, so every step can be retried and a replay converges.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/broker"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/shopspring/decimal"
)

// maxCASAttempts bounds re-read and retry loops around conditional writes.
const maxCASAttempts = 8

// Settings carries the business parameters of the engine.
type Settings struct {
	Currency            string
	PlatformName        string
	WebhookSecret       string
	WithdrawalFeeRate   decimal.Decimal
	WithdrawalMinFee    decimal.Decimal
	RefundRetentionRate decimal.Decimal
	SweepAge            time.Duration
	AbandonAfter        time.Duration
	SweepBatchSize      int
	SweepWorkers        int
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Currency:            "NGN",
		PlatformName:        "tourbook",
		WithdrawalFeeRate:   decimal.RequireFromString("0.005"),
		WithdrawalMinFee:    decimal.NewFromInt(10),
		RefundRetentionRate: decimal.RequireFromString("0.01"),
		SweepAge:            10 * time.Minute,
		AbandonAfter:        24 * time.Hour,
		SweepBatchSize:      100,
		SweepWorkers:        5,
	}
}

// Engine wires every service over one store, gateway and publisher.
type Engine struct {
	Repos       *repository.Repositories
	Catalog     *CatalogService
	Bookings    *BookingIntentManager
	Payments    *PaymentIntentService
	Webhooks    *WebhookReconciler
	Cancel      *CancellationService
	Refunds     *RefundApprovalWorkflow
	Withdrawals *WithdrawalPayoutService
	Promotions  *PromotionExpiryJob
	Sweeper     *PendingPaymentSweeper
	Drift       *DriftReconciler
}

// NewEngine constructs all services.
func NewEngine(store repository.Store, gw gateway.Client, pub broker.Publisher, log *slog.Logger, cfg Settings) *Engine {
	if pub == nil {
		pub = broker.NopPublisher{}
	}
	n := notifier{pub: pub, log: log}
	repos := repository.New(store)
	webhooks := NewWebhookReconciler(repos, gw, n, log, cfg.WebhookSecret)
	return &Engine{
		Repos:       repos,
		Catalog:     NewCatalogService(repos, log),
		Bookings:    NewBookingIntentManager(repos, n, log),
		Payments:    NewPaymentIntentService(repos, log, cfg.Currency),
		Webhooks:    webhooks,
		Cancel:      NewCancellationService(repos, n, log, cfg.RefundRetentionRate),
		Refunds:     NewRefundApprovalWorkflow(repos, gw, n, log),
		Withdrawals: NewWithdrawalPayoutService(repos, gw, n, log, cfg),
		Promotions:  NewPromotionExpiryJob(repos, n, log),
		Sweeper:     NewPendingPaymentSweeper(repos, gw, webhooks, log, cfg),
		Drift:       NewDriftReconciler(repos, log),
	}
}

// notifier publishes settlement events after committed transitions.
// Failures are logged and never fail the caller.
type notifier struct {
	pub broker.Publisher
	log *slog.Logger
}

func (n notifier) emit(ctx context.Context, typ, entityID, eventID, status string, amount decimal.Decimal) {
	if n.pub == nil {
		return
	}
	ev := broker.SettlementEvent{
		Type:     typ,
		EntityID: entityID,
		EventID:  eventID,
		Status:   status,
		Amount:   amount,
		At:       time.Now().UTC(),
	}
	if err := n.pub.Publish(ctx, entityID, ev); err != nil {
		n.log.Warn("publish settlement event failed", "type", typ, "entity_id", entityID, "error", err)
	}
}

func utcNow() time.Time { return time.Now().UTC() }
