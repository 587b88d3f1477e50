// Package broker publishes settlement events to downstream consumers
// (Kafka topic or RabbitMQ queue).
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Settlement event types.
const (
	PaymentCompleted     = "payment.completed"
	PaymentUnallocated   = "payment.unallocated"
	PaymentCancelled     = "payment.cancelled"
	BookingCreated       = "booking.created"
	BookingCancelled     = "booking.cancelled"
	RefundCreated        = "refund.created"
	RefundStatusChanged  = "refund.status_changed"
	WithdrawalRequested  = "withdrawal.requested"
	WithdrawalProcessing = "withdrawal.processing"
	WithdrawalCompleted  = "withdrawal.completed"
	WithdrawalRejected   = "withdrawal.rejected"
	PromotionActivated   = "promotion.activated"
	PromotionExpired     = "promotion.expired"
)

// SettlementEvent is the message published after a committed transition.
type SettlementEvent struct {
	Type     string          `json:"type"`
	EntityID string          `json:"entityId"`
	EventID  string          `json:"eventId,omitempty"`
	Status   string          `json:"status,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	At       time.Time       `json:"at"`
}

// Publisher is the interface used by services to publish events.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
	Close() error
}

// NopPublisher drops every message. Used when BROKER=none.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                                { return nil }
