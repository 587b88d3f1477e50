// Package gateway talks to the payment provider: outbound API calls
// (verify, transfer recipient, transfer, refund) and inbound webhook
// verification and parsing.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Client abstracts the money mover. Every call takes a context and must
// return a *Error instead of hanging.
type Client interface {
	VerifyTransaction(ctx context.Context, reference string) (*Transaction, error)
	CreateTransferRecipient(ctx context.Context, account model.AccountDetails) (string, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// Transaction statuses reported by VerifyTransaction.
const (
	TxSuccess   = "success"
	TxFailed    = "failed"
	TxAbandoned = "abandoned"
	TxReversed  = "reversed"
)

// Transaction is the provider's view of a checkout.
type Transaction struct {
	Reference string
	Status    string
	Amount    decimal.Decimal
	PaidAt    time.Time
	Channel   string
	Currency  string
	Customer  model.Customer
	Raw       json.RawMessage
}

// AsChargeSuccess converts a verified successful transaction into the same
// event a charge.success webhook would have delivered.
func (t *Transaction) AsChargeSuccess() ChargeSuccess {
	return ChargeSuccess{
		Ref:      t.Reference,
		Amount:   t.Amount,
		PaidAt:   t.PaidAt,
		Channel:  t.Channel,
		Currency: t.Currency,
		Customer: t.Customer,
		Raw:      t.Raw,
	}
}

// TransferRequest pays Amount out to a previously created recipient.
type TransferRequest struct {
	Amount        decimal.Decimal
	RecipientCode string
	Reference     string
	Reason        string
}

// Transfer is the provider's acknowledgement of a transfer.
type Transfer struct {
	Reference    string
	TransferCode string
	Status       string
}

// RefundRequest reverses Amount of the transaction identified by TransactionReference.
type RefundRequest struct {
	TransactionReference string
	Amount               decimal.Decimal
}

// RefundResult is the provider's acknowledgement of a refund.
type RefundResult struct {
	ID     int64
	Status string
}

// Error is returned for any upstream failure: transport, timeout, non-2xx
// status or a rejected request. Nothing local has been mutated when a
// caller sees it, so the operation is safe to retry.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// MinorUnits converts a major-unit amount (e.g. 1500.50) to the provider's
// minor unit (150050).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// MajorUnits converts a minor-unit amount back to major units.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
