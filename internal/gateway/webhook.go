package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/shopspring/decimal"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "X-Paystack-Signature"

var (
	// ErrInvalidSignature means the delivery did not come from the provider.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload means the delivery is authentic but unusable.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// VerifySignature checks signature against the HMAC-SHA512 of body keyed by secret.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature the provider would send for body. Used by tests
// and local tooling that replays deliveries.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Event type names as sent by the provider.
const (
	TypeChargeSuccess    = "charge.success"
	TypeTransferSuccess  = "transfer.success"
	TypeRefundProcessing = "refund.processing"
	TypeRefundProcessed  = "refund.processed"
	TypeRefundFailed     = "refund.failed"
)

// Handler must handle every Event variant. Adding a variant adds a method
// here, so every handler stops compiling until it deals with it.
type Handler interface {
	HandleChargeSuccess(ctx context.Context, ev ChargeSuccess) error
	HandleTransferSuccess(ctx context.Context, ev TransferSuccess) error
	HandleRefundProcessing(ctx context.Context, ev RefundProcessing) error
	HandleRefundProcessed(ctx context.Context, ev RefundProcessed) error
	HandleRefundFailed(ctx context.Context, ev RefundFailed) error
	HandleUnknown(ctx context.Context, ev Unknown) error
}

// Event is the closed set of webhook deliveries.
type Event interface {
	Type() string
	Reference() string
	Dispatch(ctx context.Context, h Handler) error
}

// ChargeSuccess reports money received for a checkout reference.
type ChargeSuccess struct {
	Ref      string
	Amount   decimal.Decimal
	PaidAt   time.Time
	Channel  string
	Currency string
	Customer model.Customer
	Raw      json.RawMessage
}

func (e ChargeSuccess) Type() string      { return TypeChargeSuccess }
func (e ChargeSuccess) Reference() string { return e.Ref }
func (e ChargeSuccess) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleChargeSuccess(ctx, e)
}

// TransferSuccess reports a completed payout.
type TransferSuccess struct {
	Ref          string
	TransferCode string
	Amount       decimal.Decimal
}

func (e TransferSuccess) Type() string      { return TypeTransferSuccess }
func (e TransferSuccess) Reference() string { return e.Ref }
func (e TransferSuccess) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleTransferSuccess(ctx, e)
}

// RefundUpdate is the payload shared by every refund.* event. Ref is the
// reference of the transaction being refunded.
type RefundUpdate struct {
	Ref    string
	Amount decimal.Decimal
}

func (e RefundUpdate) Reference() string { return e.Ref }

type RefundProcessing struct{ RefundUpdate }

func (e RefundProcessing) Type() string { return TypeRefundProcessing }
func (e RefundProcessing) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleRefundProcessing(ctx, e)
}

type RefundProcessed struct{ RefundUpdate }

func (e RefundProcessed) Type() string { return TypeRefundProcessed }
func (e RefundProcessed) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleRefundProcessed(ctx, e)
}

type RefundFailed struct{ RefundUpdate }

func (e RefundFailed) Type() string { return TypeRefundFailed }
func (e RefundFailed) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleRefundFailed(ctx, e)
}

// Unknown is any event type the engine does not act on.
type Unknown struct {
	Name string
	Ref  string
	Raw  json.RawMessage
}

func (e Unknown) Type() string      { return e.Name }
func (e Unknown) Reference() string { return e.Ref }
func (e Unknown) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleUnknown(ctx, e)
}

type webhookEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type chargePayload struct {
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	PaidAt    *time.Time      `json:"paid_at"`
	Channel   string          `json:"channel"`
	Currency  string          `json:"currency"`
	Customer  customerPayload `json:"customer"`
}

type transferPayload struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Amount       int64  `json:"amount"`
}

type refundPayload struct {
	Reference            string `json:"reference"`
	TransactionReference string `json:"transaction_reference"`
	Amount               int64  `json:"amount"`
}

// ParseEvent decodes a verified webhook body into its Event variant.
// Payloads missing required fields fail with ErrMalformedPayload; they are
// never partially applied. now stamps charges that carry no paid_at.
func ParseEvent(body []byte, now time.Time) (Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}

	switch env.Event {
	case TypeChargeSuccess:
		var p chargePayload
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		if p.Reference == "" {
			return nil, fmt.Errorf("%w: charge without reference", ErrMalformedPayload)
		}
		if p.Amount <= 0 {
			return nil, fmt.Errorf("%w: charge %s has non-positive amount", ErrMalformedPayload, p.Reference)
		}
		paidAt := now
		if p.PaidAt != nil {
			paidAt = *p.PaidAt
		}
		return ChargeSuccess{
			Ref:      p.Reference,
			Amount:   MajorUnits(p.Amount),
			PaidAt:   paidAt.UTC(),
			Channel:  p.Channel,
			Currency: p.Currency,
			Customer: model.Customer{Email: p.Customer.Email, CustomerCode: p.Customer.CustomerCode},
			Raw:      env.Data,
		}, nil

	case TypeTransferSuccess:
		var p transferPayload
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		if p.Reference == "" {
			return nil, fmt.Errorf("%w: transfer without reference", ErrMalformedPayload)
		}
		return TransferSuccess{Ref: p.Reference, TransferCode: p.TransferCode, Amount: MajorUnits(p.Amount)}, nil

	case TypeRefundProcessing, TypeRefundProcessed, TypeRefundFailed:
		var p refundPayload
		if err := decodeData(env.Data, &p); err != nil {
			return nil, err
		}
		ref := p.TransactionReference
		if ref == "" {
			ref = p.Reference
		}
		if ref == "" {
			return nil, fmt.Errorf("%w: refund event without reference", ErrMalformedPayload)
		}
		u := RefundUpdate{Ref: ref, Amount: MajorUnits(p.Amount)}
		switch env.Event {
		case TypeRefundProcessing:
			return RefundProcessing{u}, nil
		case TypeRefundProcessed:
			return RefundProcessed{u}, nil
		default:
			return RefundFailed{u}, nil
		}

	default:
		var p struct {
			Reference string `json:"reference"`
		}
		_ = json.Unmarshal(env.Data, &p)
		return Unknown{Name: env.Event, Ref: p.Reference, Raw: env.Data}, nil
	}
}

func decodeData(data json.RawMessage, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
