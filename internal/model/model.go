// Package model defines the core domain types for the payment and settlement engine.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentManagement says who collects money for an event.
type PaymentManagement string

const (
	ManagedByPlatform PaymentManagement = "platform"
	ManagedByManual   PaymentManagement = "manual"
)

// AccountDetails identifies the bank account an organizer is paid out to.
type AccountDetails struct {
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
	Currency      string `json:"currency,omitempty"`
}

// Event represents a bookable guided event created by an organizer.
type Event struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	OrganizerID        string            `json:"organizerId"`
	Price              decimal.Decimal   `json:"price"`
	DepositAmount      decimal.Decimal   `json:"depositAmount"`
	TotalSpaces        int               `json:"totalSpaces"`
	AvailableSpaces    int               `json:"availableSpaces"`
	CollectionBalance  decimal.Decimal   `json:"collectionBalance"`
	IsPromoted         bool              `json:"isPromoted"`
	PromotionID        string            `json:"promotionId"`
	PromotionStartDate *time.Time        `json:"promotionStartDate"`
	PaymentManagement  PaymentManagement `json:"paymentManagement"`
	// PlatformFeePercent is a percentage: 5 means 5%.
	PlatformFeePercent decimal.Decimal `json:"platformFeePercent"`
	AccountDetails     *AccountDetails `json:"accountDetails,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// IsPlatformManaged reports whether the platform collects payments for the event.
func (e *Event) IsPlatformManaged() bool {
	return e.PaymentManagement != ManagedByManual
}

// HasSpaceFor returns true when n more people fit on the event.
func (e *Event) HasSpaceFor(n int) bool {
	return n <= e.AvailableSpaces
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

type BookingPaymentStatus string

const (
	BookingPaymentPending BookingPaymentStatus = "pending"
	BookingPaymentPartial BookingPaymentStatus = "partial"
	BookingPaymentPaid    BookingPaymentStatus = "paid"
)

// PaymentOption is the amount a traveler chose to pay at checkout.
type PaymentOption string

const (
	PayFull    PaymentOption = "full"
	PayDeposit PaymentOption = "deposit"
)

// Booking is a traveler's reservation of NumberOfPeople spaces on an Event.
type Booking struct {
	ID             string               `json:"id"`
	EventID        string               `json:"eventId"`
	UserID         string               `json:"userId"`
	NumberOfPeople int                  `json:"numberOfPeople"`
	PaymentOption  PaymentOption        `json:"paymentOption"`
	TotalAmount    decimal.Decimal      `json:"totalAmount"`
	AmountPaid     decimal.Decimal      `json:"amountPaid"`
	AmountDue      decimal.Decimal      `json:"amountDue"`
	PaymentStatus  BookingPaymentStatus `json:"paymentStatus"`
	Status         BookingStatus        `json:"status"`
	// CapacityHeld is true while the booking's people are subtracted from
	// the event's availableSpaces.
	CapacityHeld bool `json:"capacityHeld"`
	// AppliedPayments lists payment ids already added to AmountPaid.
	AppliedPayments []string   `json:"appliedPayments"`
	BookingDate     time.Time  `json:"bookingDate"`
	ConfirmedAt     *time.Time `json:"confirmedAt"`
	CancelledAt     *time.Time `json:"cancelledAt"`
}

// HasApplied reports whether paymentID has already been credited to the booking.
func (b *Booking) HasApplied(paymentID string) bool {
	for _, id := range b.AppliedPayments {
		if id == paymentID {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending     PaymentStatus = "pending"
	PaymentCompleted   PaymentStatus = "completed"
	PaymentCancelled   PaymentStatus = "cancelled"
	PaymentUnallocated PaymentStatus = "unallocated"
)

// Customer is the payer as reported by the gateway.
type Customer struct {
	Email        string `json:"email,omitempty"`
	CustomerCode string `json:"customerCode,omitempty"`
}

// Payment is one gateway checkout attempt and its outcome. Its ID is the
// checkout reference handed to the gateway.
type Payment struct {
	ID              string            `json:"id"`
	EventID         string            `json:"eventId"`
	BookingID       string            `json:"bookingId,omitempty"`
	PromotionID     string            `json:"promotionId,omitempty"`
	UserID          string            `json:"userId"`
	Amount          decimal.Decimal   `json:"amount"`
	Status          PaymentStatus     `json:"status"`
	ManagedBy       PaymentManagement `json:"managedBy"`
	PlatformFee     decimal.Decimal   `json:"platformFee"`
	OrganizerAmount decimal.Decimal   `json:"organizerAmount"`
	Currency        string            `json:"currency,omitempty"`
	Channel         string            `json:"channel,omitempty"`
	Customer        *Customer         `json:"customer,omitempty"`
	PaidAt          *time.Time        `json:"paidAt"`
	CancelledAt     *time.Time        `json:"cancelledAt"`
	// BalanceCredited and PromotionApplied record which side effects of a
	// completed payment have been applied to its event. BalanceReversed is
	// set once the organizer share of a cancelled booking's payment has been
	// taken back off the event balance.
	BalanceCredited  bool            `json:"balanceCredited"`
	PromotionApplied bool            `json:"promotionApplied"`
	BalanceReversed  bool            `json:"balanceReversed"`
	GatewayPayload   json.RawMessage `json:"gatewayPayload,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

type RefundStatus string

const (
	RefundInitiated  RefundStatus = "initiated"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
	RefundRejected   RefundStatus = "rejected"
)

// IsTerminal reports whether no further transition is legal.
func (s RefundStatus) IsTerminal() bool {
	return s == RefundCompleted || s == RefundFailed || s == RefundRejected
}

// Refund is a reversal of a completed Payment, net of a retention fee.
type Refund struct {
	ID             string          `json:"id"`
	PaymentID      string          `json:"paymentId"`
	BookingID      string          `json:"bookingId"`
	EventID        string          `json:"eventId"`
	UserID         string          `json:"userId"`
	Amount         decimal.Decimal `json:"amount"`
	OriginalAmount decimal.Decimal `json:"originalAmount"`
	// Reference is the gateway transaction reference being refunded.
	Reference   string       `json:"reference"`
	Status      RefundStatus `json:"status"`
	Reason      string       `json:"reason"`
	CreatedBy   string       `json:"createdBy,omitempty"`
	ClaimToken  string       `json:"claimToken"`
	ProcessedBy string       `json:"processedBy,omitempty"`
	ProcessedAt *time.Time   `json:"processedAt"`
	RejectedBy  string       `json:"rejectedBy,omitempty"`
	RejectedAt  *time.Time   `json:"rejectedAt"`
	CompletedAt *time.Time   `json:"completedAt"`
	FailedAt    *time.Time   `json:"failedAt"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

// Withdrawal is an organizer's payout request against an event's collection balance.
type Withdrawal struct {
	ID                    string           `json:"id"`
	OrganizerID           string           `json:"organizerId"`
	EventReference        string           `json:"eventReference"`
	Amount                decimal.Decimal  `json:"amount"`
	PlatformFee           decimal.Decimal  `json:"platformFee"`
	NetAmount             decimal.Decimal  `json:"netAmount"`
	Status                WithdrawalStatus `json:"status"`
	AccountDetails        AccountDetails   `json:"accountDetails"`
	TransferReference     string           `json:"transferReference"`
	TransferRecipientCode string           `json:"transferRecipientCode,omitempty"`
	TransferCode          string           `json:"transferCode,omitempty"`
	BalanceDebited        bool             `json:"balanceDebited"`
	ApprovedBy            string           `json:"approvedBy,omitempty"`
	RejectedBy            string           `json:"rejectedBy,omitempty"`
	RejectionReason       string           `json:"rejectionReason,omitempty"`
	ProcessingAt          *time.Time       `json:"processingAt"`
	CompletedAt           *time.Time       `json:"completedAt"`
	RejectedAt            *time.Time       `json:"rejectedAt"`
	CreatedAt             time.Time        `json:"createdAt"`
}

// Promotion is a paid, time-boxed visibility package.
type Promotion struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	DurationDays int             `json:"durationDays"`
	Price        decimal.Decimal `json:"price"`
}

// EndsAt returns the moment a promotion started at start stops being active.
func (p *Promotion) EndsAt(start time.Time) time.Time {
	return start.AddDate(0, 0, p.DurationDays)
}

type WebhookStatus string

const (
	WebhookProcessed WebhookStatus = "processed"
	WebhookFailed    WebhookStatus = "failed"
	WebhookParked    WebhookStatus = "parked"
	WebhookIgnored   WebhookStatus = "ignored"
)

// WebhookEvent is the receipt of one verified gateway delivery.
type WebhookEvent struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Reference   string          `json:"reference"`
	Status      WebhookStatus   `json:"status"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	Payload     json.RawMessage `json:"payload"`
	ReceivedAt  time.Time       `json:"receivedAt"`
	ProcessedAt *time.Time      `json:"processedAt"`
}
