package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateBookingRequest is the payload for creating a booking intent.
type CreateBookingRequest struct {
	EventID        string        `json:"eventId"`
	UserID         string        `json:"userId"`
	NumberOfPeople int           `json:"numberOfPeople"`
	PaymentOption  PaymentOption `json:"paymentOption"`
}

// BookingIntent is a freshly created booking plus what the traveler should pay now.
type BookingIntent struct {
	Booking     *Booking        `json:"booking"`
	AmountToPay decimal.Decimal `json:"amountToPay"`
}

// CreatePaymentIntentRequest is the payload for POST /payment-intents.
// Exactly one of BookingID and PromotionID is set.
type CreatePaymentIntentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	EventID     string          `json:"eventId"`
	UserID      string          `json:"userId"`
	BookingID   string          `json:"bookingId,omitempty"`
	PromotionID string          `json:"promotionId,omitempty"`
}

// PaymentIntent is handed to the client to open the gateway checkout.
type PaymentIntent struct {
	Reference string `json:"reference"`
	// Amount is in the currency's minor unit.
	Amount int64 `json:"amount"`
}

// CancelBookingRequest is the payload for POST /bookings/{id}/cancel.
type CancelBookingRequest struct {
	EventID        string          `json:"eventId"`
	NumberOfPeople int             `json:"numberOfPeople"`
	AmountPaid     decimal.Decimal `json:"amountPaid"`
	UserID         string          `json:"userId"`
}

// CancellationResult summarises a booking cancellation.
type CancellationResult struct {
	CancelledBookingID string   `json:"cancelledBookingId"`
	CancelledPayments  []string `json:"cancelledPayments"`
	RefundIDs          []string `json:"refundIds"`
}

// CreateRefundRequest is the payload for an admin-created refund.
type CreateRefundRequest struct {
	PaymentID string          `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	CreatedBy string          `json:"createdBy"`
}

// AdminActionRequest carries the admin performing an approve/reject action.
type AdminActionRequest struct {
	AdminID string `json:"adminId"`
	Reason  string `json:"reason,omitempty"`
}

// CreateWithdrawalRequest is the payload for POST /withdrawals.
type CreateWithdrawalRequest struct {
	OrganizerID    string          `json:"organizerId"`
	EventReference string          `json:"eventReference"`
	Amount         decimal.Decimal `json:"amount"`
	AccountDetails AccountDetails  `json:"accountDetails"`
}

// ExpirySummary is the result of one promotion expiry sweep.
type ExpirySummary struct {
	Scanned int       `json:"scanned"`
	Expired []string  `json:"expired"`
	Failed  []string  `json:"failed"`
	RanAt   time.Time `json:"ranAt"`
}

// SweepSummary is the result of one pending-payment sweep.
type SweepSummary struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Untouched int `json:"untouched"`
	Failed    int `json:"failed"`
}

// DriftReport describes how far an event's derived fields had drifted from
// its source records.
type DriftReport struct {
	EventID                 string          `json:"eventId"`
	AvailableSpacesBefore   int             `json:"availableSpacesBefore"`
	AvailableSpacesAfter    int             `json:"availableSpacesAfter"`
	CollectionBalanceBefore decimal.Decimal `json:"collectionBalanceBefore"`
	CollectionBalanceAfter  decimal.Decimal `json:"collectionBalanceAfter"`
	Drifted                 bool            `json:"drifted"`
}

// WebhookAck is the response body for webhook deliveries.
type WebhookAck struct {
	Received bool `json:"received"`
	Parked   bool `json:"parked,omitempty"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateEventRequest is the payload for POST /events.
type CreateEventRequest struct {
	Title              string            `json:"title"`
	OrganizerID        string            `json:"organizerId"`
	Price              decimal.Decimal   `json:"price"`
	DepositAmount      decimal.Decimal   `json:"depositAmount"`
	TotalSpaces        int               `json:"totalSpaces"`
	PaymentManagement  PaymentManagement `json:"paymentManagement"`
	PlatformFeePercent decimal.Decimal   `json:"platformFeePercent"`
	AccountDetails     *AccountDetails   `json:"accountDetails,omitempty"`
}

// CreatePromotionRequest is the payload for POST /promotions.
type CreatePromotionRequest struct {
	Name         string          `json:"name"`
	DurationDays int             `json:"durationDays"`
	Price        decimal.Decimal `json:"price"`
}
