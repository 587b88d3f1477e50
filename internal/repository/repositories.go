package repository

// Repositories groups the typed repositories that share one Store.
type Repositories struct {
	Events      *EventRepository
	Bookings    *BookingRepository
	Payments    *PaymentRepository
	Refunds     *RefundRepository
	Withdrawals *WithdrawalRepository
	Promotions  *PromotionRepository
	Webhooks    *WebhookRepository
}

// New builds every repository on top of store.
func New(store Store) *Repositories {
	return &Repositories{
		Events:      NewEventRepository(store),
		Bookings:    NewBookingRepository(store),
		Payments:    NewPaymentRepository(store),
		Refunds:     NewRefundRepository(store),
		Withdrawals: NewWithdrawalRepository(store),
		Promotions:  NewPromotionRepository(store),
		Webhooks:    NewWebhookRepository(store),
	}
}
