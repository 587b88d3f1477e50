package handler

import (
	"log/slog"
	"net/http"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP API over engine.
func NewRouter(engine *service.Engine, log *slog.Logger) http.Handler {
	h := New(engine, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(log))
	r.Use(CORS)

	r.Get("/health", HealthCheck)

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/{id}", h.GetEvent)
		r.Post("/{id}/reconcile", h.ReconcileEvent)
	})
	r.Post("/promotions", h.CreatePromotion)

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.CreateBooking)
		r.Get("/{id}", h.GetBooking)
		r.Post("/{id}/cancel", h.CancelBooking)
	})

	r.Post("/payment-intents", h.CreatePaymentIntent)
	r.Route("/payments", func(r chi.Router) {
		r.Get("/{reference}", h.GetPayment)
		r.Get("/{reference}/verify", h.VerifyPayment)
	})
	r.Post("/webhooks/gateway", h.GatewayWebhook)

	r.Route("/refunds", func(r chi.Router) {
		r.Post("/", h.CreateRefund)
		r.Get("/{id}", h.GetRefund)
		r.Post("/{id}/approve", h.ApproveRefund)
		r.Post("/{id}/reject", h.RejectRefund)
	})

	r.Route("/withdrawals", func(r chi.Router) {
		r.Post("/", h.RequestWithdrawal)
		r.Get("/{id}", h.GetWithdrawal)
		r.Post("/{id}/approve", h.ApproveWithdrawal)
		r.Post("/{id}/reject", h.RejectWithdrawal)
	})

	r.Route("/cron", func(r chi.Router) {
		r.Get("/promotions/expire", h.ExpirePromotions)
		r.Post("/payments/sweep", h.SweepPayments)
	})

	return r
}
