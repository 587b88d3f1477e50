// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the settlement engine.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// Handler holds all HTTP handlers for the settlement API.
type Handler struct {
	engine *service.Engine
	log    *slog.Logger
}

// New constructs a Handler.
func New(engine *service.Engine, log *slog.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// fail maps a service error to a status code. Unexpected errors are logged
// and reported without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var gwErr *gateway.Error
	switch {
	case service.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrCapacityExceeded),
		errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, repository.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &gwErr):
		h.log.Error("gateway call failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "payment gateway error")
	default:
		h.log.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads the request body into dst and answers 400 on failure.
func decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	return req, true
}

// CreateEvent handles POST /events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[model.CreateEventRequest](w, r)
	if !ok {
		return
	}
	event, err := h.engine.Catalog.CreateEvent(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// GetEvent handles GET /events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.engine.Catalog.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// ReconcileEvent handles POST /events/{id}/reconcile
// Recomputes available spaces and collection balance from source records.
func (h *Handler) ReconcileEvent(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Drift.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CreatePromotion handles POST /promotions
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[model.CreatePromotionRequest](w, r)
	if !ok {
		return
	}
	promo, err := h.engine.Catalog.CreatePromotion(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, promo)
}

// CreateBooking handles POST /bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[model.CreateBookingRequest](w, r)
	if !ok {
		return
	}
	intent, err := h.engine.Bookings.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

// GetBooking handles GET /bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.Bookings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CancelBooking handles POST /bookings/{id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[model.CancelBookingRequest](w, r)
	if !ok {
		return
	}
	res, err := h.engine.Cancel.Cancel(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreatePaymentIntent handles POST /payment-intents
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[model.CreatePaymentIntentRequest](w, r)
	if !ok {
		return
	}
	intent, err := h.engine.Payments.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

// GetPayment handles GET /payments/{reference}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Payments.Get(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// VerifyPayment handles GET /payments/{reference}/verify
// Asks the gateway for the transaction and settles it when it succeeded.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Webhooks.VerifyPayment(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GatewayWebhook handles POST /webhooks/gateway
// The raw body is needed for signature verification, so it is not decoded here.
func (h *Handler) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	ack, err := h.engine.Webhooks.HandleWebhook(r.Context(), body, r.Header.Get(gateway.SignatureHeader))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		// any 5xx makes the gateway redeliver
		h.log.Error("webhook not acknowledged", "error", err)
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// CreateRefund handles POST /refunds
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[model.CreateRefundRequest](w, r)
	if !ok {
		return
	}
	ref, err := h.engine.Refunds.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

// GetRefund handles GET /refunds/{id}
func (h *Handler) GetRefund(w http.ResponseWriter, r *http.Request) {
	ref, err := h.engine.Refunds.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// ApproveRefund handles POST /refunds/{id}/approve
func (h *Handler) ApproveRefund(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[model.AdminActionRequest](w, r)
	if !ok {
		return
	}
	ref, err := h.engine.Refunds.Approve(r.Context(), chi.URLParam(r, "id"), req.AdminID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// RejectRefund handles POST /refunds/{id}/reject
func (h *Handler) RejectRefund(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[model.AdminActionRequest](w, r)
	if !ok {
		return
	}
	ref, err := h.engine.Refunds.Reject(r.Context(), chi.URLParam(r, "id"), req.AdminID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// RequestWithdrawal handles POST /withdrawals
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[model.CreateWithdrawalRequest](w, r)
	if !ok {
		return
	}
	wd, err := h.engine.Withdrawals.Request(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

// GetWithdrawal handles GET /withdrawals/{id}
func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := h.engine.Withdrawals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// ApproveWithdrawal handles POST /withdrawals/{id}/approve
// Creates the transfer recipient and initiates the payout.
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[model.AdminActionRequest](w, r)
	if !ok {
		return
	}
	wd, err := h.engine.Withdrawals.Approve(r.Context(), chi.URLParam(r, "id"), req.AdminID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// RejectWithdrawal handles POST /withdrawals/{id}/reject
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[model.AdminActionRequest](w, r)
	if !ok {
		return
	}
	wd, err := h.engine.Withdrawals.Reject(r.Context(), chi.URLParam(r, "id"), req.AdminID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// ExpirePromotions handles GET /cron/promotions/expire
func (h *Handler) ExpirePromotions(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Promotions.Run(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// SweepPayments handles POST /cron/payments/sweep
func (h *Handler) SweepPayments(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Sweeper.Run(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
