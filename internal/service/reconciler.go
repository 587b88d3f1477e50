package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/broker"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/google/uuid"
)

// webhookNamespace derives receipt ids from delivery bodies, so a redelivery
// of the same payload updates one receipt.
var webhookNamespace = uuid.MustParse("6f1c7f3e-2b8e-4d1c-9a57-0c4f5e2a8b10")

// WebhookReconciler applies gateway notifications to payments, bookings,
// events, refunds and withdrawals. Every handler re-reads current state and
// writes conditionally, so redelivered or reordered notifications converge
// to the same result.
type WebhookReconciler struct {
	repos  *repository.Repositories
	gw     gateway.Client
	notify notifier
	log    *slog.Logger
	secret string
	now    func() time.Time
}

var _ gateway.Handler = (*WebhookReconciler)(nil)

// NewWebhookReconciler constructs a WebhookReconciler. secret verifies
// webhook signatures.
func NewWebhookReconciler(repos *repository.Repositories, gw gateway.Client, n notifier, log *slog.Logger, secret string) *WebhookReconciler {
	return &WebhookReconciler{repos: repos, gw: gw, notify: n, log: log, secret: secret, now: utcNow}
}

// HandleWebhook verifies, records and applies one delivery.
//
// A nil error means the delivery may be acknowledged. Malformed payloads are
// parked rather than retried. Any other error should make the caller answer
// with a 5xx so the gateway redelivers.
func (r *WebhookReconciler) HandleWebhook(ctx context.Context, body []byte, signature string) (model.WebhookAck, error) {
	if err := gateway.VerifySignature(r.secret, body, signature); err != nil {
		return model.WebhookAck{}, err
	}

	now := r.now()
	receipt := &model.WebhookEvent{
		ID:      uuid.NewSHA1(webhookNamespace, body).String(),
		Payload: receiptPayload(body),
	}

	ev, err := gateway.ParseEvent(body, now)
	if err != nil {
		if !errors.Is(err, gateway.ErrMalformedPayload) {
			return model.WebhookAck{}, err
		}
		receipt.Status = model.WebhookParked
		receipt.Error = err.Error()
		r.log.Warn("webhook parked", "receipt_id", receipt.ID, "error", err)
		if err := r.repos.Webhooks.Record(ctx, receipt); err != nil {
			return model.WebhookAck{}, err
		}
		return model.WebhookAck{Received: true, Parked: true}, nil
	}

	receipt.Type = ev.Type()
	receipt.Reference = ev.Reference()
	dispatchErr := ev.Dispatch(ctx, r)

	processedAt := r.now()
	receipt.ProcessedAt = &processedAt
	switch {
	case dispatchErr != nil:
		receipt.Status = model.WebhookFailed
		receipt.Error = dispatchErr.Error()
	case isUnknown(ev):
		receipt.Status = model.WebhookIgnored
	default:
		receipt.Status = model.WebhookProcessed
	}
	if err := r.repos.Webhooks.Record(ctx, receipt); err != nil {
		r.log.Error("record webhook receipt failed", "receipt_id", receipt.ID, "type", receipt.Type, "error", err)
	}

	if dispatchErr != nil {
		r.log.Error("webhook processing failed",
			"type", ev.Type(),
			"reference", ev.Reference(),
			"error", dispatchErr,
		)
		return model.WebhookAck{}, dispatchErr
	}
	return model.WebhookAck{Received: true}, nil
}

// receiptPayload keeps the body as-is when it is JSON and as a JSON string
// otherwise, so unparseable deliveries can still be stored.
func receiptPayload(body []byte) json.RawMessage {
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

func isUnknown(ev gateway.Event) bool {
	_, ok := ev.(gateway.Unknown)
	return ok
}

// VerifyPayment asks the gateway about a payment and, when the charge
// succeeded, settles it exactly as a charge.success webhook would. A payment
// that is already completed has any unapplied side effects resumed.
func (r *WebhookReconciler) VerifyPayment(ctx context.Context, reference string) (*model.Payment, error) {
	if reference == "" {
		return nil, invalid("reference is required")
	}
	payment, err := r.repos.Payments.GetByID(ctx, reference)
	if err != nil {
		return nil, lookupError("payment", reference, err)
	}

	switch payment.Status {
	case model.PaymentCompleted:
		if err := r.settle(ctx, payment); err != nil {
			return nil, err
		}
	case model.PaymentPending:
		tx, err := r.gw.VerifyTransaction(ctx, reference)
		if err != nil {
			return nil, err
		}
		if tx.Status == gateway.TxSuccess {
			charge := tx.AsChargeSuccess()
			charge.Ref = reference
			if charge.PaidAt.IsZero() {
				charge.PaidAt = r.now()
			}
			if err := r.HandleChargeSuccess(ctx, charge); err != nil {
				return nil, err
			}
		} else {
			r.log.Info("payment not yet successful at gateway", "reference", reference, "gateway_status", tx.Status)
		}
	}
	return r.repos.Payments.GetByID(ctx, reference)
}

// HandleChargeSuccess completes the referenced payment and applies its side
// effects. Unknown references are stored as unallocated payments.
func (r *WebhookReconciler) HandleChargeSuccess(ctx context.Context, ev gateway.ChargeSuccess) error {
	payment, err := r.repos.Payments.GetByID(ctx, ev.Ref)
	if errors.Is(err, repository.ErrNotFound) {
		return r.recordUnallocated(ctx, ev)
	}
	if err != nil {
		return fmt.Errorf("get payment %s: %w", ev.Ref, err)
	}

	switch payment.Status {
	case model.PaymentCancelled:
		r.log.Warn("charge succeeded for cancelled payment; left unchanged",
			"reference", payment.ID, "amount", ev.Amount.String())
		return nil
	case model.PaymentUnallocated:
		r.log.Debug("charge replay for unallocated payment", "reference", payment.ID)
		return nil
	case model.PaymentCompleted:
		r.log.Debug("charge replay, resuming settlement", "reference", payment.ID)
	case model.PaymentPending:
		customer := ev.Customer
		ok, err := r.repos.Payments.Complete(ctx, payment.ID, repository.CompletionStamp{
			PaidAt:   ev.PaidAt,
			Channel:  ev.Channel,
			Currency: ev.Currency,
			Customer: &customer,
		})
		if err != nil {
			return fmt.Errorf("complete payment %s: %w", payment.ID, err)
		}
		if ok {
			if !ev.Amount.Equal(payment.Amount) {
				r.log.Warn("charged amount differs from payment amount",
					"reference", payment.ID,
					"charged", ev.Amount.String(),
					"expected", payment.Amount.String(),
				)
			}
			r.log.Info("payment completed", "reference", payment.ID, "amount", payment.Amount.String())
			r.notify.emit(ctx, broker.PaymentCompleted, payment.ID, payment.EventID, string(model.PaymentCompleted), payment.Amount)
		}
		// Re-read either way: a concurrent delivery or a cancellation may
		// have won the transition.
		if payment, err = r.repos.Payments.GetByID(ctx, payment.ID); err != nil {
			return fmt.Errorf("reload payment %s: %w", ev.Ref, err)
		}
		if payment.Status != model.PaymentCompleted {
			r.log.Warn("payment left pending state concurrently", "reference", payment.ID, "status", payment.Status)
			return nil
		}
	}
	return r.settle(ctx, payment)
}

func (r *WebhookReconciler) recordUnallocated(ctx context.Context, ev gateway.ChargeSuccess) error {
	paidAt := ev.PaidAt
	customer := ev.Customer
	p := &model.Payment{
		ID:             ev.Ref,
		Amount:         ev.Amount,
		Status:         model.PaymentUnallocated,
		Currency:       ev.Currency,
		Channel:        ev.Channel,
		Customer:       &customer,
		PaidAt:         &paidAt,
		GatewayPayload: ev.Raw,
	}
	err := r.repos.Payments.Create(ctx, p)
	if errors.Is(err, repository.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record unallocated payment %s: %w", ev.Ref, err)
	}
	r.log.Warn("unattributable charge stored as unallocated", "reference", ev.Ref, "amount", ev.Amount.String())
	r.notify.emit(ctx, broker.PaymentUnallocated, p.ID, "", string(p.Status), p.Amount)
	return nil
}

// settle applies the side effects of a completed payment that have not been
// applied yet.
func (r *WebhookReconciler) settle(ctx context.Context, p *model.Payment) error {
	if p.BookingID != "" {
		if err := r.applyToBooking(ctx, p); err != nil {
			return err
		}
	}
	if p.PromotionID != "" {
		return r.applyPromotion(ctx, p)
	}
	if p.ManagedBy == model.ManagedByPlatform && p.BookingID != "" {
		return r.creditBalance(ctx, p)
	}
	return nil
}

func (r *WebhookReconciler) applyToBooking(ctx context.Context, p *model.Payment) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		b, err := r.repos.Bookings.GetByID(ctx, p.BookingID)
		if errors.Is(err, repository.ErrNotFound) {
			r.log.Warn("payment references missing booking", "reference", p.ID, "booking_id", p.BookingID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("get booking %s: %w", p.BookingID, err)
		}
		if b.Status == model.BookingCancelled {
			r.log.Warn("payment completed for cancelled booking; its refund is raised by the cancellation",
				"reference", p.ID, "booking_id", b.ID, "amount", p.Amount.String())
			return nil
		}
		if !b.HasApplied(p.ID) {
			ok, err := r.repos.Bookings.ApplyPayment(ctx, b, p.ID, p.Amount, r.now())
			if err != nil {
				return fmt.Errorf("apply payment %s to booking %s: %w", p.ID, b.ID, err)
			}
			if !ok {
				continue
			}
			r.log.Info("payment applied to booking", "reference", p.ID, "booking_id", b.ID)
		}
		return r.holdCapacity(ctx, b)
	}
	return fmt.Errorf("apply payment %s to booking %s: %w", p.ID, p.BookingID, ErrConflict)
}

// holdCapacity takes the booking's spaces from its event once, on the first
// confirmation. The marker is claimed before the event is touched and
// released again if the event update fails.
func (r *WebhookReconciler) holdCapacity(ctx context.Context, b *model.Booking) error {
	ok, err := r.repos.Bookings.HoldCapacity(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("hold capacity for booking %s: %w", b.ID, err)
	}
	if !ok {
		return nil
	}
	if err := r.repos.Events.AdjustSpaces(ctx, b.EventID, -b.NumberOfPeople); err != nil {
		if _, uerr := r.repos.Bookings.ReleaseCapacity(ctx, b.ID); uerr != nil {
			r.log.Error("undo capacity hold failed", "booking_id", b.ID, "error", uerr)
		}
		return fmt.Errorf("take %d spaces from event %s: %w", b.NumberOfPeople, b.EventID, err)
	}
	// Paid bookings are honoured even past capacity; operators settle the
	// overbooking by hand.
	if e, err := r.repos.Events.GetByID(ctx, b.EventID); err == nil && e.AvailableSpaces < 0 {
		r.log.Warn("event oversold by confirmed booking",
			"event_id", b.EventID,
			"booking_id", b.ID,
			"people", b.NumberOfPeople,
			"available_spaces", e.AvailableSpaces,
		)
	}
	return nil
}

func (r *WebhookReconciler) creditBalance(ctx context.Context, p *model.Payment) error {
	if p.BalanceCredited || !p.OrganizerAmount.IsPositive() {
		return nil
	}
	ok, err := r.repos.Payments.SetBalanceCredited(ctx, p.ID, true)
	if err != nil {
		return fmt.Errorf("mark payment %s credited: %w", p.ID, err)
	}
	if !ok {
		return nil
	}
	if err := r.repos.Events.AdjustBalance(ctx, p.EventID, p.OrganizerAmount); err != nil {
		if _, uerr := r.repos.Payments.SetBalanceCredited(ctx, p.ID, false); uerr != nil {
			r.log.Error("undo balance credit marker failed", "reference", p.ID, "error", uerr)
		}
		return fmt.Errorf("credit event %s balance: %w", p.EventID, err)
	}
	r.log.Info("event balance credited", "event_id", p.EventID, "reference", p.ID, "amount", p.OrganizerAmount.String())
	return nil
}

func (r *WebhookReconciler) applyPromotion(ctx context.Context, p *model.Payment) error {
	if p.PromotionApplied {
		return nil
	}
	ok, err := r.repos.Payments.SetPromotionApplied(ctx, p.ID, true)
	if err != nil {
		return fmt.Errorf("mark payment %s promotion applied: %w", p.ID, err)
	}
	if !ok {
		return nil
	}
	if err := r.repos.Events.Promote(ctx, p.EventID, p.PromotionID, r.now()); err != nil {
		if _, uerr := r.repos.Payments.SetPromotionApplied(ctx, p.ID, false); uerr != nil {
			r.log.Error("undo promotion marker failed", "reference", p.ID, "error", uerr)
		}
		return fmt.Errorf("promote event %s: %w", p.EventID, err)
	}
	r.log.Info("event promoted", "event_id", p.EventID, "promotion_id", p.PromotionID)
	r.notify.emit(ctx, broker.PromotionActivated, p.EventID, p.EventID, p.PromotionID, p.Amount)
	return nil
}

// HandleTransferSuccess completes the withdrawal paid out under the
// reference and takes its amount off the event balance. Unknown references
// are logged and ignored.
func (r *WebhookReconciler) HandleTransferSuccess(ctx context.Context, ev gateway.TransferSuccess) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		w, err := r.repos.Withdrawals.FindByTransferReference(ctx, ev.Ref)
		if errors.Is(err, repository.ErrNotFound) {
			r.log.Warn("transfer success for unknown reference", "reference", ev.Ref)
			return nil
		}
		if err != nil {
			return err
		}

		switch w.Status {
		case model.WithdrawalCompleted:
			r.log.Debug("transfer replay", "reference", ev.Ref, "withdrawal_id", w.ID)
			return r.debitBalance(ctx, w)
		case model.WithdrawalRejected:
			r.log.Warn("transfer success for rejected withdrawal", "reference", ev.Ref, "withdrawal_id", w.ID)
			return nil
		}

		ok, err := r.repos.Withdrawals.Complete(ctx, w.ID, w.Status, r.now())
		if err != nil {
			return fmt.Errorf("complete withdrawal %s: %w", w.ID, err)
		}
		if !ok {
			continue
		}
		r.log.Info("withdrawal completed", "withdrawal_id", w.ID, "reference", ev.Ref, "amount", w.Amount.String())
		r.notify.emit(ctx, broker.WithdrawalCompleted, w.ID, w.EventReference, string(model.WithdrawalCompleted), w.Amount)
		return r.debitBalance(ctx, w)
	}
	return fmt.Errorf("complete transfer %s: %w", ev.Ref, ErrConflict)
}

func (r *WebhookReconciler) debitBalance(ctx context.Context, w *model.Withdrawal) error {
	if w.BalanceDebited {
		return nil
	}
	ok, err := r.repos.Withdrawals.SetBalanceDebited(ctx, w.ID, true)
	if err != nil {
		return fmt.Errorf("mark withdrawal %s debited: %w", w.ID, err)
	}
	if !ok {
		return nil
	}
	if err := r.repos.Events.AdjustBalance(ctx, w.EventReference, w.Amount.Neg()); err != nil {
		if _, uerr := r.repos.Withdrawals.SetBalanceDebited(ctx, w.ID, false); uerr != nil {
			r.log.Error("undo balance debit marker failed", "withdrawal_id", w.ID, "error", uerr)
		}
		return fmt.Errorf("debit event %s balance: %w", w.EventReference, err)
	}
	return nil
}

func (r *WebhookReconciler) HandleRefundProcessing(ctx context.Context, ev gateway.RefundProcessing) error {
	return r.advanceRefund(ctx, ev.RefundUpdate, model.RefundProcessing)
}

func (r *WebhookReconciler) HandleRefundProcessed(ctx context.Context, ev gateway.RefundProcessed) error {
	return r.advanceRefund(ctx, ev.RefundUpdate, model.RefundCompleted)
}

func (r *WebhookReconciler) HandleRefundFailed(ctx context.Context, ev gateway.RefundFailed) error {
	return r.advanceRefund(ctx, ev.RefundUpdate, model.RefundFailed)
}

// refundRank orders refund states so webhooks only ever move a refund forward.
func refundRank(s model.RefundStatus) int {
	switch s {
	case model.RefundInitiated:
		return 0
	case model.RefundProcessing:
		return 1
	default:
		return 2
	}
}

func (r *WebhookReconciler) advanceRefund(ctx context.Context, ev gateway.RefundUpdate, next model.RefundStatus) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		refunds, err := r.repos.Refunds.FindByReference(ctx, ev.Ref)
		if err != nil {
			return err
		}
		refund := pickRefund(refunds, ev)
		if refund == nil {
			r.log.Warn("refund event for unknown reference", "reference", ev.Ref, "status", next)
			return nil
		}
		if refundRank(refund.Status) >= refundRank(next) {
			r.log.Debug("refund event does not move refund forward",
				"refund_id", refund.ID, "current", refund.Status, "event", next)
			return nil
		}
		ok, err := r.repos.Refunds.Advance(ctx, refund.ID, refund.Status, next, r.now())
		if err != nil {
			return fmt.Errorf("advance refund %s: %w", refund.ID, err)
		}
		if !ok {
			continue
		}
		r.log.Info("refund status changed", "refund_id", refund.ID, "from", refund.Status, "to", next)
		r.notify.emit(ctx, broker.RefundStatusChanged, refund.ID, refund.EventID, string(next), refund.Amount)
		return nil
	}
	return fmt.Errorf("advance refund for %s: %w", ev.Ref, ErrConflict)
}

// pickRefund chooses which refund of a transaction a gateway update is
// about. Submitted refunds (processing, or claimed for submission) come
// first and a matching amount wins among them. Failing that, a lone
// initiated refund is taken. Otherwise the last settled refund is returned
// so the caller logs a no-op.
func pickRefund(refunds []model.Refund, ev gateway.RefundUpdate) *model.Refund {
	var submitted, open []*model.Refund
	var settled *model.Refund
	for i := range refunds {
		rf := &refunds[i]
		switch {
		case rf.Status == model.RefundProcessing,
			rf.Status == model.RefundInitiated && rf.ClaimToken != "":
			submitted = append(submitted, rf)
		case rf.Status == model.RefundInitiated:
			open = append(open, rf)
		case rf.Status != model.RefundRejected:
			settled = rf
		}
	}
	for _, rf := range submitted {
		if rf.Amount.Equal(ev.Amount) {
			return rf
		}
	}
	if len(submitted) > 0 {
		return submitted[0]
	}
	if len(open) == 1 {
		return open[0]
	}
	return settled
}

// HandleUnknown logs event types the engine does not act on.
func (r *WebhookReconciler) HandleUnknown(ctx context.Context, ev gateway.Unknown) error {
	r.log.Warn("ignoring unhandled webhook event", "type", ev.Name, "reference", ev.Ref)
	return nil
}
