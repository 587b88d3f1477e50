package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/broker"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
)

// PendingPaymentSweeper finds payments stuck in pending because a webhook
// never arrived and asks the gateway what really happened.
type PendingPaymentSweeper struct {
	repos        *repository.Repositories
	gw           gateway.Client
	reconciler   *WebhookReconciler
	log          *slog.Logger
	age          time.Duration
	abandonAfter time.Duration
	batchSize    int
	workers      int
	now          func() time.Time
}

// NewPendingPaymentSweeper constructs a PendingPaymentSweeper.
func NewPendingPaymentSweeper(repos *repository.Repositories, gw gateway.Client, reconciler *WebhookReconciler, log *slog.Logger, cfg Settings) *PendingPaymentSweeper {
	s := &PendingPaymentSweeper{
		repos:        repos,
		gw:           gw,
		reconciler:   reconciler,
		log:          log,
		age:          cfg.SweepAge,
		abandonAfter: cfg.AbandonAfter,
		batchSize:    cfg.SweepBatchSize,
		workers:      cfg.SweepWorkers,
		now:          utcNow,
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.workers <= 0 {
		s.workers = 1
	}
	return s
}

type sweepOutcome int

const (
	sweepUntouched sweepOutcome = iota
	sweepCompleted
	sweepCancelled
	sweepFailed
)

// Run checks one batch of pending payments older than the sweep age using a
// fixed pool of workers.
func (s *PendingPaymentSweeper) Run(ctx context.Context) (*model.SweepSummary, error) {
	now := s.now()
	payments, err := s.repos.Payments.ListPendingBefore(ctx, now.Add(-s.age), s.batchSize)
	if err != nil {
		return nil, err
	}
	summary := &model.SweepSummary{Scanned: len(payments)}
	if len(payments) == 0 {
		return summary, nil
	}

	jobs := make(chan model.Payment, len(payments))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				outcome := s.sync(ctx, &p, now)
				mu.Lock()
				switch outcome {
				case sweepCompleted:
					summary.Completed++
				case sweepCancelled:
					summary.Cancelled++
				case sweepFailed:
					summary.Failed++
				default:
					summary.Untouched++
				}
				mu.Unlock()
			}
		}()
	}
	for _, p := range payments {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	s.log.Info("pending payment sweep finished",
		"scanned", summary.Scanned,
		"completed", summary.Completed,
		"cancelled", summary.Cancelled,
		"untouched", summary.Untouched,
		"failed", summary.Failed,
	)
	return summary, nil
}

// sync brings one pending payment in line with the gateway.
func (s *PendingPaymentSweeper) sync(ctx context.Context, p *model.Payment, now time.Time) sweepOutcome {
	abandoned := now.Sub(p.CreatedAt) > s.abandonAfter

	tx, err := s.gw.VerifyTransaction(ctx, p.ID)
	if err != nil {
		var gerr *gateway.Error
		if errors.As(err, &gerr) && abandoned &&
			(gerr.StatusCode == http.StatusBadRequest || gerr.StatusCode == http.StatusNotFound) {
			// The checkout was never opened at the gateway.
			return s.cancel(ctx, p, "unknown to gateway")
		}
		s.log.Error("verify pending payment failed", "reference", p.ID, "error", err)
		return sweepFailed
	}

	switch tx.Status {
	case gateway.TxSuccess:
		charge := tx.AsChargeSuccess()
		charge.Ref = p.ID
		if charge.PaidAt.IsZero() {
			charge.PaidAt = now
		}
		if err := s.reconciler.HandleChargeSuccess(ctx, charge); err != nil {
			s.log.Error("settle swept payment failed", "reference", p.ID, "error", err)
			return sweepFailed
		}
		return sweepCompleted
	case gateway.TxFailed, gateway.TxReversed:
		return s.cancel(ctx, p, tx.Status)
	case gateway.TxAbandoned:
		if abandoned {
			return s.cancel(ctx, p, tx.Status)
		}
	}
	return sweepUntouched
}

func (s *PendingPaymentSweeper) cancel(ctx context.Context, p *model.Payment, why string) sweepOutcome {
	ok, err := s.repos.Payments.Cancel(ctx, p.ID, s.now())
	if err != nil {
		s.log.Error("cancel swept payment failed", "reference", p.ID, "error", err)
		return sweepFailed
	}
	if !ok {
		return sweepUntouched
	}
	s.log.Info("pending payment cancelled", "reference", p.ID, "reason", why)
	s.reconciler.notify.emit(ctx, broker.PaymentCancelled, p.ID, p.EventID, string(model.PaymentCancelled), p.Amount)
	return sweepCancelled
}
