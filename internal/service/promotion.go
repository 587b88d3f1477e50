package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/broker"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// expiryParallelism bounds concurrent event updates in one sweep.
const expiryParallelism = 4

// PromotionExpiryJob un-promotes events whose promotion window has ended.
type PromotionExpiryJob struct {
	repos  *repository.Repositories
	notify notifier
	log    *slog.Logger
	now    func() time.Time
}

// NewPromotionExpiryJob constructs a PromotionExpiryJob.
func NewPromotionExpiryJob(repos *repository.Repositories, n notifier, log *slog.Logger) *PromotionExpiryJob {
	return &PromotionExpiryJob{repos: repos, notify: n, log: log, now: utcNow}
}

// Run sweeps every promoted event once. An event is cleared only if it still
// carries the promotion observed as expired, so a renewal that lands during
// the sweep is kept. Per-event failures are reported in the summary; only a
// failure to list events fails the run.
func (j *PromotionExpiryJob) Run(ctx context.Context) (*model.ExpirySummary, error) {
	now := j.now()
	events, err := j.repos.Events.ListPromoted(ctx)
	if err != nil {
		return nil, err
	}

	summary := &model.ExpirySummary{
		Scanned: len(events),
		Expired: []string{},
		Failed:  []string{},
		RanAt:   now,
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(expiryParallelism)
	for i := range events {
		e := &events[i]
		g.Go(func() error {
			expired, err := j.expire(gctx, e, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				j.log.Error("promotion expiry failed", "event_id", e.ID, "error", err)
				summary.Failed = append(summary.Failed, e.ID)
			case expired:
				summary.Expired = append(summary.Expired, e.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	j.log.Info("promotion expiry sweep finished",
		"scanned", summary.Scanned,
		"expired", len(summary.Expired),
		"failed", len(summary.Failed),
	)
	return summary, nil
}

func (j *PromotionExpiryJob) expire(ctx context.Context, e *model.Event, now time.Time) (bool, error) {
	if e.PromotionID == "" || e.PromotionStartDate == nil {
		return false, fmt.Errorf("promoted event has no promotion window")
	}
	promo, err := j.repos.Promotions.GetByID(ctx, e.PromotionID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, fmt.Errorf("promotion %s: %w", e.PromotionID, ErrNotFound)
	}
	if err != nil {
		return false, err
	}
	if !promo.EndsAt(*e.PromotionStartDate).Before(now) {
		return false, nil
	}
	ok, err := j.repos.Events.ClearPromotion(ctx, e)
	if err != nil {
		return false, err
	}
	if ok {
		j.log.Info("promotion expired", "event_id", e.ID, "promotion_id", e.PromotionID)
		j.notify.emit(ctx, broker.PromotionExpired, e.ID, e.ID, e.PromotionID, decimal.Zero)
	}
	return ok, nil
}
