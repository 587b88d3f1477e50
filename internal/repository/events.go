package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/shopspring/decimal"
)

// EventRepository handles persistence for events.
type EventRepository struct {
	store Store
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(store Store) *EventRepository {
	return &EventRepository{store: store}
}

// Create inserts a new event, generating an id when none is set.
func (r *EventRepository) Create(ctx context.Context, event *model.Event) error {
	if event.ID == "" {
		event.ID = r.store.NewID(Events)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := r.store.Create(ctx, Events, event.ID, event); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetByID returns a single event or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	if err := r.store.Get(ctx, Events, id, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// AdjustSpaces adds delta (negative to hold, positive to release) to availableSpaces.
func (r *EventRepository) AdjustSpaces(ctx context.Context, id string, delta int) error {
	return r.store.Increment(ctx, Events, id, "availableSpaces", decimal.NewFromInt(int64(delta)))
}

// ReserveSpaces takes n spaces from the event provided availableSpaces still
// has the observed value and covers n.
func (r *EventRepository) ReserveSpaces(ctx context.Context, observed *model.Event, n int) (bool, error) {
	if observed.AvailableSpaces < n {
		return false, nil
	}
	return r.store.MergeIf(ctx, Events, observed.ID,
		Fields{"availableSpaces": observed.AvailableSpaces},
		Fields{"availableSpaces": observed.AvailableSpaces - n},
	)
}

// AdjustBalance adds delta to collectionBalance.
func (r *EventRepository) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) error {
	return r.store.Increment(ctx, Events, id, "collectionBalance", delta)
}

// Promote marks the event promoted under promotionID starting at start.
func (r *EventRepository) Promote(ctx context.Context, id, promotionID string, start time.Time) error {
	return r.store.Merge(ctx, Events, id, Fields{
		"isPromoted":         true,
		"promotionId":        promotionID,
		"promotionStartDate": start,
	})
}

// ClearPromotion un-promotes the event only if it still carries the
// promotion that was observed as expired, so a renewal written in between
// survives.
func (r *EventRepository) ClearPromotion(ctx context.Context, observed *model.Event) (bool, error) {
	return r.store.MergeIf(ctx, Events, observed.ID,
		Fields{"isPromoted": true, "promotionId": observed.PromotionID, "promotionStartDate": observed.PromotionStartDate},
		Fields{"isPromoted": false, "promotionId": "", "promotionStartDate": nil},
	)
}

// ListPromoted returns every event with isPromoted=true.
func (r *EventRepository) ListPromoted(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	if err := r.store.Query(ctx, Events, []Filter{Where("isPromoted", Eq, true)}, &events); err != nil {
		return nil, fmt.Errorf("list promoted events: %w", err)
	}
	return events, nil
}

// CorrectDerived overwrites availableSpaces and collectionBalance provided
// neither changed since observed was read.
func (r *EventRepository) CorrectDerived(ctx context.Context, observed *model.Event, spaces int, balance decimal.Decimal) (bool, error) {
	return r.store.MergeIf(ctx, Events, observed.ID,
		Fields{"availableSpaces": observed.AvailableSpaces, "collectionBalance": observed.CollectionBalance},
		Fields{"availableSpaces": spaces, "collectionBalance": balance},
	)
}
