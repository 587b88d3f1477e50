package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
)

// WebhookRepository keeps receipts of gateway deliveries.
type WebhookRepository struct {
	store Store
}

// NewWebhookRepository constructs a WebhookRepository.
func NewWebhookRepository(store Store) *WebhookRepository {
	return &WebhookRepository{store: store}
}

// Record upserts the receipt for a delivery. Redeliveries of the same
// payload share an id, so Attempts counts them.
func (r *WebhookRepository) Record(ctx context.Context, ev *model.WebhookEvent) error {
	var existing model.WebhookEvent
	err := r.store.Get(ctx, WebhookEvents, ev.ID, &existing)
	switch {
	case err == nil:
		ev.Attempts = existing.Attempts + 1
		ev.ReceivedAt = existing.ReceivedAt
	case errors.Is(err, ErrNotFound):
		ev.Attempts = 1
	default:
		return fmt.Errorf("load webhook receipt: %w", err)
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	if err := r.store.Put(ctx, WebhookEvents, ev.ID, ev); err != nil {
		return fmt.Errorf("store webhook receipt: %w", err)
	}
	return nil
}

// GetByID returns a webhook receipt or ErrNotFound.
func (r *WebhookRepository) GetByID(ctx context.Context, id string) (*model.WebhookEvent, error) {
	var ev model.WebhookEvent
	if err := r.store.Get(ctx, WebhookEvents, id, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
