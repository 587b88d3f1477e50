package repository

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
)

// PromotionRepository handles persistence for promotion packages.
type PromotionRepository struct {
	store Store
}

// NewPromotionRepository constructs a PromotionRepository.
func NewPromotionRepository(store Store) *PromotionRepository {
	return &PromotionRepository{store: store}
}

// Create inserts a promotion package.
func (r *PromotionRepository) Create(ctx context.Context, p *model.Promotion) error {
	if p.ID == "" {
		p.ID = r.store.NewID(Promotions)
	}
	if err := r.store.Create(ctx, Promotions, p.ID, p); err != nil {
		return fmt.Errorf("insert promotion: %w", err)
	}
	return nil
}

// GetByID returns a promotion package or ErrNotFound.
func (r *PromotionRepository) GetByID(ctx context.Context, id string) (*model.Promotion, error) {
	var p model.Promotion
	if err := r.store.Get(ctx, Promotions, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
