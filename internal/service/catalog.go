package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/shopspring/decimal"
)

// CatalogService manages the events and promotion packages that payments
// settle against.
type CatalogService struct {
	repos *repository.Repositories
	log   *slog.Logger
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(repos *repository.Repositories, log *slog.Logger) *CatalogService {
	return &CatalogService{repos: repos, log: log}
}

// CreateEvent validates the request and stores a new event with all of its
// spaces available and an empty collection balance.
func (s *CatalogService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.OrganizerID = strings.TrimSpace(req.OrganizerID)
	if req.Title == "" {
		return nil, invalid("title is required")
	}
	if req.OrganizerID == "" {
		return nil, invalid("organizerId is required")
	}
	if req.TotalSpaces <= 0 {
		return nil, invalid("totalSpaces must be a positive integer")
	}
	if req.TotalSpaces > 100_000 {
		return nil, invalid("totalSpaces cannot exceed 100,000")
	}
	if req.Price.IsNegative() || req.DepositAmount.IsNegative() {
		return nil, invalid("price and depositAmount cannot be negative")
	}
	if req.DepositAmount.GreaterThan(req.Price) {
		return nil, invalid("depositAmount cannot exceed price")
	}
	if req.PlatformFeePercent.IsNegative() || req.PlatformFeePercent.GreaterThan(hundred) {
		return nil, invalid("platformFeePercent must be between 0 and 100")
	}
	switch req.PaymentManagement {
	case "":
		req.PaymentManagement = model.ManagedByPlatform
	case model.ManagedByPlatform, model.ManagedByManual:
	default:
		return nil, invalid("paymentManagement must be %q or %q", model.ManagedByPlatform, model.ManagedByManual)
	}

	event := &model.Event{
		Title:              req.Title,
		OrganizerID:        req.OrganizerID,
		Price:              req.Price,
		DepositAmount:      req.DepositAmount,
		TotalSpaces:        req.TotalSpaces,
		AvailableSpaces:    req.TotalSpaces,
		CollectionBalance:  decimal.Zero,
		PaymentManagement:  req.PaymentManagement,
		PlatformFeePercent: req.PlatformFeePercent,
		AccountDetails:     req.AccountDetails,
		CreatedAt:          utcNow(),
	}
	if err := s.repos.Events.Create(ctx, event); err != nil {
		return nil, err
	}
	s.log.Info("event created", "event_id", event.ID, "spaces", event.TotalSpaces, "managed_by", event.PaymentManagement)
	return event, nil
}

// GetEvent returns a single event by id.
func (s *CatalogService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, invalid("event id is required")
	}
	event, err := s.repos.Events.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("event", id, err)
	}
	return event, nil
}

// CreatePromotion stores a promotion package.
func (s *CatalogService) CreatePromotion(ctx context.Context, req model.CreatePromotionRequest) (*model.Promotion, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, invalid("name is required")
	}
	if req.DurationDays <= 0 {
		return nil, invalid("durationDays must be a positive integer")
	}
	if !req.Price.IsPositive() {
		return nil, invalid("price must be positive")
	}
	promo := &model.Promotion{Name: req.Name, DurationDays: req.DurationDays, Price: req.Price}
	if err := s.repos.Promotions.Create(ctx, promo); err != nil {
		return nil, err
	}
	return promo, nil
}
