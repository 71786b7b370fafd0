package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/infra/observability"
	"github.com/boddenberg/budget-tracker-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var categoryTracer = otel.Tracer("service/categories")

// CategoryService manages user categories. Categories live in the
// relational store and are mirrored into the purchase graph.
type CategoryService struct {
	categories port.CategoryStore
	purchases  port.PurchaseStore
	cache      *responseCache
	logger     *zap.Logger
}

// NewCategoryService creates the category service.
func NewCategoryService(
	categories port.CategoryStore,
	purchases port.PurchaseStore,
	cache port.Cache,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *CategoryService {
	return &CategoryService{
		categories: categories,
		purchases:  purchases,
		cache:      &responseCache{store: cache, ttl: DefaultCacheTTL, metrics: metrics, logger: logger},
		logger:     logger,
	}
}

// List returns the owner's categories ordered by name.
func (s *CategoryService) List(ctx context.Context, ownerID string) ([]domain.Category, error) {
	ctx, span := categoryTracer.Start(ctx, "CategoryService.List")
	defer span.End()

	key := categoriesKey(ownerID)
	var cached []domain.Category
	if s.cache.get(ctx, "categories", key, &cached) {
		return cached, nil
	}

	list, err := s.categories.ListCategories(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	s.cache.set(ctx, key, "", list)
	return list, nil
}

// Create adds a category. Names are unique per owner.
func (s *CategoryService) Create(ctx context.Context, ownerID string, req *domain.CreateCategoryRequest) (*domain.Category, error) {
	ctx, span := categoryTracer.Start(ctx, "CategoryService.Create")
	defer span.End()

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "name is required"}
	}

	existing, err := s.categories.GetCategoryByName(ctx, ownerID, req.Name)
	if err != nil {
		return nil, fmt.Errorf("check category name: %w", err)
	}
	if existing != nil {
		return nil, &domain.ErrConflict{Message: "a category with this name already exists"}
	}

	c, err := s.categories.CreateCategory(ctx, ownerID, req)
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}

	s.afterWrite(ctx, ownerID, c)
	s.logger.Info("category created", zap.String("user_id", ownerID), zap.String("category_id", c.ID))
	return c, nil
}

// Update changes the given fields of a category.
func (s *CategoryService) Update(ctx context.Context, ownerID, id string, req *domain.UpdateCategoryRequest) (*domain.Category, error) {
	ctx, span := categoryTracer.Start(ctx, "CategoryService.Update")
	defer span.End()
	span.SetAttributes(attribute.String("category.id", id))

	current, err := s.categories.GetCategory(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	if current == nil {
		return nil, &domain.ErrNotFound{Resource: "category", ID: id}
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, &domain.ErrValidation{Field: "name", Message: "name must not be empty"}
		}
		req.Name = &name

		if name != current.Name {
			clash, err := s.categories.GetCategoryByName(ctx, ownerID, name)
			if err != nil {
				return nil, fmt.Errorf("check category name: %w", err)
			}
			if clash != nil && clash.ID != id {
				return nil, &domain.ErrConflict{Message: "a category with this name already exists"}
			}
		}
	}

	c, err := s.categories.UpdateCategory(ctx, ownerID, id, req)
	if err != nil {
		return nil, fmt.Errorf("update category: %w", err)
	}
	if c == nil {
		return nil, &domain.ErrNotFound{Resource: "category", ID: id}
	}

	s.afterWrite(ctx, ownerID, c)
	return c, nil
}

// Delete removes a category that no purchase references anymore.
func (s *CategoryService) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span := categoryTracer.Start(ctx, "CategoryService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("category.id", id))

	current, err := s.categories.GetCategory(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("get category: %w", err)
	}
	if current == nil {
		return &domain.ErrNotFound{Resource: "category", ID: id}
	}

	// categories and purchases live in different stores, so the reference
	// check has to happen here
	inUse, err := s.purchases.CountPurchasesByCategory(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("count purchases: %w", err)
	}
	if inUse > 0 {
		return &domain.ErrConflict{Message: fmt.Sprintf("category is used by %d purchase(s) and cannot be deleted", inUse)}
	}

	deleted, err := s.categories.DeleteCategory(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if !deleted {
		return &domain.ErrNotFound{Resource: "category", ID: id}
	}

	s.cache.invalidateCategories(ctx, ownerID)
	s.logger.Info("category deleted", zap.String("user_id", ownerID), zap.String("category_id", id))
	return nil
}

func (s *CategoryService) afterWrite(ctx context.Context, ownerID string, c *domain.Category) {
	if err := s.purchases.SyncCategory(ctx, c); err != nil {
		s.logger.Warn("category mirror sync failed",
			zap.String("category_id", c.ID),
			zap.Error(err),
		)
	}
	s.cache.invalidateCategories(ctx, ownerID)
}
