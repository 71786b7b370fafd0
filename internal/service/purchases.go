package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/infra/observability"
	"github.com/boddenberg/budget-tracker-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var purchaseTracer = otel.Tracer("service/purchases")

const (
	DefaultPurchaseLimit = 50
	MaxPurchaseLimit     = 500
)

// PurchaseService records purchases in the graph store, joins them with
// their categories and keeps the stats cache and vector index in step.
type PurchaseService struct {
	purchases  port.PurchaseStore
	categories port.CategoryStore
	publisher  port.IndexPublisher
	cache      *responseCache
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewPurchaseService creates the purchase service. publisher may be nil.
func NewPurchaseService(
	purchases port.PurchaseStore,
	categories port.CategoryStore,
	publisher port.IndexPublisher,
	cache port.Cache,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *PurchaseService {
	return &PurchaseService{
		purchases:  purchases,
		categories: categories,
		publisher:  publisher,
		cache:      &responseCache{store: cache, ttl: DefaultCacheTTL, metrics: metrics, logger: logger},
		metrics:    metrics,
		logger:     logger,
	}
}

// ============================================================
// Create: POST /api/purchases
// ============================================================

func (s *PurchaseService) Create(ctx context.Context, ownerID string, req *domain.CreatePurchaseRequest) (*domain.PurchaseView, error) {
	ctx, span := purchaseTracer.Start(ctx, "PurchaseService.Create")
	defer span.End()

	if req.Price <= 0 {
		return nil, &domain.ErrValidation{Field: "price", Message: "price must be greater than 0"}
	}
	date, ok := domain.ParseDate(req.Date)
	if !ok {
		return nil, &domain.ErrValidation{Field: "date", Message: "a valid date is required"}
	}

	np := &domain.NewPurchase{
		Description: trimmedOrNil(req.Description),
		Price:       req.Price,
		Date:        date,
		Tags:        domain.NormalizeTags(req.Tags),
	}
	if req.CategoryID != nil {
		np.Category = domain.ParseCategoryRef(strings.TrimSpace(*req.CategoryID))
	}
	if err := s.checkCategory(ctx, ownerID, np.Category); err != nil {
		return nil, err
	}

	p, err := s.purchases.CreatePurchase(ctx, ownerID, np)
	if err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}

	view, err := s.view(ctx, ownerID, p)
	if err != nil {
		return nil, err
	}

	s.cache.invalidateStats(ctx, ownerID)
	s.publish(ctx, upsertEvent(view))

	span.SetAttributes(attribute.String("purchase.id", p.ID))
	s.logger.Info("purchase created",
		zap.String("user_id", ownerID),
		zap.String("purchase_id", p.ID),
		zap.Float64("price", p.Price),
	)
	return view, nil
}

// ============================================================
// List: GET /api/purchases
// ============================================================

func (s *PurchaseService) List(ctx context.Context, ownerID string, q domain.PurchaseListQuery) ([]domain.PurchaseView, error) {
	ctx, span := purchaseTracer.Start(ctx, "PurchaseService.List")
	defer span.End()

	f, err := parseFilter(q)
	if err != nil {
		return nil, err
	}

	list, err := s.purchases.GetPurchases(ctx, ownerID, f)
	if err != nil {
		return nil, fmt.Errorf("get purchases: %w", err)
	}

	refs := make([]domain.CategoryRef, len(list))
	for i := range list {
		refs[i] = list[i].Category
	}
	known, err := resolveCategories(ctx, s.categories, ownerID, refs)
	if err != nil {
		return nil, err
	}

	views := make([]domain.PurchaseView, 0, len(list))
	for i := range list {
		views = append(views, domain.ViewOf(&list[i], domain.ResolveCategory(list[i].Category, known)))
	}
	return views, nil
}

func parseFilter(q domain.PurchaseListQuery) (domain.PurchaseFilter, error) {
	var f domain.PurchaseFilter

	if id := strings.TrimSpace(q.CategoryID); id != "" {
		ref := domain.ParseCategoryRef(id)
		f.Category = &ref
	}

	r, err := parseDateRange(q.StartDate, q.EndDate)
	if err != nil {
		return f, err
	}
	f.DateRange = r

	if f.Limit, err = parseIntParam("limit", q.Limit, DefaultPurchaseLimit); err != nil {
		return f, err
	}
	if f.Limit < 1 || f.Limit > MaxPurchaseLimit {
		return f, &domain.ErrValidation{Field: "limit", Message: fmt.Sprintf("limit must be between 1 and %d", MaxPurchaseLimit)}
	}
	if f.Offset, err = parseIntParam("offset", q.Offset, 0); err != nil {
		return f, err
	}
	if f.Offset < 0 {
		return f, &domain.ErrValidation{Field: "offset", Message: "offset must not be negative"}
	}
	return f, nil
}

// ============================================================
// Update: PUT /api/purchases/{id}
// ============================================================

func (s *PurchaseService) Update(ctx context.Context, ownerID, id string, req *domain.UpdatePurchaseRequest) (*domain.PurchaseView, error) {
	ctx, span := purchaseTracer.Start(ctx, "PurchaseService.Update")
	defer span.End()
	span.SetAttributes(attribute.String("purchase.id", id))

	u := &domain.PurchaseUpdate{}
	if req.Description != nil {
		trimmed := strings.TrimSpace(*req.Description)
		u.Description = &trimmed
	}
	if req.Price != nil {
		if *req.Price <= 0 {
			return nil, &domain.ErrValidation{Field: "price", Message: "price must be greater than 0"}
		}
		u.Price = req.Price
	}
	if req.Date != nil {
		date, ok := domain.ParseDate(*req.Date)
		if !ok {
			return nil, &domain.ErrValidation{Field: "date", Message: "invalid date"}
		}
		u.Date = &date
	}
	if req.Tags != nil {
		tags := domain.NormalizeTags(*req.Tags)
		u.Tags = &tags
	}
	if req.CategoryID != nil {
		ref := domain.ParseCategoryRef(strings.TrimSpace(*req.CategoryID))
		if err := s.checkCategory(ctx, ownerID, ref); err != nil {
			return nil, err
		}
		u.Category = &ref
	}

	p, err := s.purchases.UpdatePurchase(ctx, ownerID, id, u)
	if err != nil {
		return nil, fmt.Errorf("update purchase: %w", err)
	}
	if p == nil {
		return nil, &domain.ErrNotFound{Resource: "purchase", ID: id}
	}

	view, err := s.view(ctx, ownerID, p)
	if err != nil {
		return nil, err
	}

	s.cache.invalidateStats(ctx, ownerID)
	s.publish(ctx, upsertEvent(view))
	return view, nil
}

// ============================================================
// Delete: DELETE /api/purchases/{id}
// ============================================================

func (s *PurchaseService) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span := purchaseTracer.Start(ctx, "PurchaseService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("purchase.id", id))

	deleted, err := s.purchases.DeletePurchase(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete purchase: %w", err)
	}
	if !deleted {
		return &domain.ErrNotFound{Resource: "purchase", ID: id}
	}

	s.cache.invalidateStats(ctx, ownerID)
	s.publish(ctx, domain.IndexEvent{
		Action:     domain.IndexActionDelete,
		UserID:     ownerID,
		PurchaseID: id,
		OccurredAt: time.Now().UTC(),
	})
	s.logger.Info("purchase deleted", zap.String("user_id", ownerID), zap.String("purchase_id", id))
	return nil
}

// checkCategory makes sure an assigned category belongs to the owner.
func (s *PurchaseService) checkCategory(ctx context.Context, ownerID string, ref domain.CategoryRef) error {
	id, ok := ref.ID()
	if !ok {
		return nil
	}
	c, err := s.categories.GetCategory(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("get category: %w", err)
	}
	if c == nil {
		return &domain.ErrNotFound{Resource: "category", ID: id}
	}
	return nil
}

func (s *PurchaseService) view(ctx context.Context, ownerID string, p *domain.Purchase) (*domain.PurchaseView, error) {
	known, err := resolveCategories(ctx, s.categories, ownerID, []domain.CategoryRef{p.Category})
	if err != nil {
		return nil, err
	}
	v := domain.ViewOf(p, domain.ResolveCategory(p.Category, known))
	return &v, nil
}

// publish hands the change to the indexer. The purchase write already
// committed, so failures are only logged and counted.
func (s *PurchaseService) publish(ctx context.Context, ev domain.IndexEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("failed to publish index event",
			zap.String("action", ev.Action),
			zap.String("purchase_id", ev.PurchaseID),
			zap.Error(err),
		)
		s.metrics.IncrIndexEvent(ev.Action, "publish_error")
	}
}

func upsertEvent(v *domain.PurchaseView) domain.IndexEvent {
	ev := domain.IndexEvent{
		Action:       domain.IndexActionUpsert,
		UserID:       v.UserID,
		PurchaseID:   v.ID,
		Price:        v.Price,
		Date:         v.Date,
		Tags:         v.Tags,
		CategoryName: v.Category.Name,
		OccurredAt:   time.Now().UTC(),
	}
	if v.Description != nil {
		ev.Description = *v.Description
	}
	return ev
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
