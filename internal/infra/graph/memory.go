package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore implements port.PurchaseStore in process. It is used when no
// Neo4j URI is configured and in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	purchases  map[string]*domain.Purchase
	categories map[string]*domain.Category
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		purchases:  make(map[string]*domain.Purchase),
		categories: make(map[string]*domain.Category),
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreatePurchase(_ context.Context, ownerID string, np *domain.NewPurchase) (*domain.Purchase, error) {
	now := time.Now().UTC()
	p := &domain.Purchase{
		ID:          uuid.NewString(),
		Description: np.Description,
		Price:       np.Price,
		Date:        np.Date.UTC(),
		Tags:        append([]string{}, np.Tags...),
		CreatedAt:   now,
		UpdatedAt:   now,
		OwnerID:     ownerID,
		Category:    np.Category,
	}

	s.mu.Lock()
	s.purchases[p.ID] = p
	s.mu.Unlock()

	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPurchase(_ context.Context, ownerID, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[id]
	if !ok || p.OwnerID != ownerID {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPurchases(_ context.Context, ownerID string, f domain.PurchaseFilter) ([]domain.Purchase, error) {
	s.mu.RLock()
	out := make([]domain.Purchase, 0)
	for _, p := range s.purchases {
		if p.OwnerID != ownerID || !f.Contains(p.Date) {
			continue
		}
		if f.Category != nil && *f.Category != p.Category {
			continue
		}
		out = append(out, *p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset >= len(out) {
		return []domain.Purchase{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdatePurchase(_ context.Context, ownerID, id string, u *domain.PurchaseUpdate) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok || p.OwnerID != ownerID {
		return nil, nil
	}

	if u.Description != nil {
		p.Description = nil
		if *u.Description != "" {
			d := *u.Description
			p.Description = &d
		}
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
	if u.Date != nil {
		p.Date = u.Date.UTC()
	}
	if u.Tags != nil {
		p.Tags = append([]string{}, (*u.Tags)...)
	}
	if u.Category != nil {
		p.Category = *u.Category
	}
	p.UpdatedAt = time.Now().UTC()

	cp := *p
	return &cp, nil
}

func (s *MemoryStore) DeletePurchase(_ context.Context, ownerID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok || p.OwnerID != ownerID {
		return false, nil
	}
	delete(s.purchases, id)
	return true, nil
}

func (s *MemoryStore) CountPurchasesByCategory(_ context.Context, ownerID, categoryID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref := domain.AssignedCategory(categoryID)
	n := 0
	for _, p := range s.purchases {
		if p.OwnerID == ownerID && p.Category == ref {
			n++
		}
	}
	return n, nil
}

// SyncCategory records the category mirror.
func (s *MemoryStore) SyncCategory(_ context.Context, c *domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.categories[c.ID] = &cp
	return nil
}

// ============================================================
// Aggregations
// ============================================================

// Sums are accumulated in decimal and converted once, so results do not
// depend on map iteration order.

func (s *MemoryStore) PurchaseTotals(_ context.Context, ownerID string, r domain.DateRange) (domain.PurchaseTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	count := 0
	for _, p := range s.purchases {
		if p.OwnerID != ownerID || !r.Contains(p.Date) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(p.Price))
		count++
	}
	return domain.PurchaseTotals{Total: total.InexactFloat64(), Count: count}, nil
}

func (s *MemoryStore) CategoryTotals(_ context.Context, ownerID string, r domain.DateRange) ([]domain.CategoryAggregate, error) {
	type acc struct {
		ref   domain.CategoryRef
		total decimal.Decimal
		count int
	}

	s.mu.RLock()
	groups := make(map[domain.CategoryRef]*acc)
	for _, p := range s.purchases {
		if p.OwnerID != ownerID || !r.Contains(p.Date) {
			continue
		}
		g, ok := groups[p.Category]
		if !ok {
			g = &acc{ref: p.Category, total: decimal.Zero}
			groups[p.Category] = g
		}
		g.total = g.total.Add(decimal.NewFromFloat(p.Price))
		g.count++
	}
	s.mu.RUnlock()

	rows := make([]domain.CategoryAggregate, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, domain.CategoryAggregate{Category: g.ref, Total: g.total.InexactFloat64(), Count: g.count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		return rows[i].Category.Key() < rows[j].Category.Key()
	})
	return rows, nil
}

func (s *MemoryStore) MonthlyCategoryTotals(_ context.Context, ownerID string, r domain.DateRange) ([]domain.MonthlyAggregate, error) {
	type key struct {
		ref   domain.CategoryRef
		year  int
		month time.Month
	}

	s.mu.RLock()
	groups := make(map[key]decimal.Decimal)
	for _, p := range s.purchases {
		if p.OwnerID != ownerID || !r.Contains(p.Date) {
			continue
		}
		k := key{ref: p.Category, year: p.Date.Year(), month: p.Date.Month()}
		groups[k] = groups[k].Add(decimal.NewFromFloat(p.Price))
	}
	s.mu.RUnlock()

	rows := make([]domain.MonthlyAggregate, 0, len(groups))
	for k, total := range groups {
		rows = append(rows, domain.MonthlyAggregate{Category: k.ref, Year: k.year, Month: k.month, Total: total.InexactFloat64()})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Year != rows[j].Year {
			return rows[i].Year < rows[j].Year
		}
		if rows[i].Month != rows[j].Month {
			return rows[i].Month < rows[j].Month
		}
		return rows[i].Category.Key() < rows[j].Category.Key()
	})
	return rows, nil
}
