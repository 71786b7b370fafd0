package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/infra/observability"
	"github.com/boddenberg/budget-tracker-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var statsTracer = otel.Tracer("service/stats")

const (
	DefaultMonthCount = 6
	MaxMonthCount     = 24
)

// StatsService computes spending aggregates. The graph store does the
// summing; this layer builds month windows, joins categories and caches.
type StatsService struct {
	purchases  port.PurchaseStore
	categories port.CategoryStore
	cache      *responseCache
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewStatsService creates the stats service. ttl <= 0 uses DefaultCacheTTL.
func NewStatsService(
	purchases port.PurchaseStore,
	categories port.CategoryStore,
	cache port.Cache,
	ttl time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *StatsService {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &StatsService{
		purchases:  purchases,
		categories: categories,
		cache:      &responseCache{store: cache, ttl: ttl, metrics: metrics, logger: logger},
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the current time, for tests.
func (s *StatsService) WithClock(now func() time.Time) *StatsService {
	s.now = now
	return s
}

// ============================================================
// Totals: GET /api/purchases/stats
// ============================================================

func (s *StatsService) Stats(ctx context.Context, ownerID string, q domain.StatsQuery) (*domain.PurchaseStats, error) {
	ctx, span := statsTracer.Start(ctx, "StatsService.Stats")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", ownerID))

	r, err := parseDateRange(q.StartDate, q.EndDate)
	if err != nil {
		return nil, err
	}

	key := statsKey(ownerID, r)
	var cached domain.PurchaseStats
	if s.cache.get(ctx, "stats", key, &cached) {
		return &cached, nil
	}

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("stats", time.Since(start))
	}()

	var (
		totals domain.PurchaseTotals
		groups []domain.CategoryAggregate
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.purchases.PurchaseTotals(gCtx, ownerID, r)
		if err != nil {
			return fmt.Errorf("purchase totals: %w", err)
		}
		totals = t
		return nil
	})
	g.Go(func() error {
		rows, err := s.purchases.CategoryTotals(gCtx, ownerID, r)
		if err != nil {
			return fmt.Errorf("category totals: %w", err)
		}
		groups = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("stats query failed", zap.String("user_id", ownerID), zap.Error(err))
		return nil, err
	}

	refs := make([]domain.CategoryRef, len(groups))
	for i, row := range groups {
		refs[i] = row.Category
	}
	known, err := resolveCategories(ctx, s.categories, ownerID, refs)
	if err != nil {
		return nil, err
	}

	out := &domain.PurchaseStats{
		TotalAmount:     totals.Total,
		TotalCount:      totals.Count,
		CategoriesStats: make([]domain.CategoryStat, 0, len(groups)),
	}
	for _, row := range groups {
		out.CategoriesStats = append(out.CategoriesStats, domain.CategoryStat{
			Category:    domain.ResolveCategory(row.Category, known),
			TotalAmount: row.Total,
			Count:       row.Count,
		})
	}

	s.cache.set(ctx, key, statsGroup(ownerID), out)
	return out, nil
}

// ============================================================
// Monthly: GET /api/purchases/monthly-stats
// ============================================================

func (s *StatsService) Monthly(ctx context.Context, ownerID string, q domain.StatsQuery) (*domain.MonthlyStats, error) {
	ctx, span := statsTracer.Start(ctx, "StatsService.Monthly")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", ownerID))

	r, err := parseDateRange(q.StartDate, q.EndDate)
	if err != nil {
		return nil, err
	}
	n, err := parseIntParam("months", q.Months, DefaultMonthCount)
	if err != nil {
		return nil, err
	}
	n = clampMonths(n)

	key := monthlyKey(ownerID, r, n)
	var cached domain.MonthlyStats
	if s.cache.get(ctx, "monthly", key, &cached) {
		return &cached, nil
	}

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("monthly_stats", time.Since(start))
	}()

	anchor := s.now().UTC()
	if r.End != nil {
		anchor = r.End.UTC()
	}
	windows := MonthWindows(anchor, n)

	out := &domain.MonthlyStats{
		Months:        make([]string, len(windows)),
		CategoryStats: []domain.CategoryMonthlyStat{},
	}
	index := make(map[string]int, len(windows))
	for i, w := range windows {
		out.Months[i] = w.Label()
		index[w.Label()] = i
	}

	// windows before startDate keep their label and stay at zero
	query := domain.DateRange{Start: &windows[0].Start}
	lastEnd := windows[len(windows)-1].End.Add(-time.Nanosecond)
	query.End = &lastEnd
	if r.Start != nil && r.Start.After(*query.Start) {
		query.Start = r.Start
	}
	if r.End != nil && r.End.Before(*query.End) {
		query.End = r.End
	}

	if !query.Start.After(*query.End) {
		rows, err := s.purchases.MonthlyCategoryTotals(ctx, ownerID, query)
		if err != nil {
			s.logger.Error("monthly stats query failed", zap.String("user_id", ownerID), zap.Error(err))
			return nil, fmt.Errorf("monthly category totals: %w", err)
		}
		if out.CategoryStats, err = s.buildSeries(ctx, ownerID, rows, index, len(windows)); err != nil {
			return nil, err
		}
	}

	s.cache.set(ctx, key, statsGroup(ownerID), out)
	return out, nil
}

type series struct {
	ref     domain.CategoryRef
	amounts []float64
}

// buildSeries folds (category, month) rows into one zero-filled series per
// category, ordered by the category total descending.
func (s *StatsService) buildSeries(ctx context.Context, ownerID string, rows []domain.MonthlyAggregate, index map[string]int, months int) ([]domain.CategoryMonthlyStat, error) {
	byKey := make(map[string]*series)
	var ordered []*series

	for _, row := range rows {
		label := time.Date(row.Year, row.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
		i, ok := index[label]
		if !ok {
			continue
		}
		k := row.Category.Key()
		cs, found := byKey[k]
		if !found {
			cs = &series{ref: row.Category, amounts: make([]float64, months)}
			byKey[k] = cs
			ordered = append(ordered, cs)
		}
		cs.amounts[i] += row.Total
	}

	refs := make([]domain.CategoryRef, len(ordered))
	for i, cs := range ordered {
		refs[i] = cs.ref
	}
	known, err := resolveCategories(ctx, s.categories, ownerID, refs)
	if err != nil {
		return nil, err
	}

	out := make([]domain.CategoryMonthlyStat, 0, len(ordered))
	for _, cs := range ordered {
		out = append(out, domain.CategoryMonthlyStat{
			Category:       domain.ResolveCategory(cs.ref, known),
			MonthlyAmounts: cs.amounts,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := sum(out[i].MonthlyAmounts), sum(out[j].MonthlyAmounts)
		if ti != tj {
			return ti > tj
		}
		return out[i].Category.Name < out[j].Category.Name
	})
	return out, nil
}

// MonthWindows returns n consecutive calendar months ending with the month
// of anchor, oldest first.
func MonthWindows(anchor time.Time, n int) []domain.MonthWindow {
	n = clampMonths(n)
	last := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, time.UTC)
	first := last.AddDate(0, -(n - 1), 0)

	windows := make([]domain.MonthWindow, n)
	for i := range windows {
		start := first.AddDate(0, i, 0)
		windows[i] = domain.MonthWindow{Start: start, End: start.AddDate(0, 1, 0)}
	}
	return windows
}

func clampMonths(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxMonthCount {
		return MaxMonthCount
	}
	return n
}

func sum(xs []float64) float64 {
	var t float64
	for _, x := range xs {
		t += x
	}
	return t
}
