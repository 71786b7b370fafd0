package service_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/service"
)

func seed(t *testing.T, f *fixture, owner string, reqs ...domain.CreatePurchaseRequest) {
	t.Helper()
	for i := range reqs {
		if _, err := f.purchaseSvc.Create(context.Background(), owner, &reqs[i]); err != nil {
			t.Fatalf("seed purchase %d: %v", i, err)
		}
	}
}

func TestStats_Empty(t *testing.T) {
	f := newFixture(t)

	got, err := f.statsSvc.Stats(context.Background(), "u1", domain.StatsQuery{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.TotalAmount != 0 || got.TotalCount != 0 || got.CategoriesStats == nil || len(got.CategoriesStats) != 0 {
		t.Errorf("expected zero stats, got %+v", got)
	}
}

func TestStats_GroupsByCategoryWithOther(t *testing.T) {
	f := newFixture(t)
	food := f.categories.add("u1", "Food", "#00ff00")
	rent := f.categories.add("u1", "Rent", "")

	seed(t, f, "u1",
		domain.CreatePurchaseRequest{Price: 10, Date: "2025-01-10", CategoryID: &food.ID},
		domain.CreatePurchaseRequest{Price: 15, Date: "2025-01-11", CategoryID: &food.ID},
		domain.CreatePurchaseRequest{Price: 700, Date: "2025-01-01", CategoryID: &rent.ID},
		domain.CreatePurchaseRequest{Price: 3, Date: "2025-01-12"},
	)
	seed(t, f, "u2", domain.CreatePurchaseRequest{Price: 999, Date: "2025-01-10"})

	got, err := f.statsSvc.Stats(context.Background(), "u1", domain.StatsQuery{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got.TotalAmount != 728 || got.TotalCount != 4 {
		t.Errorf("unexpected totals: %v / %d", got.TotalAmount, got.TotalCount)
	}
	if len(got.CategoriesStats) != 3 {
		t.Fatalf("expected 3 groups, got %+v", got.CategoriesStats)
	}

	names := []string{got.CategoriesStats[0].Category.Name, got.CategoriesStats[1].Category.Name, got.CategoriesStats[2].Category.Name}
	if !reflect.DeepEqual(names, []string{"Rent", "Food", "Other"}) {
		t.Errorf("expected groups ordered by total, got %v", names)
	}
	if fs := got.CategoriesStats[1]; fs.TotalAmount != 25 || fs.Count != 2 || fs.Category.Color != "#00ff00" {
		t.Errorf("unexpected food group: %+v", fs)
	}
	if got.CategoriesStats[2].Category != domain.OtherCategorySummary() {
		t.Errorf("expected Other placeholder, got %+v", got.CategoriesStats[2].Category)
	}
}

func TestStats_DateRangeAndCache(t *testing.T) {
	f := newFixture(t)
	seed(t, f, "u1",
		domain.CreatePurchaseRequest{Price: 10, Date: "2025-01-10"},
		domain.CreatePurchaseRequest{Price: 20, Date: "2025-02-10"},
	)
	ctx := context.Background()
	q := domain.StatsQuery{StartDate: "2025-02-01", EndDate: "2025-02-28"}

	got, err := f.statsSvc.Stats(ctx, "u1", q)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got.TotalAmount != 20 || got.TotalCount != 1 {
		t.Errorf("unexpected ranged totals: %+v", got)
	}

	// a write invalidates the cached result
	seed(t, f, "u1", domain.CreatePurchaseRequest{Price: 5, Date: "2025-02-11"})
	got, err = f.statsSvc.Stats(ctx, "u1", q)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got.TotalAmount != 25 {
		t.Errorf("expected fresh stats after a write, got %v", got.TotalAmount)
	}

	snap := f.metrics.GetAssistantSnapshot()
	if snap.StatsCacheHitRate != 0 {
		t.Errorf("expected no cache hit yet, got rate %v", snap.StatsCacheHitRate)
	}
	if _, err := f.statsSvc.Stats(ctx, "u1", q); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if snap := f.metrics.GetAssistantSnapshot(); snap.StatsCacheHitRate == 0 {
		t.Error("expected the third read to hit the cache")
	}
}

func TestStats_InvalidRange(t *testing.T) {
	f := newFixture(t)

	_, err := f.statsSvc.Stats(context.Background(), "u1", domain.StatsQuery{StartDate: "soon"})
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestMonthWindows(t *testing.T) {
	w := service.MonthWindows(time.Date(2025, time.March, 17, 9, 0, 0, 0, time.UTC), 4)

	var labels []string
	for _, m := range w {
		labels = append(labels, m.Label())
	}
	if !reflect.DeepEqual(labels, []string{"2024-12", "2025-01", "2025-02", "2025-03"}) {
		t.Errorf("unexpected labels: %v", labels)
	}
	if !w[3].End.Equal(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected last window end: %v", w[3].End)
	}

	if n := len(service.MonthWindows(time.Now(), 0)); n != 1 {
		t.Errorf("expected clamp to 1, got %d", n)
	}
	if n := len(service.MonthWindows(time.Now(), 100)); n != service.MaxMonthCount {
		t.Errorf("expected clamp to %d, got %d", service.MaxMonthCount, n)
	}
}

func TestMonthly_SeriesAreAlignedAndZeroFilled(t *testing.T) {
	f := newFixture(t)
	f.statsSvc.WithClock(func() time.Time { return time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC) })
	food := f.categories.add("u1", "Food", "")

	seed(t, f, "u1",
		domain.CreatePurchaseRequest{Price: 10, Date: "2025-01-05", CategoryID: &food.ID},
		domain.CreatePurchaseRequest{Price: 5, Date: "2025-01-25", CategoryID: &food.ID},
		domain.CreatePurchaseRequest{Price: 7, Date: "2025-03-01", CategoryID: &food.ID},
		domain.CreatePurchaseRequest{Price: 2, Date: "2025-02-14"},
		// outside the 3-month window
		domain.CreatePurchaseRequest{Price: 100, Date: "2024-12-31"},
	)

	got, err := f.statsSvc.Monthly(context.Background(), "u1", domain.StatsQuery{Months: "3"})
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if !reflect.DeepEqual(got.Months, []string{"2025-01", "2025-02", "2025-03"}) {
		t.Fatalf("unexpected months: %v", got.Months)
	}
	if len(got.CategoryStats) != 2 {
		t.Fatalf("expected 2 series, got %+v", got.CategoryStats)
	}

	first := got.CategoryStats[0]
	if first.Category.Name != "Food" || !reflect.DeepEqual(first.MonthlyAmounts, []float64{15, 0, 7}) {
		t.Errorf("unexpected food series: %+v", first)
	}
	second := got.CategoryStats[1]
	if second.Category.ID != domain.OtherCategoryID || !reflect.DeepEqual(second.MonthlyAmounts, []float64{0, 2, 0}) {
		t.Errorf("unexpected other series: %+v", second)
	}
}

func TestMonthly_StartDateLeavesEarlierMonthsAtZero(t *testing.T) {
	f := newFixture(t)
	seed(t, f, "u1",
		domain.CreatePurchaseRequest{Price: 10, Date: "2025-01-05"},
		domain.CreatePurchaseRequest{Price: 20, Date: "2025-02-20"},
	)

	got, err := f.statsSvc.Monthly(context.Background(), "u1", domain.StatsQuery{StartDate: "2025-02-01", EndDate: "2025-02-28", Months: "3"})
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if !reflect.DeepEqual(got.Months, []string{"2024-12", "2025-01", "2025-02"}) {
		t.Fatalf("expected the window to end at the endDate month, got %v", got.Months)
	}
	if len(got.CategoryStats) != 1 || !reflect.DeepEqual(got.CategoryStats[0].MonthlyAmounts, []float64{0, 0, 20}) {
		t.Errorf("unexpected series: %+v", got.CategoryStats)
	}
}

func TestMonthly_DefaultsAndEmpty(t *testing.T) {
	f := newFixture(t)

	got, err := f.statsSvc.Monthly(context.Background(), "u1", domain.StatsQuery{})
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if len(got.Months) != service.DefaultMonthCount || got.CategoryStats == nil || len(got.CategoryStats) != 0 {
		t.Errorf("unexpected empty monthly stats: %+v", got)
	}

	_, err = f.statsSvc.Monthly(context.Background(), "u1", domain.StatsQuery{Months: "six"})
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
