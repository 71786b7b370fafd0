package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
)

func TestPurchase_CreateEnrichesAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	food := f.categories.add("u1", "Food", "#ff0000")

	v, err := f.purchaseSvc.Create(ctx, "u1", &domain.CreatePurchaseRequest{
		Description: strPtr(" groceries "),
		Price:       55.25,
		Date:        "2025-02-10",
		CategoryID:  &food.ID,
		Tags:        []string{"food", " food", ""},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.Category.Name != "Food" || v.Category.Color != "#ff0000" || v.CategoryID == nil || *v.CategoryID != food.ID {
		t.Errorf("unexpected category: %+v", v.Category)
	}
	if *v.Description != "groceries" || len(v.Tags) != 1 {
		t.Errorf("unexpected normalization: %q %v", *v.Description, v.Tags)
	}

	if len(f.publisher.events) != 1 {
		t.Fatalf("expected one index event, got %d", len(f.publisher.events))
	}
	ev := f.publisher.events[0]
	if ev.Action != domain.IndexActionUpsert || ev.PurchaseID != v.ID || ev.UserID != "u1" || ev.CategoryName != "Food" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestPurchase_CreateWithoutCategoryIsOther(t *testing.T) {
	f := newFixture(t)

	v, err := f.purchaseSvc.Create(context.Background(), "u1", &domain.CreatePurchaseRequest{Price: 3, Date: "2025-02-10T12:00:00Z"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.CategoryID != nil || v.Category != domain.OtherCategorySummary() {
		t.Errorf("expected Other placeholder, got %+v", v.Category)
	}
}

func TestPurchase_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	foreign := f.categories.add("u2", "Theirs", "")

	cases := map[string]struct {
		req  domain.CreatePurchaseRequest
		want any
	}{
		"zero price":       {domain.CreatePurchaseRequest{Price: 0, Date: "2025-02-10"}, &domain.ErrValidation{}},
		"negative price":   {domain.CreatePurchaseRequest{Price: -1, Date: "2025-02-10"}, &domain.ErrValidation{}},
		"missing date":     {domain.CreatePurchaseRequest{Price: 1}, &domain.ErrValidation{}},
		"bad date":         {domain.CreatePurchaseRequest{Price: 1, Date: "10/02/2025"}, &domain.ErrValidation{}},
		"foreign category": {domain.CreatePurchaseRequest{Price: 1, Date: "2025-02-10", CategoryID: &foreign.ID}, &domain.ErrNotFound{}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.purchaseSvc.Create(ctx, "u1", &tc.req)
			switch tc.want.(type) {
			case *domain.ErrValidation:
				var e *domain.ErrValidation
				if !errors.As(err, &e) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
			case *domain.ErrNotFound:
				var e *domain.ErrNotFound
				if !errors.As(err, &e) {
					t.Errorf("expected ErrNotFound, got %v", err)
				}
			}
		})
	}
	if len(f.publisher.events) != 0 {
		t.Errorf("rejected writes must not publish, got %d events", len(f.publisher.events))
	}
}

func TestPurchase_ListFiltersAndUnknownCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	food := f.categories.add("u1", "Food", "")
	gone := f.categories.add("u1", "Gone", "")

	mustCreate := func(req domain.CreatePurchaseRequest) {
		t.Helper()
		if _, err := f.purchaseSvc.Create(ctx, "u1", &req); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mustCreate(domain.CreatePurchaseRequest{Price: 1, Date: "2025-01-05", CategoryID: &food.ID})
	mustCreate(domain.CreatePurchaseRequest{Price: 2, Date: "2025-01-20T18:00:00Z"})
	mustCreate(domain.CreatePurchaseRequest{Price: 3, Date: "2025-02-01", CategoryID: &gone.ID})

	// the category vanishes from the relational store only
	delete(f.categories.byID, gone.ID)

	all, err := f.purchaseSvc.List(ctx, "u1", domain.PurchaseListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Price != 3 || all[2].Price != 1 {
		t.Fatalf("expected date-descending order, got %+v", all)
	}
	if all[0].Category.Name != "Unknown" || all[0].Category.ID != gone.ID {
		t.Errorf("expected Unknown placeholder, got %+v", all[0].Category)
	}

	other, err := f.purchaseSvc.List(ctx, "u1", domain.PurchaseListQuery{CategoryID: "other"})
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(other) != 1 || other[0].Price != 2 {
		t.Errorf("expected only the uncategorized purchase, got %+v", other)
	}

	january, err := f.purchaseSvc.List(ctx, "u1", domain.PurchaseListQuery{StartDate: "2025-01-01", EndDate: "2025-01-20"})
	if err != nil {
		t.Fatalf("list january: %v", err)
	}
	if len(january) != 2 {
		t.Errorf("expected the end date to include the whole day, got %d purchases", len(january))
	}

	page, err := f.purchaseSvc.List(ctx, "u1", domain.PurchaseListQuery{Limit: "1", Offset: "1"})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 1 || page[0].Price != 2 {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestPurchase_ListValidation(t *testing.T) {
	f := newFixture(t)

	for name, q := range map[string]domain.PurchaseListQuery{
		"limit zero":     {Limit: "0"},
		"limit too big":  {Limit: "501"},
		"limit not int":  {Limit: "ten"},
		"negative skip":  {Offset: "-1"},
		"bad start date": {StartDate: "yesterday"},
		"reversed range": {StartDate: "2025-02-01", EndDate: "2025-01-01"},
	} {
		_, err := f.purchaseSvc.List(context.Background(), "u1", q)
		var valErr *domain.ErrValidation
		if !errors.As(err, &valErr) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}
}

func TestPurchase_UpdateReassignsCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	food := f.categories.add("u1", "Food", "")
	rent := f.categories.add("u1", "Rent", "")

	v, err := f.purchaseSvc.Create(ctx, "u1", &domain.CreatePurchaseRequest{Price: 10, Date: "2025-02-10", CategoryID: &food.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	price := 12.5
	updated, err := f.purchaseSvc.Update(ctx, "u1", v.ID, &domain.UpdatePurchaseRequest{Price: &price, CategoryID: &rent.ID})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Price != 12.5 || updated.Category.Name != "Rent" {
		t.Errorf("unexpected update: %+v", updated)
	}

	n, _ := f.purchases.CountPurchasesByCategory(ctx, "u1", food.ID)
	if n != 0 {
		t.Errorf("old category still referenced by %d purchases", n)
	}

	cleared, err := f.purchaseSvc.Update(ctx, "u1", v.ID, &domain.UpdatePurchaseRequest{CategoryID: strPtr("other")})
	if err != nil {
		t.Fatalf("clear category: %v", err)
	}
	if cleared.CategoryID != nil || cleared.Category.ID != domain.OtherCategoryID {
		t.Errorf("expected Other after clearing, got %+v", cleared.Category)
	}

	if len(f.publisher.events) != 3 {
		t.Errorf("expected create + 2 updates published, got %d", len(f.publisher.events))
	}
}

func TestPurchase_UpdateAndDeleteNotOwned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.purchaseSvc.Create(ctx, "u1", &domain.CreatePurchaseRequest{Price: 10, Date: "2025-02-10"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	price := 1.0
	_, err = f.purchaseSvc.Update(ctx, "u2", v.ID, &domain.UpdatePurchaseRequest{Price: &price})
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
	if err := f.purchaseSvc.Delete(ctx, "u2", v.ID); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound on delete, got %v", err)
	}

	if err := f.purchaseSvc.Delete(ctx, "u1", v.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	last := f.publisher.events[len(f.publisher.events)-1]
	if last.Action != domain.IndexActionDelete || last.PurchaseID != v.ID {
		t.Errorf("expected delete event, got %+v", last)
	}
}

func TestPurchase_PublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	if _, err := f.purchaseSvc.Create(context.Background(), "u1", &domain.CreatePurchaseRequest{Price: 1, Date: "2025-02-10"}); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
}
