package graph

import (
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestPurchaseFromRecord(t *testing.T) {
	date := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	record := &neo4j.Record{
		Keys: []string{"id", "description", "price", "date", "tags", "createdAt", "updatedAt", "userId", "categoryId"},
		Values: []any{
			"p1", "groceries", 55.25, date, []any{"food", 7},
			date, date, "u1", nil,
		},
	}

	p := purchaseFromRecord(record)
	if p.ID != "p1" || p.Price != 55.25 || !p.Date.Equal(date) || p.OwnerID != "u1" {
		t.Errorf("unexpected purchase: %+v", p)
	}
	if p.Description == nil || *p.Description != "groceries" {
		t.Errorf("unexpected description: %v", p.Description)
	}
	if len(p.Tags) != 1 || p.Tags[0] != "food" {
		t.Errorf("expected non-string tags to be skipped, got %v", p.Tags)
	}
	if !p.Category.IsOther() {
		t.Error("null category id must map to Other")
	}
}

func TestRecordHelpers_MissingAndMistyped(t *testing.T) {
	record := &neo4j.Record{
		Keys:   []string{"n", "f", "s"},
		Values: []any{int64(3), int64(2), 1.5},
	}

	if getIntFromRecord(record, "n") != 3 {
		t.Error("expected int64 to convert")
	}
	if getFloat64FromRecord(record, "f") != 2 {
		t.Error("expected int64 sums to convert to float")
	}
	if getStringFromRecord(record, "s") != "" {
		t.Error("expected mistyped value to yield empty string")
	}
	if getIntFromRecord(record, "missing") != 0 {
		t.Error("expected missing key to yield zero")
	}
	if !getTimeFromRecord(record, "missing").IsZero() {
		t.Error("expected missing time to be zero")
	}
	if got := getStringSliceFromRecord(record, "missing"); len(got) != 0 {
		t.Errorf("expected empty slice, got %v", got)
	}
}

func TestParams(t *testing.T) {
	if timeParam(nil) != nil || stringParam(nil) != nil {
		t.Error("nil pointers must map to nil parameters")
	}
	if tags := tagsParam(nil); tags == nil || len(tags) != 0 {
		t.Error("nil tags must map to an empty list")
	}
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	if got := timeParam(&ts).(time.Time); got.Location() != time.UTC {
		t.Error("expected times to be normalized to UTC")
	}
}
