package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/infra/observability"
	"github.com/boddenberg/budget-tracker-go/internal/port"

	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how stale a memoized read can be.
const DefaultCacheTTL = 300 * time.Second

func categoriesKey(ownerID string) string { return "categories:" + ownerID }

// statsGroup tracks every stats and monthly key of one owner.
func statsGroup(ownerID string) string { return "stats:keys:" + ownerID }

func statsKey(ownerID string, r domain.DateRange) string {
	return fmt.Sprintf("stats:%s:%s:%s", ownerID, rangeKeyPart(r.Start), rangeKeyPart(r.End))
}

func monthlyKey(ownerID string, r domain.DateRange, months int) string {
	return fmt.Sprintf("monthly:%s:%s:%s:%d", ownerID, rangeKeyPart(r.Start), rangeKeyPart(r.End), months)
}

func rangeKeyPart(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// responseCache wraps port.Cache with JSON encoding, metrics and
// fail-open error handling: a broken cache never fails a read.
type responseCache struct {
	store   port.Cache
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger
}

func (c *responseCache) get(ctx context.Context, name, key string, out any) bool {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		c.metrics.IncrExternalError("cache")
		return false
	}
	if !ok {
		c.metrics.IncrCacheMiss(name)
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn("cache entry is corrupt", zap.String("key", key), zap.Error(err))
		c.metrics.IncrCacheMiss(name)
		return false
	}
	c.metrics.IncrCacheHit(name)
	return true
}

// set stores value under key; a non-empty group also tracks the key.
func (c *responseCache) set(ctx context.Context, key, group string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		c.metrics.IncrExternalError("cache")
		return
	}
	if group == "" {
		return
	}
	if err := c.store.Track(ctx, group, key, c.ttl); err != nil {
		c.logger.Warn("cache track failed", zap.String("group", group), zap.Error(err))
	}
}

// invalidateStats drops every stats and monthly entry of the owner.
func (c *responseCache) invalidateStats(ctx context.Context, ownerID string) {
	if err := c.store.Invalidate(ctx, statsGroup(ownerID)); err != nil {
		c.logger.Warn("stats invalidation failed", zap.String("user_id", ownerID), zap.Error(err))
		c.metrics.IncrExternalError("cache")
	}
}

func (c *responseCache) invalidateCategories(ctx context.Context, ownerID string) {
	if err := c.store.Delete(ctx, categoriesKey(ownerID)); err != nil {
		c.logger.Warn("categories invalidation failed", zap.String("user_id", ownerID), zap.Error(err))
		c.metrics.IncrExternalError("cache")
	}
	c.invalidateStats(ctx, ownerID)
}

// ============================================================
// Query parsing
// ============================================================

// parseDateRange reads optional startDate/endDate values. A date-only end
// covers the whole day.
func parseDateRange(start, end string) (domain.DateRange, error) {
	var r domain.DateRange
	if start = strings.TrimSpace(start); start != "" {
		t, ok := domain.ParseDate(start)
		if !ok {
			return r, &domain.ErrValidation{Field: "startDate", Message: "invalid date"}
		}
		r.Start = &t
	}
	if end = strings.TrimSpace(end); end != "" {
		t, ok := domain.ParseDate(end)
		if !ok {
			return r, &domain.ErrValidation{Field: "endDate", Message: "invalid date"}
		}
		if len(end) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		r.End = &t
	}
	if r.Start != nil && r.End != nil && r.Start.After(*r.End) {
		return r, &domain.ErrValidation{Field: "startDate", Message: "startDate must not be after endDate"}
	}
	return r, nil
}

// parseIntParam returns fallback for an empty value.
func parseIntParam(field, value string, fallback int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &domain.ErrValidation{Field: field, Message: "must be an integer"}
	}
	return n, nil
}

// resolveCategories batch-fetches the assigned categories among refs.
func resolveCategories(ctx context.Context, store port.CategoryStore, ownerID string, refs []domain.CategoryRef) (map[string]*domain.Category, error) {
	seen := make(map[string]struct{}, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, ok := ref.ID()
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return map[string]*domain.Category{}, nil
	}
	known, err := store.GetCategoriesByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}
	return known, nil
}
