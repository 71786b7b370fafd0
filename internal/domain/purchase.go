package domain

import (
	"strings"
	"time"
)

// ============================================================
// Purchases
// ============================================================

// Purchase is an expense recorded in the graph store.
type Purchase struct {
	ID          string
	Description *string
	Price       float64
	Date        time.Time
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	OwnerID     string
	Category    CategoryRef
}

// NewPurchase holds validated input for a create.
type NewPurchase struct {
	Description *string
	Price       float64
	Date        time.Time
	Tags        []string
	Category    CategoryRef
}

// PurchaseUpdate holds validated partial input. Nil fields are left untouched.
type PurchaseUpdate struct {
	Description *string
	Price       *float64
	Date        *time.Time
	Tags        *[]string
	Category    *CategoryRef
}

// PurchaseFilter narrows GetPurchases. Nil Category means every category.
type PurchaseFilter struct {
	Category *CategoryRef
	DateRange
	Limit  int
	Offset int
}

// DateRange is an optional inclusive window on the purchase date.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// Contains reports whether t falls inside the inclusive range.
func (r DateRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// CreatePurchaseRequest is the body for POST /api/purchases.
type CreatePurchaseRequest struct {
	Description *string  `json:"description,omitempty"`
	Price       float64  `json:"price"`
	Date        string   `json:"date"`
	CategoryID  *string  `json:"categoryId,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// UpdatePurchaseRequest is the body for PUT /api/purchases/{id}.
// A categoryId of "" or "other" clears the category.
type UpdatePurchaseRequest struct {
	Description *string   `json:"description,omitempty"`
	Price       *float64  `json:"price,omitempty"`
	Date        *string   `json:"date,omitempty"`
	CategoryID  *string   `json:"categoryId,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// PurchaseListQuery is the raw query string of GET /api/purchases.
type PurchaseListQuery struct {
	CategoryID string
	StartDate  string
	EndDate    string
	Limit      string
	Offset     string
}

// PurchaseView is a purchase joined with its category, as returned to clients.
type PurchaseView struct {
	ID          string          `json:"id"`
	Description *string         `json:"description"`
	Price       float64         `json:"price"`
	Date        time.Time       `json:"date"`
	Tags        []string        `json:"tags"`
	UserID      string          `json:"userId"`
	CategoryID  *string         `json:"categoryId"`
	Category    CategorySummary `json:"category"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ViewOf joins a purchase with its resolved category.
func ViewOf(p *Purchase, category CategorySummary) PurchaseView {
	v := PurchaseView{
		ID:          p.ID,
		Description: p.Description,
		Price:       p.Price,
		Date:        p.Date,
		Tags:        p.Tags,
		UserID:      p.OwnerID,
		Category:    category,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if id, ok := p.Category.ID(); ok {
		v.CategoryID = &id
	}
	return v
}

// NormalizeTags trims, drops empties and deduplicates while keeping order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ParseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates (UTC midnight).
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// ============================================================
// Index events (purchase -> vector store)
// ============================================================

const (
	IndexActionUpsert = "purchase.upsert"
	IndexActionDelete = "purchase.delete"
)

// IndexEvent describes a purchase change to mirror into the vector store.
type IndexEvent struct {
	Action       string    `json:"action"`
	UserID       string    `json:"userId"`
	PurchaseID   string    `json:"purchaseId"`
	Description  string    `json:"description,omitempty"`
	Price        float64   `json:"price,omitempty"`
	Date         time.Time `json:"date,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	CategoryName string    `json:"categoryName,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}
