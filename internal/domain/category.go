package domain

import "time"

// ============================================================
// Categories
// ============================================================

const (
	// OtherCategoryID is the wire id of the synthetic bucket for uncategorized purchases.
	OtherCategoryID = "other"

	placeholderColor = "#cccccc"
)

// Category groups purchases. Names are unique per owner.
type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Color       *string   `json:"color"`
	CreatedAt   time.Time `json:"createdAt"`
	OwnerID     string    `json:"userId"`
}

// CreateCategoryRequest is the body for POST /api/categories.
type CreateCategoryRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
}

// UpdateCategoryRequest is the body for PUT /api/categories/{id}.
// Nil fields are left untouched.
type UpdateCategoryRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
}

// CategoryKind tags a CategoryRef.
type CategoryKind uint8

const (
	// CategoryOther means the purchase has no category.
	CategoryOther CategoryKind = iota
	// CategoryAssigned means the purchase points at a real category id.
	CategoryAssigned
)

// CategoryRef is the category side of a purchase: either an assigned
// category id or the Other bucket. The zero value is Other.
type CategoryRef struct {
	kind CategoryKind
	id   string
}

// AssignedCategory returns a ref to a real category.
// An empty id yields the Other ref.
func AssignedCategory(id string) CategoryRef {
	if id == "" {
		return CategoryRef{}
	}
	return CategoryRef{kind: CategoryAssigned, id: id}
}

// OtherCategory returns the ref of the uncategorized bucket.
func OtherCategory() CategoryRef {
	return CategoryRef{}
}

// ParseCategoryRef maps a wire value to a ref. Both "" and "other" mean Other.
func ParseCategoryRef(s string) CategoryRef {
	if s == OtherCategoryID {
		return CategoryRef{}
	}
	return AssignedCategory(s)
}

// Kind reports which variant the ref holds.
func (r CategoryRef) Kind() CategoryKind { return r.kind }

// IsOther reports whether the ref is the uncategorized bucket.
func (r CategoryRef) IsOther() bool { return r.kind == CategoryOther }

// ID returns the category id and true for an assigned ref.
func (r CategoryRef) ID() (string, bool) {
	if r.kind != CategoryAssigned {
		return "", false
	}
	return r.id, true
}

// Key is a stable string form, used for grouping and as the wire id.
func (r CategoryRef) Key() string {
	if r.kind != CategoryAssigned {
		return OtherCategoryID
	}
	return r.id
}

// CategorySummary is the category as embedded in purchases and stats.
type CategorySummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Color       string  `json:"color"`
	Description *string `json:"description,omitempty"`
}

// SummaryOf converts a stored category.
func SummaryOf(c *Category) CategorySummary {
	s := CategorySummary{ID: c.ID, Name: c.Name, Color: placeholderColor, Description: c.Description}
	if c.Color != nil && *c.Color != "" {
		s.Color = *c.Color
	}
	return s
}

// OtherCategorySummary is the placeholder for uncategorized purchases.
func OtherCategorySummary() CategorySummary {
	return CategorySummary{ID: OtherCategoryID, Name: "Other", Color: placeholderColor}
}

// UnknownCategorySummary is the placeholder for an id that no longer resolves.
func UnknownCategorySummary(id string) CategorySummary {
	return CategorySummary{ID: id, Name: "Unknown", Color: placeholderColor}
}

// ResolveCategory joins a ref against a batch of fetched categories.
func ResolveCategory(ref CategoryRef, known map[string]*Category) CategorySummary {
	id, ok := ref.ID()
	if !ok {
		return OtherCategorySummary()
	}
	if c, found := known[id]; found && c != nil {
		return SummaryOf(c)
	}
	return UnknownCategorySummary(id)
}
