package domain

import "time"

// ============================================================
// Aggregations
// ============================================================

// PurchaseTotals is the owner-wide sum and count.
type PurchaseTotals struct {
	Total float64
	Count int
}

// CategoryAggregate is one group-by-category row.
type CategoryAggregate struct {
	Category CategoryRef
	Total    float64
	Count    int
}

// MonthlyAggregate is one group-by-(category, calendar month) row.
type MonthlyAggregate struct {
	Category CategoryRef
	Year     int
	Month    time.Month
	Total    float64
}

// StatsQuery is the raw query string of the stats endpoints.
// Months is only read by the monthly view.
type StatsQuery struct {
	StartDate string
	EndDate   string
	Months    string
}

// PurchaseStats is returned by GET /api/purchases/stats.
type PurchaseStats struct {
	TotalAmount     float64        `json:"totalAmount"`
	TotalCount      int            `json:"totalCount"`
	CategoriesStats []CategoryStat `json:"categoriesStats"`
}

// CategoryStat is the per-category breakdown inside PurchaseStats.
type CategoryStat struct {
	Category    CategorySummary `json:"category"`
	TotalAmount float64         `json:"totalAmount"`
	Count       int             `json:"count"`
}

// MonthlyStats is returned by GET /api/purchases/monthly-stats.
// Every MonthlyAmounts slice is aligned positionally with Months.
type MonthlyStats struct {
	Months        []string              `json:"months"`
	CategoryStats []CategoryMonthlyStat `json:"categoryStats"`
}

// CategoryMonthlyStat is one category series inside MonthlyStats.
type CategoryMonthlyStat struct {
	Category       CategorySummary `json:"category"`
	MonthlyAmounts []float64       `json:"monthlyAmounts"`
}

// MonthWindow is one calendar month [Start, End).
type MonthWindow struct {
	Start time.Time
	End   time.Time
}

// Label formats the window as YYYY-MM.
func (w MonthWindow) Label() string {
	return w.Start.Format("2006-01")
}
