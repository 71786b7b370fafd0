// Package port defines the interfaces (ports) for external dependencies.
// Services depend on these ports only; adapters live under internal/infra.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
)

// UserStore persists accounts in the relational store.
// Lookups return (nil, nil) when nothing matches.
type UserStore interface {
	CreateUser(ctx context.Context, email string, name *string, passwordHash string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// CategoryStore persists categories in the relational store, scoped by owner.
// Lookups return (nil, nil) when nothing matches.
type CategoryStore interface {
	CreateCategory(ctx context.Context, ownerID string, req *domain.CreateCategoryRequest) (*domain.Category, error)
	ListCategories(ctx context.Context, ownerID string) ([]domain.Category, error)
	GetCategory(ctx context.Context, ownerID, id string) (*domain.Category, error)
	GetCategoryByName(ctx context.Context, ownerID, name string) (*domain.Category, error)
	GetCategoriesByIDs(ctx context.Context, ownerID string, ids []string) (map[string]*domain.Category, error)
	UpdateCategory(ctx context.Context, ownerID, id string, req *domain.UpdateCategoryRequest) (*domain.Category, error)
	DeleteCategory(ctx context.Context, ownerID, id string) (bool, error)
}

// PurchaseStore persists purchases in the graph store and pushes
// aggregation down to its query engine.
type PurchaseStore interface {
	CreatePurchase(ctx context.Context, ownerID string, p *domain.NewPurchase) (*domain.Purchase, error)
	GetPurchase(ctx context.Context, ownerID, id string) (*domain.Purchase, error)
	GetPurchases(ctx context.Context, ownerID string, f domain.PurchaseFilter) ([]domain.Purchase, error)
	// UpdatePurchase returns (nil, nil) when the purchase is absent or not owned.
	UpdatePurchase(ctx context.Context, ownerID, id string, u *domain.PurchaseUpdate) (*domain.Purchase, error)
	DeletePurchase(ctx context.Context, ownerID, id string) (bool, error)
	CountPurchasesByCategory(ctx context.Context, ownerID, categoryID string) (int, error)
	// SyncCategory keeps the graph mirror of a category in step with the relational store.
	SyncCategory(ctx context.Context, c *domain.Category) error

	PurchaseTotals(ctx context.Context, ownerID string, r domain.DateRange) (domain.PurchaseTotals, error)
	// CategoryTotals is ordered by total descending.
	CategoryTotals(ctx context.Context, ownerID string, r domain.DateRange) ([]domain.CategoryAggregate, error)
	MonthlyCategoryTotals(ctx context.Context, ownerID string, r domain.DateRange) ([]domain.MonthlyAggregate, error)
}

// Cache stores serialized values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Track records key under a group so the whole group can be dropped at once.
	Track(ctx context.Context, group, key string, ttl time.Duration) error
	// Invalidate deletes every key tracked under group, and the group itself.
	Invalidate(ctx context.Context, group string) error
}

// RateLimiter counts hits per key within fixed windows.
type RateLimiter interface {
	// Hit increments the counter for key and returns the new count and the
	// time left before the window resets.
	Hit(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error)
}

// ChatHistory stores the bounded conversation per user.
type ChatHistory interface {
	Recent(ctx context.Context, userID string, n int) ([]domain.ChatTurn, error)
	Append(ctx context.Context, userID string, turns ...domain.ChatTurn) error
}

// VectorStore retrieves and stores embedded documents.
type VectorStore interface {
	Query(ctx context.Context, q domain.VectorQuery) ([]string, error)
	Upsert(ctx context.Context, collection string, docs []domain.VectorDocument) error
	Delete(ctx context.Context, collection string, ids []string) error
}

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LLM generates a chat completion.
type LLM interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (*domain.Completion, error)
}

// Mailer delivers outgoing email.
type Mailer interface {
	Send(ctx context.Context, msg domain.MailMessage) error
}

// IndexPublisher hands purchase changes to the vector indexer.
type IndexPublisher interface {
	Publish(ctx context.Context, ev domain.IndexEvent) error
}

// Pinger is implemented by every store that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
