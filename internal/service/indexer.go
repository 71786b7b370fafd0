package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/infra/observability"
	"github.com/boddenberg/budget-tracker-go/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var indexTracer = otel.Tracer("service/indexer")

const tipsBatchSize = 64

// Indexer mirrors purchases into the vector store as plain-text documents
// and seeds the general tips collection.
type Indexer struct {
	vectors port.VectorStore
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewIndexer creates the indexer. A nil vector store turns every event
// into a no-op.
func NewIndexer(vectors port.VectorStore, metrics *observability.Metrics, logger *zap.Logger) *Indexer {
	return &Indexer{vectors: vectors, metrics: metrics, logger: logger}
}

// Handle applies one index event. Its signature matches messaging.EventHandler.
func (ix *Indexer) Handle(ctx context.Context, ev domain.IndexEvent) error {
	ctx, span := indexTracer.Start(ctx, "Indexer.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("event.action", ev.Action), attribute.String("purchase.id", ev.PurchaseID))

	if ix.vectors == nil {
		ix.metrics.IncrIndexEvent(ev.Action, "skipped")
		return nil
	}

	var err error
	switch ev.Action {
	case domain.IndexActionUpsert:
		err = ix.vectors.Upsert(ctx, domain.CollectionUserInfo, []domain.VectorDocument{PurchaseDocument(ev)})
	case domain.IndexActionDelete:
		err = ix.vectors.Delete(ctx, domain.CollectionUserInfo, []string{ev.PurchaseID})
	default:
		err = fmt.Errorf("unknown index action %q", ev.Action)
	}

	if err != nil {
		ix.metrics.IncrIndexEvent(ev.Action, "error")
		return fmt.Errorf("index %s %s: %w", ev.Action, ev.PurchaseID, err)
	}

	ix.metrics.IncrIndexEvent(ev.Action, "ok")
	ix.logger.Debug("purchase indexed",
		zap.String("action", ev.Action),
		zap.String("purchase_id", ev.PurchaseID),
	)
	return nil
}

// PurchaseDocument renders a purchase as the sentence stored for retrieval,
// e.g. "On 2025-02-10 the user spent 55.25 on Groceries: weekly shop [tags: food]".
func PurchaseDocument(ev domain.IndexEvent) domain.VectorDocument {
	category := ev.CategoryName
	if category == "" {
		category = domain.OtherCategorySummary().Name
	}
	date := ev.Date.UTC().Format("2006-01-02")

	var b strings.Builder
	fmt.Fprintf(&b, "On %s the user spent %s on %s", date, decimal.NewFromFloat(ev.Price).StringFixed(2), category)
	if d := strings.TrimSpace(ev.Description); d != "" {
		b.WriteString(": ")
		b.WriteString(d)
	}
	if len(ev.Tags) > 0 {
		fmt.Fprintf(&b, " [tags: %s]", strings.Join(ev.Tags, ", "))
	}

	return domain.VectorDocument{
		ID:   ev.PurchaseID,
		Text: b.String(),
		Metadata: map[string]any{
			"user_id":     ev.UserID,
			"purchase_id": ev.PurchaseID,
			"category":    category,
			"date":        date,
		},
	}
}

// SeedTips stores general budgeting tips, skipping blanks. It returns the
// number of tips written.
func (ix *Indexer) SeedTips(ctx context.Context, tips []string) (int, error) {
	ctx, span := indexTracer.Start(ctx, "Indexer.SeedTips")
	defer span.End()

	if ix.vectors == nil {
		return 0, fmt.Errorf("no vector store configured")
	}

	docs := make([]domain.VectorDocument, 0, len(tips))
	for _, t := range tips {
		if t = strings.TrimSpace(t); t != "" {
			docs = append(docs, domain.VectorDocument{ID: uuid.NewString(), Text: t})
		}
	}

	for i := 0; i < len(docs); i += tipsBatchSize {
		end := min(i+tipsBatchSize, len(docs))
		if err := ix.vectors.Upsert(ctx, domain.CollectionTips, docs[i:end]); err != nil {
			return i, fmt.Errorf("upsert tips: %w", err)
		}
	}

	ix.logger.Info("tips seeded", zap.Int("count", len(docs)))
	return len(docs), nil
}
