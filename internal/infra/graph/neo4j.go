// Package graph stores purchases as graph nodes linked to their owner and
// category, and pushes aggregation down to the query engine.
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("graph")

// Neo4jStore implements port.PurchaseStore on Neo4j.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewDriver connects to Neo4j and verifies connectivity.
func NewDriver(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return driver, nil
}

// NewNeo4jStore wraps an open driver. The caller owns the driver.
func NewNeo4jStore(driver neo4j.DriverWithContext, logger *zap.Logger) *Neo4jStore {
	return &Neo4jStore{driver: driver, logger: logger}
}

// Ping checks the connection.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

var schemaStatements = []string{
	`CREATE CONSTRAINT purchase_id IF NOT EXISTS FOR (p:Purchase) REQUIRE p.id IS UNIQUE`,
	`CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
	`CREATE CONSTRAINT category_id IF NOT EXISTS FOR (c:Category) REQUIRE c.id IS UNIQUE`,
	`CREATE INDEX purchase_date IF NOT EXISTS FOR (p:Purchase) ON (p.date)`,
	`CREATE INDEX purchase_price IF NOT EXISTS FOR (p:Purchase) ON (p.price)`,
}

// EnsureSchema creates constraints and indexes. Safe to run on every start.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("apply schema %q: %w", stmt, err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("apply schema %q: %w", stmt, err)
		}
	}
	s.logger.Info("graph schema ensured", zap.Int("statements", len(schemaStatements)))
	return nil
}

// ============================================================
// Purchases
// ============================================================

const purchaseReturn = `
	RETURN p.id AS id, p.description AS description, p.price AS price, p.date AS date,
	       p.tags AS tags, p.createdAt AS createdAt, p.updatedAt AS updatedAt,
	       u.id AS userId, c.id AS categoryId`

func (s *Neo4jStore) CreatePurchase(ctx context.Context, ownerID string, np *domain.NewPurchase) (*domain.Purchase, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.CreatePurchase")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", ownerID))

	now := time.Now().UTC()
	params := map[string]any{
		"id":          uuid.NewString(),
		"userId":      ownerID,
		"description": stringParam(np.Description),
		"price":       np.Price,
		"date":        np.Date.UTC(),
		"tags":        tagsParam(np.Tags),
		"now":         now,
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MERGE (u:User {id: $userId})
			CREATE (p:Purchase {
				id: $id, description: $description, price: $price, date: $date,
				tags: $tags, createdAt: $now, updatedAt: $now
			})
			CREATE (p)-[:MADE_BY]->(u)`, params)
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		if id, ok := np.Category.ID(); ok {
			if err := linkCategory(ctx, tx, params["id"].(string), id); err != nil {
				return nil, err
			}
		}
		return readPurchase(ctx, tx, ownerID, params["id"].(string))
	})
	if err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}
	return out.(*domain.Purchase), nil
}

func (s *Neo4jStore) GetPurchase(ctx context.Context, ownerID, id string) (*domain.Purchase, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.GetPurchase")
	defer span.End()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return readPurchase(ctx, tx, ownerID, id)
	})
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return out.(*domain.Purchase), nil
}

func (s *Neo4jStore) GetPurchases(ctx context.Context, ownerID string, f domain.PurchaseFilter) ([]domain.Purchase, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.GetPurchases")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", ownerID), attribute.Int("limit", f.Limit))

	params := rangeParams(ownerID, f.DateRange)
	params["offset"] = int64(f.Offset)
	params["limit"] = int64(f.Limit)

	categoryClause := ""
	if f.Category != nil {
		if id, ok := f.Category.ID(); ok {
			categoryClause = ` AND c.id = $categoryId`
			params["categoryId"] = id
		} else {
			categoryClause = ` AND c IS NULL`
		}
	}

	query := `
		MATCH (p:Purchase)-[:MADE_BY]->(u:User {id: $userId})
		OPTIONAL MATCH (p)-[:BELONGS_TO]->(c:Category)
		WITH p, u, c
		WHERE ($start IS NULL OR p.date >= $start) AND ($end IS NULL OR p.date <= $end)` + categoryClause +
		purchaseReturn + `
		ORDER BY p.date DESC, p.createdAt DESC
		SKIP $offset LIMIT $limit`

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		purchases := make([]domain.Purchase, 0, len(records))
		for _, r := range records {
			purchases = append(purchases, *purchaseFromRecord(r))
		}
		return purchases, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return out.([]domain.Purchase), nil
}

// UpdatePurchase applies the partial update and, when the category changes,
// swaps the BELONGS_TO edge in the same transaction.
func (s *Neo4jStore) UpdatePurchase(ctx context.Context, ownerID, id string, u *domain.PurchaseUpdate) (*domain.Purchase, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.UpdatePurchase")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", ownerID), attribute.String("purchase.id", id))

	sets := []string{"p.updatedAt = $now"}
	params := map[string]any{"id": id, "userId": ownerID, "now": time.Now().UTC()}
	if u.Description != nil {
		sets = append(sets, "p.description = $description")
		params["description"] = stringParam(u.Description)
	}
	if u.Price != nil {
		sets = append(sets, "p.price = $price")
		params["price"] = *u.Price
	}
	if u.Date != nil {
		sets = append(sets, "p.date = $date")
		params["date"] = u.Date.UTC()
	}
	if u.Tags != nil {
		sets = append(sets, "p.tags = $tags")
		params["tags"] = tagsParam(*u.Tags)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (p:Purchase {id: $id})-[:MADE_BY]->(:User {id: $userId})
			SET `+strings.Join(sets, ", ")+`
			RETURN p.id AS id`, params)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return (*domain.Purchase)(nil), res.Err()
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if u.Category != nil {
			unlink, err := tx.Run(ctx, `
				MATCH (p:Purchase {id: $id})-[r:BELONGS_TO]->(:Category)
				DELETE r`, map[string]any{"id": id})
			if err != nil {
				return nil, err
			}
			if _, err := unlink.Consume(ctx); err != nil {
				return nil, err
			}
			if catID, ok := u.Category.ID(); ok {
				if err := linkCategory(ctx, tx, id, catID); err != nil {
					return nil, err
				}
			}
		}
		return readPurchase(ctx, tx, ownerID, id)
	})
	if err != nil {
		return nil, fmt.Errorf("update purchase: %w", err)
	}
	return out.(*domain.Purchase), nil
}

func (s *Neo4jStore) DeletePurchase(ctx context.Context, ownerID, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.DeletePurchase")
	defer span.End()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (p:Purchase {id: $id})-[:MADE_BY]->(:User {id: $userId})
			DETACH DELETE p`, map[string]any{"id": id, "userId": ownerID})
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().NodesDeleted() > 0, nil
	})
	if err != nil {
		return false, fmt.Errorf("delete purchase: %w", err)
	}
	return out.(bool), nil
}

func (s *Neo4jStore) CountPurchasesByCategory(ctx context.Context, ownerID, categoryID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.CountPurchasesByCategory")
	defer span.End()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (p:Purchase)-[:MADE_BY]->(:User {id: $userId})
			MATCH (p)-[:BELONGS_TO]->(:Category {id: $categoryId})
			RETURN count(p) AS n`, map[string]any{"userId": ownerID, "categoryId": categoryID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return getIntFromRecord(record, "n"), nil
	})
	if err != nil {
		return 0, fmt.Errorf("count purchases by category: %w", err)
	}
	return out.(int), nil
}

// SyncCategory MERGEs the category mirror node with its current name and color.
func (s *Neo4jStore) SyncCategory(ctx context.Context, c *domain.Category) error {
	ctx, span := tracer.Start(ctx, "Neo4jStore.SyncCategory")
	defer span.End()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MERGE (u:User {id: $userId})
			MERGE (c:Category {id: $id})
			SET c.name = $name, c.color = $color, c.userId = $userId`,
			map[string]any{
				"id":     c.ID,
				"userId": c.OwnerID,
				"name":   c.Name,
				"color":  stringParam(c.Color),
			})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("sync category: %w", err)
	}
	return nil
}

// ============================================================
// Aggregations
// ============================================================

const ownedInRange = `
	MATCH (p:Purchase)-[:MADE_BY]->(:User {id: $userId})
	WHERE ($start IS NULL OR p.date >= $start) AND ($end IS NULL OR p.date <= $end)`

func (s *Neo4jStore) PurchaseTotals(ctx context.Context, ownerID string, r domain.DateRange) (domain.PurchaseTotals, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.PurchaseTotals")
	defer span.End()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, ownedInRange+`
			RETURN coalesce(sum(p.price), 0.0) AS total, count(p) AS count`, rangeParams(ownerID, r))
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return domain.PurchaseTotals{
			Total: getFloat64FromRecord(record, "total"),
			Count: getIntFromRecord(record, "count"),
		}, nil
	})
	if err != nil {
		return domain.PurchaseTotals{}, fmt.Errorf("purchase totals: %w", err)
	}
	return out.(domain.PurchaseTotals), nil
}

func (s *Neo4jStore) CategoryTotals(ctx context.Context, ownerID string, r domain.DateRange) ([]domain.CategoryAggregate, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.CategoryTotals")
	defer span.End()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, ownedInRange+`
			OPTIONAL MATCH (p)-[:BELONGS_TO]->(c:Category)
			RETURN c.id AS categoryId, sum(p.price) AS total, count(p) AS count
			ORDER BY total DESC`, rangeParams(ownerID, r))
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]domain.CategoryAggregate, 0, len(records))
		for _, rec := range records {
			rows = append(rows, domain.CategoryAggregate{
				Category: domain.AssignedCategory(getStringFromRecord(rec, "categoryId")),
				Total:    getFloat64FromRecord(rec, "total"),
				Count:    getIntFromRecord(rec, "count"),
			})
		}
		return rows, nil
	})
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	return out.([]domain.CategoryAggregate), nil
}

func (s *Neo4jStore) MonthlyCategoryTotals(ctx context.Context, ownerID string, r domain.DateRange) ([]domain.MonthlyAggregate, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.MonthlyCategoryTotals")
	defer span.End()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, ownedInRange+`
			OPTIONAL MATCH (p)-[:BELONGS_TO]->(c:Category)
			RETURN c.id AS categoryId, p.date.year AS year, p.date.month AS month, sum(p.price) AS total
			ORDER BY year, month`, rangeParams(ownerID, r))
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]domain.MonthlyAggregate, 0, len(records))
		for _, rec := range records {
			rows = append(rows, domain.MonthlyAggregate{
				Category: domain.AssignedCategory(getStringFromRecord(rec, "categoryId")),
				Year:     getIntFromRecord(rec, "year"),
				Month:    time.Month(getIntFromRecord(rec, "month")),
				Total:    getFloat64FromRecord(rec, "total"),
			})
		}
		return rows, nil
	})
	if err != nil {
		return nil, fmt.Errorf("monthly category totals: %w", err)
	}
	return out.([]domain.MonthlyAggregate), nil
}

// ============================================================
// Helpers
// ============================================================

func linkCategory(ctx context.Context, tx neo4j.ManagedTransaction, purchaseID, categoryID string) error {
	res, err := tx.Run(ctx, `
		MATCH (p:Purchase {id: $purchaseId})
		MERGE (c:Category {id: $categoryId})
		MERGE (p)-[:BELONGS_TO]->(c)`,
		map[string]any{"purchaseId": purchaseID, "categoryId": categoryID})
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func readPurchase(ctx context.Context, tx neo4j.ManagedTransaction, ownerID, id string) (*domain.Purchase, error) {
	res, err := tx.Run(ctx, `
		MATCH (p:Purchase {id: $id})-[:MADE_BY]->(u:User {id: $userId})
		OPTIONAL MATCH (p)-[:BELONGS_TO]->(c:Category)`+purchaseReturn,
		map[string]any{"id": id, "userId": ownerID})
	if err != nil {
		return nil, err
	}
	if !res.Next(ctx) {
		return nil, res.Err()
	}
	return purchaseFromRecord(res.Record()), nil
}

func purchaseFromRecord(record *neo4j.Record) *domain.Purchase {
	p := &domain.Purchase{
		ID:        getStringFromRecord(record, "id"),
		Price:     getFloat64FromRecord(record, "price"),
		Date:      getTimeFromRecord(record, "date"),
		Tags:      getStringSliceFromRecord(record, "tags"),
		CreatedAt: getTimeFromRecord(record, "createdAt"),
		UpdatedAt: getTimeFromRecord(record, "updatedAt"),
		OwnerID:   getStringFromRecord(record, "userId"),
		Category:  domain.AssignedCategory(getStringFromRecord(record, "categoryId")),
	}
	if v, ok := record.Get("description"); ok && v != nil {
		if s, ok := v.(string); ok {
			p.Description = &s
		}
	}
	return p
}

func rangeParams(ownerID string, r domain.DateRange) map[string]any {
	return map[string]any{
		"userId": ownerID,
		"start":  timeParam(r.Start),
		"end":    timeParam(r.End),
	}
}

func timeParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// stringParam maps nil and "" to null so an empty update clears the property.
func stringParam(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func tagsParam(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getIntFromRecord(record *neo4j.Record, key string) int {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	switch i := val.(type) {
	case int64:
		return int(i)
	case int:
		return i
	}
	return 0
}

func getFloat64FromRecord(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	switch f := val.(type) {
	case float64:
		return f
	case int64:
		return float64(f)
	}
	return 0
}

func getTimeFromRecord(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	switch t := val.(type) {
	case time.Time:
		return t.UTC()
	case neo4j.LocalDateTime:
		return t.Time().UTC()
	}
	return time.Time{}
}

func getStringSliceFromRecord(record *neo4j.Record, key string) []string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return []string{}
	}
	if slice, ok := val.([]any); ok {
		result := make([]string, 0, len(slice))
		for _, v := range slice {
			if str, ok := v.(string); ok {
				result = append(result, str)
			}
		}
		return result
	}
	return []string{}
}
