package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// CategoryStore implements port.CategoryStore.
type CategoryStore struct {
	db *DB
}

// NewCategoryStore creates a category repository.
func NewCategoryStore(db *DB) *CategoryStore {
	return &CategoryStore{db: db}
}

const categoryColumns = `id, owner_id, name, description, color, created_at`

func scanCategory(row interface{ Scan(...any) error }) (*domain.Category, error) {
	var (
		c           domain.Category
		description sql.NullString
		color       sql.NullString
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &description, &color, &c.CreatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		c.Description = &description.String
	}
	if color.Valid {
		c.Color = &color.String
	}
	return &c, nil
}

var errDuplicateName = &domain.ErrConflict{Message: "a category with this name already exists"}

func (s *CategoryStore) CreateCategory(ctx context.Context, ownerID string, req *domain.CreateCategoryRequest) (*domain.Category, error) {
	ctx, span := tracer.Start(ctx, "CategoryStore.CreateCategory")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", ownerID))

	c := &domain.Category{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Color:       req.Color,
		CreatedAt:   time.Now().UTC(),
	}

	query := s.db.rebind(`INSERT INTO categories (` + categoryColumns + `) VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, c.ID, c.OwnerID, c.Name, c.Description, c.Color, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errDuplicateName
		}
		return nil, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (s *CategoryStore) ListCategories(ctx context.Context, ownerID string) ([]domain.Category, error) {
	ctx, span := tracer.Start(ctx, "CategoryStore.ListCategories")
	defer span.End()

	query := s.db.rebind(`SELECT ` + categoryColumns + ` FROM categories WHERE owner_id = ? ORDER BY name ASC`)
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []domain.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, *c)
	}
	return categories, rows.Err()
}

func (s *CategoryStore) GetCategory(ctx context.Context, ownerID, id string) (*domain.Category, error) {
	ctx, span := tracer.Start(ctx, "CategoryStore.GetCategory")
	defer span.End()

	query := s.db.rebind(`SELECT ` + categoryColumns + ` FROM categories WHERE owner_id = ? AND id = ?`)
	c, err := scanCategory(s.db.QueryRowContext(ctx, query, ownerID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func (s *CategoryStore) GetCategoryByName(ctx context.Context, ownerID, name string) (*domain.Category, error) {
	ctx, span := tracer.Start(ctx, "CategoryStore.GetCategoryByName")
	defer span.End()

	query := s.db.rebind(`SELECT ` + categoryColumns + ` FROM categories WHERE owner_id = ? AND name = ?`)
	c, err := scanCategory(s.db.QueryRowContext(ctx, query, ownerID, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category by name: %w", err)
	}
	return c, nil
}

func (s *CategoryStore) GetCategoriesByIDs(ctx context.Context, ownerID string, ids []string) (map[string]*domain.Category, error) {
	ctx, span := tracer.Start(ctx, "CategoryStore.GetCategoriesByIDs")
	defer span.End()
	span.SetAttributes(attribute.Int("category.count", len(ids)))

	out := make(map[string]*domain.Category, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}

	query := s.db.rebind(`SELECT ` + categoryColumns + ` FROM categories WHERE owner_id = ? AND id IN (` + placeholders(len(ids)) + `)`)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get categories by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (s *CategoryStore) UpdateCategory(ctx context.Context, ownerID, id string, req *domain.UpdateCategoryRequest) (*domain.Category, error) {
	ctx, span := tracer.Start(ctx, "CategoryStore.UpdateCategory")
	defer span.End()

	var (
		sets []string
		args []any
	)
	if req.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *req.Description)
	}
	if req.Color != nil {
		sets = append(sets, "color = ?")
		args = append(args, *req.Color)
	}

	if len(sets) > 0 {
		args = append(args, ownerID, id)
		query := s.db.rebind(`UPDATE categories SET ` + strings.Join(sets, ", ") + ` WHERE owner_id = ? AND id = ?`)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, errDuplicateName
			}
			return nil, fmt.Errorf("update category: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, nil
		}
	}

	return s.GetCategory(ctx, ownerID, id)
}

func (s *CategoryStore) DeleteCategory(ctx context.Context, ownerID, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "CategoryStore.DeleteCategory")
	defer span.End()

	query := s.db.rebind(`DELETE FROM categories WHERE owner_id = ? AND id = ?`)
	res, err := s.db.ExecContext(ctx, query, ownerID, id)
	if err != nil {
		return false, fmt.Errorf("delete category: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete category rows: %w", err)
	}
	return n > 0, nil
}
