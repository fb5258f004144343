package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// CategoryService manages income and expense categories. Names are unique
// per type, case-insensitively.
type CategoryService struct {
	storage *storage.SQLiteRepository
}

func NewCategoryService(storage *storage.SQLiteRepository) *CategoryService {
	return &CategoryService{storage: storage}
}

func (s *CategoryService) Create(ctx context.Context, userID int64, in core.CategoryInput) (core.Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := core.Validate(in); err != nil {
		return core.Category{}, err
	}
	c, err := s.storage.Queries().CreateCategory(ctx, core.Category{
		UserID: userID,
		Type:   in.Type,
		Name:   in.Name,
		Color:  in.Color,
		Order:  in.Order,
	})
	if err != nil {
		return core.Category{}, err
	}
	slog.InfoContext(ctx, "Category created", log.FieldUserID, userID, "category_id", c.ID, "name", c.Name)
	return c, nil
}

// Update changes name, color and order. The type is fixed once created.
func (s *CategoryService) Update(ctx context.Context, userID, id int64, in core.CategoryInput) (core.Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := core.Validate(in); err != nil {
		return core.Category{}, err
	}
	var c core.Category
	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		var err error
		c, err = q.GetCategory(ctx, userID, id)
		if err != nil {
			return err
		}
		if c.Type != in.Type {
			return core.Invalid("category type cannot be changed")
		}
		c.Name, c.Color, c.Order = in.Name, in.Color, in.Order
		return q.UpdateCategory(ctx, c)
	})
	return c, err
}

func (s *CategoryService) Rename(ctx context.Context, userID, id int64, name string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return core.Category{}, core.Invalid("category name must be 1-100 characters")
	}
	var c core.Category
	err := s.storage.InTx(ctx, func(q *storage.Queries) error {
		var err error
		c, err = q.GetCategory(ctx, userID, id)
		if err != nil {
			return err
		}
		c.Name = name
		return q.UpdateCategory(ctx, c)
	})
	return c, err
}

// Archive hides the category from pickers. Existing entries keep it.
func (s *CategoryService) Archive(ctx context.Context, userID, id int64) error {
	now := time.Now().UTC()
	return s.storage.Queries().ArchiveCategory(ctx, userID, id, &now)
}

func (s *CategoryService) Unarchive(ctx context.Context, userID, id int64) error {
	return s.storage.Queries().ArchiveCategory(ctx, userID, id, nil)
}

// Delete removes an unused category. Categories referenced by any entry,
// deleted or not, or by a rule must be archived instead.
func (s *CategoryService) Delete(ctx context.Context, userID, id int64) error {
	return s.storage.InTx(ctx, func(q *storage.Queries) error {
		n, err := q.CountCategoryReferences(ctx, userID, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return core.Conflict("category is in use; archive it instead")
		}
		return q.DeleteCategory(ctx, userID, id)
	})
}

// List returns categories ordered by type, order and name. An empty typ
// lists both kinds.
func (s *CategoryService) List(ctx context.Context, userID int64, typ core.TransactionType, includeArchived bool) ([]core.Category, error) {
	if typ != "" {
		if err := typ.Validate(); err != nil {
			return nil, err
		}
	}
	return s.storage.Queries().ListCategories(ctx, userID, typ, includeArchived)
}
