package services

import (
	"context"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// TagService manages free-form tags. The hidden-from-budget flag removes
// tagged entries from budget spending.
type TagService struct {
	storage *storage.SQLiteRepository
}

func NewTagService(storage *storage.SQLiteRepository) *TagService {
	return &TagService{storage: storage}
}

func (s *TagService) Create(ctx context.Context, userID int64, in core.TagInput) (core.Tag, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := core.Validate(in); err != nil {
		return core.Tag{}, err
	}
	return s.storage.Queries().CreateTag(ctx, core.Tag{
		UserID:           userID,
		Name:             in.Name,
		Color:            in.Color,
		HiddenFromBudget: in.HiddenFromBudget,
	})
}

func (s *TagService) List(ctx context.Context, userID int64) ([]core.Tag, error) {
	return s.storage.Queries().ListTags(ctx, userID)
}

func (s *TagService) SetHiddenFromBudget(ctx context.Context, userID, id int64, hidden bool) error {
	return s.storage.Queries().SetTagHidden(ctx, userID, id, hidden)
}

// Delete removes the tag from every entry and then the tag itself.
func (s *TagService) Delete(ctx context.Context, userID, id int64) error {
	return s.storage.Queries().DeleteTag(ctx, userID, id)
}
