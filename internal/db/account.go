package db

import (
	"context"
	"time"

	"github.com/RichardoC/chatpipe/internal/models"
)

// AccountStore is a view of the database bound to one account. Every query
// it issues is filtered by that account's id.
type AccountStore struct {
	db     *Database
	userID string
}

func (db *Database) ForAccount(userID string) *AccountStore {
	return &AccountStore{db: db, userID: userID}
}

func (s *AccountStore) UsageSince(ctx context.Context, since time.Time) ([]models.UsageRecord, error) {
	return s.db.UsageSince(ctx, s.userID, since)
}

func (s *AccountStore) SearchNotes(ctx context.Context, query string, limit int) ([]models.Note, error) {
	return s.db.SearchNotes(ctx, s.userID, query, limit)
}

func (s *AccountStore) CreateNote(ctx context.Context, title, content string, tags []string) (*models.Note, error) {
	note := &models.Note{
		UserID:  s.userID,
		Title:   title,
		Content: content,
		Tags:    tags,
	}
	if err := s.db.CreateNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}
