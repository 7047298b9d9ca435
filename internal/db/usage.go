package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RichardoC/chatpipe/internal/models"
	"github.com/google/uuid"
)

// SaveUsage inserts rec. A record whose ID already exists is left untouched,
// so retrying the write for the same turn is harmless.
func (db *Database) SaveUsage(ctx context.Context, rec *models.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = db.now()
	}

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, user_id, conversation_id, message_id, model, input_tokens, output_tokens, estimated_cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.UserID, emptyAsNull(rec.ConversationID), emptyAsNull(rec.MessageID), rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.EstimatedCostUSD, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save usage record: %w", err)
	}
	return nil
}

// CountUsageSince counts userID's usage records created at or after since.
func (db *Database) CountUsageSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM usage_records WHERE user_id = ? AND created_at >= ?",
		userID, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return count, nil
}

func (db *Database) UsageSince(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, message_id, model, input_tokens, output_tokens, estimated_cost_usd, created_at
		FROM usage_records
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at ASC`, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	records := make([]models.UsageRecord, 0)
	for rows.Next() {
		var (
			rec       models.UsageRecord
			convID    sql.NullString
			messageID sql.NullString
		)
		err := rows.Scan(&rec.ID, &rec.UserID, &convID, &messageID, &rec.Model,
			&rec.InputTokens, &rec.OutputTokens, &rec.EstimatedCostUSD, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.ConversationID = convID.String
		rec.MessageID = messageID.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

func emptyAsNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
