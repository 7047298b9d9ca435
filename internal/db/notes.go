package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/RichardoC/chatpipe/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultNotesPageSize = 20
	MaxNotesPageSize     = 100
)

// NoteFilter selects one page of an account's notes. Zero values mean
// newest-updated first, page 1 of DefaultNotesPageSize.
type NoteFilter struct {
	Search    string
	Tags      []string // matches notes carrying any of these tags
	SortBy    string   // updated_at | created_at | title
	SortOrder string   // asc | desc
	Page      int
	PageSize  int
}

// NoteUpdate holds the fields to change; nil fields are left as they are.
type NoteUpdate struct {
	Title    *string
	Content  *string
	Tags     *[]string
	IsPinned *bool
}

var noteSortColumns = map[string]string{
	"updated_at": "n.updated_at",
	"created_at": "n.created_at",
	"title":      "n.title",
}

const noteColumns = "n.id, n.user_id, n.title, n.content, n.tags, n.is_pinned, n.created_at, n.updated_at"

func (db *Database) CreateNote(ctx context.Context, note *models.Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.Tags == nil {
		note.Tags = []string{}
	}
	now := db.now()
	note.CreatedAt, note.UpdatedAt = now, now

	tags, err := json.Marshal(note.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO notes (id, user_id, title, content, tags, is_pinned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		note.ID, note.UserID, note.Title, note.Content, string(tags), note.IsPinned, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

// GetNote returns ErrNotFound for missing ids and for notes owned by
// another account.
func (db *Database) GetNote(ctx context.Context, id, userID string) (*models.Note, error) {
	row := db.db.QueryRowContext(ctx,
		"SELECT "+noteColumns+" FROM notes n WHERE n.id = ? AND n.user_id = ?", id, userID)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return note, nil
}

// ListNotes returns one page of userID's notes and the total number of
// notes matching f.
func (db *Database) ListNotes(ctx context.Context, userID string, f NoteFilter) ([]models.Note, int, error) {
	where := []string{"n.user_id = ?"}
	args := []any{userID}

	if match := ftsQuery(f.Search); match != "" {
		where = append(where, "n.rowid IN (SELECT docid FROM notes_fts WHERE notes_fts MATCH ?)")
		args = append(args, match)
	}
	if len(f.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Tags)), ",")
		where = append(where, "EXISTS (SELECT 1 FROM json_each(n.tags) WHERE json_each.value IN ("+placeholders+"))")
		for _, tag := range f.Tags {
			args = append(args, tag)
		}
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes n WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notes: %w", err)
	}

	column, ok := noteSortColumns[f.SortBy]
	if !ok {
		column = noteSortColumns["updated_at"]
	}
	dir := "DESC"
	if f.SortOrder == "asc" {
		dir = "ASC"
	}
	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultNotesPageSize
	}
	if size > MaxNotesPageSize {
		size = MaxNotesPageSize
	}

	rows, err := db.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM notes n WHERE %s ORDER BY %s %s, n.rowid %s LIMIT ? OFFSET ?",
			noteColumns, cond, column, dir, dir),
		append(args, size, (page-1)*size)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes, err := scanNotes(rows)
	if err != nil {
		return nil, 0, err
	}
	return notes, total, nil
}

// UpdateNote applies u to the note. The FTS index follows through the
// notes_au trigger.
func (db *Database) UpdateNote(ctx context.Context, id, userID string, u NoteUpdate) (*models.Note, error) {
	note, err := db.GetNote(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if u.Title != nil {
		note.Title = *u.Title
	}
	if u.Content != nil {
		note.Content = *u.Content
	}
	if u.Tags != nil {
		note.Tags = *u.Tags
		if note.Tags == nil {
			note.Tags = []string{}
		}
	}
	if u.IsPinned != nil {
		note.IsPinned = *u.IsPinned
	}
	note.UpdatedAt = db.now()

	tags, err := json.Marshal(note.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	_, err = db.db.ExecContext(ctx, `
		UPDATE notes SET title = ?, content = ?, tags = ?, is_pinned = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		note.Title, note.Content, string(tags), note.IsPinned, note.UpdatedAt, id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}
	return note, nil
}

func (db *Database) DeleteNote(ctx context.Context, id, userID string) error {
	res, err := db.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchNotes runs a full-text match over title and content, restricted to
// userID, newest first.
func (db *Database) SearchNotes(ctx context.Context, userID, query string, limit int) ([]models.Note, error) {
	match := ftsQuery(query)
	if match == "" {
		return []models.Note{}, nil
	}

	rows, err := db.db.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes n
		JOIN notes_fts fts ON n.rowid = fts.docid
		WHERE notes_fts MATCH ? AND n.user_id = ?
		ORDER BY n.updated_at DESC
		LIMIT ?`, match, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

func scanNote(row rowScanner) (*models.Note, error) {
	var (
		note models.Note
		tags string
	)
	if err := row.Scan(&note.ID, &note.UserID, &note.Title, &note.Content, &tags, &note.IsPinned, &note.CreatedAt, &note.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &note.Tags); err != nil || note.Tags == nil {
		note.Tags = []string{}
	}
	return &note, nil
}

func scanNotes(rows *sql.Rows) ([]models.Note, error) {
	notes := make([]models.Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, *note)
	}
	return notes, rows.Err()
}

// ftsQuery turns free text into an FTS4 expression of quoted terms, so
// operator characters in user input are matched literally.
func ftsQuery(query string) string {
	terms := strings.Fields(strings.ReplaceAll(query, `"`, " "))
	for i, t := range terms {
		terms[i] = `"` + t + `"`
	}
	return strings.Join(terms, " ")
}
