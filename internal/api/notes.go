package api

import (
	"errors"
	"net/http"

	"github.com/RichardoC/chatpipe/internal/db"
	"github.com/RichardoC/chatpipe/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CreateNoteRequest struct {
	Title    string   `json:"title" binding:"required,max=300"`
	Content  string   `json:"content" binding:"max=100000"`
	Tags     []string `json:"tags" binding:"max=10,dive,max=50"`
	IsPinned bool     `json:"is_pinned"`
}

type UpdateNoteRequest struct {
	Title    *string   `json:"title" binding:"omitnil,min=1,max=300"`
	Content  *string   `json:"content" binding:"omitnil,max=100000"`
	Tags     *[]string `json:"tags" binding:"omitnil,max=10,dive,max=50"`
	IsPinned *bool     `json:"is_pinned"`
}

type ListNotesQuery struct {
	Search    string   `json:"search" form:"search" binding:"max=500"`
	Tags      []string `json:"tags" form:"tags"`
	SortBy    string   `json:"sortBy" form:"sortBy" binding:"omitempty,oneof=updated_at created_at title"`
	SortOrder string   `json:"sortOrder" form:"sortOrder" binding:"omitempty,oneof=asc desc"`
	Page      int      `json:"page" form:"page" binding:"omitempty,min=1"`
	PageSize  int      `json:"pageSize" form:"pageSize" binding:"omitempty,min=1,max=100"`
}

type NotesPage struct {
	Data     []models.Note `json:"data"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
	HasMore  bool          `json:"hasMore"`
}

func (h *Handler) ListNotes(c *gin.Context) {
	var q ListNotesQuery
	if !bindQuery(c, &q) {
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = db.DefaultNotesPageSize
	}

	notes, total, err := h.db.ListNotes(c.Request.Context(), accountID(c), db.NoteFilter{
		Search:    q.Search,
		Tags:      q.Tags,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
		Page:      q.Page,
		PageSize:  q.PageSize,
	})
	if err != nil {
		h.logger.Error("Failed to list notes", zap.Error(err))
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, NotesPage{
		Data:     notes,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
		HasMore:  total > q.Page*q.PageSize,
	})
}

func (h *Handler) CreateNote(c *gin.Context) {
	var req CreateNoteRequest
	if !bindJSON(c, &req) {
		return
	}

	note := &models.Note{
		UserID:   accountID(c),
		Title:    req.Title,
		Content:  req.Content,
		Tags:     req.Tags,
		IsPinned: req.IsPinned,
	}
	if err := h.db.CreateNote(c.Request.Context(), note); err != nil {
		h.logger.Error("Failed to create note", zap.Error(err))
		internalError(c)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *Handler) GetNote(c *gin.Context) {
	note, err := h.db.GetNote(c.Request.Context(), c.Param("id"), accountID(c))
	if h.noteError(c, err, "Failed to get note") {
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *Handler) UpdateNote(c *gin.Context) {
	var req UpdateNoteRequest
	if !bindJSON(c, &req) {
		return
	}

	note, err := h.db.UpdateNote(c.Request.Context(), c.Param("id"), accountID(c), db.NoteUpdate{
		Title:    req.Title,
		Content:  req.Content,
		Tags:     req.Tags,
		IsPinned: req.IsPinned,
	})
	if h.noteError(c, err, "Failed to update note") {
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *Handler) DeleteNote(c *gin.Context) {
	err := h.db.DeleteNote(c.Request.Context(), c.Param("id"), accountID(c))
	if h.noteError(c, err, "Failed to delete note") {
		return
	}
	c.Status(http.StatusNoContent)
}

// noteError writes the response for a failed note lookup and reports
// whether there was one.
func (h *Handler) noteError(c *gin.Context, err error, msg string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("note_id", c.Param("id")))
		internalError(c)
	}
	return true
}
