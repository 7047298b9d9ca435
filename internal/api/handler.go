package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/RichardoC/chatpipe/internal/chat"
	"github.com/RichardoC/chatpipe/internal/db"
	"github.com/RichardoC/chatpipe/internal/logging"
	"github.com/RichardoC/chatpipe/internal/models"
	"github.com/RichardoC/chatpipe/internal/ratelimit"
	"github.com/RichardoC/chatpipe/internal/tools"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Store interface {
	CreateConversation(ctx context.Context, userID, title string, systemPrompt *string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error)
	GetConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	UpdateConversation(ctx context.Context, id, userID string, title, systemPrompt *string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, id, userID string) error
	GetConversationHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	UsageSince(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error)
	CreateNote(ctx context.Context, note *models.Note) error
	GetNote(ctx context.Context, id, userID string) (*models.Note, error)
	ListNotes(ctx context.Context, userID string, f db.NoteFilter) ([]models.Note, int, error)
	UpdateNote(ctx context.Context, id, userID string, u db.NoteUpdate) (*models.Note, error)
	DeleteNote(ctx context.Context, id, userID string) error
	Ping(ctx context.Context) error
}

// BuildInfo is reported by the health endpoint.
type BuildInfo struct {
	Version     string
	Environment string
}

type Handler struct {
	db           Store
	chat         *chat.Orchestrator
	admission    *chat.Admission
	logger       *zap.Logger
	historyLimit int
	info         BuildInfo
	now          func() time.Time
}

func NewHandler(store Store, orchestrator *chat.Orchestrator, admission *chat.Admission, info BuildInfo, logger *zap.Logger) *Handler {
	return &Handler{
		info:         info,
		db:           store,
		chat:         orchestrator,
		admission:    admission,
		logger:       logger,
		historyLimit: 500,
		now:          time.Now,
	}
}

type CreateConversationRequest struct {
	Title        string  `json:"title" binding:"omitempty,max=200"`
	SystemPrompt *string `json:"systemPrompt" binding:"omitempty,max=8000"`
}

type UpdateConversationRequest struct {
	Title        *string `json:"title" binding:"omitnil,min=1,max=200"`
	SystemPrompt *string `json:"systemPrompt" binding:"omitnil,max=8000"`
}

func accountID(c *gin.Context) string {
	return c.GetString(logging.AccountKey)
}

func (h *Handler) GetConversations(c *gin.Context) {
	conversations, err := h.db.GetConversations(c.Request.Context(), accountID(c))
	if err != nil {
		h.logger.Error("Failed to get conversations",
			zap.Error(err),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path))
		internalError(c)
		return
	}

	h.logger.Debug("Retrieved conversations",
		zap.Int("count", len(conversations)),
		zap.String("account", accountID(c)))
	c.JSON(http.StatusOK, conversations)
}

func (h *Handler) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if !bindJSON(c, &req) {
		return
	}

	conversation, err := h.db.CreateConversation(c.Request.Context(), accountID(c), req.Title, req.SystemPrompt)
	if err != nil {
		h.logger.Error("Failed to create conversation", zap.Error(err))
		internalError(c)
		return
	}
	c.JSON(http.StatusCreated, conversation)
}

func (h *Handler) GetMessages(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := h.db.GetConversation(ctx, c.Param("id"), accountID(c))
	if errors.Is(err, db.ErrNotFound) {
		conversationNotFound(c)
		return
	}
	if err != nil {
		h.logger.Error("Failed to get conversation", zap.Error(err))
		internalError(c)
		return
	}

	messages, err := h.db.GetConversationHistory(ctx, conv.ID, h.historyLimit)
	if err != nil {
		h.logger.Error("Failed to get messages", zap.Error(err))
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *Handler) UpdateConversation(c *gin.Context) {
	var req UpdateConversationRequest
	if !bindJSON(c, &req) {
		return
	}

	conv, err := h.db.UpdateConversation(c.Request.Context(), c.Param("id"), accountID(c), req.Title, req.SystemPrompt)
	if errors.Is(err, db.ErrNotFound) {
		conversationNotFound(c)
		return
	}
	if err != nil {
		h.logger.Error("Failed to update conversation", zap.Error(err))
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	err := h.db.DeleteConversation(c.Request.Context(), c.Param("id"), accountID(c))
	if errors.Is(err, db.ErrNotFound) {
		conversationNotFound(c)
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete conversation", zap.Error(err))
		internalError(c)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetUsage reports the current month's usage, the same figures the
// get_usage_stats tool gives the model.
func (h *Handler) GetUsage(c *gin.Context) {
	now := h.now()
	records, err := h.db.UsageSince(c.Request.Context(), accountID(c), ratelimit.StartOfMonth(now))
	if err != nil {
		h.logger.Error("Failed to get usage", zap.Error(err))
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, tools.SummarizeUsage(records, now))
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"timestamp":   h.now().UTC().Format(time.RFC3339),
		"version":     h.info.Version,
		"environment": h.info.Environment,
	})
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func conversationNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
}
