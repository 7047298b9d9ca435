package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strings"

	"github.com/RichardoC/chatpipe/internal/chat"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type ChatRequest struct {
	ConversationID string  `json:"conversationId" binding:"required,uuid"`
	Content        string  `json:"content" binding:"required,max=32000"`
	SystemPrompt   *string `json:"systemPrompt" binding:"omitempty,max=8000"`
}

// fieldMessages maps "<json field>.<tag>=<param>", or "<json field>.<tag>"
// when the message does not depend on the parameter, to the message clients see.
var fieldMessages = map[string]string{
	"conversationId.required": "Invalid conversation ID",
	"conversationId.uuid":     "Invalid conversation ID",
	"content.required":        "Message cannot be empty",
	"content.max=32000":       "Message too long (max 32,000 characters)",
	"content.max=100000":      "Content too long",
	"systemPrompt.max":        "System prompt too long",
	"title.required":          "Title is required",
	"title.min":               "Title cannot be empty",
	"title.max=200":           "Title too long (max 200 characters)",
	"title.max=300":           "Title too long (max 300 characters)",
	"tags.max=10":             "Too many tags (max 10)",
}

func fieldMessage(fe validator.FieldError) string {
	if msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()+"="+fe.Param()]; ok {
		return msg
	}
	if msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	return fmt.Sprintf("Failed the %s check", fe.Tag())
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// bindJSON decodes and validates the body, writing a 400 or 422 response
// and returning false when it cannot.
func bindJSON(c *gin.Context, req any) bool {
	return bindError(c, c.ShouldBindJSON(req), "Invalid JSON body")
}

// bindQuery is bindJSON for query parameters.
func bindQuery(c *gin.Context, req any) bool {
	return bindError(c, c.ShouldBindQuery(req), "Invalid query parameters")
}

func bindError(c *gin.Context, err error, malformed string) bool {
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &verrs):
		details := make(map[string][]string)
		for _, fe := range verrs {
			details[fe.Field()] = append(details[fe.Field()], fieldMessage(fe))
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Validation error", "details": details})
	case errors.As(err, &typeErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Validation error",
			"details": map[string][]string{typeErr.Field: {"Expected " + typeErr.Type.String()}},
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": malformed})
	}
	return false
}

// Chat admits the request, validates it and streams the turn as
// server-sent events. Rejections are plain JSON and happen before the
// stream opens.
func (h *Handler) Chat(c *gin.Context) {
	ctx := c.Request.Context()
	account := accountID(c)

	source := c.ClientIP()
	if source == "" {
		source = "unknown"
	}
	if err := h.admission.Admit(ctx, source, account); err != nil {
		h.reject(c, err)
		return
	}

	var req ChatRequest
	if !bindJSON(c, &req) {
		return
	}

	events, err := h.chat.Start(ctx, chat.Turn{
		AccountID:      account,
		ConversationID: req.ConversationID,
		Content:        req.Content,
		SystemPrompt:   req.SystemPrompt,
	})
	if errors.Is(err, chat.ErrConversationNotFound) {
		conversationNotFound(c)
		return
	}
	if err != nil {
		h.logger.Error("Failed to start chat turn",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
		internalError(c)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	// Keep draining after a failed write so the turn can finish and persist.
	writable := true
	for ev := range events {
		if !writable {
			continue
		}
		if err := writeEvent(c, ev); err != nil {
			h.logger.Debug("Stopped writing to client", zap.Error(err))
			writable = false
		}
	}
}

func writeEvent(c *gin.Context, ev chat.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := c.Writer.WriteString("data: " + string(data) + "\n\n"); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	c.Writer.Flush()
	return nil
}

func (h *Handler) reject(c *gin.Context, err error) {
	var rl *chat.RateLimitedError
	var quota *chat.QuotaExceededError
	switch {
	case errors.As(err, &rl):
		seconds := int(math.Ceil(rl.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", fmt.Sprint(seconds))
		c.Header("X-RateLimit-Remaining", "0")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please wait a moment."})
	case errors.As(err, &quota):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": quota.Error(),
			"code":  quota.Code(),
			"used":  quota.Used,
			"limit": quota.Limit,
		})
	default:
		h.logger.Error("Failed to admit chat request", zap.Error(err))
		internalError(c)
	}
}
