package chat

import (
	"context"
	"strings"
	"time"

	"github.com/RichardoC/chatpipe/internal/metrics"
	"github.com/RichardoC/chatpipe/internal/models"
	"github.com/RichardoC/chatpipe/internal/pricing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const titleLength = 60

// turnNamespace seeds the ids derived from a turn's user message id.
var turnNamespace = uuid.MustParse("6f1c0a52-2b5e-4d7a-9a51-3c2f8e4b7d10")

type SinkStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	SaveUsage(ctx context.Context, rec *models.UsageRecord) error
	RenameIfTitle(ctx context.Context, id, from, to string) (bool, error)
}

// Outcome is everything the sink needs from a completed turn.
type Outcome struct {
	AccountID      string
	ConversationID string
	UserMessageID  string
	UserContent    string
	Model          string
	Text           string
	InputTokens    int
	OutputTokens   int
}

// Sink writes the results of a completed turn. Each step is attempted
// independently; a failure is logged and does not stop the others.
type Sink struct {
	store   SinkStore
	pricing *pricing.Calculator
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewSink(store SinkStore, calc *pricing.Calculator, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Sink {
	return &Sink{
		store:   store,
		pricing: calc,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// Commit runs detached from ctx's cancellation so a disconnected client does
// not lose accounting.
func (s *Sink) Commit(ctx context.Context, o Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	log := s.logger.With(
		zap.String("conversation_id", o.ConversationID),
		zap.String("account", o.AccountID))

	in, out := o.InputTokens, o.OutputTokens
	assistant := &models.Message{
		ID:             turnID(o.UserMessageID, "assistant"),
		ConversationID: o.ConversationID,
		UserID:         o.AccountID,
		Role:           models.RoleAssistant,
		Content:        o.Text,
		InputTokens:    &in,
		OutputTokens:   &out,
	}
	anchor := assistant.ID
	if err := s.store.SaveMessage(ctx, assistant); err != nil {
		log.Error("Failed to save assistant message", zap.Error(err))
		s.metrics.RecordPersistenceFailure("message")
		anchor = o.UserMessageID
	}

	usage := &models.UsageRecord{
		ID:               turnID(o.UserMessageID, "usage"),
		UserID:           o.AccountID,
		ConversationID:   o.ConversationID,
		MessageID:        anchor,
		Model:            o.Model,
		InputTokens:      o.InputTokens,
		OutputTokens:     o.OutputTokens,
		EstimatedCostUSD: s.pricing.Cost(o.Model, o.InputTokens, o.OutputTokens),
	}
	if err := s.store.SaveUsage(ctx, usage); err != nil {
		log.Error("Failed to save usage record", zap.Error(err))
		s.metrics.RecordPersistenceFailure("usage")
	}

	if title := TitleFromMessage(o.UserContent); title != "" {
		if _, err := s.store.RenameIfTitle(ctx, o.ConversationID, models.DefaultConversationTitle, title); err != nil {
			log.Warn("Failed to update conversation title", zap.Error(err))
			s.metrics.RecordPersistenceFailure("title")
		}
	}
}

// TitleFromMessage derives a conversation title from the first user message.
func TitleFromMessage(content string) string {
	r := []rune(content)
	if len(r) <= titleLength {
		return strings.TrimSpace(content)
	}
	title := strings.TrimSpace(string(r[:titleLength]))
	if title == "" {
		return ""
	}
	return title + "…"
}

func turnID(userMessageID, kind string) string {
	if userMessageID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(turnNamespace, []byte(userMessageID+"/"+kind)).String()
}
