// Package chat drives a single chat turn: it persists the user's message,
// streams the model's reply, runs any tool the model asks for, and hands the
// finished turn to the Sink.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/RichardoC/chatpipe/internal/db"
	"github.com/RichardoC/chatpipe/internal/llm"
	"github.com/RichardoC/chatpipe/internal/metrics"
	"github.com/RichardoC/chatpipe/internal/models"
	"github.com/RichardoC/chatpipe/internal/tools"
	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit    = 50
	DefaultUpstreamTimeout = 5 * time.Minute
	DefaultPersistTimeout  = 30 * time.Second

	upstreamFailureMessage = "The assistant ran into a problem generating a response. Please try again."
)

type Store interface {
	GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error)
	GetConversationHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
}

// ToolStoreFunc returns the data a tool may touch on behalf of an account.
type ToolStoreFunc func(accountID string) tools.Store

type Config struct {
	Model           string
	MaxTokens       int
	SystemPrompt    string
	HistoryLimit    int
	UpstreamTimeout time.Duration
}

// Turn is one admitted chat request.
type Turn struct {
	AccountID      string
	ConversationID string
	Content        string
	SystemPrompt   *string
}

type Orchestrator struct {
	store     Store
	provider  llm.Provider
	registry  *tools.Registry
	toolStore ToolStoreFunc
	sink      *Sink
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewOrchestrator(store Store, provider llm.Provider, registry *tools.Registry, toolStore ToolStoreFunc,
	sink *Sink, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = DefaultUpstreamTimeout
	}
	return &Orchestrator{
		store:     store,
		provider:  provider,
		registry:  registry,
		toolStore: toolStore,
		sink:      sink,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
}

// Start loads the conversation, persists the user message and begins
// streaming. Errors returned here happen before any event is sent; after
// that, failures arrive as a terminal error event. The channel is closed
// once the turn, including persistence, is finished.
func (o *Orchestrator) Start(ctx context.Context, t Turn) (<-chan Event, error) {
	conv, err := o.store.GetConversation(ctx, t.ConversationID, t.AccountID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	history, err := o.store.GetConversationHistory(ctx, conv.ID, o.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	userMsg := &models.Message{
		ConversationID: conv.ID,
		UserID:         t.AccountID,
		Role:           models.RoleUser,
		Content:        t.Content,
	}
	if err := o.store.SaveMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	req := llm.Request{
		Model:     o.cfg.Model,
		MaxTokens: o.cfg.MaxTokens,
		System:    o.systemPrompt(t, conv),
		Messages:  append(historyMessages(history), llm.Message{Role: llm.RoleUser, Content: t.Content}),
		Tools:     o.registry.Specs(),
	}

	out := make(chan Event, 16)
	go o.run(ctx, t, userMsg, req, out)
	return out, nil
}

func (o *Orchestrator) systemPrompt(t Turn, conv *models.Conversation) string {
	if t.SystemPrompt != nil {
		return *t.SystemPrompt
	}
	if conv.SystemPrompt != nil {
		return *conv.SystemPrompt
	}
	return o.cfg.SystemPrompt
}

// historyMessages maps stored rows to model messages. Tool rows are replayed
// as assistant text, empty rows are dropped, and the history must open with a
// user turn.
func historyMessages(history []models.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		role := llm.RoleAssistant
		if m.Role == models.RoleUser {
			role = llm.RoleUser
		}
		if len(msgs) == 0 && role != llm.RoleUser {
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return msgs
}

// downstream delivers events until the client goes away, then drops them.
type downstream struct {
	ctx  context.Context
	out  chan<- Event
	gone bool
}

func (d *downstream) send(ev Event) {
	if d.gone {
		return
	}
	select {
	case d.out <- ev:
	case <-d.ctx.Done():
		d.gone = true
	}
}

func (o *Orchestrator) run(ctx context.Context, t Turn, userMsg *models.Message, req llm.Request, out chan<- Event) {
	defer close(out)

	log := o.logger.With(
		zap.String("conversation_id", t.ConversationID),
		zap.String("account", t.AccountID))
	down := &downstream{ctx: ctx, out: out}

	upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	streamDone := o.metrics.StreamStarted()
	defer streamDone()

	tc := tools.Context{AccountID: t.AccountID, Store: o.toolStore(t.AccountID)}
	tr := newTurn(down.send, func(ctx context.Context, name string, input json.RawMessage) json.RawMessage {
		log.Debug("Executing tool", zap.String("tool", name))
		return o.registry.Execute(ctx, name, input, tc)
	})

	if err := o.consume(upCtx, req, tr); err != nil {
		log.Error("Chat stream failed",
			zap.String("state", tr.state.String()),
			zap.Error(err))
		down.send(errorEvent(upstreamFailureMessage))
		o.metrics.RecordTurn("failed", time.Since(start), tr.inputTokens, tr.outputTokens)
		return
	}

	down.send(doneEvent(tr.inputTokens, tr.outputTokens))
	o.metrics.RecordTurn("done", time.Since(start), tr.inputTokens, tr.outputTokens)
	if down.gone {
		log.Info("Client disconnected before the turn finished, persisting anyway")
	}

	o.sink.Commit(ctx, Outcome{
		AccountID:      t.AccountID,
		ConversationID: t.ConversationID,
		UserMessageID:  userMsg.ID,
		UserContent:    t.Content,
		Model:          o.cfg.Model,
		Text:           tr.text.String(),
		InputTokens:    tr.inputTokens,
		OutputTokens:   tr.outputTokens,
	})
}

func (o *Orchestrator) consume(ctx context.Context, req llm.Request, tr *turn) error {
	stream, err := o.provider.Stream(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to open upstream stream: %w", err)
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return tr.finish()
		}
		if err != nil {
			return fmt.Errorf("failed to read upstream stream: %w", err)
		}
		if err := tr.handle(ctx, ev); err != nil {
			return err
		}
	}
}
