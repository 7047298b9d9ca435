// Package tools holds the catalog of tools the model may call during a chat
// turn. Every handler runs against an account-scoped store, so a tool can
// only see the data of the account that owns the conversation.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/RichardoC/chatpipe/internal/llm"
	"github.com/RichardoC/chatpipe/internal/metrics"
	"github.com/RichardoC/chatpipe/internal/models"
	"go.uber.org/zap"
)

// Store is the account-scoped data a tool may touch.
type Store interface {
	UsageSince(ctx context.Context, since time.Time) ([]models.UsageRecord, error)
	SearchNotes(ctx context.Context, query string, limit int) ([]models.Note, error)
	CreateNote(ctx context.Context, title, content string, tags []string) (*models.Note, error)
}

// Context carries the account a tool call runs for.
type Context struct {
	AccountID string
	Store     Store
}

// Handler runs a tool. The returned value is encoded as the tool result.
type Handler func(ctx context.Context, input json.RawMessage, tc Context) (any, error)

type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

type Tool struct {
	Name        string
	Description string
	Schema      Schema
	Handler     Handler
}

// InputError reports input that does not match the tool's schema.
type InputError struct {
	Details string
}

func (e *InputError) Error() string { return "invalid input: " + e.Details }

// Failure is a handler error with the message the model should see.
type Failure struct {
	Message string
	Details string
	Err     error
}

func (e *Failure) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Failure) Unwrap() error { return e.Err }

type Registry struct {
	tools   map[string]Tool
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Registry)

// WithClock overrides the time source used by date-aware tools.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default returns a registry with the built-in tools registered.
func Default(logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Registry {
	r := NewRegistry(logger, m, opts...)
	r.Register(usageStatsTool(r.now), searchNotesTool(), createNoteTool())
	return r
}

func (r *Registry) Register(tools ...Tool) {
	for _, t := range tools {
		if t.Schema.Properties == nil {
			t.Schema.Properties = map[string]Property{}
		}
		if t.Schema.Required == nil {
			t.Schema.Required = []string{}
		}
		r.tools[t.Name] = t
	}
}

// Specs returns the tool declarations sent to the model, sorted by name.
func (r *Registry) Specs() []llm.ToolSpec {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		schema, err := json.Marshal(t.Schema)
		if err != nil {
			r.logger.Error("Failed to marshal tool schema", zap.String("tool", name), zap.Error(err))
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return specs
}

// Execute runs the named tool and returns its JSON result. Failures are
// reported inside the result, never as a Go error.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage, tc Context) json.RawMessage {
	t, ok := r.tools[name]
	if !ok {
		r.metrics.RecordToolCall(name, "unknown")
		return mustMarshal(map[string]string{"error": "Unknown tool: " + name})
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	out, err := t.Handler(ctx, input, tc)
	if err != nil {
		r.logger.Warn("Tool execution failed",
			zap.String("tool", name),
			zap.String("account_id", tc.AccountID),
			zap.Error(err))
		r.metrics.RecordToolCall(name, "error")
		return errorPayload(name, err)
	}

	result, err := json.Marshal(out)
	if err != nil {
		r.logger.Error("Failed to marshal tool result", zap.String("tool", name), zap.Error(err))
		r.metrics.RecordToolCall(name, "error")
		return mustMarshal(map[string]string{"error": "Failed to encode result of " + name})
	}
	r.metrics.RecordToolCall(name, "ok")
	return result
}

func errorPayload(name string, err error) json.RawMessage {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return mustMarshal(map[string]string{
			"error":   "Invalid input for " + name,
			"details": inputErr.Details,
		})
	}
	var failure *Failure
	if errors.As(err, &failure) {
		payload := map[string]string{"error": failure.Message}
		if failure.Details != "" {
			payload["details"] = failure.Details
		}
		return mustMarshal(payload)
	}
	return mustMarshal(map[string]string{"error": fmt.Sprintf("Failed to run %s", name)})
}

type requiredField struct {
	name  string
	value *string
}

// decodeInput unmarshals a tool input and checks required string fields in
// order.
func decodeInput(raw json.RawMessage, v any, required ...requiredField) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &InputError{Details: err.Error()}
	}
	for _, f := range required {
		if strings.TrimSpace(*f.value) == "" {
			return &InputError{Details: f.name + " is required"}
		}
	}
	return nil
}

func mustMarshal(v map[string]string) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
