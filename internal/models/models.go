package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultConversationTitle is assigned at creation and replaced by the first
// user message once a turn completes.
const DefaultConversationTitle = "New conversation"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ToolName       *string   `json:"tool_name,omitempty"`    // tool role only
	InputTokens    *int      `json:"input_tokens,omitempty"` // assistant role only
	OutputTokens   *int      `json:"output_tokens,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	SystemPrompt *string   `json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	IsPinned  bool      `json:"is_pinned"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageRecord is written once per completed assistant turn. Monthly quotas
// count these rows, never raw messages.
type UsageRecord struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	ConversationID   string          `json:"conversation_id"`
	MessageID        string          `json:"message_id"`
	Model            string          `json:"model"`
	InputTokens      int             `json:"input_tokens"`
	OutputTokens     int             `json:"output_tokens"`
	EstimatedCostUSD decimal.Decimal `json:"estimated_cost_usd"`
	CreatedAt        time.Time       `json:"created_at"`
}

type SubscriptionStatus string

const (
	StatusFree     SubscriptionStatus = "free"
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// IsPaid reports whether the status grants unmetered chat.
func (s SubscriptionStatus) IsPaid() bool {
	return s == StatusActive || s == StatusTrialing
}

type Profile struct {
	UserID             string             `json:"user_id"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	UpdatedAt          time.Time          `json:"updated_at"`
}
