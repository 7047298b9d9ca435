// Package llm defines the streaming completion contract consumed by the chat
// pipeline and the providers that implement it.
//
// A stream yields Events in the order the provider produced them:
//
//	message_start            usage.input_tokens
//	content_block_start      block {type: text | tool_use, id, name}
//	content_block_delta*     delta {type: text_delta | input_json_delta}
//	content_block_stop
//	...
//	message_delta            usage.output_tokens (cumulative), stop_reason
//	message_stop
//
// Recv returns io.EOF once the stream has ended normally.
package llm

import (
	"context"
	"encoding/json"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolSpec declares a tool to the model. InputSchema is a JSON Schema object.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type Request struct {
	Model     string
	MaxTokens int
	System    string
	Messages  []Message
	Tools     []ToolSpec
}

type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventPing              EventType = "ping"
	EventError             EventType = "error"
)

type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
)

type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
)

type ContentBlock struct {
	Type BlockType `json:"type"`
	ID   string    `json:"id,omitempty"`
	Name string    `json:"name,omitempty"`
}

type Delta struct {
	Type        DeltaType `json:"type"`
	Text        string    `json:"text,omitempty"`
	PartialJSON string    `json:"partial_json,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Event struct {
	Type       EventType
	Index      int
	Block      *ContentBlock // content_block_start
	Delta      *Delta        // content_block_delta
	Usage      *Usage        // message_start, message_delta
	StopReason string        // message_delta
	Error      string        // error
}

// Stream is a single in-flight completion.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ProviderError is an error reported by the provider inside the stream.
type ProviderError struct {
	Type    string
	Message string
}

func (e *ProviderError) Error() string {
	return "provider error " + e.Type + ": " + e.Message
}
