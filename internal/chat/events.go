package chat

import "encoding/json"

type EventType string

const (
	EventText       EventType = "text"
	EventToolStart  EventType = "tool_start"
	EventToolResult EventType = "tool_result"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is one record of the downstream stream. Exactly one done or error
// event ends every stream.
type Event struct {
	Type         EventType       `json:"type"`
	Content      string          `json:"content,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	InputTokens  *int            `json:"inputTokens,omitempty"`
	OutputTokens *int            `json:"outputTokens,omitempty"`
}

func textEvent(s string) Event {
	return Event{Type: EventText, Content: s}
}

func toolStartEvent(name string) Event {
	return Event{Type: EventToolStart, ToolName: name}
}

func toolResultEvent(name string, result json.RawMessage) Event {
	return Event{Type: EventToolResult, ToolName: name, Result: result}
}

func doneEvent(in, out int) Event {
	return Event{Type: EventDone, InputTokens: &in, OutputTokens: &out}
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Content: msg}
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
