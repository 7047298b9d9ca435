package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RichardoC/chatpipe/internal/llm"
)

type turnState int

const (
	stateStreaming turnState = iota
	stateToolPending
	stateDone
	stateFailed
)

func (s turnState) String() string {
	switch s {
	case stateStreaming:
		return "streaming"
	case stateToolPending:
		return "tool_pending"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// toolInvocation is the single open tool-use block.
type toolInvocation struct {
	id    string
	name  string
	input strings.Builder
}

type executeFunc func(ctx context.Context, name string, input json.RawMessage) json.RawMessage

// turn translates one upstream completion into downstream events. It owns
// the assistant text buffer and the authoritative token totals.
type turn struct {
	state   turnState
	pending *toolInvocation
	text    strings.Builder

	inputTokens  int
	outputTokens int

	emit    func(Event)
	execute executeFunc
}

func newTurn(emit func(Event), execute executeFunc) *turn {
	return &turn{state: stateStreaming, emit: emit, execute: execute}
}

// handle applies one upstream event. A non-nil error moves the turn to
// failed.
func (t *turn) handle(ctx context.Context, ev llm.Event) error {
	if t.state == stateDone || t.state == stateFailed {
		return fmt.Errorf("%w: event %s after turn ended", ErrProtocolViolation, ev.Type)
	}

	var err error
	switch ev.Type {
	case llm.EventMessageStart:
		if ev.Usage != nil {
			t.inputTokens = ev.Usage.InputTokens
		}
	case llm.EventMessageDelta:
		if ev.Usage != nil {
			t.outputTokens = ev.Usage.OutputTokens
			if ev.Usage.InputTokens > 0 {
				t.inputTokens = ev.Usage.InputTokens
			}
		}
	case llm.EventContentBlockStart:
		err = t.blockStart(ev)
	case llm.EventContentBlockDelta:
		err = t.blockDelta(ev)
	case llm.EventContentBlockStop:
		if t.state == stateToolPending {
			err = t.runTool(ctx)
		}
	case llm.EventError:
		err = &llm.ProviderError{Type: "error", Message: ev.Error}
	}

	if err != nil {
		t.state = stateFailed
	}
	return err
}

func (t *turn) blockStart(ev llm.Event) error {
	if t.state == stateToolPending {
		return fmt.Errorf("%w: block started while tool %q is open", ErrProtocolViolation, t.pending.name)
	}
	if ev.Block == nil || ev.Block.Type != llm.BlockToolUse {
		return nil
	}
	t.pending = &toolInvocation{id: ev.Block.ID, name: ev.Block.Name}
	t.state = stateToolPending
	t.emit(toolStartEvent(ev.Block.Name))
	return nil
}

func (t *turn) blockDelta(ev llm.Event) error {
	if ev.Delta == nil {
		return nil
	}
	switch ev.Delta.Type {
	case llm.DeltaText:
		if t.state == stateToolPending {
			return fmt.Errorf("%w: text while tool %q is open", ErrProtocolViolation, t.pending.name)
		}
		t.text.WriteString(ev.Delta.Text)
		t.emit(textEvent(ev.Delta.Text))
	case llm.DeltaInputJSON:
		if t.state != stateToolPending {
			return fmt.Errorf("%w: tool input outside a tool block", ErrProtocolViolation)
		}
		t.pending.input.WriteString(ev.Delta.PartialJSON)
	}
	return nil
}

func (t *turn) runTool(ctx context.Context) error {
	call := t.pending
	input := json.RawMessage(strings.TrimSpace(call.input.String()))
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if !json.Valid(input) {
		return fmt.Errorf("%w: malformed input for tool %q", ErrProtocolViolation, call.name)
	}

	result := t.execute(ctx, call.name, input)
	t.emit(toolResultEvent(call.name, result))
	fmt.Fprintf(&t.text, "\n[Used tool: %s]\nResult: %s\n", call.name, result)

	t.pending = nil
	t.state = stateStreaming
	return nil
}

// finish is called when the upstream stream ends normally.
func (t *turn) finish() error {
	if t.state == stateToolPending {
		t.state = stateFailed
		return fmt.Errorf("%w: stream ended while tool %q is open", ErrProtocolViolation, t.pending.name)
	}
	t.state = stateDone
	return nil
}
