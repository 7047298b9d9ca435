package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainProvider adapts any langchaingo model (OpenAI, Ollama and other
// OpenAI-compatible servers) to the event grammar. Text is streamed as it
// arrives; tool calls are only known once the completion returns, so their
// blocks are emitted after the text block.
type LangChainProvider struct {
	llm llms.Model
}

func NewLangChain(baseURL, token, model string) (*LangChainProvider, error) {
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return &LangChainProvider{llm: llm}, nil
}

func NewLangChainFromModel(model llms.Model) *LangChainProvider {
	return &LangChainProvider{llm: model}
}

func (p *LangChainProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	content := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	opts := []llms.CallOption{llms.WithMaxTokens(req.MaxTokens)}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if len(req.Tools) > 0 {
		tools := make([]llms.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			})
		}
		opts = append(opts, llms.WithTools(tools))
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &chanStream{items: make(chan streamItem, 16), cancel: cancel}
	go s.run(ctx, p.llm, content, opts)
	return s, nil
}

type streamItem struct {
	ev  Event
	err error
}

type chanStream struct {
	items  chan streamItem
	cancel context.CancelFunc
}

func (s *chanStream) Recv() (Event, error) {
	it, ok := <-s.items
	if !ok {
		return Event{}, io.EOF
	}
	return it.ev, it.err
}

func (s *chanStream) Close() error {
	s.cancel()
	return nil
}

func (s *chanStream) send(ctx context.Context, it streamItem) error {
	select {
	case s.items <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *chanStream) emit(ctx context.Context, ev Event) error {
	return s.send(ctx, streamItem{ev: ev})
}

func (s *chanStream) run(ctx context.Context, model llms.Model, content []llms.MessageContent, opts []llms.CallOption) {
	defer close(s.items)

	if s.emit(ctx, Event{Type: EventMessageStart, Usage: &Usage{}}) != nil {
		return
	}

	textOpen := false
	streaming := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 || isToolCallChunk(chunk) {
			return nil
		}
		if !textOpen {
			textOpen = true
			if err := s.emit(ctx, Event{Type: EventContentBlockStart, Block: &ContentBlock{Type: BlockText}}); err != nil {
				return err
			}
		}
		return s.emit(ctx, Event{
			Type:  EventContentBlockDelta,
			Delta: &Delta{Type: DeltaText, Text: string(chunk)},
		})
	})

	resp, err := model.GenerateContent(ctx, content, append(opts, streaming)...)
	if err != nil {
		s.send(ctx, streamItem{err: err})
		return
	}
	if len(resp.Choices) == 0 {
		s.send(ctx, streamItem{err: errors.New("empty response from model")})
		return
	}
	choice := resp.Choices[0]

	index := 0
	var events []Event
	if !textOpen && choice.Content != "" {
		// The backend ignored the streaming callback.
		events = append(events,
			Event{Type: EventContentBlockStart, Block: &ContentBlock{Type: BlockText}},
			Event{Type: EventContentBlockDelta, Delta: &Delta{Type: DeltaText, Text: choice.Content}},
		)
		textOpen = true
	}
	if textOpen {
		events = append(events, Event{Type: EventContentBlockStop})
		index++
	}

	for _, call := range choice.ToolCalls {
		if call.FunctionCall == nil {
			continue
		}
		events = append(events,
			Event{Type: EventContentBlockStart, Index: index, Block: &ContentBlock{Type: BlockToolUse, ID: call.ID, Name: call.FunctionCall.Name}},
			Event{Type: EventContentBlockDelta, Index: index, Delta: &Delta{Type: DeltaInputJSON, PartialJSON: call.FunctionCall.Arguments}},
			Event{Type: EventContentBlockStop, Index: index},
		)
		index++
	}

	events = append(events,
		Event{
			Type: EventMessageDelta,
			Usage: &Usage{
				InputTokens:  intFromInfo(choice.GenerationInfo, "PromptTokens"),
				OutputTokens: intFromInfo(choice.GenerationInfo, "CompletionTokens"),
			},
			StopReason: choice.StopReason,
		},
		Event{Type: EventMessageStop},
	)

	for _, ev := range events {
		if s.emit(ctx, ev) != nil {
			return
		}
	}
}

// isToolCallChunk reports whether a streamed chunk is a serialized tool call
// list rather than assistant text. OpenAI-compatible clients pass both
// through the same callback.
func isToolCallChunk(chunk []byte) bool {
	trimmed := bytes.TrimSpace(chunk)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return false
	}
	var calls []struct {
		Function *json.RawMessage `json:"function"`
	}
	if err := json.Unmarshal(trimmed, &calls); err != nil || len(calls) == 0 {
		return false
	}
	return calls[0].Function != nil
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
