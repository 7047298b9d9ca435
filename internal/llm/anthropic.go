package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultAnthropicURL     = "https://api.anthropic.com/v1"
	DefaultAnthropicVersion = "2023-06-01"
)

// AnthropicProvider streams completions from the Anthropic Messages API.
type AnthropicProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	version string
}

func NewAnthropic(baseURL, apiKey, version string, client *http.Client) *AnthropicProvider {
	if baseURL == "" {
		baseURL = DefaultAnthropicURL
	}
	if version == "" {
		version = DefaultAnthropicVersion
	}
	if client == nil {
		client = &http.Client{}
	}
	return &AnthropicProvider{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		version: version,
	}
}

type anthropicRequest struct {
	Model     string     `json:"model"`
	MaxTokens int        `json:"max_tokens"`
	System    string     `json:"system,omitempty"`
	Messages  []Message  `json:"messages"`
	Tools     []ToolSpec `json:"tools,omitempty"`
	Stream    bool       `json:"stream"`
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Tools:     req.Tools,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.version)
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return &sseStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// sseStream decodes Anthropic server-sent events.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

type wireEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		Usage *Usage `json:"usage"`
	} `json:"message"`
	ContentBlock *ContentBlock `json:"content_block"`
	Delta        *struct {
		Type        DeltaType `json:"type"`
		Text        string    `json:"text"`
		PartialJSON string    `json:"partial_json"`
		StopReason  string    `json:"stop_reason"`
	} `json:"delta"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *sseStream) Recv() (Event, error) {
	data, err := s.next()
	if err != nil {
		return Event{}, err
	}

	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal stream event: %w", err)
	}

	ev := Event{Type: EventType(w.Type), Index: w.Index}
	switch ev.Type {
	case EventMessageStart:
		if w.Message != nil {
			ev.Usage = w.Message.Usage
		}
	case EventContentBlockStart:
		if w.ContentBlock == nil {
			return Event{}, errors.New("content_block_start without content_block")
		}
		ev.Block = w.ContentBlock
	case EventContentBlockDelta:
		if w.Delta == nil {
			return Event{}, errors.New("content_block_delta without delta")
		}
		ev.Delta = &Delta{Type: w.Delta.Type, Text: w.Delta.Text, PartialJSON: w.Delta.PartialJSON}
	case EventMessageDelta:
		ev.Usage = w.Usage
		if w.Delta != nil {
			ev.StopReason = w.Delta.StopReason
		}
	case EventError:
		if w.Error == nil {
			return Event{}, &ProviderError{Type: "unknown", Message: string(data)}
		}
		return Event{}, &ProviderError{Type: w.Error.Type, Message: w.Error.Message}
	}
	return ev, nil
}

// next returns the data payload of the next event, skipping comments and
// event-name lines.
func (s *sseStream) next() ([]byte, error) {
	var data []byte
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) && len(data) > 0 {
				return data, nil
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("error reading stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) > 0 {
				return data, nil
			}
		case strings.HasPrefix(line, "data:"):
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")...)
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
