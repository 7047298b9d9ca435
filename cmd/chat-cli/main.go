// Command chat-cli is a terminal client for the chat server.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/RichardoC/chatpipe/internal/chat"
	"github.com/RichardoC/chatpipe/internal/models"
	"go.uber.org/zap"
)

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func main() {
	baseURL := flag.String("url", "http://localhost:8100", "server base URL")
	token := flag.String("token", os.Getenv("CHATPIPE_TOKEN"), "bearer token")
	conversationID := flag.String("conversation", "", "conversation to continue; a new one is created when empty")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := &client{baseURL: strings.TrimRight(*baseURL, "/"), token: *token, http: &http.Client{}}

	if *conversationID == "" {
		conv, err := c.createConversation(ctx)
		if err != nil {
			logger.Fatal("failed to create conversation", zap.Error(err))
		}
		*conversationID = conv.ID
	}
	fmt.Printf("Conversation %s. Type a message, or /quit to exit.\n", *conversationID)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit":
			return
		}

		if err := c.send(ctx, *conversationID, line, os.Stdout); err != nil {
			logger.Error("Failed to send message", zap.Error(err))
		}
	}
}

func (c *client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.http.Do(req)
}

func (c *client) createConversation(ctx context.Context) (*models.Conversation, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/conversations", map[string]string{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, responseError(resp)
	}

	var conv models.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

func (c *client) send(ctx context.Context, conversationID, content string, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/chat", map[string]string{
		"conversationId": conversationID,
		"content":        content,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return render(resp.Body, w)
}

// render prints a server-sent event stream until it ends.
func render(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		var ev chat.Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}

		switch ev.Type {
		case chat.EventText:
			fmt.Fprint(w, ev.Content)
		case chat.EventToolStart:
			fmt.Fprintf(w, "\n[using %s]\n", ev.ToolName)
		case chat.EventToolResult:
			fmt.Fprintf(w, "[%s] %s\n", ev.ToolName, ev.Result)
		case chat.EventDone:
			fmt.Fprintf(w, "\n(%d in / %d out tokens)\n", deref(ev.InputTokens), deref(ev.OutputTokens))
		case chat.EventError:
			fmt.Fprintln(w)
		}

		if ev.Terminal() {
			if ev.Type == chat.EventError {
				return errors.New(ev.Content)
			}
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return errors.New("stream ended without a final event")
}

func responseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if retry := resp.Header.Get("Retry-After"); retry != "" {
		return fmt.Errorf("%s: %s (retry in %ss)", resp.Status, body.Error, retry)
	}
	return fmt.Errorf("%s: %s", resp.Status, body.Error)
}

func deref(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
