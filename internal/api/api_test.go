package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RichardoC/chatpipe/internal/chat"
	"github.com/RichardoC/chatpipe/internal/db"
	"github.com/RichardoC/chatpipe/internal/llm"
	"github.com/RichardoC/chatpipe/internal/metrics"
	"github.com/RichardoC/chatpipe/internal/models"
	"github.com/RichardoC/chatpipe/internal/pricing"
	"github.com/RichardoC/chatpipe/internal/ratelimit"
	"github.com/RichardoC/chatpipe/internal/tools"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type replayProvider struct {
	mu     sync.Mutex
	events []llm.Event
	calls  int
}

func (p *replayProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return &replayStream{events: p.events}, nil
}

func (p *replayProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type replayStream struct {
	events []llm.Event
	i      int
}

func (s *replayStream) Recv() (llm.Event, error) {
	if s.i >= len(s.events) {
		return llm.Event{}, io.EOF
	}
	ev := s.events[s.i]
	s.i++
	return ev, nil
}

func (s *replayStream) Close() error { return nil }

func helloEvents() []llm.Event {
	return []llm.Event{
		{Type: llm.EventMessageStart, Usage: &llm.Usage{InputTokens: 12}},
		{Type: llm.EventContentBlockStart, Block: &llm.ContentBlock{Type: llm.BlockText}},
		{Type: llm.EventContentBlockDelta, Delta: &llm.Delta{Type: llm.DeltaText, Text: "Hi"}},
		{Type: llm.EventContentBlockStop},
		{Type: llm.EventMessageDelta, Usage: &llm.Usage{OutputTokens: 3}, StopReason: "end_turn"},
		{Type: llm.EventMessageStop},
	}
}

type testServer struct {
	db       *db.Database
	provider *replayProvider
	router   *gin.Engine
}

type serverOptions struct {
	perWindow int
	freeLimit int
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	if opts.perWindow == 0 {
		opts.perWindow = 100
	}
	if opts.freeLimit == 0 {
		opts.freeLimit = 50
	}

	database, err := db.New(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	provider := &replayProvider{events: helloEvents()}

	calc := pricing.NewCalculator(pricing.DefaultTable(), pricing.ModelPricing{Input: 3, Output: 15})
	sink := chat.NewSink(database, calc, 5*time.Second, logger, m)
	orch := chat.NewOrchestrator(database, provider, tools.Default(logger, m),
		func(accountID string) tools.Store { return database.ForAccount(accountID) },
		sink,
		chat.Config{Model: "claude-sonnet-4-20250514", MaxTokens: 1024, SystemPrompt: "prompt"},
		logger, m)
	admission := chat.NewAdmission(
		ratelimit.NewLimiter(ratelimit.NewMemoryStore(), opts.perWindow, time.Minute, logger),
		ratelimit.NewMonthly(database, opts.freeLimit, logger),
		database, logger, m)

	h := NewHandler(database, orch, admission, BuildInfo{Version: "1.2.3", Environment: "test"}, logger)
	router, err := NewRouter(h, RouterConfig{JWTSecret: testSecret, Gatherer: reg}, logger)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	return &testServer{db: database, provider: provider, router: router}
}

func token(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func (s *testServer) do(t *testing.T, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, jwt.MapClaims{"sub": account}, testSecret))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) conversation(t *testing.T, account string) *models.Conversation {
	t.Helper()
	conv, err := s.db.CreateConversation(context.Background(), account, "", nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	return conv
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func sseEvents(t *testing.T, body string) []chat.Event {
	t.Helper()
	var events []chat.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected line %q", line)
		}
		var ev chat.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("Failed to decode event %q: %v", data, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"wrong secret", "Bearer " + token(t, jwt.MapClaims{"sub": "alice"}, "other")},
		{"no subject", "Bearer " + token(t, jwt.MapClaims{"role": "admin"}, testSecret)},
		{"expired", "Bearer " + token(t, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Hour).Unix()}, testSecret)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			srv.router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := decodeBody(t, rec)["error"]; got != "Unauthorized" {
				t.Errorf("error = %v", got)
			}
		})
	}
}

func TestUserIDClaimAccepted(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	srv.conversation(t, "bob")

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, jwt.MapClaims{"user_id": "bob"}, testSecret))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var convs []models.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &convs); err != nil || len(convs) != 1 {
		t.Fatalf("conversations = %s (%v)", rec.Body.String(), err)
	}
}

func TestChatStreamsAndPersists(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	conv := srv.conversation(t, "alice")

	rec := srv.do(t, http.MethodPost, "/api/chat", "alice", map[string]any{
		"conversationId": conv.ID,
		"content":        "Hello",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	for header, want := range map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache, no-transform",
		"X-Accel-Buffering": "no",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	events := sseEvents(t, rec.Body.String())
	if len(events) != 2 || events[0].Type != chat.EventText || events[1].Type != chat.EventDone {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Content != "Hi" || *events[1].InputTokens != 12 || *events[1].OutputTokens != 3 {
		t.Errorf("events = %+v", events)
	}

	ctx := context.Background()
	history, err := srv.db.GetConversationHistory(ctx, conv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[1].Content != "Hi" {
		t.Errorf("history = %+v", history)
	}
	count, err := srv.db.CountUsageSince(ctx, "alice", ratelimit.StartOfMonth(time.Now()))
	if err != nil || count != 1 {
		t.Errorf("usage count = %d (%v)", count, err)
	}
	got, err := srv.db.GetConversation(ctx, conv.ID, "alice")
	if err != nil || got.Title != "Hello" {
		t.Errorf("title = %+v (%v)", got, err)
	}
}

func TestChatRateLimited(t *testing.T) {
	srv := newTestServer(t, serverOptions{perWindow: 1})
	conv := srv.conversation(t, "alice")
	body := map[string]any{"conversationId": conv.ID, "content": "Hello"}

	if rec := srv.do(t, http.MethodPost, "/api/chat", "alice", body); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := srv.do(t, http.MethodPost, "/api/chat", "alice", body)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 60 {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if got := decodeBody(t, rec)["error"]; got != "Too many requests. Please wait a moment." {
		t.Errorf("error = %v", got)
	}
	if srv.provider.callCount() != 1 {
		t.Errorf("provider called %d times", srv.provider.callCount())
	}
}

func TestChatMonthlyLimit(t *testing.T) {
	srv := newTestServer(t, serverOptions{freeLimit: 1})
	conv := srv.conversation(t, "alice")
	if err := srv.db.SaveUsage(context.Background(), &models.UsageRecord{UserID: "alice", Model: "m"}); err != nil {
		t.Fatal(err)
	}

	rec := srv.do(t, http.MethodPost, "/api/chat", "alice", map[string]any{"conversationId": conv.ID, "content": "Hello"})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["code"] != "MONTHLY_LIMIT_REACHED" {
		t.Errorf("code = %v", body["code"])
	}
	if body["error"] != "Monthly message limit reached (1/1). Upgrade to Pro for unlimited messages." {
		t.Errorf("error = %v", body["error"])
	}
	if srv.provider.callCount() != 0 {
		t.Errorf("provider called %d times", srv.provider.callCount())
	}

	if err := srv.db.SetSubscriptionStatus(context.Background(), "alice", models.StatusActive); err != nil {
		t.Fatal(err)
	}
	rec = srv.do(t, http.MethodPost, "/api/chat", "alice", map[string]any{"conversationId": conv.ID, "content": "Hello"})
	if rec.Code != http.StatusOK {
		t.Errorf("paid status = %d", rec.Code)
	}
}

func TestChatRequestValidation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	conv := srv.conversation(t, "alice")

	tests := []struct {
		name    string
		body    any
		status  int
		details map[string]string
	}{
		{"invalid json", `{"conversationId":`, http.StatusBadRequest, nil},
		{"bad uuid", map[string]any{"conversationId": "nope", "content": "hi"}, http.StatusUnprocessableEntity,
			map[string]string{"conversationId": "Invalid conversation ID"}},
		{"empty content", map[string]any{"conversationId": conv.ID, "content": ""}, http.StatusUnprocessableEntity,
			map[string]string{"content": "Message cannot be empty"}},
		{"content too long", map[string]any{"conversationId": conv.ID, "content": strings.Repeat("é", 32001)}, http.StatusUnprocessableEntity,
			map[string]string{"content": "Message too long (max 32,000 characters)"}},
		{"prompt too long", map[string]any{"conversationId": conv.ID, "content": "hi", "systemPrompt": strings.Repeat("x", 8001)},
			http.StatusUnprocessableEntity, map[string]string{"systemPrompt": "System prompt too long"}},
		{"wrong type", map[string]any{"conversationId": conv.ID, "content": 42}, http.StatusUnprocessableEntity, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/chat", "alice", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if tt.status == http.StatusBadRequest {
				if body["error"] != "Invalid JSON body" {
					t.Errorf("error = %v", body["error"])
				}
				return
			}
			if body["error"] != "Validation error" {
				t.Errorf("error = %v", body["error"])
			}
			details, _ := body["details"].(map[string]any)
			for field, want := range tt.details {
				msgs, _ := details[field].([]any)
				if len(msgs) == 0 || msgs[0] != want {
					t.Errorf("details[%s] = %v, want %q", field, details[field], want)
				}
			}
		})
	}
	if srv.provider.callCount() != 0 {
		t.Errorf("provider called %d times", srv.provider.callCount())
	}
}

func TestChatConversationNotFound(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	conv := srv.conversation(t, "bob")

	rec := srv.do(t, http.MethodPost, "/api/chat", "alice", map[string]any{"conversationId": conv.ID, "content": "Hello"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody(t, rec)["error"]; got != "Conversation not found" {
		t.Errorf("error = %v", got)
	}
	history, _ := srv.db.GetConversationHistory(context.Background(), conv.ID, 10)
	if len(history) != 0 {
		t.Errorf("history = %+v", history)
	}
}

func TestConversationLifecycle(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	rec := srv.do(t, http.MethodPost, "/api/conversations", "alice", map[string]any{"title": "Plans"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var conv models.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatal(err)
	}
	if conv.Title != "Plans" || conv.UserID != "alice" {
		t.Errorf("created = %+v", conv)
	}

	rec = srv.do(t, http.MethodPatch, "/api/conversations/"+conv.ID, "alice", map[string]any{"title": "Trips", "systemPrompt": "Be brief"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body = %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatal(err)
	}
	if conv.Title != "Trips" || conv.SystemPrompt == nil || *conv.SystemPrompt != "Be brief" {
		t.Errorf("updated = %+v", conv)
	}

	if rec := srv.do(t, http.MethodPatch, "/api/conversations/"+conv.ID, "alice", map[string]any{"title": ""}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty title status = %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPatch, "/api/conversations/"+conv.ID, "bob", map[string]any{"title": "Mine"}); rec.Code != http.StatusNotFound {
		t.Errorf("foreign update status = %d", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/api/conversations", "alice", nil)
	var convs []models.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &convs); err != nil || len(convs) != 1 {
		t.Fatalf("list = %s (%v)", rec.Body.String(), err)
	}
	rec = srv.do(t, http.MethodGet, "/api/conversations", "bob", nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" && strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("bob sees %s", rec.Body.String())
	}

	rec = srv.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("messages status = %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "bob", nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign messages status = %d", rec.Code)
	}

	if rec := srv.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, "bob", nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign delete status = %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, "alice", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, "alice", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestUsageEndpoint(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	conv := srv.conversation(t, "alice")
	srv.do(t, http.MethodPost, "/api/chat", "alice", map[string]any{"conversationId": conv.ID, "content": "Hello"})

	rec := srv.do(t, http.MethodGet, "/api/usage", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats tools.UsageStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.MessageCount != 1 || stats.TotalInputTokens != 12 || stats.TotalOutputTokens != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	rec := srv.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["version"] != "1.2.3" || body["environment"] != "test" {
		t.Errorf("health = %v", body)
	}

	conv := srv.conversation(t, "alice")
	srv.do(t, http.MethodPost, "/api/chat", "alice", map[string]any{"conversationId": conv.ID, "content": "Hello"})

	rec = srv.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `chatpipe_chat_requests_total{outcome="done"} 1`) {
		t.Errorf("metrics missing completed turn:\n%s", rec.Body.String())
	}
}

func TestNotesLifecycle(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	ctx := context.Background()

	rec := srv.do(t, http.MethodPost, "/api/notes", "alice", map[string]any{
		"title": "Budget 2026", "content": "Quarterly budget planning", "tags": []string{"finance"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}
	var note models.Note
	if err := json.Unmarshal(rec.Body.Bytes(), &note); err != nil {
		t.Fatal(err)
	}
	if note.UserID != "alice" || note.IsPinned {
		t.Errorf("created = %+v", note)
	}
	if found, _ := srv.db.SearchNotes(ctx, "alice", "budget", 5); len(found) != 1 {
		t.Fatalf("search after create = %d notes", len(found))
	}

	rec = srv.do(t, http.MethodPatch, "/api/notes/"+note.ID, "alice", map[string]any{"content": "Trip to Lisbon", "is_pinned": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body = %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &note); err != nil {
		t.Fatal(err)
	}
	if !note.IsPinned || note.Title != "Budget 2026" || note.Content != "Trip to Lisbon" {
		t.Errorf("updated = %+v", note)
	}
	if found, _ := srv.db.SearchNotes(ctx, "alice", "lisbon", 5); len(found) != 1 {
		t.Errorf("search for new content = %d notes", len(found))
	}
	if found, _ := srv.db.SearchNotes(ctx, "alice", "quarterly", 5); len(found) != 0 {
		t.Errorf("search for old content = %d notes", len(found))
	}

	rec = srv.do(t, http.MethodGet, "/api/notes?tags=finance&pageSize=1", "alice", nil)
	var page NotesPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("list = %s (%v)", rec.Body.String(), err)
	}
	if page.Total != 1 || len(page.Data) != 1 || page.HasMore || page.Page != 1 || page.PageSize != 1 {
		t.Errorf("page = %+v", page)
	}

	for _, method := range []string{http.MethodGet, http.MethodPatch, http.MethodDelete} {
		if rec := srv.do(t, method, "/api/notes/"+note.ID, "bob", map[string]any{"title": "Mine"}); rec.Code != http.StatusNotFound {
			t.Errorf("foreign %s status = %d", method, rec.Code)
		}
	}

	if rec := srv.do(t, http.MethodDelete, "/api/notes/"+note.ID, "alice", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if found, _ := srv.db.SearchNotes(ctx, "alice", "lisbon", 5); len(found) != 0 {
		t.Errorf("search after delete = %d notes", len(found))
	}
	if rec := srv.do(t, http.MethodGet, "/api/notes/"+note.ID, "alice", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestNoteValidation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	tags := make([]string, 11)
	for i := range tags {
		tags[i] = fmt.Sprint("t", i)
	}
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		field  string
		want   string
	}{
		{"missing title", http.MethodPost, "/api/notes", map[string]any{"content": "x"}, "title", "Title is required"},
		{"long title", http.MethodPost, "/api/notes", map[string]any{"title": strings.Repeat("a", 301)}, "title", "Title too long (max 300 characters)"},
		{"too many tags", http.MethodPost, "/api/notes", map[string]any{"title": "a", "tags": tags}, "tags", "Too many tags (max 10)"},
		{"bad sort", http.MethodGet, "/api/notes?sortBy=rowid", nil, "sortBy", "Failed the oneof check"},
		{"page size", http.MethodGet, "/api/notes?pageSize=500", nil, "pageSize", "Failed the max check"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, tt.method, tt.path, "alice", tt.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			details, _ := decodeBody(t, rec)["details"].(map[string]any)
			msgs, _ := details[tt.field].([]any)
			if len(msgs) == 0 || msgs[0] != tt.want {
				t.Errorf("details = %v, want %s: %q", details, tt.field, tt.want)
			}
		})
	}
}
