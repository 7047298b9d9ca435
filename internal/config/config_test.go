package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Model != "claude-sonnet-4-20250514" || cfg.LLM.MaxTokens != 4096 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Chat.HistoryLimit != 50 || cfg.Billing.FreeMonthlyLimit != 50 {
		t.Errorf("chat = %+v billing = %+v", cfg.Chat, cfg.Billing)
	}
	if cfg.RateLimit.PerWindow != 10 || cfg.RateLimit.Window != time.Minute || cfg.RateLimit.Store != "memory" {
		t.Errorf("ratelimit = %+v", cfg.RateLimit)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("jwt secret not read from environment")
	}
	if !strings.HasPrefix(cfg.LLM.SystemPrompt, "You are a helpful AI assistant.") {
		t.Errorf("system prompt = %q", cfg.LLM.SystemPrompt)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	yaml := `
llm:
  provider: openai
  base_url: http://localhost:11434/v1/
  model: llama3.1:8b
ratelimit:
  store: redis
  per_window: 3
  window: 30s
auth:
  jwt_secret: from-file
pricing:
  gpt-4o-mini:
    input: 0.15
    output: 0.6
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RATELIMIT_PER_WINDOW", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "llama3.1:8b" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.RateLimit.PerWindow != 7 || cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("ratelimit = %+v", cfg.RateLimit)
	}
	table := cfg.PricingTable()
	if _, ok := table["claude-sonnet-4"]; !ok {
		t.Errorf("built-in prices dropped")
	}
	if p := table["gpt-4o-mini"]; p.Input != 0.15 || p.Output != 0.6 {
		t.Errorf("configured price = %+v", p)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("LLM_PROVIDER", "bedrock")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"llm.provider", "auth.jwt_secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
