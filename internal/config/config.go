package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/chatpipe/internal/pricing"
	"github.com/spf13/viper"
)

const DefaultSystemPrompt = `You are a helpful AI assistant. You have access to tools that let you query the user's data and take actions on their behalf.

Guidelines:
- Be concise and direct in your responses
- Use tools when they would provide useful, real-time information
- Always explain what you're doing when using tools
- Format responses with markdown when it aids readability`

type AppConfig struct {
	Server    ServerConfig          `mapstructure:"server"`
	Database  DatabaseConfig        `mapstructure:"database"`
	LLM       LLMConfig             `mapstructure:"llm"`
	Chat      ChatConfig            `mapstructure:"chat"`
	RateLimit RateLimitConfig       `mapstructure:"ratelimit"`
	Redis     RedisConfig           `mapstructure:"redis"`
	Billing   BillingConfig         `mapstructure:"billing"`
	Pricing   map[string]ModelPrice `mapstructure:"pricing"`
	Auth      AuthConfig            `mapstructure:"auth"`
	Log       LogConfig             `mapstructure:"log"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	Environment       string        `mapstructure:"environment"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	TrustedProxies    []string      `mapstructure:"trusted_proxies"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LLMConfig struct {
	Provider         string `mapstructure:"provider"` // anthropic | openai
	BaseURL          string `mapstructure:"base_url"`
	APIKey           string `mapstructure:"api_key"`
	Model            string `mapstructure:"model"`
	MaxTokens        int    `mapstructure:"max_tokens"`
	SystemPrompt     string `mapstructure:"system_prompt"`
	AnthropicVersion string `mapstructure:"anthropic_version"`
}

type ChatConfig struct {
	HistoryLimit    int           `mapstructure:"history_limit"`
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	PersistTimeout  time.Duration `mapstructure:"persist_timeout"`
}

type RateLimitConfig struct {
	Store         string        `mapstructure:"store"` // memory | redis
	PerWindow     int           `mapstructure:"per_window"`
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type BillingConfig struct {
	FreeMonthlyLimit int `mapstructure:"free_monthly_limit"`
}

// ModelPrice is USD per million tokens.
type ModelPrice struct {
	Input  float64 `mapstructure:"input"`
	Output float64 `mapstructure:"output"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8100")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.path", "chatpipe.db")

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.system_prompt", DefaultSystemPrompt)
	v.SetDefault("llm.anthropic_version", "2023-06-01")

	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.upstream_timeout", 5*time.Minute)
	v.SetDefault("chat.persist_timeout", 30*time.Second)

	v.SetDefault("ratelimit.store", "memory")
	v.SetDefault("ratelimit.per_window", 10)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.sweep_interval", 5*time.Minute)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chatpipe:")

	v.SetDefault("billing.free_monthly_limit", 50)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the YAML file at path, if any, then environment variables such
// as LLM_API_KEY or RATELIMIT_STORE.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider))
	}
	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("ratelimit.store must be memory or redis, got %q", c.RateLimit.Store))
	}
	if c.RateLimit.PerWindow <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("ratelimit.per_window and ratelimit.window must be positive"))
	}
	if c.Billing.FreeMonthlyLimit < 0 {
		errs = append(errs, errors.New("billing.free_monthly_limit must not be negative"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	return errors.Join(errs...)
}

// PricingTable merges configured prices over the built-in table. Model names
// containing dots cannot be configured, since viper splits keys on them.
func (c *AppConfig) PricingTable() pricing.Table {
	table := pricing.DefaultTable()
	for model, p := range c.Pricing {
		table[model] = pricing.ModelPricing{Input: p.Input, Output: p.Output}
	}
	return table
}
