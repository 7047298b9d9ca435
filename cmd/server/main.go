package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardoC/chatpipe/internal/api"
	"github.com/RichardoC/chatpipe/internal/chat"
	"github.com/RichardoC/chatpipe/internal/config"
	"github.com/RichardoC/chatpipe/internal/db"
	"github.com/RichardoC/chatpipe/internal/llm"
	"github.com/RichardoC/chatpipe/internal/logging"
	"github.com/RichardoC/chatpipe/internal/metrics"
	"github.com/RichardoC/chatpipe/internal/pricing"
	"github.com/RichardoC/chatpipe/internal/ratelimit"
	"github.com/RichardoC/chatpipe/internal/tools"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	configPath := flag.String("config", os.Getenv("CHATPIPE_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The logger depends on config, so report this one plainly.
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.Database.Path))
	}
	defer database.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := limiterStore(ctx, cfg, logger)

	provider, err := newProvider(cfg)
	if err != nil {
		logger.Fatal("failed to initialize LLM provider", zap.Error(err), zap.String("provider", cfg.LLM.Provider))
	}

	calc := pricing.NewCalculator(cfg.PricingTable(), pricing.ModelPricing{Input: 3, Output: 15})
	sink := chat.NewSink(database, calc, cfg.Chat.PersistTimeout, logger.Named("sink"), m)
	orchestrator := chat.NewOrchestrator(database, provider, tools.Default(logger.Named("tools"), m),
		func(accountID string) tools.Store { return database.ForAccount(accountID) },
		sink,
		chat.Config{
			Model:           cfg.LLM.Model,
			MaxTokens:       cfg.LLM.MaxTokens,
			SystemPrompt:    cfg.LLM.SystemPrompt,
			HistoryLimit:    cfg.Chat.HistoryLimit,
			UpstreamTimeout: cfg.Chat.UpstreamTimeout,
		},
		logger.Named("chat"), m)
	admission := chat.NewAdmission(
		ratelimit.NewLimiter(store, cfg.RateLimit.PerWindow, cfg.RateLimit.Window, logger.Named("ratelimit")),
		ratelimit.NewMonthly(database, cfg.Billing.FreeMonthlyLimit, logger.Named("ratelimit")),
		database, logger.Named("admission"), m)

	handler := api.NewHandler(database, orchestrator, admission,
		api.BuildInfo{Version: version, Environment: cfg.Server.Environment}, logger)
	router, err := api.NewRouter(handler, api.RouterConfig{
		JWTSecret:      cfg.Auth.JWTSecret,
		TrustedProxies: cfg.Server.TrustedProxies,
		Gatherer:       reg,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Chat.PersistTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down cleanly", zap.Error(err))
		}
	}()

	logger.Info("Starting server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.String("ratelimit_store", cfg.RateLimit.Store))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

func limiterStore(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) ratelimit.Store {
	if cfg.RateLimit.Store == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			// Limiter fails open, so an unreachable redis is not fatal.
			logger.Warn("Redis is not reachable yet", zap.Error(err), zap.String("addr", cfg.Redis.Address))
		}
		return ratelimit.NewRedisStore(client, cfg.Redis.Prefix)
	}

	store := ratelimit.NewMemoryStore()
	go store.Run(ctx, cfg.RateLimit.SweepInterval)
	return store
}

func newProvider(cfg *config.AppConfig) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		p, err := llm.NewLangChain(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "anthropic":
		return llm.NewAnthropic(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.AnthropicVersion, nil), nil
	default:
		return nil, errors.New("unknown provider " + cfg.LLM.Provider)
	}
}
