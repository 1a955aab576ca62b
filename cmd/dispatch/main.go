package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/hvngo/llm-dispatch/config"
	"github.com/hvngo/llm-dispatch/internal/dispatch"
	"github.com/hvngo/llm-dispatch/internal/ledger"
	"github.com/hvngo/llm-dispatch/internal/pricing"
	"github.com/hvngo/llm-dispatch/internal/provider"
	"github.com/hvngo/llm-dispatch/internal/provider/claude"
	"github.com/hvngo/llm-dispatch/internal/provider/gemini"
	"github.com/hvngo/llm-dispatch/internal/provider/ollama"
	"github.com/hvngo/llm-dispatch/internal/provider/openai"
	"github.com/hvngo/llm-dispatch/internal/routing"
	"github.com/hvngo/llm-dispatch/internal/telemetry"
	"github.com/hvngo/llm-dispatch/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("llm-dispatch", cfg)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()

	// 3. Init spend ledger
	store, err := ledger.NewFileStore(cfg.DataDir)
	if err != nil {
		logger.Fatal("failed to init spend ledger", zap.Error(err))
	}

	// 4. Init providers and routing
	providers := []provider.Provider{
		openai.New(cfg.OpenAIAPIKey),
		claude.New(cfg.AnthropicAPIKey),
		gemini.New(cfg.GeminiAPIKey),
		ollama.New(cfg.OllamaBaseURL),
	}

	registry, err := routing.NewRegistry(providers, "ollama")
	if err != nil {
		logger.Fatal("failed to build provider registry", zap.Error(err))
	}

	policy, err := routing.NewPolicy(registry, routing.DefaultRules())
	if err != nil {
		logger.Fatal("invalid routing rule table", zap.Error(err))
	}

	// 5. Optional redis-backed rate limiter
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("failed to ping redis", zap.Error(err))
		}
		limiter = ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)
		logger.Info("rate limiting enabled", zap.String("redis_addr", cfg.RedisAddr))
	}

	// 6. Init dispatch service and handler
	tracer := otel.GetTracerProvider().Tracer("llm-dispatch")
	service := dispatch.NewService(policy, pricing.Default(), store, tracer, logger)
	handler := dispatch.NewHandler(service, registry, limiter, logger)

	// 7. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"llm-dispatch"}`))
	})

	r.Post("/v1/tasks", handler.HandleRunTask)
	r.Get("/v1/spend/current", handler.HandleSpendCurrent)
	r.Get("/v1/spend/history", handler.HandleSpendHistory)

	// 8. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 320 * time.Second, // local providers can be slow
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("dispatch service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
