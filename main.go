package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/agents"
	cfg "github.com/voyplan/orchestrator/internal/config"
	"github.com/voyplan/orchestrator/internal/health"
	"github.com/voyplan/orchestrator/internal/httpapi"
	"github.com/voyplan/orchestrator/internal/llm"
	"github.com/voyplan/orchestrator/internal/preferences"
	"github.com/voyplan/orchestrator/internal/projection"
	"github.com/voyplan/orchestrator/internal/reevaluator"
	"github.com/voyplan/orchestrator/internal/tracing"
	"github.com/voyplan/orchestrator/internal/workflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	config, err := cfg.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if err := tracing.Initialize(config.Tracing, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// Redis backs both the durable saga state and the preference event streams.
	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Redis.Addr,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	cancel()

	planView, err := projection.Open(config.Postgres.DSN(), logger)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	if err := planView.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to ensure plan view schema", zap.Error(err))
	}

	llmClient := llm.NewClient(llm.Options{
		BaseURL:           config.LLM.BaseURL,
		Timeout:           config.LLM.Timeout,
		RequestsPerSecond: config.LLM.RequestsPerSecond,
		Burst:             config.LLM.Burst,
	}, logger)

	prefStore := preferences.NewStore(rdb, logger)

	registry := agents.NewRegistry()
	defs, err := agents.LoadDefinitions(config.Agents)
	if err != nil {
		logger.Fatal("Failed to load agent definitions",
			zap.String("path", config.Agents), zap.Error(err))
	}
	agents.RegisterDefined(registry, defs, llmClient, prefStore, logger)

	store := workflow.NewRedisStore(rdb, logger)
	runtime := workflow.NewRuntime(store, logger, workflow.RuntimeOptions{
		StepTimeout: config.Saga.StepTimeout,
		MaxRetries:  config.Saga.MaxRetries,
	})
	runtime.SetCommitHook(func(rec *workflow.Record) {
		// The projection follows committed state best-effort; the write path
		// never depends on it.
		hookCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := planView.Upsert(hookCtx, projection.Entry{
			SessionID:    rec.SessionID,
			UserID:       rec.State.UserID,
			UserQuestion: rec.State.Query,
			FinalAnswer:  rec.State.FinalAnswer,
			Status:       string(rec.State.Status),
		}); err != nil {
			logger.Warn("Plan view update failed",
				zap.String("session_id", rec.SessionID), zap.Error(err))
		}
	})

	orchestrator := workflow.NewOrchestrator(
		runtime,
		store,
		workflow.NewSelector(llmClient, registry, logger),
		workflow.NewPlanner(llmClient, registry, logger),
		workflow.NewExecutor(registry, logger),
		workflow.NewSummarizer(llmClient, logger),
		logger,
	)

	// Pick up any run that was mid-step when the previous process died.
	if err := orchestrator.Resume(ctx); err != nil {
		logger.Fatal("Failed to resume orchestrations", zap.Error(err))
	}

	evaluator := workflow.NewEvaluator(llmClient, logger).WithPreferences(prefStore)
	reeval := reevaluator.New(planView, evaluator, orchestrator, logger)
	consumer := preferences.NewConsumer(rdb, reeval.HandlePreferenceAdded, "$", logger)
	go consumer.Run(ctx)

	// Admin server: health, readiness and metrics.
	checker := health.NewChecker(logger)
	checker.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	checker.Register("postgres", planView.Ping)

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET /health", checker.LivenessHandler())
	adminMux.HandleFunc("GET /readiness", checker.ReadinessHandler())
	adminMux.Handle("GET /metrics", promhttp.Handler())
	adminSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(config.Server.AdminPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", config.Server.AdminPort))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	// Public API server.
	limiter := httpapi.NewRateLimiter(
		config.Server.RateLimit.RequestsPerMinute,
		config.Server.RateLimit.Burst,
		logger,
	)
	apiMux := http.NewServeMux()
	httpapi.NewHandler(orchestrator, prefStore, planView, logger).
		WithRateLimiter(limiter).
		RegisterRoutes(apiMux)
	apiSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(config.Server.Port),
		Handler:      apiMux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", config.Server.Port))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	runtime.Shutdown(shutdownCtx)
	reeval.Wait()

	if err := rdb.Close(); err != nil {
		logger.Warn("Redis close failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
