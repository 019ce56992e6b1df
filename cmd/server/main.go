// Cotizador - conversational quotation assistant server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/luiscore200/cotizador/internal/api"
	"github.com/luiscore200/cotizador/internal/chat"
	"github.com/luiscore200/cotizador/internal/config"
	"github.com/luiscore200/cotizador/internal/convlog"
	"github.com/luiscore200/cotizador/internal/generator"
	"github.com/luiscore200/cotizador/internal/identity"
	"github.com/luiscore200/cotizador/internal/metrics"
	"github.com/luiscore200/cotizador/internal/middleware"
	"github.com/luiscore200/cotizador/internal/prompt"
	"github.com/luiscore200/cotizador/internal/session"
	"github.com/luiscore200/cotizador/internal/store"
	"github.com/luiscore200/cotizador/internal/timeout"
	"github.com/luiscore200/cotizador/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"provider", cfg.Generator.Provider,
		"inactivity_timeout", cfg.Session.InactivityTimeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	// Initialize dependencies.
	var (
		repo    *store.SQLiteStore
		archive session.Archiver
		pinger  api.Pinger
	)
	if cfg.Archive.Enabled {
		repo, err = store.NewSQLite(cfg.Archive.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		if err := repo.Ping(ctx); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		archive, pinger = repo, repo
		store.StartRetentionWorker(ctx, repo, cfg.Archive.Retention)
		slog.Info("Quotation archive ready", "path", cfg.Archive.DBPath)
	}

	trace, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := trace.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	gen, err := newGenerator(ctx, cfg.Generator)
	if err != nil {
		slog.Error("Failed to initialize generator", "error", err)
		os.Exit(1)
	}

	invoker := generator.NewInvoker(gen, generator.RetryConfig{
		MaxAttempts: cfg.Generator.RetryAttempts,
		BaseDelay:   cfg.Generator.RetryBaseDelay,
	}, logger)

	orch := session.NewOrchestrator(invoker, session.Config{
		InactivityTimeout: cfg.Session.InactivityTimeout,
		Prompts:           prompt.Default(),
		Messages:          prompt.DefaultMessages(),
		Clock:             timeout.RealClock{},
		Archive:           archive,
		Trace:             trace,
		Logger:            logger,
	})

	// Initialize handlers.
	chatHandler := chat.NewHandler(orch, chat.Limits{
		MessagesPerMinute: cfg.Inbound.RateLimitPerMinute,
		Burst:             cfg.Inbound.RateLimitBurst,
		MaxMessageBytes:   cfg.Inbound.MaxMessageBytes,
	}, cfg.FrontendURL, cfg.IsDevelopment(), logger)
	healthHandler := api.NewHealthHandler(pinger, orch, cfg.Timeout.HealthCheck)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", metrics.Handler())
	if repo != nil {
		api.NewQuotationHandler(repo).RegisterRoutes(r)
	}

	// WebSocket endpoint.
	r.Get("/ws/chat", chatHandler.ServeHTTP)

	// Serve embedded client (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: chat connections are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: cfg.Timeout.ReadHeader,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	// Hijacked websocket connections are not tracked by srv.Shutdown, so
	// sessions are closed explicitly first.
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Not every session closed before the deadline", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}

func newGenerator(ctx context.Context, cfg config.GeneratorConfig) (generator.Generator, error) {
	settings := generator.Settings{
		Temperature:     cfg.Temperature,
		TopK:            cfg.TopK,
		TopP:            cfg.TopP,
		MaxOutputTokens: cfg.MaxOutputTokens,
		RequestTimeout:  cfg.RequestTimeout,
	}
	switch cfg.Provider {
	case config.ProviderGemini:
		settings.Model = cfg.GeminiModel
		return generator.NewGemini(ctx, cfg.GeminiAPIKey, settings)
	case config.ProviderOpenAI:
		settings.Model = cfg.OpenAIModel
		return generator.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, settings), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}
