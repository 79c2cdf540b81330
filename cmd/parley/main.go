package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	phttp "github.com/parley-ai/parley/internal/adapter/http"
	"github.com/parley-ai/parley/internal/adapter/litellm"
	"github.com/parley-ai/parley/internal/adapter/mcp"
	pnats "github.com/parley-ai/parley/internal/adapter/nats"
	"github.com/parley-ai/parley/internal/adapter/natskv"
	"github.com/parley-ai/parley/internal/adapter/otel"
	"github.com/parley-ai/parley/internal/adapter/postgres"
	"github.com/parley-ai/parley/internal/adapter/ristretto"
	"github.com/parley-ai/parley/internal/adapter/tiered"
	"github.com/parley-ai/parley/internal/adapter/ws"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/domain/approval"
	"github.com/parley-ai/parley/internal/domain/policy"
	"github.com/parley-ai/parley/internal/logger"
	"github.com/parley-ai/parley/internal/middleware"
	"github.com/parley-ai/parley/internal/opcache"
	"github.com/parley-ai/parley/internal/port/a2a"
	"github.com/parley-ai/parley/internal/port/messagequeue"
	"github.com/parley-ai/parley/internal/port/tool"
	"github.com/parley-ai/parley/internal/resilience"
	"github.com/parley-ai/parley/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		if err := runHashKey(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return err
	}
	cfg, yamlPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return err
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"path", yamlPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	otelShutdown, err := otel.Setup(ctx, cfg.Logging.Service, cfg.OTel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	queue, err := pnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()
	slog.Info("nats connected", "url", cfg.NATS.URL)

	promptCache, err := buildPromptCache(ctx, queue, cfg.Cache)
	if err != nil {
		return fmt.Errorf("prompt cache: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("postgres ready")

	promptStore := postgres.NewStore(pool)
	cachedPrompts := postgres.NewCachedStore(promptStore, promptCache, cfg.Cache.L2TTL)

	// --- Tools ---

	classifier := policy.NewClassifier()
	registry := tool.NewRegistry(classifier)
	var mcpClosers []func() error
	defer func() {
		for _, c := range mcpClosers {
			_ = c()
		}
	}()
	for _, srv := range cfg.MCP.Servers {
		src, err := mcp.Connect(ctx, srv.Name, srv.URL)
		if err != nil {
			slog.Warn("mcp server unavailable", "name", srv.Name, "url", srv.URL, "error", err)
			continue
		}
		mcpClosers = append(mcpClosers, src.Close)
		if err := src.RegisterTools(ctx, registry); err != nil {
			slog.Warn("mcp tool discovery failed", "name", srv.Name, "error", err)
		}
	}
	slog.Info("tools registered", "count", len(registry.Names()))

	// --- Services ---

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	provider := litellm.New(cfg.LiteLLM, breaker)

	ops := opcache.New(cfg.OpCache.MaxEntries, cfg.OpCache.MaxSizeMB<<20)
	gate := service.NewGate()
	executor := service.NewExecutor(registry, gate, ops, metrics, service.ExecutorOptions{
		MaxConcurrency:       cfg.Workflow.MaxConcurrent,
		ToolTimeout:          cfg.Workflow.ToolTimeout,
		FailFast:             cfg.Workflow.FailFast,
		FallbackToSequential: cfg.Workflow.FallbackToSequential,
	})
	threads := service.NewThreads()
	workflow := service.NewWorkflow(provider, registry, executor, gate, threads,
		cachedPrompts, ops, metrics, cfg.Workflow)

	hub := ws.NewHub(true)

	// Approval decisions can arrive over the bus from any operator surface.
	cancelApprovals, err := subscribeApprovals(ctx, queue, workflow, hub)
	if err != nil {
		return fmt.Errorf("approval subscriber: %w", err)
	}
	defer cancelApprovals()

	// --- HTTP ---

	handlers := phttp.NewHandlers(workflow, threads, registry,
		promptStore, cachedPrompts, hub, queue, cfg.Workflow.ContentChunkSize)

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	router := phttp.NewRouter(cfg, handlers, limiter)

	addr := ":" + cfg.Server.Port
	a2aHandler := a2a.NewHandler("http://localhost"+addr, workflow, hub)
	a2aHandler.MountRoutes(router)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE turns hold the response open
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildPromptCache assembles the two-tier cache: in-process ristretto in
// front of a shared NATS KV bucket.
func buildPromptCache(ctx context.Context, queue *pnats.Queue, cfg config.Cache) (*tiered.Cache, error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("l1: %w", err)
	}
	kv, err := queue.KeyValue(ctx, cfg.L2Bucket, cfg.L2TTL)
	if err != nil {
		return nil, fmt.Errorf("l2 bucket: %w", err)
	}
	return tiered.New(l1, natskv.New(kv), cfg.L1Expire), nil
}

// approvalMessage is the bus payload for one approval decision. The
// interrupt id rides in the subject.
type approvalMessage struct {
	ThreadID string         `json:"thread_id"`
	Action   string         `json:"action"`
	Args     map[string]any `json:"args,omitempty"`
	Value    string         `json:"value,omitempty"`
}

// subscribeApprovals resumes suspended turns from decisions published on
// the approvals subject. The continuation streams to WebSocket observers
// only; there is no SSE connection to serve.
func subscribeApprovals(ctx context.Context, queue *pnats.Queue, workflow *service.Workflow, hub *ws.Hub) (func(), error) {
	subject := messagequeue.SubjectApprovalPrefix + ">"
	return queue.Subscribe(ctx, subject, func(ctx context.Context, subject string, data []byte) error {
		interruptID := strings.TrimPrefix(subject, messagequeue.SubjectApprovalPrefix)

		var msg approvalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("approval payload: %w", err)
		}
		if msg.ThreadID == "" {
			return fmt.Errorf("approval for %s: thread_id missing", interruptID)
		}

		decision := approval.Decision{
			Action: approval.Action(msg.Action),
			Args:   msg.Args,
			Value:  msg.Value,
		}
		sink := hub.ObserverSink(msg.ThreadID)
		defer sink.Close()
		if err := workflow.Resume(ctx, msg.ThreadID, interruptID, decision, sink); err != nil {
			return fmt.Errorf("resume %s: %w", interruptID, err)
		}
		return nil
	})
}
