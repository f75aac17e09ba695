package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"incident-agent/internal/agent"
	"incident-agent/internal/config"
	"incident-agent/internal/llm"
	"incident-agent/internal/queue"
	"incident-agent/internal/runstore"
	"incident-agent/internal/telemetry"
	"incident-agent/internal/tools"
	"incident-agent/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := runstore.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	if cfg.ArtifactS3Bucket != "" {
		artifacts, err := runstore.NewS3Artifacts(ctx, cfg)
		if err != nil {
			log.Fatalf("init s3 artifact store: %v", err)
		}
		st.UseArtifactStore(artifacts)
		logger.Info("artifacts stored in s3", "bucket", cfg.ArtifactS3Bucket)
	}

	// Generate a unique worker ID from hostname or env var
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}
	q := queue.New(cfg, workerID)

	gemini, err := llm.NewGeminiClient(ctx, cfg)
	if err != nil {
		log.Fatalf("init genai client: %v", err)
	}

	registry := tools.Registry{
		tools.NewRunbookSearch(gemini, st.Pool(), cfg.RunbookTopK, logger),
		tools.NewPrometheusQuery(logger),
		tools.NewKubectlInspect(logger),
	}
	executor := agent.NewExecutor(gemini, registry, cfg.MaxAgentSteps, cfg.ParseErrorTolerance, logger)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	inv := worker.NewInvestigator(cfg, q, st, executor, logger)
	logger.Info("investigation worker started",
		"worker_id", workerID,
		"max_steps", cfg.MaxAgentSteps,
		"timeout", cfg.InvestigationTimeout.String())
	if err := inv.Run(ctx); err != nil {
		logger.Warn("worker stopped", "error", err)
	}
}
