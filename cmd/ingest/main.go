package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"incident-agent/internal/config"
	"incident-agent/internal/ingest"
	"incident-agent/internal/llm"
	"incident-agent/internal/runstore"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "ingest")

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

	gemini, err := llm.NewGeminiClient(ctx, cfg)
	if err != nil {
		log.Fatalf("init genai client: %v", err)
	}

	indexer := ingest.NewIndexer(st.Pool(), gemini, logger)
	count, err := indexer.IngestDir(ctx, cfg.RunbooksDir)
	if err != nil {
		log.Fatalf("ingest runbooks: %v", err)
	}
	logger.Info("runbook index built", "dir", cfg.RunbooksDir, "chunks", count)
}
