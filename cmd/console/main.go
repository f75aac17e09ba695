package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"incident-agent/internal/config"
	"incident-agent/internal/console"
	"incident-agent/internal/runstore"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "console")

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

	if cfg.ArtifactS3Bucket != "" {
		artifacts, err := runstore.NewS3Artifacts(ctx, cfg)
		if err != nil {
			log.Fatalf("init s3 artifact store: %v", err)
		}
		st.UseArtifactStore(artifacts)
	}

	server := console.New(cfg, st, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.ConsolePort,
		Handler: server.Router(),
	}

	logger.Info("feedback console listening", "port", cfg.ConsolePort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
