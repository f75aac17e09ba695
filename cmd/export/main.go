package main

import (
	"bytes"
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"incident-agent/internal/config"
	"incident-agent/internal/export"
	"incident-agent/internal/runstore"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "export")

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

	out, err := os.Create(cfg.ExportOutput)
	if err != nil {
		log.Fatalf("create %s: %v", cfg.ExportOutput, err)
	}

	exporter := export.New(st, cfg.ExperimentName, logger)
	count, err := exporter.Export(ctx, out)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		log.Fatalf("export: %v", err)
	}
	logger.Info("dataset written", "path", cfg.ExportOutput, "samples", count)

	if cfg.ArtifactS3Bucket != "" && cfg.ExportS3Key != "" {
		if err := uploadDataset(ctx, cfg); err != nil {
			log.Fatalf("upload dataset: %v", err)
		}
		logger.Info("dataset uploaded", "bucket", cfg.ArtifactS3Bucket, "key", cfg.ExportS3Key)
	}
}

func uploadDataset(ctx context.Context, cfg config.Config) error {
	client, err := runstore.NewS3Client(ctx, cfg)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(cfg.ExportOutput)
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(cfg.ArtifactS3Bucket),
		Key:         aws.String(cfg.ExportS3Key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/jsonl"),
	})
	return err
}
