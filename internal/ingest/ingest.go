// Package ingest builds the runbook index: markdown procedure documents are
// chunked, embedded, and stored for semantic retrieval by the agent's
// search_runbooks tool.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/textsplitter"

	"incident-agent/internal/llm"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// Runbook is one loaded procedure document.
type Runbook struct {
	Source  string
	Content string
}

// LoadRunbooks reads every markdown file under dir, recursively. Source is
// the path relative to dir.
func LoadRunbooks(dir string) ([]Runbook, error) {
	var out []Runbook
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		out = append(out, Runbook{Source: rel, Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// splitChunks breaks a document into overlapping chunks sized for retrieval.
func splitChunks(content string) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
	chunks, err := splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	var out []string
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) != "" {
			out = append(out, chunk)
		}
	}
	return out, nil
}

// Indexer embeds runbook chunks and writes them to the shared database.
type Indexer struct {
	pool     *pgxpool.Pool
	embedder llm.Embedder
	log      *slog.Logger
}

func NewIndexer(pool *pgxpool.Pool, embedder llm.Embedder, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{pool: pool, embedder: embedder, log: log}
}

// IngestDir loads, chunks, embeds, and stores every runbook under dir,
// returning the number of chunks written. Re-running replaces each source's
// previous chunks.
func (ix *Indexer) IngestDir(ctx context.Context, dir string) (int, error) {
	runbooks, err := LoadRunbooks(dir)
	if err != nil {
		return 0, fmt.Errorf("load runbooks: %w", err)
	}
	if len(runbooks) == 0 {
		return 0, fmt.Errorf("no markdown runbooks found under %s", dir)
	}
	ix.log.Info("loaded runbooks", "count", len(runbooks))

	total := 0
	for _, rb := range runbooks {
		chunks, err := splitChunks(rb.Content)
		if err != nil {
			return total, fmt.Errorf("split %s: %w", rb.Source, err)
		}
		if err := ix.replaceSource(ctx, rb.Source, chunks); err != nil {
			return total, err
		}
		total += len(chunks)
		ix.log.Info("indexed runbook", "source", rb.Source, "chunks", len(chunks))
	}
	return total, nil
}

func (ix *Indexer) replaceSource(ctx context.Context, source string, chunks []string) error {
	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM runbook_chunks WHERE source = $1`, source); err != nil {
		return fmt.Errorf("clear chunks for %s: %w", source, err)
	}
	for i, chunk := range chunks {
		vector, err := ix.embedder.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embed chunk %d of %s: %w", i, source, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO runbook_chunks (source, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4)
		`, source, i, chunk, pgvector.NewVector(vector)); err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", i, source, err)
		}
	}
	return tx.Commit(ctx)
}
