package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"incident-agent/internal/llm"
)

// RunbookSearch retrieves procedure documents by semantic similarity over the
// runbook_chunks table.
type RunbookSearch struct {
	embedder llm.Embedder
	pool     *pgxpool.Pool
	topK     int
	log      *slog.Logger
}

// NewRunbookSearch wires the search tool to a shared embedder and database
// pool; both are constructed once at worker startup.
func NewRunbookSearch(embedder llm.Embedder, pool *pgxpool.Pool, topK int, log *slog.Logger) *RunbookSearch {
	if topK <= 0 {
		topK = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &RunbookSearch{embedder: embedder, pool: pool, topK: topK, log: log}
}

func (t *RunbookSearch) Name() string { return "search_runbooks" }

func (t *RunbookSearch) Description() string {
	return "Searches the technical runbooks for procedures and diagnostic information. " +
		"Use this tool FIRST to find standard troubleshooting steps for specific alerts " +
		"like 'HighCpuUsage' or 'CrashLoopBackOff'. The query should be a concise " +
		"description of the problem you are trying to solve."
}

// Call embeds the query and returns the closest runbook chunks joined into a
// single report. Failures come back as text so the agent can keep reasoning.
func (t *RunbookSearch) Call(ctx context.Context, query string) string {
	t.log.Info("searching runbooks", "query", query)

	vector, err := t.embedder.Embed(ctx, query)
	if err != nil {
		t.log.Error("runbook search embedding failed", "error", err)
		return fmt.Sprintf("Error: could not perform search. Details: %v", err)
	}

	rows, err := t.pool.Query(ctx, `
		SELECT content FROM runbook_chunks
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(vector), t.topK)
	if err != nil {
		t.log.Error("runbook search query failed", "error", err)
		return fmt.Sprintf("Error: could not perform search. Details: %v", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			t.log.Error("runbook search scan failed", "error", err)
			return fmt.Sprintf("Error: could not perform search. Details: %v", err)
		}
		matches = append(matches, content)
	}
	if err := rows.Err(); err != nil {
		return fmt.Sprintf("Error: could not perform search. Details: %v", err)
	}
	if len(matches) == 0 {
		return "No relevant documents found in the runbooks for this query."
	}
	return strings.Join(matches, "\n\n---\n\n")
}
