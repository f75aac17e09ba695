package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRunbooksRecursive(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "network"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"cpu.md":            "# High CPU\nRestart the pod.",
		"network/dns.md":    "# DNS failures\nCheck CoreDNS.",
		"notes.txt":         "not a runbook",
		"network/README.md": "# Index",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	runbooks, err := LoadRunbooks(dir)
	if err != nil {
		t.Fatalf("LoadRunbooks: %v", err)
	}
	if len(runbooks) != 3 {
		t.Fatalf("expected 3 markdown runbooks, got %d", len(runbooks))
	}
	sources := map[string]bool{}
	for _, rb := range runbooks {
		sources[rb.Source] = true
	}
	if !sources["cpu.md"] || !sources[filepath.Join("network", "dns.md")] {
		t.Fatalf("unexpected sources: %v", sources)
	}
	if sources["notes.txt"] {
		t.Fatal("non-markdown file was loaded")
	}
}

func TestSplitChunksOverlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("Step: check the service deployment status and recent events.\n\n")
	}

	chunks, err := splitChunks(b.String())
	if err != nil {
		t.Fatalf("splitChunks: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected document to split into multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > chunkSize {
			t.Fatalf("chunk %d exceeds size limit: %d", i, len(chunk))
		}
		if strings.TrimSpace(chunk) == "" {
			t.Fatalf("chunk %d is blank", i)
		}
	}
}

func TestSplitChunksShortDocument(t *testing.T) {
	chunks, err := splitChunks("# Tiny runbook\nJust restart it.")
	if err != nil {
		t.Fatalf("splitChunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}
}
