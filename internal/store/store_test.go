package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/switchboard-ai/switchboard/internal/domain"
	"github.com/switchboard-ai/switchboard/internal/observability"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AppendAndCount(t *testing.T) {
	s := testStore(t)

	rec := observability.Record{
		RequestID:        "req-1",
		Bucket:           domain.BucketCheap,
		Provider:         domain.ProviderAggregator,
		Model:            "deepseek/deepseek-r1",
		Success:          true,
		ExecutionMS:      123.4,
		PromptTokens:     20,
		CompletionTokens: 8,
		CostUSD:          0.0003,
		At:               time.Now(),
	}
	if err := s.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestStore_Prune(t *testing.T) {
	s := testStore(t)

	old := observability.Record{RequestID: "old", At: time.Now().Add(-48 * time.Hour)}
	fresh := observability.Record{RequestID: "fresh", At: time.Now()}
	if err := s.Append(old); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(fresh); err != nil {
		t.Fatal(err)
	}

	pruned, err := s.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if n, _ := s.Count(); n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}
