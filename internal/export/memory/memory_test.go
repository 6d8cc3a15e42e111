package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"finsight/internal/core"
	"finsight/internal/insight"
)

func TestStoreReplaceUserSheet(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	txs := []core.Transaction{{ID: "1", Title: "Coffee", Amount: core.Money{Cents: 350}, Category: "Food", Kind: core.Expense, OccurredAt: now}}

	if err := s.ReplaceUserSheet(context.Background(), "u1", txs, insight.Analyze(txs, now)); err != nil {
		t.Fatalf("ReplaceUserSheet: %v", err)
	}
	if err := s.ReplaceUserSheet(context.Background(), "u1", nil, insight.Analyze(nil, now)); err != nil {
		t.Fatalf("ReplaceUserSheet: %v", err)
	}

	grid, ok := s.Sheet("u1")
	if !ok {
		t.Fatal("expected a sheet for u1")
	}
	if last := grid[len(grid)-1]; last[0] != "Date" {
		t.Fatalf("second write should replace the table, last row = %v", last)
	}
	if s.Writes() != 2 {
		t.Fatalf("expected 2 writes, got %d", s.Writes())
	}

	s.FailWith(errors.New("quota exceeded"))
	if err := s.ReplaceUserSheet(context.Background(), "u1", nil, insight.Result{}); err == nil {
		t.Fatal("expected injected failure")
	}
}
