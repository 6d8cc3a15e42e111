// Package memory keeps exported sheets in process, for tests and for
// running the worker without Google credentials.
package memory

import (
	"context"
	"sync"

	"finsight/internal/core"
	"finsight/internal/export"
	"finsight/internal/insight"
)

type Store struct {
	mu     sync.Mutex
	sheets map[string][][]any
	writes int
	fail   error
}

var _ export.Writer = (*Store)(nil)

func New() *Store {
	return &Store{sheets: make(map[string][][]any)}
}

// FailWith makes subsequent writes return err until called with nil.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *Store) ReplaceUserSheet(ctx context.Context, userID string, rows []core.Transaction, summary insight.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	grid := export.Grid(rows, summary)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sheets[export.TabName(userID)] = grid
	s.writes++
	return nil
}

// Sheet returns the grid last written for userID.
func (s *Store) Sheet(userID string) ([][]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.sheets[export.TabName(userID)]
	return g, ok
}

// Writes counts successful writes.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
