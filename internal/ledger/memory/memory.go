// Package memory is an in-process ledger used for local runs and tests.
package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"finsight/internal/core"
	"finsight/internal/csvio"
	"finsight/internal/ledger"
)

const SeedFile = "seed_transactions.csv"

type Store struct {
	mu    sync.Mutex
	items map[string]core.Transaction
	// per-user write counter and the last version the export worker covered
	versions map[string]int64
	exported map[string]int64
	now      func() time.Time
	newID    func() string
}

func New() *Store {
	return &Store{
		items:    make(map[string]core.Transaction),
		versions: make(map[string]int64),
		exported: make(map[string]int64),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// WithClock replaces the clock used to stamp new transactions.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// NewFromFiles seeds the store for userID from base/seed_transactions.csv.
// A missing seed file yields an empty store.
func NewFromFiles(base, userID string) (*Store, error) {
	s := New()
	path := filepath.Join(base, SeedFile)
	txs, err := csvio.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	s.Seed(userID, txs)
	return s, nil
}

// Seed adds txs for userID, assigning ids where missing.
func (s *Store) Seed(userID string, txs []core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = s.newID()
		}
		tx.UserID = userID
		s.items[tx.ID] = tx
	}
}

func (s *Store) List(_ context.Context, userID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, 0)
	for _, tx := range s.items {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out, nil
}

func (s *Store) Get(_ context.Context, userID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.items[id]
	if !ok || tx.UserID != userID {
		return core.Transaction{}, ledger.ErrNotFound
	}
	return tx, nil
}

func (s *Store) Create(_ context.Context, userID string, d core.Draft) (core.Transaction, error) {
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	d = d.Normalize()
	at := d.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := core.Transaction{
		ID:         s.newID(),
		UserID:     userID,
		Title:      d.Title,
		Amount:     d.Amount,
		Category:   d.Category,
		Kind:       d.Kind,
		OccurredAt: at.UTC(),
	}
	s.items[tx.ID] = tx
	s.touch(userID)
	return tx, nil
}

func (s *Store) Update(_ context.Context, userID, id string, d core.Draft) (core.Transaction, error) {
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.items[id]
	if !ok || tx.UserID != userID {
		return core.Transaction{}, ledger.ErrNotFound
	}
	tx = tx.Apply(d)
	s.items[id] = tx
	s.touch(userID)
	return tx, nil
}

func (s *Store) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.items[id]
	if !ok || tx.UserID != userID {
		return ledger.ErrNotFound
	}
	delete(s.items, id)
	s.touch(userID)
	return nil
}

// PendingExports returns users changed since their last export, by user id.
func (s *Store) PendingExports(_ context.Context, limit int) ([]ledger.PendingExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.PendingExport, 0)
	for u, v := range s.versions {
		if v > s.exported[u] {
			out = append(out, ledger.PendingExport{UserID: u, Version: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkExported(_ context.Context, userID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.exported[userID] {
		s.exported[userID] = version
	}
	return nil
}

// touch must be called with mu held.
func (s *Store) touch(userID string) {
	s.versions[userID]++
}
