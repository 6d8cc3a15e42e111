// Package storage is the SQLite ledger. It also keeps the export outbox
// consumed by the export worker.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"finsight/internal/core"
	"finsight/internal/ledger"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY under load
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("SQLite schema ready", "path", dbPath, "version", version)

	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return ledger.Classify("ping", r.db.PingContext(ctx))
}

const selectColumns = `SELECT id, user_id, title, amount_cents, category, type, occurred_at FROM transactions`

func (r *SQLiteRepository) List(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		selectColumns+` WHERE user_id = ? ORDER BY occurred_at DESC, id`, userID)
	if err != nil {
		return nil, ledger.Classify("list", err)
	}
	defer rows.Close()

	out := make([]core.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, ledger.Classify("list", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Classify("list", err)
	}
	return out, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, userID, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ? AND user_id = ?`, id, userID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, ledger.Classify("get", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, userID string, d core.Draft) (core.Transaction, error) {
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	d = d.Normalize()
	at := d.OccurredAt
	if at.IsZero() {
		at = r.now()
	}
	tx := core.Transaction{
		ID:         uuid.NewString(),
		UserID:     userID,
		Title:      d.Title,
		Amount:     d.Amount,
		Category:   d.Category,
		Kind:       d.Kind,
		OccurredAt: at.UTC(),
	}

	err := r.withTx(ctx, func(q *sql.Tx) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO transactions (id, user_id, title, amount_cents, category, type, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tx.ID, userID, tx.Title, tx.Amount.Cents, tx.Category, string(tx.Kind), formatTime(tx.OccurredAt))
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return bumpExportVersion(ctx, q, userID)
	})
	if err != nil {
		return core.Transaction{}, ledger.Classify("create", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", tx.ID,
		"user_id", userID,
		"type", tx.Kind,
		"amount_cents", tx.Amount.Cents)
	return tx, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, userID, id string, d core.Draft) (core.Transaction, error) {
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	d = d.Normalize()

	err := r.withTx(ctx, func(q *sql.Tx) error {
		res, err := q.ExecContext(ctx, `
			UPDATE transactions
			SET title = ?, amount_cents = ?, category = ?, type = ?,
			    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
			WHERE id = ? AND user_id = ?`,
			d.Title, d.Amount.Cents, d.Category, string(d.Kind), id, userID)
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.ErrNotFound
		}
		return bumpExportVersion(ctx, q, userID)
	})
	if err != nil {
		return core.Transaction{}, ledger.Classify("update", err)
	}
	return r.Get(ctx, userID, id)
}

func (r *SQLiteRepository) Delete(ctx context.Context, userID, id string) error {
	err := r.withTx(ctx, func(q *sql.Tx) error {
		res, err := q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.ErrNotFound
		}
		return bumpExportVersion(ctx, q, userID)
	})
	return ledger.Classify("delete", err)
}

// PendingExports returns users whose transactions changed since their last
// export, with the version each export must cover.
func (r *SQLiteRepository) PendingExports(ctx context.Context, limit int) ([]ledger.PendingExport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, version FROM export_status
		WHERE exported_version < version
		ORDER BY updated_at, user_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending exports: %w", err)
	}
	defer rows.Close()

	var pending []ledger.PendingExport
	for rows.Next() {
		var p ledger.PendingExport
		if err := rows.Scan(&p.UserID, &p.Version); err != nil {
			return nil, fmt.Errorf("scan pending export: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// MarkExported records that version has been exported. Writes that bumped
// the version past it leave the user pending.
func (r *SQLiteRepository) MarkExported(ctx context.Context, userID string, version int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE export_status
		SET exported_version = ?, last_error = NULL,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE user_id = ? AND exported_version < ?`, version, userID, version)
	if err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	slog.InfoContext(ctx, "User marked as exported", "user_id", userID, "version", version)
	return nil
}

// MarkExportError stores the last export failure for a user.
func (r *SQLiteRepository) MarkExportError(ctx context.Context, userID string, cause error) error {
	_, err := r.db.ExecContext(ctx, `UPDATE export_status SET last_error = ? WHERE user_id = ?`, cause.Error(), userID)
	if err != nil {
		return fmt.Errorf("mark export error: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	q, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(q); err != nil {
		_ = q.Rollback()
		return err
	}
	if err := q.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func bumpExportVersion(ctx context.Context, q *sql.Tx, userID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO export_status (user_id, version) VALUES (?, 1)
		ON CONFLICT (user_id) DO UPDATE SET
			version = version + 1,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`, userID)
	if err != nil {
		return fmt.Errorf("bump export version: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		tx    core.Transaction
		kind  string
		when  string
		cents int64
	)
	if err := s.Scan(&tx.ID, &tx.UserID, &tx.Title, &cents, &tx.Category, &kind, &when); err != nil {
		return core.Transaction{}, err
	}
	at, err := time.Parse(timeLayout, when)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse occurred_at %q: %w", when, err)
	}
	tx.Amount = core.Money{Cents: cents}
	tx.Kind = core.Kind(kind)
	tx.OccurredAt = at
	return tx, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
