// Package postgres stores transactions in the hosted "budgets" table layout:
// amount is a NUMERIC in currency units and created_at is the transaction time.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"finsight/internal/core"
	"finsight/internal/ledger"
	"finsight/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Repository struct {
	db *sql.DB
}

// Open connects to connStr and verifies the connection.
func Open(ctx context.Context, connStr string) (*Repository, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Repository{db: db}, nil
}

// Migrate applies the embedded migrations and returns the schema version.
func (r *Repository) Migrate() (uint, error) {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return 0, fmt.Errorf("create postgres driver: %w", err)
	}
	return storage.ApplyMigrations(migrationsFS, "migrations", "postgres", driver)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	return classify("ping", r.db.PingContext(ctx))
}

const selectColumns = `SELECT id, user_id, title, amount, category, type, created_at FROM budgets`

func (r *Repository) List(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, classify("list", err)
	}
	defer rows.Close()

	out := make([]core.Transaction, 0)
	for rows.Next() {
		tx, err := scanBudget(rows)
		if err != nil {
			return nil, classify("list", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list", err)
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, userID, id string) (core.Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return core.Transaction{}, ledger.ErrNotFound
	}
	tx, err := scanBudget(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, classify("get", err)
	}
	return tx, nil
}

func (r *Repository) Create(ctx context.Context, userID string, d core.Draft) (core.Transaction, error) {
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	d = d.Normalize()
	var at any
	if !d.OccurredAt.IsZero() {
		at = d.OccurredAt.UTC()
	}

	var out core.Transaction
	err := r.withTx(ctx, func(q *sql.Tx) error {
		row := q.QueryRowContext(ctx, `
			INSERT INTO budgets (id, user_id, title, amount, category, type, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
			RETURNING id, user_id, title, amount, category, type, created_at`,
			uuid.NewString(), userID, d.Title, d.Amount.Decimal(), d.Category, string(d.Kind), at)
		var err error
		if out, err = scanBudget(row); err != nil {
			return err
		}
		return bumpExportVersion(ctx, q, userID)
	})
	if err != nil {
		return core.Transaction{}, classify("create", err)
	}

	slog.InfoContext(ctx, "Transaction saved to Postgres", "id", out.ID, "user_id", userID)
	return out, nil
}

func (r *Repository) Update(ctx context.Context, userID, id string, d core.Draft) (core.Transaction, error) {
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return core.Transaction{}, ledger.ErrNotFound
	}
	d = d.Normalize()

	var out core.Transaction
	err := r.withTx(ctx, func(q *sql.Tx) error {
		row := q.QueryRowContext(ctx, `
			UPDATE budgets SET title = $1, amount = $2, category = $3, type = $4
			WHERE id = $5 AND user_id = $6
			RETURNING id, user_id, title, amount, category, type, created_at`,
			d.Title, d.Amount.Decimal(), d.Category, string(d.Kind), id, userID)
		var err error
		if out, err = scanBudget(row); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ledger.ErrNotFound
			}
			return err
		}
		return bumpExportVersion(ctx, q, userID)
	})
	if err != nil {
		return core.Transaction{}, classify("update", err)
	}
	return out, nil
}

func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ledger.ErrNotFound
	}
	err := r.withTx(ctx, func(q *sql.Tx) error {
		res, err := q.ExecContext(ctx, `DELETE FROM budgets WHERE id = $1 AND user_id = $2`, id, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.ErrNotFound
		}
		return bumpExportVersion(ctx, q, userID)
	})
	return classify("delete", err)
}

func (r *Repository) PendingExports(ctx context.Context, limit int) ([]ledger.PendingExport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, version FROM export_status
		WHERE exported_version < version
		ORDER BY updated_at, user_id
		LIMIT $1`, limit)
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

func (r *Repository) MarkExported(ctx context.Context, userID string, version int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE export_status SET exported_version = $1, last_error = NULL, updated_at = now()
		WHERE user_id = $2 AND exported_version < $1`, version, userID)
	if err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	return nil
}

// MarkExportError records why the last export attempt for userID failed.
func (r *Repository) MarkExportError(ctx context.Context, userID string, cause error) error {
	_, err := r.db.ExecContext(ctx, `UPDATE export_status SET last_error = $1 WHERE user_id = $2`, cause.Error(), userID)
	if err != nil {
		return fmt.Errorf("mark export error: %w", err)
	}
	return nil
}

func (r *Repository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	q, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(q); err != nil {
		_ = q.Rollback()
		return err
	}
	return q.Commit()
}

func bumpExportVersion(ctx context.Context, q *sql.Tx, userID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO export_status (user_id, version) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET version = export_status.version + 1, updated_at = now()`, userID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBudget(s scanner) (core.Transaction, error) {
	var (
		tx     core.Transaction
		amount decimal.Decimal
		kind   string
	)
	if err := s.Scan(&tx.ID, &tx.UserID, &tx.Title, &amount, &tx.Category, &kind, &tx.OccurredAt); err != nil {
		return core.Transaction{}, err
	}
	cents, err := core.DecimalToCents(amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("budget %s has invalid amount %s: %w", tx.ID, amount, err)
	}
	tx.Amount = core.Money{Cents: cents}
	tx.Kind = core.Kind(kind)
	tx.OccurredAt = tx.OccurredAt.UTC()
	return tx, nil
}

// classify maps driver errors onto the ledger taxonomy. Server-side errors
// keep the server's message so it can be shown verbatim.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &ledger.BackendError{Op: op, Message: pqErr.Message, Err: err}
	}
	return ledger.Classify(op, err)
}
