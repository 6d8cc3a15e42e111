// Package ledger defines the transaction repository port and the error
// taxonomy shared by its adapters.
package ledger

import (
	"context"

	"finsight/internal/core"
)

// Repository stores transactions per user. Every call is scoped by userID;
// a row owned by someone else behaves as if it did not exist.
//
//go:generate mockgen -destination=mocks/mock_repository.go -source=ports.go
type Repository interface {
	// List returns the user's transactions, newest first.
	List(ctx context.Context, userID string) ([]core.Transaction, error)
	Get(ctx context.Context, userID, id string) (core.Transaction, error)
	Create(ctx context.Context, userID string, d core.Draft) (core.Transaction, error)
	// Update replaces the editable fields; OccurredAt is kept.
	Update(ctx context.Context, userID, id string, d core.Draft) (core.Transaction, error)
	Delete(ctx context.Context, userID, id string) error
}

// Pinger is implemented by repositories backed by a remote store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PendingExport is a user whose ledger moved past its last export. Version
// is the ledger version seen when the outbox was read; an export that starts
// afterwards covers at least that version.
type PendingExport struct {
	UserID  string
	Version int64
}

// ExportOutbox tracks users whose transactions changed since the last export.
type ExportOutbox interface {
	PendingExports(ctx context.Context, limit int) ([]PendingExport, error)
	// MarkExported records version as exported for userID. The mark never
	// moves backwards, and writes made after version keep the user pending.
	MarkExported(ctx context.Context, userID string, version int64) error
}

// PendingUserIDs returns the user ids of pending, in order.
func PendingUserIDs(pending []PendingExport) []string {
	out := make([]string, 0, len(pending))
	for _, p := range pending {
		out = append(out, p.UserID)
	}
	return out
}
