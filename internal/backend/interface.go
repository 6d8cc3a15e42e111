// Package backend opens the configured ledger and export adapters.
package backend

import (
	"context"

	"finsight/internal/export"
	"finsight/internal/ledger"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// Ledger bundles a repository with the optional capabilities its adapter
// implements. Pinger and Outbox are nil when the adapter lacks them.
type Ledger struct {
	Type       BackendType
	Repository ledger.Repository
	Pinger     ledger.Pinger
	Outbox     ledger.ExportOutbox
	Cleanup    CleanupFunc
}

// Close runs Cleanup if one is set.
func (l *Ledger) Close() error {
	if l == nil || l.Cleanup == nil {
		return nil
	}
	return l.Cleanup()
}

// Factory creates backends based on configuration.
type Factory interface {
	OpenLedger(ctx context.Context, config Config) (*Ledger, error)
	OpenExportWriter(ctx context.Context, config Config) (export.Writer, error)
}

// Config holds everything needed to open the adapters.
type Config struct {
	Type BackendType

	// SQLite
	SQLiteDBPath string

	// Postgres
	DatabaseURL string

	// Memory backend seed
	SeedDir  string
	SeedUser string

	// Export
	Export                   ExportType
	GoogleSpreadsheetID      string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string
}

// BackendType names a ledger adapter.
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	default:
		return false
	}
}

// ExportType names an export writer.
type ExportType string

const (
	ExportNone   ExportType = "none"
	ExportSheets ExportType = "sheets"
)
