package backend

import (
	"context"
	"fmt"

	"finsight/internal/export"
	"finsight/internal/export/google"
	exportmem "finsight/internal/export/memory"
	"finsight/internal/ledger/memory"
	"finsight/internal/log"
	"finsight/internal/storage"
	"finsight/internal/storage/postgres"
)

// DefaultFactory implements Factory.
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) *DefaultFactory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// OpenLedger opens the repository selected by config.Type. The caller owns
// the result and must Close it.
func (f *DefaultFactory) OpenLedger(ctx context.Context, config Config) (*Ledger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.openSQLite(config)
	case PostgresBackend:
		return f.openPostgres(ctx, config)
	case MemoryBackend:
		return f.openMemory(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) openSQLite(config Config) (*Ledger, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &Ledger{
		Type:       SQLiteBackend,
		Repository: repo,
		Pinger:     repo,
		Outbox:     repo,
		Cleanup:    repo.Close,
	}, nil
}

func (f *DefaultFactory) openPostgres(ctx context.Context, config Config) (*Ledger, error) {
	repo, err := postgres.Open(ctx, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
	}
	version, err := repo.Migrate()
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("run postgres migrations: %w", err)
	}
	f.logger.Info("Initialized Postgres backend", "schema_version", version)
	return &Ledger{
		Type:       PostgresBackend,
		Repository: repo,
		Pinger:     repo,
		Outbox:     repo,
		Cleanup:    repo.Close,
	}, nil
}

func (f *DefaultFactory) openMemory(config Config) (*Ledger, error) {
	dataDir := config.SeedDir
	if dataDir == "" {
		dataDir = "data"
	}
	store, err := memory.NewFromFiles(dataDir, config.SeedUser)
	if err != nil {
		return nil, fmt.Errorf("failed to seed memory backend: %w", err)
	}
	f.logger.Info("Initialized memory backend", "data_directory", dataDir, "seed_user", config.SeedUser)
	return &Ledger{
		Type:       MemoryBackend,
		Repository: store,
		Outbox:     store,
	}, nil
}

// OpenExportWriter returns the Google Sheets writer for ExportSheets and an
// in-memory writer otherwise.
func (f *DefaultFactory) OpenExportWriter(ctx context.Context, config Config) (export.Writer, error) {
	switch config.Export {
	case ExportSheets:
		client, err := google.New(ctx, config.GoogleSpreadsheetID, google.Credentials{
			JSON: config.GoogleServiceAccountJSON,
			File: config.GoogleServiceAccountFile,
		}, f.logger.WithComponent(log.ComponentExport).Slog())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets export: %w", err)
		}
		f.logger.Info("Initialized Google Sheets export", "spreadsheet_id", config.GoogleSpreadsheetID)
		return client, nil
	case "", ExportNone:
		f.logger.Info("Export disabled, keeping exports in memory")
		return exportmem.New(), nil
	default:
		return nil, fmt.Errorf("unsupported export backend: %s", config.Export)
	}
}
