package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/config"
	"finsight/internal/core"
	exportmem "finsight/internal/export/memory"
	"finsight/internal/ledger"
	"finsight/internal/ledger/memory"
)

func TestFromAppConfig(t *testing.T) {
	app := config.Defaults()
	app.DataBackend = config.BackendSQLite
	app.SQLiteDBPath = "/tmp/x.db"

	cfg, err := FromAppConfig(app)
	require.NoError(t, err)
	assert.Equal(t, SQLiteBackend, cfg.Type)
	assert.Equal(t, "/tmp/x.db", cfg.SQLiteDBPath)
	assert.Equal(t, ExportNone, cfg.Export)

	app.DataBackend = "mongo"
	_, err = FromAppConfig(app)
	assert.Error(t, err)

	_, err = FromAppConfig(nil)
	assert.Error(t, err)
}

func TestConfigValidateShared(t *testing.T) {
	assert.Error(t, Config{Type: MemoryBackend}.ValidateShared())
	assert.Error(t, Config{Type: SQLiteBackend}.ValidateShared(), "base validation still applies")
	assert.NoError(t, Config{Type: SQLiteBackend, SQLiteDBPath: "/tmp/x.db"}.ValidateShared())
	assert.NoError(t, Config{Type: PostgresBackend, DatabaseURL: "postgres://localhost/finsight"}.ValidateShared())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"postgres without url", Config{Type: PostgresBackend}, true},
		{"sheets without id", Config{Type: MemoryBackend, Export: ExportSheets}, true},
		{"unknown export", Config{Type: MemoryBackend, Export: "ftp"}, true},
		{"unknown type", Config{Type: "mongo"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.Equal(t, []string{"memory", "sqlite", "postgres"}, GetBackendTypeStrings())
}

func TestOpenMemoryLedgerSeedsFromFile(t *testing.T) {
	dir := t.TempDir()
	csv := "id,title,amount,category,type,occurred_at\n" +
		"a1,Salary,3000.00,Salary,income,2025-06-01\n" +
		"a2,Rent,900,Housing,expense,2025-06-02\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, memory.SeedFile), []byte(csv), 0o644))

	l, err := NewFactory(nil).OpenLedger(context.Background(), Config{Type: MemoryBackend, SeedDir: dir, SeedUser: "demo"})
	require.NoError(t, err)
	defer l.Close()

	assert.Nil(t, l.Pinger)
	assert.NotNil(t, l.Outbox)
	txs, err := l.Repository.List(context.Background(), "demo")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "Rent", txs[0].Title)
	assert.Equal(t, core.Expense, txs[0].Kind)
}

func TestOpenMemoryLedgerWithoutSeed(t *testing.T) {
	l, err := NewFactory(nil).OpenLedger(context.Background(), Config{Type: MemoryBackend, SeedDir: t.TempDir()})
	require.NoError(t, err)
	txs, err := l.Repository.List(context.Background(), "demo")
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.NoError(t, l.Close())
}

func TestOpenSQLiteLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "finsight.db")
	l, err := NewFactory(nil).OpenLedger(context.Background(), Config{Type: SQLiteBackend, SQLiteDBPath: path})
	require.NoError(t, err)
	defer l.Close()

	require.NotNil(t, l.Pinger)
	require.NoError(t, l.Pinger.Ping(context.Background()))

	tx, err := l.Repository.Create(context.Background(), "alice", core.Draft{
		Title: "Coffee", Amount: core.Money{Cents: 350}, Category: "Food", Kind: core.Expense,
	})
	require.NoError(t, err)

	pending, err := l.Outbox.PendingExports(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []ledger.PendingExport{{UserID: "alice", Version: 1}}, pending)

	got, err := l.Repository.Get(context.Background(), "alice", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(350), got.Amount.Cents)
}

func TestOpenExportWriter(t *testing.T) {
	f := NewFactory(nil)

	w, err := f.OpenExportWriter(context.Background(), Config{Export: ExportNone})
	require.NoError(t, err)
	assert.IsType(t, &exportmem.Store{}, w)

	_, err = f.OpenExportWriter(context.Background(), Config{Export: ExportSheets})
	assert.Error(t, err)
}
