package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/amqp"
	"finsight/internal/core"
	"finsight/internal/export"
	exportmem "finsight/internal/export/memory"
	mock_ledger "finsight/internal/ledger/mocks"
	"finsight/internal/metrics"
)

var fixedNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func fixture() []core.Transaction {
	return []core.Transaction{
		{ID: "t1", UserID: "u1", Title: "Salary", Amount: core.Money{Cents: 300000}, Category: "Job", Kind: core.Income, OccurredAt: fixedNow.AddDate(0, 0, -10)},
		{ID: "t2", UserID: "u1", Title: "Rent", Amount: core.Money{Cents: 90000}, Category: "Housing", Kind: core.Expense, OccurredAt: fixedNow.AddDate(0, 0, -9)},
		{ID: "t3", UserID: "u1", Title: "Groceries", Amount: core.Money{Cents: 30000}, Category: "Food", Kind: core.Expense, OccurredAt: fixedNow.AddDate(0, 0, -2)},
	}
}

func TestExportWorker_HandleEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mock_ledger.NewMockRepository(ctrl)
	repo.EXPECT().List(gomock.Any(), "u1").Return(fixture(), nil)

	sheets := exportmem.New()
	w := NewExportWorker(repo, sheets, nil).WithClock(func() time.Time { return fixedNow })

	before := testutil.ToFloat64(metrics.ExportRuns.WithLabelValues(export.TriggerEvent, "ok"))
	ev := amqp.TransactionEvent{MessageID: "m", Type: amqp.EventCreated, UserID: "u1", TransactionID: "t3", Timestamp: fixedNow}
	require.NoError(t, w.HandleEvent(context.Background(), ev))

	grid, ok := sheets.Sheet("u1")
	require.True(t, ok)
	assert.Equal(t, []any{"Month", "2025-06"}, grid[0])
	assert.Equal(t, "Groceries", grid[len(grid)-3][1])
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ExportRuns.WithLabelValues(export.TriggerEvent, "ok")))
}

func TestExportWorker_ListError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mock_ledger.NewMockRepository(ctrl)
	repo.EXPECT().List(gomock.Any(), "u1").Return(nil, errors.New("db down"))

	sheets := exportmem.New()
	w := NewExportWorker(repo, sheets, nil)

	err := w.ExportUser(context.Background(), "u1", export.TriggerManual)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 0, sheets.Writes())
}

func TestExportWorker_WriterError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mock_ledger.NewMockRepository(ctrl)
	repo.EXPECT().List(gomock.Any(), "u1").Return(fixture(), nil)

	sheets := exportmem.New()
	sheets.FailWith(errors.New("quota exceeded"))
	w := NewExportWorker(repo, sheets, nil)

	before := testutil.ToFloat64(metrics.ExportRuns.WithLabelValues(export.TriggerOutbox, "error"))
	err := w.ExportUser(context.Background(), "u1", export.TriggerOutbox)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ExportRuns.WithLabelValues(export.TriggerOutbox, "error")))
}

func TestExportWorker_EmptyUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	w := NewExportWorker(mock_ledger.NewMockRepository(ctrl), exportmem.New(), nil)
	assert.Error(t, w.ExportUser(context.Background(), "", export.TriggerManual))
}

func TestExportWorker_DefaultClockIsUTC(t *testing.T) {
	w := NewExportWorker(nil, exportmem.New(), nil)
	assert.Equal(t, time.UTC, w.now().Location())
}
