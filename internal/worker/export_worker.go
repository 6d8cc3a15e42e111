// Package worker rebuilds per-user spreadsheet exports when the ledger
// changes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsight/internal/amqp"
	"finsight/internal/export"
	"finsight/internal/insight"
	"finsight/internal/ledger"
	"finsight/internal/log"
	"finsight/internal/metrics"
)

// ExportWorker re-lists a user's transactions, scores them and rewrites the
// user's tab. Exports are full rewrites, so redelivered events are harmless.
type ExportWorker struct {
	repo   ledger.Repository
	writer export.Writer
	now    func() time.Time
	logger *log.Logger
}

func NewExportWorker(repo ledger.Repository, writer export.Writer, logger *log.Logger) *ExportWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ExportWorker{
		repo:   repo,
		writer: writer,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// WithClock swaps the time source, for tests.
func (w *ExportWorker) WithClock(now func() time.Time) *ExportWorker {
	w.now = now
	return w
}

// HandleEvent is the AMQP consumer callback.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev amqp.TransactionEvent) error {
	w.logger.InfoContext(ctx, "Processing transaction event",
		log.FieldEventType, string(ev.Type),
		log.FieldUserID, ev.UserID,
		log.FieldTransactionID, ev.TransactionID)

	return w.ExportUser(ctx, ev.UserID, export.TriggerEvent)
}

// ExportUser rewrites userID's sheet with the full ledger and the current
// month's analysis.
func (w *ExportWorker) ExportUser(ctx context.Context, userID, trigger string) (err error) {
	defer func() { metrics.ExportRuns.WithLabelValues(trigger, metrics.Result(err)).Inc() }()

	if userID == "" {
		return errors.New("export: empty user id")
	}

	txs, err := w.repo.List(ctx, userID)
	if err != nil {
		w.logFailure(ctx, "Export could not list transactions", err, log.OpList, userID, trigger)
		return fmt.Errorf("list transactions for %s: %w", userID, err)
	}

	now := w.now()
	result := insight.Analyzer{Clock: w.now}.Analyze(txs, now)

	if err := w.writer.ReplaceUserSheet(ctx, userID, txs, result); err != nil {
		w.logFailure(ctx, "Export failed", err, log.OpExport, userID, trigger)
		return fmt.Errorf("replace sheet for %s: %w", userID, err)
	}

	w.logger.InfoContext(ctx, "User exported",
		log.FieldUserID, userID,
		log.FieldMonth, result.Aggregates.Month,
		log.FieldScore, result.Score,
		"trigger", trigger,
		"rows", len(txs))
	return nil
}

func (w *ExportWorker) logFailure(ctx context.Context, msg string, err error, op, userID, trigger string) {
	fields := log.NewFields().WithUser(userID)
	fields["trigger"] = trigger
	log.NewStructuredLogger(w.logger).LogError(ctx, msg, err, log.ComponentExport, op, fields)
}
