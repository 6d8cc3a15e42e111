package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"finsight/internal/amqp"
	"finsight/internal/core"
	"finsight/internal/ledger"
	"finsight/internal/log"
	"finsight/internal/metrics"
)

// EventPublisher announces ledger changes. *amqp.Client implements it.
type EventPublisher interface {
	PublishTransactionEvent(ctx context.Context, ev amqp.TransactionEvent) error
}

// Invalidator drops cached analysis for a user after a write.
type Invalidator interface {
	Invalidate(userID string)
}

// TransactionService validates and stores transactions, then notifies the
// cache and the event bus.
type TransactionService struct {
	repo        ledger.Repository
	publisher   EventPublisher
	invalidator Invalidator
	logger      *slog.Logger
}

// NewTransactionService wires a repository with optional publisher and
// invalidator (either may be nil).
func NewTransactionService(repo ledger.Repository, publisher EventPublisher, invalidator Invalidator) *TransactionService {
	return &TransactionService{
		repo:        repo,
		publisher:   publisher,
		invalidator: invalidator,
		logger:      slog.Default().With(log.FieldComponent, log.ComponentTransaction),
	}
}

func (s *TransactionService) WithLogger(logger *slog.Logger) *TransactionService {
	s.logger = logger.With(log.FieldComponent, log.ComponentTransaction)
	return s
}

func (s *TransactionService) List(ctx context.Context, userID string) ([]core.Transaction, error) {
	txs, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, "list", userID, err)
	}
	return txs, nil
}

func (s *TransactionService) Get(ctx context.Context, userID, id string) (core.Transaction, error) {
	tx, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return core.Transaction{}, s.fail(ctx, "get", userID, err)
	}
	return tx, nil
}

// Create stores a new transaction. Validation runs before the repository is
// touched.
func (s *TransactionService) Create(ctx context.Context, userID string, d core.Draft) (core.Transaction, error) {
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx, err := s.repo.Create(ctx, userID, d)
	if err != nil {
		return core.Transaction{}, s.fail(ctx, "create", userID, err)
	}
	s.afterWrite(ctx, amqp.EventCreated, "create", tx)
	return tx, nil
}

func (s *TransactionService) Update(ctx context.Context, userID, id string, d core.Draft) (core.Transaction, error) {
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx, err := s.repo.Update(ctx, userID, id, d)
	if err != nil {
		return core.Transaction{}, s.fail(ctx, "update", userID, err)
	}
	s.afterWrite(ctx, amqp.EventUpdated, "update", tx)
	return tx, nil
}

func (s *TransactionService) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return s.fail(ctx, "delete", userID, err)
	}
	s.afterWrite(ctx, amqp.EventDeleted, "delete", core.Transaction{ID: id, UserID: userID})
	return nil
}

// afterWrite runs the side effects of a successful write. None of them can
// fail the write: the row is already stored.
func (s *TransactionService) afterWrite(ctx context.Context, evType amqp.EventType, op string, tx core.Transaction) {
	metrics.TransactionWrites.WithLabelValues(op).Inc()
	if s.invalidator != nil {
		s.invalidator.Invalidate(tx.UserID)
	}

	s.logger.InfoContext(ctx, "Transaction stored",
		"operation", op,
		"user_id", tx.UserID,
		"transaction_id", tx.ID,
		"amount_cents", tx.Amount.Cents,
		"kind", tx.Kind)

	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishTransactionEvent(ctx, amqp.NewTransactionEvent(evType, tx.UserID, tx.ID))
	metrics.EventsPublished.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish transaction event",
			"type", evType,
			"transaction_id", tx.ID,
			"error", err)
	}
}

func (s *TransactionService) fail(ctx context.Context, op, userID string, err error) error {
	err = ledger.Classify(op, err)
	kind := ErrorKind(err)
	metrics.RepositoryErrors.WithLabelValues(op, kind).Inc()
	if kind != "not_found" {
		s.logger.ErrorContext(ctx, "Repository call failed", "operation", op, "user_id", userID, "kind", kind, "error", err)
	}
	if errors.Is(err, ledger.ErrNotFound) || core.IsValidationError(err) {
		return err
	}
	return fmt.Errorf("%s transaction: %w", op, err)
}

// ErrorKind labels err for metrics and logs.
func ErrorKind(err error) string {
	var be *ledger.BackendError
	var ne *ledger.NetworkError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case core.IsValidationError(err):
		return "validation"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &be):
		return "backend"
	default:
		return "other"
	}
}
