package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/amqp"
	"finsight/internal/core"
	"finsight/internal/ledger"
	mock_ledger "finsight/internal/ledger/mocks"
)

type recordingPublisher struct {
	events []amqp.TransactionEvent
	err    error
}

func (p *recordingPublisher) PublishTransactionEvent(_ context.Context, ev amqp.TransactionEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

type recordingInvalidator struct{ users []string }

func (r *recordingInvalidator) Invalidate(userID string) { r.users = append(r.users, userID) }

func draft() core.Draft {
	return core.Draft{Title: " Rent ", Amount: core.Money{Cents: 120000}, Category: "Housing", Kind: core.Expense}
}

func TestTransactionService_Create(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mock_ledger.NewMockRepository(ctrl)
	pub := &recordingPublisher{}
	inv := &recordingInvalidator{}
	svc := NewTransactionService(repo, pub, inv)

	stored := core.Transaction{ID: "tx-1", UserID: "u1", Title: "Rent", Amount: core.Money{Cents: 120000}, Category: "Housing", Kind: core.Expense, OccurredAt: time.Now()}
	repo.EXPECT().
		Create(gomock.Any(), "u1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, d core.Draft) (core.Transaction, error) {
			assert.Equal(t, "Rent", d.Title, "draft is trimmed before storage")
			return stored, nil
		})

	tx, err := svc.Create(context.Background(), "u1", draft())
	require.NoError(t, err)
	assert.Equal(t, "tx-1", tx.ID)
	assert.Equal(t, []string{"u1"}, inv.users)
	require.Len(t, pub.events, 1)
	assert.Equal(t, amqp.EventCreated, pub.events[0].Type)
	assert.Equal(t, "tx-1", pub.events[0].TransactionID)
}

func TestTransactionService_CreateValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mock_ledger.NewMockRepository(ctrl)
	svc := NewTransactionService(repo, nil, nil)

	d := draft()
	d.Title = "   "
	_, err := svc.Create(context.Background(), "u1", d)
	assert.ErrorIs(t, err, core.ErrEmptyTitle)

	d = draft()
	d.Kind = core.Kind("transfer")
	_, err = svc.Create(context.Background(), "u1", d)
	assert.ErrorIs(t, err, core.ErrInvalidKind)
}

func TestTransactionService_PublishFailureDoesNotFailWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mock_ledger.NewMockRepository(ctrl)
	pub := &recordingPublisher{err: errors.New("circuit breaker is open")}
	svc := NewTransactionService(repo, pub, nil)

	repo.EXPECT().Update(gomock.Any(), "u1", "tx-1", gomock.Any()).
		Return(core.Transaction{ID: "tx-1", UserID: "u1"}, nil)

	_, err := svc.Update(context.Background(), "u1", "tx-1", draft())
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	assert.Equal(t, amqp.EventUpdated, pub.events[0].Type)
}

func TestTransactionService_ErrorTaxonomy(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mock_ledger.NewMockRepository(ctrl)
	inv := &recordingInvalidator{}
	svc := NewTransactionService(repo, nil, inv)
	ctx := context.Background()

	repo.EXPECT().Delete(ctx, "u1", "missing").Return(ledger.ErrNotFound)
	err := svc.Delete(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, ledger.NotFoundMessage, ledger.UserMessage(err))

	repo.EXPECT().List(ctx, "u1").Return(nil, errors.New(`permission denied for table budgets`))
	_, err = svc.List(ctx, "u1")
	var be *ledger.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "permission denied for table budgets", ledger.UserMessage(err))
	assert.Equal(t, "backend", ErrorKind(err))

	repo.EXPECT().Get(ctx, "u1", "tx").Return(core.Transaction{}, errors.New("dial tcp: connection refused"))
	_, err = svc.Get(ctx, "u1", "tx")
	assert.Equal(t, ledger.NetworkMessage, ledger.UserMessage(err))
	assert.Equal(t, "network", ErrorKind(err))

	assert.Empty(t, inv.users, "failed writes must not invalidate")
}

func TestTransactionService_Delete(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mock_ledger.NewMockRepository(ctrl)
	pub := &recordingPublisher{}
	inv := &recordingInvalidator{}
	svc := NewTransactionService(repo, pub, inv)

	repo.EXPECT().Delete(gomock.Any(), "u1", "tx-3").Return(nil)
	require.NoError(t, svc.Delete(context.Background(), "u1", "tx-3"))
	assert.Equal(t, []string{"u1"}, inv.users)
	require.Len(t, pub.events, 1)
	assert.Equal(t, amqp.EventDeleted, pub.events[0].Type)
	assert.Equal(t, "u1", pub.events[0].UserID)
}
