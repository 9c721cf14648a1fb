package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"leadninja/internal/types"
)

func TestReconcileTxManager_RunInTx_Commits(t *testing.T) {
	dbm := new(mockDBTX)
	tx := &mockTx{db: dbm}
	txm := NewReconcileTxManager(&mockBeginner{tx: tx}, nil)

	dbm.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "INSERT INTO processor_events")
	}), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := txm.RunInTx(context.Background(), func(ctx context.Context, stores types.ReconcileStores) error {
		first, err := stores.Events.MarkProcessed(ctx, "evt_1", "invoice.paid", time.Now().UTC())
		require.NoError(t, err)
		assert.True(t, first)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, tx.committed, "a clean pass must commit")
	dbm.AssertExpectations(t)
}

func TestReconcileTxManager_RunInTx_ErrorRollsBack(t *testing.T) {
	dbm := new(mockDBTX)
	tx := &mockTx{db: dbm}
	txm := NewReconcileTxManager(&mockBeginner{tx: tx}, nil)

	applyErr := errors.New("subscription update failed")
	err := txm.RunInTx(context.Background(), func(ctx context.Context, stores types.ReconcileStores) error {
		return applyErr
	})
	require.ErrorIs(t, err, applyErr)
	assert.False(t, tx.committed, "a failed pass must not commit")
	assert.True(t, tx.rolledBack, "a failed pass must roll back the dedup insert")
}

func TestReconcileTxManager_RunInTx_BeginError(t *testing.T) {
	txm := NewReconcileTxManager(&mockBeginner{err: errors.New("pool exhausted")}, nil)

	err := txm.RunInTx(context.Background(), func(ctx context.Context, stores types.ReconcileStores) error {
		t.Fatal("callback must not run when the transaction cannot start")
		return nil
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestReconcileTxManager_RunInTx_CommitError(t *testing.T) {
	dbm := new(mockDBTX)
	tx := &mockTx{db: dbm, commitErr: errors.New("connection reset")}
	txm := NewReconcileTxManager(&mockBeginner{tx: tx}, nil)

	err := txm.RunInTx(context.Background(), func(ctx context.Context, stores types.ReconcileStores) error {
		return nil
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
