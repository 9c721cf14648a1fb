package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"leadninja/internal/types"
)

func TestUsageEventRepo_Insert_Success(t *testing.T) {
	dbm := new(mockDBTX)
	repo := NewUsageEventRepo(dbm)

	dbm.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Insert(context.Background(), &types.UsageEvent{
		ID:           "evt_1",
		AccountID:    "acct_1",
		CampaignRef:  "camp_7",
		SourceAction: types.SourceScrape,
		UnitCount:    500,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	dbm.AssertExpectations(t)
}

func TestUsageEventRepo_SumSince(t *testing.T) {
	dbm := new(mockDBTX)
	repo := NewUsageEventRepo(dbm)

	dbm.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int) = 900
			return nil
		}})

	total, err := repo.SumSince(context.Background(), "acct_1", time.Now().Add(-15*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 900, total)
}

func TestUsageEventRepo_ListByAccount(t *testing.T) {
	dbm := new(mockDBTX)
	repo := NewUsageEventRepo(dbm)

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rows := newMockRows(
		func(dest ...any) error {
			*dest[0].(*string) = "evt_2"
			*dest[1].(*string) = "acct_1"
			*dest[2].(*string) = "camp_7"
			*dest[3].(*types.SourceAction) = types.SourceImport
			*dest[4].(*int) = 120
			*dest[5].(*string) = "job_55"
			*dest[6].(*string) = "csv import"
			*dest[7].(*time.Time) = created
			return nil
		},
	)

	dbm.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	events, err := repo.ListByAccount(context.Background(), "acct_1", 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt_2", events[0].ID)
	assert.Equal(t, types.SourceImport, events[0].SourceAction)
	assert.Equal(t, 120, events[0].UnitCount)
	assert.Equal(t, created, events[0].CreatedAt)
}

func TestUsageEventRepo_FindCounterDrift(t *testing.T) {
	dbm := new(mockDBTX)
	repo := NewUsageEventRepo(dbm)

	rows := newMockRows(
		func(dest ...any) error {
			*dest[0].(*string) = "sub_1"
			*dest[1].(*string) = "acct_1"
			*dest[2].(*int) = 600
			*dest[3].(*int) = 580
			return nil
		},
	)

	dbm.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	drifts, err := repo.FindCounterDrift(context.Background(), 200)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, "sub_1", drifts[0].SubscriptionID)
	assert.Equal(t, 600, drifts[0].CounterValue)
	assert.Equal(t, 580, drifts[0].EventSum)
}

func TestUsageEventRepo_SumSince_DBError(t *testing.T) {
	dbm := new(mockDBTX)
	repo := NewUsageEventRepo(dbm)

	dbm.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, err := repo.SumSince(context.Background(), "acct_1", time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
