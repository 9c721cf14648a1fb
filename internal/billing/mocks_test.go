package billing

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"leadninja/internal/db"
	"leadninja/internal/types"
)

// --- Mock implementations shared across the package tests ---

type mockSubscriptionStore struct {
	mock.Mock
}

func (m *mockSubscriptionStore) GetByAccount(ctx context.Context, accountID string) (*types.Subscription, error) {
	args := m.Called(ctx, accountID)
	if s := args.Get(0); s != nil {
		return s.(*types.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockPlanStore struct {
	mock.Mock
}

func (m *mockPlanStore) GetByID(ctx context.Context, planID string) (*types.PlanDefinition, error) {
	args := m.Called(ctx, planID)
	if p := args.Get(0); p != nil {
		return p.(*types.PlanDefinition), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPlanStore) GetByTier(ctx context.Context, tier types.PlanTier) (*types.PlanDefinition, error) {
	args := m.Called(ctx, tier)
	if p := args.Get(0); p != nil {
		return p.(*types.PlanDefinition), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSettleStore struct {
	mock.Mock
}

func (m *mockSettleStore) Settle(ctx context.Context, ev *types.UsageEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type mockProvisionStore struct {
	mock.Mock
}

func (m *mockProvisionStore) Provision(ctx context.Context, sub *types.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

type mockEventLedger struct {
	mock.Mock
}

func (m *mockEventLedger) MarkProcessed(ctx context.Context, eventID, eventType string, receivedAt time.Time) (bool, error) {
	args := m.Called(ctx, eventID, eventType, receivedAt)
	return args.Bool(0), args.Error(1)
}

type mockReconcileSubStore struct {
	mock.Mock
}

func (m *mockReconcileSubStore) GetByExternalRef(ctx context.Context, externalRef string) (*types.Subscription, error) {
	args := m.Called(ctx, externalRef)
	if s := args.Get(0); s != nil {
		return s.(*types.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReconcileSubStore) ApplyProcessorUpdate(ctx context.Context, externalRef string, status types.SubscriptionStatus, periodStart, periodEnd, eventTime time.Time) error {
	args := m.Called(ctx, externalRef, status, periodStart, periodEnd, eventTime)
	return args.Error(0)
}

func (m *mockReconcileSubStore) Cancel(ctx context.Context, externalRef string, canceledAt time.Time) error {
	args := m.Called(ctx, externalRef, canceledAt)
	return args.Error(0)
}

func (m *mockReconcileSubStore) MarkPastDue(ctx context.Context, externalRef string, eventTime time.Time) error {
	args := m.Called(ctx, externalRef, eventTime)
	return args.Error(0)
}

type mockInvoiceStore struct {
	mock.Mock
}

func (m *mockInvoiceStore) GetByExternalRef(ctx context.Context, externalRef string) (*types.Invoice, error) {
	args := m.Called(ctx, externalRef)
	if inv := args.Get(0); inv != nil {
		return inv.(*types.Invoice), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockInvoiceStore) Upsert(ctx context.Context, inv *types.Invoice) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

func (m *mockInvoiceStore) MarkPaid(ctx context.Context, externalRef string, paidAt time.Time) (bool, error) {
	args := m.Called(ctx, externalRef, paidAt)
	return args.Bool(0), args.Error(1)
}

// stubTxManager executes the callback directly against the mock stores,
// recording whether each unit of work would have committed or rolled back.
type stubTxManager struct {
	stores    types.ReconcileStores
	beginErr  error
	commits   int
	rollbacks int
}

func (m *stubTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context, stores types.ReconcileStores) error) error {
	if m.beginErr != nil {
		return m.beginErr
	}
	err := fn(ctx, m.stores)
	if err != nil {
		m.rollbacks++
		return err
	}
	m.commits++
	return nil
}

type mockRolloverStore struct {
	mock.Mock
}

func (m *mockRolloverStore) RolloverExpired(ctx context.Context, now time.Time, interval time.Duration, limit int) (int64, error) {
	args := m.Called(ctx, now, interval, limit)
	return args.Get(0).(int64), args.Error(1)
}

type mockDriftStore struct {
	mock.Mock
}

func (m *mockDriftStore) FindCounterDrift(ctx context.Context, limit int) ([]db.CounterDrift, error) {
	args := m.Called(ctx, limit)
	if d := args.Get(0); d != nil {
		return d.([]db.CounterDrift), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockMetricSink struct {
	mock.Mock
}

func (m *mockMetricSink) RecordRollover(ctx context.Context, count int64) {
	m.Called(ctx, count)
}

func (m *mockMetricSink) RecordCounterDrift(ctx context.Context, count int) {
	m.Called(ctx, count)
}

func (m *mockMetricSink) RecordLedgerPurge(ctx context.Context, count int64) {
	m.Called(ctx, count)
}

// --- Mock PurgeStore ---

type mockPurgeStore struct {
	mock.Mock
}

func (m *mockPurgeStore) PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	args := m.Called(ctx, cutoff, limit)
	return args.Get(0).(int64), args.Error(1)
}
