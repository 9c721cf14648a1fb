package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"leadninja/internal/core"
	"leadninja/internal/types"
)

// --- Mocks ---

type mockMeteringService struct {
	mock.Mock
}

func (m *mockMeteringService) BillingSummary(ctx context.Context, accountID string) (*types.BillingInfo, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.BillingInfo), args.Error(1)
}

func (m *mockMeteringService) CheckQuota(ctx context.Context, accountID string, requestedUnits int) (*types.QuotaDecision, error) {
	args := m.Called(ctx, accountID, requestedUnits)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.QuotaDecision), args.Error(1)
}

func (m *mockMeteringService) SettleUsage(ctx context.Context, accountID, campaignRef string, actualUnits int, source types.SourceAction, relatedJobID, note string) (string, error) {
	args := m.Called(ctx, accountID, campaignRef, actualUnits, source, relatedJobID, note)
	return args.String(0), args.Error(1)
}

type mockProvisioner struct {
	mock.Mock
}

func (m *mockProvisioner) EnsureSubscription(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBillingHandler(t *testing.T) (*BillingHandler, *mockMeteringService) {
	t.Helper()
	h, metering, _ := newBillingHandlerWithProvisioner(t)
	return h, metering
}

func newBillingHandlerWithProvisioner(t *testing.T) (*BillingHandler, *mockMeteringService, *mockProvisioner) {
	t.Helper()
	metering := new(mockMeteringService)
	provisioner := new(mockProvisioner)
	h := NewBillingHandler(metering, provisioner, core.NewValidator(testLogger()), testLogger())
	return h, metering, provisioner
}

// accountRequest builds a request carrying an account-scoped actor.
func accountRequest(method, target string, body []byte, accountID string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	ctx := types.WithActor(r.Context(), types.Actor{
		ID:        "tok_1",
		Type:      types.ActorTypeAccount,
		AccountID: accountID,
	})
	return r.WithContext(ctx)
}

// internalRequest builds a request carrying a privileged internal actor.
func internalRequest(method, target string, body []byte) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	ctx := types.WithActor(r.Context(), types.Actor{
		ID:   "internal",
		Type: types.ActorTypeInternal,
	})
	return r.WithContext(ctx)
}

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) core.APIErrorResponse {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// --- GetBilling ---

func TestGetBilling_Success(t *testing.T) {
	h, metering := newBillingHandler(t)

	info := &types.BillingInfo{
		PlanName:       "Pro",
		Tier:           types.PlanPro,
		UnitLimit:      25000,
		UnitsUsed:      12000,
		UnitsRemaining: 13000,
		PercentUsed:    48,
		PeriodEnd:      time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Status:         types.SubStatusActive,
	}
	metering.On("BillingSummary", mock.Anything, "acc_1").Return(info, nil)

	rec := httptest.NewRecorder()
	h.GetBilling(rec, accountRequest(http.MethodGet, "/v1/billing", nil, "acc_1"))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data types.BillingInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Pro", resp.Data.PlanName)
	assert.Equal(t, 13000, resp.Data.UnitsRemaining)
	metering.AssertExpectations(t)
}

func TestGetBilling_NoActor(t *testing.T) {
	h, metering := newBillingHandler(t)

	rec := httptest.NewRecorder()
	h.GetBilling(rec, httptest.NewRequest(http.MethodGet, "/v1/billing", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, string(types.ErrCodeAuthTokenMissing), resp.Error.Code)
	metering.AssertNotCalled(t, "BillingSummary", mock.Anything, mock.Anything)
}

func TestGetBilling_InternalActorRejected(t *testing.T) {
	h, _ := newBillingHandler(t)

	rec := httptest.NewRecorder()
	h.GetBilling(rec, internalRequest(http.MethodGet, "/v1/billing", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, string(types.ErrCodeAuthTokenInvalid), resp.Error.Code)
}

func TestGetBilling_NoSubscription(t *testing.T) {
	h, metering := newBillingHandler(t)

	metering.On("BillingSummary", mock.Anything, "acc_gone").Return(nil,
		types.NewAppError(types.ErrCodeNoActiveSubscription, "no active subscription", nil))

	rec := httptest.NewRecorder()
	h.GetBilling(rec, accountRequest(http.MethodGet, "/v1/billing", nil, "acc_gone"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, string(types.ErrCodeNoActiveSubscription), resp.Error.Code)
}

// --- CheckLimits ---

func TestCheckLimits_Allowed(t *testing.T) {
	h, metering := newBillingHandler(t)

	decision := &types.QuotaDecision{
		Allowed:     true,
		Tier:        types.PlanPro,
		Remaining:   500,
		PercentUsed: 98,
	}
	metering.On("CheckQuota", mock.Anything, "acc_1", 100).Return(decision, nil)

	body := []byte(`{"requested_units": 100}`)
	rec := httptest.NewRecorder()
	h.CheckLimits(rec, accountRequest(http.MethodPost, "/v1/billing/check-limits", body, "acc_1"))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data types.QuotaDecision `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Allowed)
	assert.Equal(t, 500, resp.Data.Remaining)
	metering.AssertExpectations(t)
}

func TestCheckLimits_Denied(t *testing.T) {
	h, metering := newBillingHandler(t)

	decision := &types.QuotaDecision{
		Allowed:     false,
		Reason:      "monthly limit of 1000 units reached for the Free plan",
		Tier:        types.PlanFree,
		Remaining:   0,
		PercentUsed: 100,
	}
	metering.On("CheckQuota", mock.Anything, "acc_1", 50).Return(decision, nil)

	body := []byte(`{"requested_units": 50}`)
	rec := httptest.NewRecorder()
	h.CheckLimits(rec, accountRequest(http.MethodPost, "/v1/billing/check-limits", body, "acc_1"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, string(types.ErrCodeQuotaExceeded), resp.Error.Code)
	assert.Equal(t, decision.Reason, resp.Error.Message)
	require.NotNil(t, resp.Error.Details)
	assert.Equal(t, false, resp.Error.Details["allowed"])
	assert.Equal(t, "free", resp.Error.Details["tier"])
	assert.Equal(t, float64(100), resp.Error.Details["percent_used"])
}

func TestCheckLimits_InvalidBody(t *testing.T) {
	h, metering := newBillingHandler(t)

	cases := []struct {
		name string
		body string
		code types.ErrorCode
	}{
		{"malformed json", `{"requested_units":`, types.ErrCodeValidationInvalidJSON},
		{"missing units", `{}`, types.ErrCodeValidationMissingField},
		{"negative units", `{"requested_units": -5}`, types.ErrCodeValidationInvalidJSON},
		{"unknown field", `{"requested_units": 10, "bogus": true}`, types.ErrCodeValidationInvalidJSON},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.CheckLimits(rec, accountRequest(http.MethodPost, "/v1/billing/check-limits", []byte(tc.body), "acc_1"))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeErrorResponse(t, rec)
			assert.Equal(t, string(tc.code), resp.Error.Code)
		})
	}

	metering.AssertNotCalled(t, "CheckQuota", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckLimits_ServiceError(t *testing.T) {
	h, metering := newBillingHandler(t)

	metering.On("CheckQuota", mock.Anything, "acc_1", 10).Return(nil,
		types.NewAppError(types.ErrCodeInternalDB, "database error", assert.AnError))

	body := []byte(`{"requested_units": 10}`)
	rec := httptest.NewRecorder()
	h.CheckLimits(rec, accountRequest(http.MethodPost, "/v1/billing/check-limits", body, "acc_1"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// --- LogUsage ---

func TestLogUsage_Success(t *testing.T) {
	h, metering := newBillingHandler(t)

	metering.On("SettleUsage", mock.Anything, "acc_1", "camp_9", 42,
		types.SourceScrape, "job_7", "nightly run").Return("ue_123", nil)

	body := []byte(`{
		"account_id": "acc_1",
		"campaign_ref": "camp_9",
		"actual_units": 42,
		"source_action": "scrape",
		"related_job_id": "job_7",
		"note": "nightly run"
	}`)
	rec := httptest.NewRecorder()
	h.LogUsage(rec, internalRequest(http.MethodPost, "/v1/internal/usage", body))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data LogUsageResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ue_123", resp.Data.UsageEventID)
	metering.AssertExpectations(t)
}

func TestLogUsage_RequiresPrivilegedActor(t *testing.T) {
	h, metering := newBillingHandler(t)

	body := []byte(`{"account_id": "acc_1", "actual_units": 10, "source_action": "scrape"}`)
	rec := httptest.NewRecorder()
	h.LogUsage(rec, accountRequest(http.MethodPost, "/v1/internal/usage", body, "acc_1"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, string(types.ErrCodePermissionInternalOnly), resp.Error.Code)
	metering.AssertNotCalled(t, "SettleUsage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLogUsage_Validation(t *testing.T) {
	h, metering := newBillingHandler(t)

	cases := []struct {
		name string
		body string
		code types.ErrorCode
	}{
		{"missing account", `{"actual_units": 10, "source_action": "scrape"}`, types.ErrCodeValidationMissingField},
		{"zero units", `{"account_id": "acc_1", "actual_units": 0, "source_action": "scrape"}`, types.ErrCodeValidationMissingField},
		{"negative units", `{"account_id": "acc_1", "actual_units": -3, "source_action": "scrape"}`, types.ErrCodeValidationInvalidJSON},
		{"bad source action", `{"account_id": "acc_1", "actual_units": 10, "source_action": "telepathy"}`, types.ErrCodeValidationInvalidJSON},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.LogUsage(rec, internalRequest(http.MethodPost, "/v1/internal/usage", []byte(tc.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeErrorResponse(t, rec)
			assert.Equal(t, string(tc.code), resp.Error.Code)
		})
	}

	metering.AssertNotCalled(t, "SettleUsage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLogUsage_ServiceError(t *testing.T) {
	h, metering := newBillingHandler(t)

	metering.On("SettleUsage", mock.Anything, "acc_1", "", 10,
		types.SourceImport, "", "").Return("",
		types.NewAppError(types.ErrCodeInternalDB, "database error", assert.AnError))

	body := []byte(`{"account_id": "acc_1", "actual_units": 10, "source_action": "import"}`)
	rec := httptest.NewRecorder()
	h.LogUsage(rec, internalRequest(http.MethodPost, "/v1/internal/usage", body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// --- ProvisionAccount ---

func TestProvisionAccount_Success(t *testing.T) {
	h, _, provisioner := newBillingHandlerWithProvisioner(t)

	provisioner.On("EnsureSubscription", mock.Anything, "acc_new").Return(nil)

	body := []byte(`{"account_id": "acc_new"}`)
	rec := httptest.NewRecorder()
	h.ProvisionAccount(rec, internalRequest(http.MethodPost, "/v1/internal/accounts", body))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acc_new", resp.Data["account_id"])
	assert.Equal(t, "provisioned", resp.Data["status"])
	provisioner.AssertExpectations(t)
}

func TestProvisionAccount_RequiresPrivilegedActor(t *testing.T) {
	h, _, provisioner := newBillingHandlerWithProvisioner(t)

	body := []byte(`{"account_id": "acc_new"}`)
	rec := httptest.NewRecorder()
	h.ProvisionAccount(rec, accountRequest(http.MethodPost, "/v1/internal/accounts", body, "acc_1"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, string(types.ErrCodePermissionInternalOnly), resp.Error.Code)
	provisioner.AssertNotCalled(t, "EnsureSubscription", mock.Anything, mock.Anything)
}

func TestProvisionAccount_Validation(t *testing.T) {
	h, _, provisioner := newBillingHandlerWithProvisioner(t)

	rec := httptest.NewRecorder()
	h.ProvisionAccount(rec, internalRequest(http.MethodPost, "/v1/internal/accounts", []byte(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), resp.Error.Code)
	provisioner.AssertNotCalled(t, "EnsureSubscription", mock.Anything, mock.Anything)
}

func TestProvisionAccount_ServiceError(t *testing.T) {
	h, _, provisioner := newBillingHandlerWithProvisioner(t)

	provisioner.On("EnsureSubscription", mock.Anything, "acc_new").Return(
		types.NewAppError(types.ErrCodeInternalDB, "database error", assert.AnError))

	body := []byte(`{"account_id": "acc_new"}`)
	rec := httptest.NewRecorder()
	h.ProvisionAccount(rec, internalRequest(http.MethodPost, "/v1/internal/accounts", body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// --- Route registration ---

func TestBillingHandlerRoutes(t *testing.T) {
	h, metering := newBillingHandler(t)
	metering.On("BillingSummary", mock.Anything, "acc_1").Return(&types.BillingInfo{PlanName: "Free"}, nil)

	r := chi.NewRouter()
	r.Group(h.RegisterRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, accountRequest(http.MethodGet, "/billing", nil, "acc_1"))

	assert.Equal(t, http.StatusOK, rec.Code)
}
