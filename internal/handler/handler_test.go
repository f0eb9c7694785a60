package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-engine/internal/middleware"
	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/service"
	"github.com/mmeshcher/subscription-engine/internal/validation"
)

type stubService struct {
	user    model.User
	userErr error

	wallet    model.Wallet
	walletErr error

	entry    model.LedgerEntry
	entryErr error

	sub    model.Subscription
	subErr error

	subs    []model.Subscription
	subsErr error

	tiers []model.TierSummary

	history service.HistoryPage

	gotUserID    int64
	gotTargetID  int64
	gotBefore    int64
	gotLimit     int
	gotStatus    model.SubscriptionStatus
	gotReference string
	gotPoints    int64
}

func (s *stubService) CreateUser(_ context.Context, username string, isCreator bool, payoutAccountID string) (model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) SetPayoutAccount(_ context.Context, userID int64, accountID string) error {
	s.gotUserID = userID
	s.gotReference = accountID
	return s.userErr
}

func (s *stubService) DeleteUser(_ context.Context, userID, requesterID int64) error {
	s.gotTargetID, s.gotUserID = userID, requesterID
	return s.userErr
}

func (s *stubService) Wallet(_ context.Context, userID int64) (model.Wallet, error) {
	s.gotUserID = userID
	return s.wallet, s.walletErr
}

func (s *stubService) Reconcile(_ context.Context, userID int64) (model.Reconciliation, error) {
	s.gotUserID = userID
	return model.Reconciliation{UserID: userID, Balance: s.wallet.Balance, LedgerSum: s.wallet.Balance, Consistent: true}, s.walletErr
}

func (s *stubService) CreditPurchase(_ context.Context, userID, points int64, externalReference string) (model.LedgerEntry, error) {
	s.gotUserID = userID
	s.gotPoints = points
	s.gotReference = externalReference
	return s.entry, s.entryErr
}

func (s *stubService) DebitWithdrawal(_ context.Context, userID, points int64, payoutReference string) (model.LedgerEntry, error) {
	s.gotUserID = userID
	s.gotReference = payoutReference
	return s.entry, s.entryErr
}

func (s *stubService) Tiers(_ context.Context, creatorID int64) ([]model.TierSummary, error) {
	s.gotTargetID = creatorID
	return s.tiers, nil
}

func (s *stubService) CreateTier(_ context.Context, creatorID int64, in validation.TierInput) (model.Tier, error) {
	s.gotUserID = creatorID
	return model.Tier{ID: 1, CreatorID: creatorID, Name: in.Name, PointsPrice: in.PointsPrice}, s.subErr
}

func (s *stubService) DeleteTier(_ context.Context, tierID, requesterID int64) error {
	s.gotTargetID, s.gotUserID = tierID, requesterID
	return s.subErr
}

func (s *stubService) Subscribe(_ context.Context, subscriberID, tierID int64) (model.Subscription, error) {
	s.gotUserID, s.gotTargetID = subscriberID, tierID
	return s.sub, s.subErr
}

func (s *stubService) Extend(_ context.Context, subscriptionID, requesterID int64) (model.Subscription, error) {
	s.gotTargetID, s.gotUserID = subscriptionID, requesterID
	return s.sub, s.subErr
}

func (s *stubService) Cancel(_ context.Context, subscriptionID, requesterID int64) (model.Subscription, error) {
	s.gotTargetID, s.gotUserID = subscriptionID, requesterID
	return s.sub, s.subErr
}

func (s *stubService) Subscriptions(_ context.Context, subscriberID int64, status model.SubscriptionStatus) ([]model.Subscription, error) {
	s.gotUserID = subscriberID
	s.gotStatus = status
	return s.subs, s.subsErr
}

func (s *stubService) Subscription(_ context.Context, subscriptionID, requesterID int64) (model.Subscription, error) {
	s.gotTargetID, s.gotUserID = subscriptionID, requesterID
	return s.sub, s.subErr
}

func (s *stubService) History(_ context.Context, userID, beforeID int64, limit int) (service.HistoryPage, error) {
	s.gotUserID, s.gotBefore, s.gotLimit = userID, beforeID, limit
	return s.history, nil
}

const testSecret = "test-secret"

type result struct {
	OK             bool                  `json:"ok"`
	ErrorKind      string                `json:"error_kind"`
	Error          string                `json:"error"`
	Token          string                `json:"token"`
	User           *model.User           `json:"user"`
	Wallet         *model.Wallet         `json:"wallet"`
	Reconciliation *model.Reconciliation `json:"reconciliation"`
	Entry          *model.LedgerEntry    `json:"entry"`
	Tier           *model.Tier           `json:"tier"`
	Tiers          []model.TierSummary   `json:"tiers"`
	Subscription   *model.Subscription   `json:"subscription"`
	Subscriptions  []model.Subscription  `json:"subscriptions"`
	Entries        []model.LedgerEntry   `json:"entries"`
	NextBefore     int64                 `json:"next_before"`
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	return NewHandler(svc, logger, middleware.NewIdentity(testSecret))
}

func do(t *testing.T, h http.Handler, method, path string, userID int64, body any) (*httptest.ResponseRecorder, result) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+middleware.NewIdentity(testSecret).Token(userID))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var res result
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	}
	return rec, res
}

func TestCreateUser_IssuesToken(t *testing.T) {
	svc := &stubService{user: model.User{ID: 42, Username: "alice"}}
	h := newTestHandler(t, svc)

	rec, res := do(t, h.SetupRouter(), http.MethodPost, "/api/users", 0, createUserRequest{Username: "alice"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, res.OK)
	require.NotNil(t, res.User)
	assert.Equal(t, int64(42), res.User.ID)

	id, ok := middleware.NewIdentity(testSecret).Parse(res.Token)
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.NotEmpty(t, rec.Result().Cookies())
}

func TestProtectedRoutes_RequireIdentity(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/wallet"},
		{http.MethodPost, "/api/subscriptions"},
		{http.MethodPost, "/api/subscriptions/1/cancel"},
		{http.MethodGet, "/api/ledger"},
	} {
		rec, _ := do(t, router, route.method, route.path, 0, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}
}

func TestSubscribe_ErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{name: "insufficient balance", err: service.ErrInsufficientBalance, wantStatus: http.StatusPaymentRequired, wantKind: "InsufficientBalance"},
		{name: "duplicate", err: service.ErrDuplicateActiveSubscription, wantStatus: http.StatusConflict, wantKind: "DuplicateActiveSubscription"},
		{name: "own tier", err: service.ErrPermissionDenied, wantStatus: http.StatusForbidden, wantKind: "PermissionDenied"},
		{name: "no tier", err: service.ErrNotFound, wantStatus: http.StatusNotFound, wantKind: "NotFound"},
		{name: "storage", err: service.ErrStorageUnavailable, wantStatus: http.StatusServiceUnavailable, wantKind: "StorageUnavailable"},
		{name: "unknown", err: context.DeadlineExceeded, wantStatus: http.StatusInternalServerError, wantKind: "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{subErr: tt.err}
			h := newTestHandler(t, svc)

			rec, res := do(t, h.SetupRouter(), http.MethodPost, "/api/subscriptions", 7, subscribeRequest{TierID: 3})

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.False(t, res.OK)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
			assert.Equal(t, int64(7), svc.gotUserID)
			assert.Equal(t, int64(3), svc.gotTargetID)
		})
	}
}

func TestSubscribe_MalformedBody(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/subscriptions", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+middleware.NewIdentity(testSecret).Token(7))
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtend_PassesPathAndRequester(t *testing.T) {
	svc := &stubService{sub: model.Subscription{ID: 15, Status: model.SubscriptionActive}}
	h := newTestHandler(t, svc)

	rec, res := do(t, h.SetupRouter(), http.MethodPost, "/api/subscriptions/15/extend", 9, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, res.Subscription)
	assert.Equal(t, int64(15), svc.gotTargetID)
	assert.Equal(t, int64(9), svc.gotUserID)

	rec, res = do(t, h.SetupRouter(), http.MethodPost, "/api/subscriptions/abc/extend", 9, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidInput", res.ErrorKind)
}

func TestGetSubscription(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{name: "found", wantCode: http.StatusOK},
		{name: "not found", err: service.ErrNotFound, wantCode: http.StatusNotFound, wantKind: "NotFound"},
		{name: "foreign", err: service.ErrPermissionDenied, wantCode: http.StatusForbidden, wantKind: "PermissionDenied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{sub: model.Subscription{ID: 8, SubscriberID: 4}, subErr: tt.err}
			h := newTestHandler(t, svc)

			rec, res := do(t, h.SetupRouter(), http.MethodGet, "/api/subscriptions/8", 4, nil)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
			assert.Equal(t, int64(8), svc.gotTargetID)
			assert.Equal(t, int64(4), svc.gotUserID)
			if tt.err == nil {
				require.NotNil(t, res.Subscription)
				assert.Equal(t, int64(8), res.Subscription.ID)
			}
		})
	}
}

func TestListSubscriptions_EmptyList(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions?status=ACTIVE", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), 5))
	rec := httptest.NewRecorder()

	h.ListSubscriptions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"error_kind":"","subscriptions":[]}`, rec.Body.String())
	assert.Equal(t, model.SubscriptionActive, svc.gotStatus)
}

func TestGetLedger_Query(t *testing.T) {
	svc := &stubService{history: service.HistoryPage{
		Entries:    []model.LedgerEntry{{ID: 10, UserID: 3, Kind: model.LedgerPurchase, Amount: 100}},
		NextBefore: 10,
	}}
	h := newTestHandler(t, svc)

	rec, res := do(t, h.SetupRouter(), http.MethodGet, "/api/ledger?before=20&limit=1", 3, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(20), svc.gotBefore)
	assert.Equal(t, 1, svc.gotLimit)
	assert.Equal(t, int64(10), res.NextBefore)
	require.Len(t, res.Entries, 1)

	rec, _ = do(t, h.SetupRouter(), http.MethodGet, "/api/ledger?limit=-1", 3, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteTier_PathParam(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/tiers/4", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "4")
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	req = req.WithContext(middleware.WithUserID(ctx, 2))
	rec := httptest.NewRecorder()

	h.DeleteTier(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(4), svc.gotTargetID)
	assert.Equal(t, int64(2), svc.gotUserID)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec, res := do(t, h.SetupRouter(), http.MethodGet, "/healthz", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, res.OK)
}

func TestRouter_GzipPurchaseBody(t *testing.T) {
	svc := &stubService{entry: model.LedgerEntry{ID: 3, Kind: model.LedgerPurchase, Amount: 250}}
	h := newTestHandler(t, svc)

	var body bytes.Buffer
	zw := gzip.NewWriter(&body)
	require.NoError(t, json.NewEncoder(zw).Encode(map[string]any{"points": 250, "external_reference": "pay_gz"}))
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/wallet/purchases", &body)
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+middleware.NewIdentity(testSecret).Token(7))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), svc.gotUserID)
	assert.Equal(t, int64(250), svc.gotPoints)
	assert.Equal(t, "pay_gz", svc.gotReference)
}

func TestRouter_GzipWalletResponseOnlyWhenAccepted(t *testing.T) {
	svc := &stubService{wallet: model.Wallet{UserID: 7, Balance: 1200}}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	get := func(acceptEncoding string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/wallet", nil)
		req.Header.Set("Authorization", "Bearer "+middleware.NewIdentity(testSecret).Token(7))
		if acceptEncoding != "" {
			req.Header.Set("Accept-Encoding", acceptEncoding)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := get("gzip")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var res result
	require.NoError(t, json.NewDecoder(zr).Decode(&res))
	require.NotNil(t, res.Wallet)
	assert.Equal(t, int64(1200), res.Wallet.Balance)

	rec = get("")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	res = result{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.NotNil(t, res.Wallet)
	assert.Equal(t, int64(1200), res.Wallet.Balance)
}
