package handler

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-engine/internal/metrics"
	"github.com/mmeshcher/subscription-engine/internal/middleware"
	"github.com/mmeshcher/subscription-engine/internal/model"
	"github.com/mmeshcher/subscription-engine/internal/repository"
	"github.com/mmeshcher/subscription-engine/internal/service"
)

func TestRouter_SubscriptionFlowWithMemoryStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)

	svc := service.NewService(repository.NewMemoryRepository(), service.WithMetrics(m))
	h := NewHandler(svc, zap.NewNop(), middleware.NewIdentity(testSecret),
		WithMetrics(m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	router := h.SetupRouter()

	_, creator := do(t, router, http.MethodPost, "/api/users", 0, createUserRequest{Username: "bob", IsCreator: true, PayoutAccountID: "acct_bob"})
	require.True(t, creator.OK)
	_, fan := do(t, router, http.MethodPost, "/api/users", 0, createUserRequest{Username: "alice"})
	require.True(t, fan.OK)
	bobID, aliceID := creator.User.ID, fan.User.ID

	_, res := do(t, router, http.MethodPost, "/api/wallet/purchases", aliceID, purchaseRequest{Points: 2000, ExternalReference: "pay_1"})
	require.True(t, res.OK, res.Error)
	_, res = do(t, router, http.MethodPost, "/api/wallet/purchases", bobID, purchaseRequest{Points: 1000, ExternalReference: "pay_2"})
	require.True(t, res.OK, res.Error)

	_, res = do(t, router, http.MethodPost, "/api/tiers", bobID, createTierRequest{Name: "Gold", PointsPrice: 500, MessagePermission: true})
	require.True(t, res.OK, res.Error)
	tierID := res.Tier.ID

	rec, res := do(t, router, http.MethodPost, "/api/subscriptions", aliceID, subscribeRequest{TierID: tierID})
	require.Equal(t, http.StatusOK, rec.Code, res.Error)
	require.Equal(t, model.SubscriptionActive, res.Subscription.Status)
	subID := res.Subscription.ID

	rec, res = do(t, router, http.MethodPost, "/api/subscriptions", aliceID, subscribeRequest{TierID: tierID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DuplicateActiveSubscription", res.ErrorKind)

	_, res = do(t, router, http.MethodGet, "/api/wallet", aliceID, nil)
	assert.Equal(t, int64(1500), res.Wallet.Balance)
	_, res = do(t, router, http.MethodGet, "/api/wallet", bobID, nil)
	assert.Equal(t, int64(1500), res.Wallet.Balance)

	rec, res = do(t, router, http.MethodDelete, "/api/tiers/"+itoa(tierID), bobID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "TierInUse", res.ErrorKind)

	_, res = do(t, router, http.MethodPost, "/api/subscriptions/"+itoa(subID)+"/cancel", aliceID, nil)
	require.True(t, res.OK, res.Error)
	assert.Equal(t, model.SubscriptionCancelled, res.Subscription.Status)

	_, res = do(t, router, http.MethodGet, "/api/wallet/reconcile", aliceID, nil)
	require.NotNil(t, res.Reconciliation)
	assert.True(t, res.Reconciliation.Consistent)

	_, res = do(t, router, http.MethodGet, "/api/ledger?limit=2", aliceID, nil)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, model.LedgerCancel, res.Entries[0].Kind)
	assert.Equal(t, model.LedgerSubscribe, res.Entries[1].Kind)
	assert.NotZero(t, res.NextBefore)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	router.ServeHTTP(mrec, req)
	require.Equal(t, http.StatusOK, mrec.Code)
	assert.Contains(t, mrec.Body.String(), `subsengine_transfers_total{kind="SUBSCRIBE"} 1`)
	assert.Contains(t, mrec.Body.String(), `subsengine_operation_failures_total{error_kind="DuplicateActiveSubscription",operation="subscribe"} 1`)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
