package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	balancedomain "github.com/smallbiznis/unitledger/internal/balance/domain"
	balancerepo "github.com/smallbiznis/unitledger/internal/balance/repository"
	balancesvc "github.com/smallbiznis/unitledger/internal/balance/service"
	"github.com/smallbiznis/unitledger/internal/clock"
	"github.com/smallbiznis/unitledger/internal/config"
	ledgerdomain "github.com/smallbiznis/unitledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/unitledger/internal/ledger/repository"
	provisioningsvc "github.com/smallbiznis/unitledger/internal/provisioning/service"
	"github.com/smallbiznis/unitledger/internal/seed"
	subscriptiondomain "github.com/smallbiznis/unitledger/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/unitledger/internal/subscription/repository"
	subscriptionsvc "github.com/smallbiznis/unitledger/internal/subscription/service"
	tariffdomain "github.com/smallbiznis/unitledger/internal/tariff/domain"
	tariffrepo "github.com/smallbiznis/unitledger/internal/tariff/repository"
	tariffsvc "github.com/smallbiznis/unitledger/internal/tariff/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestServer(t *testing.T, internalKey string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&balancedomain.UserBalance{},
		&ledgerdomain.Entry{},
		&tariffdomain.TariffPlan{},
		&tariffdomain.TariffProperty{},
		&subscriptiondomain.UserSubscription{},
	))
	require.NoError(t, seed.EnsurePlans(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	ledgerCfg := config.NewStaticLedgerConfigHolder(config.DefaultLedgerConfig())
	cfg := config.Config{
		AppName:     "unitledger",
		Environment: "test",
		InternalKey: internalKey,
	}

	balanceRepo := balancerepo.Provide(node)
	subRepo := subscriptionrepo.Provide()
	balances := balancesvc.NewService(balancesvc.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    fc,
		Balances: balanceRepo,
		Entries:  ledgerrepo.Provide(),
	})
	tariffs := tariffsvc.NewService(tariffsvc.Params{
		DB:        conn,
		Log:       log,
		Repo:      tariffrepo.Provide(),
		LedgerCfg: ledgerCfg,
	})
	subs := subscriptionsvc.NewService(subscriptionsvc.Params{
		DB:            conn,
		Log:           log,
		GenID:         node,
		Clock:         fc,
		LedgerCfg:     ledgerCfg,
		Subscriptions: subRepo,
		Tariffs:       tariffs,
		Balances:      balances,
	})
	provisioning := provisioningsvc.NewService(provisioningsvc.Params{
		DB:            conn,
		Log:           log,
		GenID:         node,
		Clock:         fc,
		LedgerCfg:     ledgerCfg,
		Balances:      balanceRepo,
		Subscriptions: subRepo,
	})

	engine := NewEngine(cfg, log, nil)
	NewServer(ServerParams{
		Gin:             engine,
		Cfg:             cfg,
		BalanceSvc:      balances,
		TariffSvc:       tariffs,
		SubscriptionSvc: subs,
		ProvisioningSvc: provisioning,
	})
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestInternalKeyGuard(t *testing.T) {
	engine := newTestServer(t, "s3cret")

	rec := doJSON(t, engine, http.MethodGet, "/internal/billing/plans", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/internal/billing/plans", nil, map[string]string{
		HeaderInternalKey: "s3cret",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open for probes.
	rec = doJSON(t, engine, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDebitInsufficientFundsResponse(t *testing.T) {
	engine := newTestServer(t, "")

	rec := doJSON(t, engine, http.MethodPost, "/internal/billing/debit", map[string]any{
		"sub":    "user-1",
		"units":  5,
		"ref":    "job-1",
		"reason": "render_job",
	}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_funds", resp.Error.Type)
	assert.Equal(t, float64(5), resp.Error.Details["required"])
	assert.Equal(t, float64(0), resp.Error.Details["available"])
}

func TestCreditAndDebitFlow(t *testing.T) {
	engine := newTestServer(t, "")

	rec := doJSON(t, engine, http.MethodPost, "/internal/billing/credit", map[string]any{
		"sub":    "user-1",
		"units":  100,
		"ref":    "topup-1",
		"reason": "manual_topup",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var credit balancedomain.MutationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &credit))
	assert.Equal(t, int64(100), credit.Balance)

	rec = doJSON(t, engine, http.MethodPost, "/internal/billing/debit", map[string]any{
		"sub":    "user-1",
		"units":  40,
		"ref":    "job-1",
		"reason": "render_job",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/internal/billing/balance?sub=user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":60`)
}

func TestBalanceIncludesPlanInfo(t *testing.T) {
	engine := newTestServer(t, "")

	// A user nobody ever subscribed still gets a balance response, with the
	// placeholder plan instead of an error.
	rec := doJSON(t, engine, http.MethodGet, "/internal/billing/balance?sub=fresh", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plan_code":"none"`)
	assert.Contains(t, rec.Body.String(), `"status":"inactive"`)

	rec = doJSON(t, engine, http.MethodPost, "/internal/billing/plan/apply", map[string]any{
		"sub":       "fresh",
		"plan_code": "free",
		"ref":       "order-1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/internal/billing/balance?sub=fresh", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plan_code":"free"`)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)
	assert.Contains(t, rec.Body.String(), `"balance":10`)
}

func TestApplyPlanAutoRenewOffEndpoint(t *testing.T) {
	engine := newTestServer(t, "")

	rec := doJSON(t, engine, http.MethodPost, "/internal/billing/plan/apply", map[string]any{
		"sub":        "user-1",
		"plan_code":  "base750",
		"ref":        "order-1",
		"auto_renew": false,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/internal/billing/subscription?sub=user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"auto_renew":false`)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)
}

func TestDebitValidationResponse(t *testing.T) {
	engine := newTestServer(t, "")

	rec := doJSON(t, engine, http.MethodPost, "/internal/billing/debit", map[string]any{
		"units":  5,
		"ref":    "job-1",
		"reason": "render_job",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error.Type)
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "sub", resp.Error.Errors[0].Field)
}

func TestApplyPlanEndpoint(t *testing.T) {
	engine := newTestServer(t, "")

	rec := doJSON(t, engine, http.MethodPost, "/internal/billing/plan/apply", map[string]any{
		"sub":       "user-1",
		"plan_code": "base750",
		"ref":       "order-1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":750`)

	rec = doJSON(t, engine, http.MethodGet, "/internal/billing/plan?sub=user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plan_code":"base750"`)
}

func TestApplyPlanNotFoundEndpoint(t *testing.T) {
	engine := newTestServer(t, "")

	rec := doJSON(t, engine, http.MethodPost, "/internal/billing/plan/apply", map[string]any{
		"sub":       "user-1",
		"plan_code": "ghost",
		"ref":       "order-1",
	}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Error.Type)
	assert.Equal(t, "plan not found", resp.Error.Message)
}

func TestSubscriptionNotFoundEndpoint(t *testing.T) {
	engine := newTestServer(t, "")

	rec := doJSON(t, engine, http.MethodGet, "/internal/billing/subscription?sub=ghost", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitUserEndpoint(t *testing.T) {
	engine := newTestServer(t, "")

	rec := doJSON(t, engine, http.MethodPost, "/internal/billing/users/init", map[string]any{
		"sub": "user-1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"created":true`)

	rec = doJSON(t, engine, http.MethodPost, "/internal/billing/users/init", map[string]any{
		"sub": "user-1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"created":false`)

	rec = doJSON(t, engine, http.MethodGet, "/internal/billing/users/status?sub=user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"initialized":true`)
}
