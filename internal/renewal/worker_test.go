package renewal

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	balancedomain "github.com/smallbiznis/unitledger/internal/balance/domain"
	balancerepo "github.com/smallbiznis/unitledger/internal/balance/repository"
	balancesvc "github.com/smallbiznis/unitledger/internal/balance/service"
	"github.com/smallbiznis/unitledger/internal/clock"
	"github.com/smallbiznis/unitledger/internal/config"
	ledgerdomain "github.com/smallbiznis/unitledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/unitledger/internal/ledger/repository"
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

type testStack struct {
	worker   *Worker
	subs     subscriptiondomain.Service
	balances balancedomain.Service
	conn     *gorm.DB
	clock    *clock.FakeClock
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

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

	subRepo := subscriptionrepo.Provide()
	balances := balancesvc.NewService(balancesvc.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    fc,
		Balances: balancerepo.Provide(node),
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
	worker := NewWorker(Params{
		DB:            conn,
		Log:           log,
		Clock:         fc,
		LedgerCfg:     ledgerCfg,
		Subscriptions: subRepo,
		Tariffs:       tariffs,
		Balances:      balances,
	})

	return &testStack{worker: worker, subs: subs, balances: balances, conn: conn, clock: fc}
}

func TestSweepRenewsExpiredSubscription(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	_, err := stack.subs.ApplyPlan(ctx, subscriptiondomain.ApplyPlanRequest{
		Sub: "user-1", PlanCode: "base750", Ref: "order-1",
	})
	require.NoError(t, err)

	stack.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, stack.worker.SweepOnce(ctx))

	balance, err := stack.balances.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance, "renewal grants one more monthly allowance")

	details, err := stack.subs.GetSubscription(ctx, "user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, stack.clock.Now().AddDate(0, 0, 30), details.ExpiresAt, time.Second)
	assert.Equal(t, subscriptiondomain.StatusActive, details.Status)
}

func TestSweepAppliesOncePerPeriod(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	_, err := stack.subs.ApplyPlan(ctx, subscriptiondomain.ApplyPlanRequest{
		Sub: "user-1", PlanCode: "base750", Ref: "order-1",
	})
	require.NoError(t, err)

	stack.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, stack.worker.SweepOnce(ctx))
	require.NoError(t, stack.worker.SweepOnce(ctx))

	balance, err := stack.balances.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance, "a renewed subscription must not renew again until it lapses")
}

func TestRenewLosesCASRace(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	_, err := stack.subs.ApplyPlan(ctx, subscriptiondomain.ApplyPlanRequest{
		Sub: "user-1", PlanCode: "base750", Ref: "order-1",
	})
	require.NoError(t, err)
	stack.clock.Advance(31 * 24 * time.Hour)

	now := stack.clock.Now()
	rows, err := subscriptionrepo.Provide().FindExpiredAutoRenew(ctx, stack.conn, now, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	stale := rows[0]

	require.NoError(t, stack.worker.renew(ctx, stale, now, 30))
	// A second sweeper holding the same stale row loses the expiry CAS and
	// must not credit again.
	require.NoError(t, stack.worker.renew(ctx, stale, now, 30))

	balance, err := stack.balances.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance)
}

func TestSweepSkipsCancelled(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	autoRenew := false
	_, err := stack.subs.ApplyPlan(ctx, subscriptiondomain.ApplyPlanRequest{
		Sub: "user-1", PlanCode: "base750", Ref: "order-1", AutoRenew: &autoRenew,
	})
	require.NoError(t, err)

	stack.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, stack.worker.SweepOnce(ctx))

	balance, err := stack.balances.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(750), balance, "cancelled subscriptions do not renew")
}

func TestSweepSkipsRetiredPlan(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	_, err := stack.subs.ApplyPlan(ctx, subscriptiondomain.ApplyPlanRequest{
		Sub: "user-1", PlanCode: "base750", Ref: "order-1",
	})
	require.NoError(t, err)
	require.NoError(t, stack.conn.Exec(
		`UPDATE tariff_plans SET is_active = ? WHERE plan_code = ?`,
		false, "base750",
	).Error)

	stack.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, stack.worker.SweepOnce(ctx))

	balance, err := stack.balances.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(750), balance, "retired plans are left for operators")
}
