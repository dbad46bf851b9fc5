package service

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
	"github.com/smallbiznis/unitledger/internal/clock"
	"github.com/smallbiznis/unitledger/internal/config"
	provisioningdomain "github.com/smallbiznis/unitledger/internal/provisioning/domain"
	subscriptiondomain "github.com/smallbiznis/unitledger/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/unitledger/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (provisioningdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&balancedomain.UserBalance{},
		&subscriptiondomain.UserSubscription{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:            conn,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         fc,
		LedgerCfg:     config.NewStaticLedgerConfigHolder(config.DefaultLedgerConfig()),
		Balances:      balancerepo.Provide(node),
		Subscriptions: subscriptionrepo.Provide(),
	})
	return svc, conn, fc
}

func TestInitUserProvisionsDefaults(t *testing.T) {
	svc, conn, fc := newTestService(t)
	ctx := context.Background()

	resp, err := svc.InitUser(ctx, provisioningdomain.InitUserRequest{Sub: "user-1"})
	require.NoError(t, err)
	assert.True(t, resp.Created)
	assert.Equal(t, int64(0), resp.Balance)
	assert.Equal(t, "0000", resp.PlanCode)
	assert.Equal(t, fc.Now().AddDate(0, 0, 365), resp.ExpiresAt)

	var row subscriptiondomain.UserSubscription
	require.NoError(t, conn.Raw(
		`SELECT * FROM user_subscriptions WHERE sub = ? AND ref = ?`,
		"user-1", RefUserInit,
	).Scan(&row).Error)
	assert.True(t, row.AutoRenew)
	assert.True(t, row.IsActive)
}

func TestInitUserIdempotent(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.InitUser(ctx, provisioningdomain.InitUserRequest{Sub: "user-1"})
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := svc.InitUser(ctx, provisioningdomain.InitUserRequest{Sub: "user-1"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.PlanCode, second.PlanCode)

	var count int64
	require.NoError(t, conn.Raw(
		`SELECT COUNT(*) FROM user_subscriptions WHERE sub = ?`, "user-1",
	).Scan(&count).Error)
	assert.Equal(t, int64(1), count, "repeated init must not add subscriptions")
}

func TestGetUserStatus(t *testing.T) {
	svc, _, fc := newTestService(t)
	ctx := context.Background()

	status, err := svc.GetUserStatus(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, status.Initialized)

	_, err = svc.InitUser(ctx, provisioningdomain.InitUserRequest{Sub: "user-1"})
	require.NoError(t, err)

	status, err = svc.GetUserStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, status.Initialized)
	assert.Equal(t, int64(0), status.Balance)
	assert.Equal(t, "0000", status.PlanCode)
	assert.Equal(t, string(subscriptiondomain.StatusActive), status.Status)

	fc.Advance(366 * 24 * time.Hour)
	status, err = svc.GetUserStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, status.Initialized)
	assert.Empty(t, status.PlanCode, "an expired default plan no longer reports as active")
}

func TestInitUserValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.InitUser(context.Background(), provisioningdomain.InitUserRequest{Sub: "  "})
	assert.ErrorIs(t, err, provisioningdomain.ErrInvalidSub)

	_, err = svc.GetUserStatus(context.Background(), "")
	assert.ErrorIs(t, err, provisioningdomain.ErrInvalidSub)
}
