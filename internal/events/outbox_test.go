package events

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestOutbox(t *testing.T) (*Outbox, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&BillingEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	outbox := NewOutbox(OutboxParams{DB: conn, Log: zap.NewNop(), GenID: node})
	return outbox, conn
}

func TestPublishTxDedupe(t *testing.T) {
	outbox, conn := newTestOutbox(t)
	ctx := context.Background()

	evt := Event{
		Sub:       "user-1",
		Type:      EventDebitProcessed,
		DedupeKey: "debit:user-1:job-1",
		Payload:   map[string]any{"units": 5},
	}
	require.NoError(t, outbox.PublishTx(ctx, conn, evt))
	require.NoError(t, outbox.PublishTx(ctx, conn, evt))

	var count int64
	require.NoError(t, conn.Raw(`SELECT COUNT(*) FROM billing_events`).Scan(&count).Error)
	assert.Equal(t, int64(1), count, "a replayed operation stages one event")
}

func TestPublishTxWithoutDedupeKey(t *testing.T) {
	outbox, conn := newTestOutbox(t)
	ctx := context.Background()

	evt := Event{Sub: "user-1", Type: EventInsufficientFunds}
	require.NoError(t, outbox.PublishTx(ctx, conn, evt))
	require.NoError(t, outbox.PublishTx(ctx, conn, evt))

	var count int64
	require.NoError(t, conn.Raw(`SELECT COUNT(*) FROM billing_events`).Scan(&count).Error)
	assert.Equal(t, int64(2), count, "events without a dedupe key always stage")
}

func TestDrainMarksPublished(t *testing.T) {
	outbox, conn := newTestOutbox(t)
	ctx := context.Background()

	require.NoError(t, outbox.PublishTx(ctx, conn, Event{
		Sub:       "user-1",
		Type:      EventCreditProcessed,
		DedupeKey: "credit:user-1:topup-1",
	}))

	publisher := NewPublisher(PublisherParams{DB: conn, Log: zap.NewNop()})
	require.NoError(t, publisher.drainOnce(ctx))

	var pending int64
	require.NoError(t, conn.Raw(
		`SELECT COUNT(*) FROM billing_events WHERE published = ?`, false,
	).Scan(&pending).Error)
	assert.Zero(t, pending)
}
