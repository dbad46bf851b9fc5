package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OutboxParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Outbox struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{
		db:    p.DB,
		log:   p.Log.Named("events.outbox"),
		genID: p.GenID,
	}
}

// PublishTx stages an event inside the caller's transaction. Duplicate dedupe
// keys are absorbed so replayed operations do not produce duplicate events.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, evt Event) error {
	var dedupe *string
	if evt.DedupeKey != "" {
		dedupe = &evt.DedupeKey
	}
	payload := datatypes.JSONMap(evt.Payload)
	if payload == nil {
		payload = datatypes.JSONMap{}
	}

	return tx.WithContext(ctx).Exec(
		`INSERT INTO billing_events (
			id, sub, event_type, payload, dedupe_key, published, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		evt.Sub,
		evt.Type,
		payload,
		dedupe,
		false,
		time.Now().UTC(),
	).Error
}

// Publish stages an event outside any caller transaction, best effort.
func (o *Outbox) Publish(ctx context.Context, evt Event) {
	if err := o.PublishTx(ctx, o.db, evt); err != nil {
		o.log.Warn("failed to stage billing event",
			zap.String("event_type", evt.Type),
			zap.String("sub", evt.Sub),
			zap.Error(err),
		)
	}
}
