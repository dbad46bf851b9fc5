package events

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const publishChannel = "unitledger.billing.events"

type PublisherParams struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Client *redis.Client `optional:"true"`
}

// Publisher drains staged outbox rows and publishes them to Redis.
type Publisher struct {
	db     *gorm.DB
	log    *zap.Logger
	client *redis.Client

	interval  time.Duration
	batchSize int
}

func NewPublisher(p PublisherParams) *Publisher {
	return &Publisher{
		db:        p.DB,
		log:       p.Log.Named("events.publisher"),
		client:    p.Client,
		interval:  5 * time.Second,
		batchSize: 100,
	}
}

// Run drains the outbox until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.drainOnce(ctx); err != nil {
				p.log.Warn("outbox drain failed", zap.Error(err))
			}
		}
	}
}

func (p *Publisher) drainOnce(ctx context.Context) error {
	var pending []BillingEvent
	err := p.db.WithContext(ctx).Raw(
		`SELECT id, sub, event_type, payload, dedupe_key, published, published_at, created_at
		 FROM billing_events
		 WHERE published = ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		false,
		p.batchSize,
	).Scan(&pending).Error
	if err != nil {
		return err
	}

	for _, evt := range pending {
		if p.client != nil {
			body, err := json.Marshal(map[string]any{
				"id":         evt.ID.String(),
				"sub":        evt.Sub,
				"event_type": evt.EventType,
				"payload":    map[string]any(evt.Payload),
				"created_at": evt.CreatedAt.UTC().Format(time.RFC3339Nano),
			})
			if err != nil {
				p.log.Warn("failed to encode billing event", zap.String("id", evt.ID.String()), zap.Error(err))
				continue
			}
			if err := p.client.Publish(ctx, publishChannel, body).Err(); err != nil {
				// Leave the row staged; the next tick retries.
				p.log.Warn("failed to publish billing event", zap.String("id", evt.ID.String()), zap.Error(err))
				continue
			}
		}

		now := time.Now().UTC()
		if err := p.db.WithContext(ctx).Exec(
			`UPDATE billing_events SET published = ?, published_at = ? WHERE id = ?`,
			true,
			now,
			evt.ID,
		).Error; err != nil {
			return err
		}
	}

	return nil
}

func runPublisher(lc fx.Lifecycle, p *Publisher) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				p.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
