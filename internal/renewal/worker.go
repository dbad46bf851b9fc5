// Package renewal sweeps active auto-renew subscriptions past their expiry,
// extends them by one cycle and grants the plan's monthly units.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	balancedomain "github.com/smallbiznis/unitledger/internal/balance/domain"
	"github.com/smallbiznis/unitledger/internal/clock"
	"github.com/smallbiznis/unitledger/internal/config"
	"github.com/smallbiznis/unitledger/internal/events"
	"github.com/smallbiznis/unitledger/internal/observability"
	subscriptiondomain "github.com/smallbiznis/unitledger/internal/subscription/domain"
	tariffdomain "github.com/smallbiznis/unitledger/internal/tariff/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SourcePlanRenewal is journaled as the source service of renewal grants.
const SourcePlanRenewal = "plan_renewal"

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	LedgerCfg     *config.LedgerConfigHolder
	Subscriptions subscriptiondomain.Repository
	Tariffs       tariffdomain.Service
	Balances      balancedomain.Service
	Outbox        *events.Outbox         `optional:"true"`
	Metrics       *observability.Metrics `optional:"true"`
}

type Worker struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	ledgerCfg     *config.LedgerConfigHolder
	subscriptions subscriptiondomain.Repository
	tariffs       tariffdomain.Service
	balances      balancedomain.Service
	outbox        *events.Outbox
	metrics       *observability.Metrics
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:            p.DB,
		log:           p.Log.Named("renewal.worker"),
		clock:         p.Clock,
		ledgerCfg:     p.LedgerCfg,
		subscriptions: p.Subscriptions,
		tariffs:       p.Tariffs,
		balances:      p.Balances,
		outbox:        p.Outbox,
		metrics:       p.Metrics,
	}
}

// Run sweeps until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.ledgerCfg.Get().RenewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.SweepOnce(ctx); err != nil {
				w.log.Warn("renewal sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce renews one batch of elapsed subscriptions. The compare-and-swap
// on expires_at makes each elapsed period renew exactly once even with
// concurrent sweepers.
func (w *Worker) SweepOnce(ctx context.Context) error {
	cfg := w.ledgerCfg.Get()
	now := w.clock.Now()

	batch, err := w.subscriptions.FindExpiredAutoRenew(ctx, w.db, now, cfg.RenewalBatchSize)
	if err != nil {
		return err
	}

	for _, row := range batch {
		if err := w.renew(ctx, row, now, cfg.CycleDays); err != nil {
			w.metrics.RecordRenewal("error")
			w.log.Warn("failed to renew subscription",
				zap.String("sub", row.Sub),
				zap.String("plan_code", row.PlanCode),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (w *Worker) renew(ctx context.Context, row subscriptiondomain.UserSubscription, now time.Time, cycleDays int) error {
	plan, err := w.tariffs.GetActivePlan(ctx, row.PlanCode)
	if err != nil {
		if errors.Is(err, tariffdomain.ErrPlanNotFound) {
			// The plan was retired; leave the subscription expired for
			// operators to migrate.
			w.metrics.RecordRenewal("plan_retired")
			return nil
		}
		return err
	}

	oldExpiry := row.ExpiresAt
	newExpiry := now.AddDate(0, 0, cycleDays)
	applied, err := w.subscriptions.ExtendExpiry(ctx, w.db, row.ID, oldExpiry, newExpiry)
	if err != nil {
		return err
	}
	if !applied {
		// Another sweeper already renewed this period.
		w.metrics.RecordRenewal("replay")
		return nil
	}

	ref := renewalRef(row, oldExpiry)
	if plan.MonthlyUnits > 0 {
		if _, err := w.balances.Credit(ctx, balancedomain.CreditRequest{
			Sub:           row.Sub,
			Units:         plan.MonthlyUnits,
			Ref:           ref,
			Reason:        "plan_" + plan.PlanCode,
			SourceService: SourcePlanRenewal,
		}); err != nil {
			return err
		}
	}

	if w.outbox != nil {
		w.outbox.Publish(ctx, events.Event{
			Sub:       row.Sub,
			Type:      events.EventPlanRenewed,
			DedupeKey: "renew:" + ref,
			Payload: map[string]any{
				"plan_code":     plan.PlanCode,
				"ref":           ref,
				"monthly_units": plan.MonthlyUnits,
				"expires_at":    newExpiry.Format(time.RFC3339),
			},
		})
	}

	w.metrics.RecordRenewal("ok")
	w.log.Info("subscription renewed",
		zap.String("sub", row.Sub),
		zap.String("plan_code", plan.PlanCode),
		zap.Time("expires_at", newExpiry),
	)
	return nil
}

// renewalRef names the elapsed period, so retried sweeps replay against the
// ledger instead of granting twice.
func renewalRef(row subscriptiondomain.UserSubscription, oldExpiry time.Time) string {
	return fmt.Sprintf("renew_%s_%s", row.ID.String(), oldExpiry.UTC().Format("20060102T150405"))
}

func runWorker(lc fx.Lifecycle, w *Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				w.Run(ctx)
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

var Module = fx.Module("renewal.worker",
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)
