package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/unitledger/internal/balance/domain"
	"github.com/smallbiznis/unitledger/internal/clock"
	"github.com/smallbiznis/unitledger/internal/config"
	"github.com/smallbiznis/unitledger/internal/events"
	"github.com/smallbiznis/unitledger/internal/observability"
	subscriptiondomain "github.com/smallbiznis/unitledger/internal/subscription/domain"
	tariffdomain "github.com/smallbiznis/unitledger/internal/tariff/domain"
	"github.com/smallbiznis/unitledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errConcurrentReplay marks a subscription insert that lost a race against
// another request carrying the same reference.
var errConcurrentReplay = errors.New("concurrent_replay")

// SourcePlanActivation is journaled as the source service of plan grants.
const SourcePlanActivation = "plan_activation"

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	LedgerCfg     *config.LedgerConfigHolder
	Subscriptions subscriptiondomain.Repository
	Tariffs       tariffdomain.Service
	Balances      balancedomain.Service
	Outbox        *events.Outbox         `optional:"true"`
	Metrics       *observability.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	ledgerCfg     *config.LedgerConfigHolder
	subscriptions subscriptiondomain.Repository
	tariffs       tariffdomain.Service
	balances      balancedomain.Service
	outbox        *events.Outbox
	metrics       *observability.Metrics
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("subscription.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		ledgerCfg:     p.LedgerCfg,
		subscriptions: p.Subscriptions,
		tariffs:       p.Tariffs,
		balances:      p.Balances,
		outbox:        p.Outbox,
		metrics:       p.Metrics,
	}
}

// ApplyPlan implements domain.Service. The subscription swap runs in one
// transaction guarded by the unique (sub, ref) index; the unit grant rides
// on the ledger's own idempotency under the same reference, so a replayed
// application never grants twice.
func (s *Service) ApplyPlan(ctx context.Context, req subscriptiondomain.ApplyPlanRequest) (subscriptiondomain.ApplyPlanResponse, error) {
	sub := strings.TrimSpace(req.Sub)
	ref := strings.TrimSpace(req.Ref)
	if sub == "" {
		return subscriptiondomain.ApplyPlanResponse{}, subscriptiondomain.ErrInvalidSub
	}
	if ref == "" {
		return subscriptiondomain.ApplyPlanResponse{}, subscriptiondomain.ErrInvalidRef
	}

	plan, err := s.tariffs.GetActivePlan(ctx, req.PlanCode)
	if err != nil {
		s.metrics.RecordPlanApplication(strings.TrimSpace(req.PlanCode), "plan_not_found")
		return subscriptiondomain.ApplyPlanResponse{}, err
	}

	var row *subscriptiondomain.UserSubscription
	replayed := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.subscriptions.FindBySubAndRef(ctx, tx, sub, ref)
		if err != nil {
			return err
		}
		if existing != nil {
			row = existing
			replayed = true
			return nil
		}

		if err := s.subscriptions.DeactivateBySub(ctx, tx, sub); err != nil {
			return err
		}

		autoRenew := true
		if req.AutoRenew != nil {
			autoRenew = *req.AutoRenew
		}
		now := s.clock.Now()
		cycle := s.ledgerCfg.Get().CycleDays
		created := &subscriptiondomain.UserSubscription{
			ID:        s.genID.Generate(),
			Sub:       sub,
			PlanCode:  plan.PlanCode,
			Ref:       ref,
			StartedAt: now,
			ExpiresAt: now.AddDate(0, 0, cycle),
			AutoRenew: autoRenew,
			IsActive:  true,
			CreatedAt: now,
		}
		if err := s.subscriptions.Insert(ctx, tx, created); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errConcurrentReplay
			}
			return err
		}
		row = created

		s.stageEvent(ctx, tx, events.Event{
			Sub:       sub,
			Type:      events.EventPlanApplied,
			DedupeKey: "plan:" + sub + ":" + ref,
			Payload: map[string]any{
				"plan_code":     plan.PlanCode,
				"ref":           ref,
				"monthly_units": plan.MonthlyUnits,
				"auto_renew":    autoRenew,
				"expires_at":    created.ExpiresAt.Format(time.RFC3339),
			},
		})
		return nil
	})

	if errors.Is(txErr, errConcurrentReplay) {
		existing, err := s.subscriptions.FindBySubAndRef(ctx, s.db, sub, ref)
		if err != nil {
			return subscriptiondomain.ApplyPlanResponse{}, err
		}
		if existing == nil {
			return subscriptiondomain.ApplyPlanResponse{}, errConcurrentReplay
		}
		row = existing
		replayed = true
	} else if txErr != nil {
		return subscriptiondomain.ApplyPlanResponse{}, txErr
	}

	balance, err := s.grantUnits(ctx, sub, ref, plan)
	if err != nil {
		return subscriptiondomain.ApplyPlanResponse{}, err
	}

	s.metrics.RecordPlanApplication(plan.PlanCode, outcomeLabel(replayed))
	return subscriptiondomain.ApplyPlanResponse{
		SubscriptionID: row.ID,
		PlanCode:       row.PlanCode,
		ExpiresAt:      row.ExpiresAt,
		Balance:        balance,
		Replayed:       replayed,
	}, nil
}

// grantUnits credits the plan allowance under the application reference.
// Zero-unit plans skip the ledger entirely and only read the balance.
func (s *Service) grantUnits(ctx context.Context, sub, ref string, plan tariffdomain.TariffPlan) (int64, error) {
	if plan.MonthlyUnits <= 0 {
		return s.balances.GetBalance(ctx, sub)
	}
	resp, err := s.balances.Credit(ctx, balancedomain.CreditRequest{
		Sub:           sub,
		Units:         plan.MonthlyUnits,
		Ref:           ref,
		Reason:        "plan_" + plan.PlanCode,
		SourceService: SourcePlanActivation,
	})
	if err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// GetCurrentPlan implements domain.Service. Absence of a plan is a valid
// state and reports as "none"/inactive, never as an error.
func (s *Service) GetCurrentPlan(ctx context.Context, sub string) (subscriptiondomain.PlanInfo, error) {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return subscriptiondomain.PlanInfo{}, subscriptiondomain.ErrInvalidSub
	}

	now := s.clock.Now()
	row, err := s.subscriptions.FindActiveBySub(ctx, s.db, sub, now)
	if err != nil {
		return subscriptiondomain.PlanInfo{}, err
	}
	if row == nil {
		return subscriptiondomain.PlanInfo{
			PlanCode: "none",
			Status:   subscriptiondomain.StatusInactive,
		}, nil
	}

	info, err := s.planInfo(ctx, row)
	if err != nil {
		return subscriptiondomain.PlanInfo{}, err
	}
	info.Status = subscriptiondomain.DeriveStatus(*row, now)
	return info, nil
}

// GetSubscription implements domain.Service.
func (s *Service) GetSubscription(ctx context.Context, sub string) (subscriptiondomain.SubscriptionDetails, error) {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return subscriptiondomain.SubscriptionDetails{}, subscriptiondomain.ErrInvalidSub
	}

	now := s.clock.Now()
	row, err := s.subscriptions.FindActiveBySub(ctx, s.db, sub, now)
	if err != nil {
		return subscriptiondomain.SubscriptionDetails{}, err
	}
	if row == nil {
		return subscriptiondomain.SubscriptionDetails{}, &subscriptiondomain.SubscriptionNotFoundError{Sub: sub}
	}

	plan, err := s.planInfo(ctx, row)
	if err != nil {
		return subscriptiondomain.SubscriptionDetails{}, err
	}
	status := subscriptiondomain.DeriveStatus(*row, now)
	plan.Status = status
	balance, err := s.balances.GetBalance(ctx, sub)
	if err != nil {
		return subscriptiondomain.SubscriptionDetails{}, err
	}

	return subscriptiondomain.SubscriptionDetails{
		SubscriptionID: row.ID,
		Sub:            row.Sub,
		Plan:           plan,
		StartedAt:      row.StartedAt,
		ExpiresAt:      row.ExpiresAt,
		AutoRenew:      row.AutoRenew,
		Status:         status,
		Balance:        balance,
	}, nil
}

func (s *Service) planInfo(ctx context.Context, row *subscriptiondomain.UserSubscription) (subscriptiondomain.PlanInfo, error) {
	plan, err := s.tariffs.GetPlan(ctx, row.PlanCode)
	if err != nil {
		return subscriptiondomain.PlanInfo{}, err
	}
	properties, err := s.tariffs.ListProperties(ctx, row.PlanCode)
	if err != nil {
		return subscriptiondomain.PlanInfo{}, err
	}
	names := make([]string, 0, len(properties))
	for _, p := range properties {
		names = append(names, p.Property)
	}
	return subscriptiondomain.PlanInfo{
		PlanCode:     plan.PlanCode,
		Name:         plan.Name,
		MonthlyUnits: plan.MonthlyUnits,
		PriceCents:   plan.PriceCents,
		Properties:   names,
		ExpiresAt:    row.ExpiresAt,
	}, nil
}

func (s *Service) stageEvent(ctx context.Context, tx *gorm.DB, evt events.Event) {
	if s.outbox == nil {
		return
	}
	// Event staging must never fail the subscription transaction.
	if err := s.outbox.PublishTx(ctx, tx, evt); err != nil {
		s.log.Warn("failed to stage billing event",
			zap.String("event_type", evt.Type),
			zap.String("sub", evt.Sub),
			zap.Error(err),
		)
	}
}

func outcomeLabel(replayed bool) string {
	if replayed {
		return "replay"
	}
	return "ok"
}
