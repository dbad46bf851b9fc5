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
	provisioningdomain "github.com/smallbiznis/unitledger/internal/provisioning/domain"
	subscriptiondomain "github.com/smallbiznis/unitledger/internal/subscription/domain"
	"github.com/smallbiznis/unitledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RefUserInit is the journal reference of the provisioning subscription, so
// repeated init calls collapse onto one row.
const RefUserInit = "user_init"

var errConcurrentInit = errors.New("concurrent_init")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	LedgerCfg     *config.LedgerConfigHolder
	Balances      balancedomain.Repository
	Subscriptions subscriptiondomain.Repository
	Outbox        *events.Outbox `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	ledgerCfg     *config.LedgerConfigHolder
	balances      balancedomain.Repository
	subscriptions subscriptiondomain.Repository
	outbox        *events.Outbox
}

func NewService(p Params) provisioningdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("provisioning.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		ledgerCfg:     p.LedgerCfg,
		balances:      p.Balances,
		subscriptions: p.Subscriptions,
		outbox:        p.Outbox,
	}
}

// InitUser implements domain.Service. A user with an existing balance row is
// already provisioned and the call reports current state without mutating.
func (s *Service) InitUser(ctx context.Context, req provisioningdomain.InitUserRequest) (provisioningdomain.InitUserResponse, error) {
	sub := strings.TrimSpace(req.Sub)
	if sub == "" {
		return provisioningdomain.InitUserResponse{}, provisioningdomain.ErrInvalidSub
	}

	var resp provisioningdomain.InitUserResponse
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.balances.FindBySub(ctx, tx, sub)
		if err != nil {
			return err
		}
		if existing != nil {
			resp = provisioningdomain.InitUserResponse{Balance: existing.BalanceUnits}
			if row, err := s.subscriptions.FindActiveBySub(ctx, tx, sub, s.clock.Now()); err != nil {
				return err
			} else if row != nil {
				resp.PlanCode = row.PlanCode
				resp.ExpiresAt = row.ExpiresAt
			}
			return nil
		}

		balance, err := s.balances.GetOrCreate(ctx, tx, sub)
		if err != nil {
			return err
		}

		cfg := s.ledgerCfg.Get()
		now := s.clock.Now()
		row := &subscriptiondomain.UserSubscription{
			ID:        s.genID.Generate(),
			Sub:       sub,
			PlanCode:  cfg.DefaultPlanCode,
			Ref:       RefUserInit,
			StartedAt: now,
			ExpiresAt: now.AddDate(0, 0, cfg.InitialExpiryDays),
			AutoRenew: true,
			IsActive:  true,
			CreatedAt: now,
		}
		if err := s.subscriptions.Insert(ctx, tx, row); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errConcurrentInit
			}
			return err
		}

		resp = provisioningdomain.InitUserResponse{
			Created:   true,
			Balance:   balance.BalanceUnits,
			PlanCode:  row.PlanCode,
			ExpiresAt: row.ExpiresAt,
		}
		s.stageEvent(ctx, tx, events.Event{
			Sub:       sub,
			Type:      events.EventUserInitialized,
			DedupeKey: "init:" + sub,
			Payload: map[string]any{
				"plan_code":  row.PlanCode,
				"expires_at": row.ExpiresAt.Format(time.RFC3339),
			},
		})
		return nil
	})

	if errors.Is(txErr, errConcurrentInit) {
		// Another init won the race; report its state.
		status, err := s.GetUserStatus(ctx, sub)
		if err != nil {
			return provisioningdomain.InitUserResponse{}, err
		}
		return provisioningdomain.InitUserResponse{
			Balance:   status.Balance,
			PlanCode:  status.PlanCode,
			ExpiresAt: status.ExpiresAt,
		}, nil
	}
	if txErr != nil {
		return provisioningdomain.InitUserResponse{}, txErr
	}
	return resp, nil
}

// GetUserStatus implements domain.Service.
func (s *Service) GetUserStatus(ctx context.Context, sub string) (provisioningdomain.UserStatus, error) {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return provisioningdomain.UserStatus{}, provisioningdomain.ErrInvalidSub
	}

	balance, err := s.balances.FindBySub(ctx, s.db, sub)
	if err != nil {
		return provisioningdomain.UserStatus{}, err
	}
	if balance == nil {
		return provisioningdomain.UserStatus{}, nil
	}

	status := provisioningdomain.UserStatus{
		Initialized: true,
		Balance:     balance.BalanceUnits,
	}
	now := s.clock.Now()
	row, err := s.subscriptions.FindActiveBySub(ctx, s.db, sub, now)
	if err != nil {
		return provisioningdomain.UserStatus{}, err
	}
	if row != nil {
		status.PlanCode = row.PlanCode
		status.Status = string(subscriptiondomain.DeriveStatus(*row, now))
		status.ExpiresAt = row.ExpiresAt
	}
	return status, nil
}

func (s *Service) stageEvent(ctx context.Context, tx *gorm.DB, evt events.Event) {
	if s.outbox == nil {
		return
	}
	if err := s.outbox.PublishTx(ctx, tx, evt); err != nil {
		s.log.Warn("failed to stage billing event",
			zap.String("event_type", evt.Type),
			zap.String("sub", evt.Sub),
			zap.Error(err),
		)
	}
}
