package service

import (
	"context"
	"encoding/json"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/unitledger/internal/config"
	tariffdomain "github.com/smallbiznis/unitledger/internal/tariff/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      tariffdomain.Repository
	LedgerCfg *config.LedgerConfigHolder
	Cache     *redis.Client `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      tariffdomain.Repository
	ledgerCfg *config.LedgerConfigHolder
	cache     *redis.Client
}

func NewService(p Params) tariffdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("tariff.service"),
		repo:      p.Repo,
		ledgerCfg: p.LedgerCfg,
		cache:     p.Cache,
	}
}

// GetActivePlan implements domain.Service with a Redis read-through cache.
func (s *Service) GetActivePlan(ctx context.Context, planCode string) (tariffdomain.TariffPlan, error) {
	planCode = strings.TrimSpace(planCode)
	if planCode == "" {
		return tariffdomain.TariffPlan{}, tariffdomain.ErrInvalidPlanCode
	}

	if plan, ok := s.cacheGet(ctx, planCode); ok {
		if !plan.IsActive {
			return tariffdomain.TariffPlan{}, &tariffdomain.PlanNotFoundError{PlanCode: planCode}
		}
		return plan, nil
	}

	plan, err := s.repo.FindActiveByCode(ctx, s.db, planCode)
	if err != nil {
		return tariffdomain.TariffPlan{}, err
	}
	if plan == nil {
		return tariffdomain.TariffPlan{}, &tariffdomain.PlanNotFoundError{PlanCode: planCode}
	}

	s.cacheSet(ctx, *plan)
	return *plan, nil
}

// GetPlan implements domain.Service.
func (s *Service) GetPlan(ctx context.Context, planCode string) (tariffdomain.TariffPlan, error) {
	planCode = strings.TrimSpace(planCode)
	if planCode == "" {
		return tariffdomain.TariffPlan{}, tariffdomain.ErrInvalidPlanCode
	}

	plan, err := s.repo.FindByCode(ctx, s.db, planCode)
	if err != nil {
		return tariffdomain.TariffPlan{}, err
	}
	if plan == nil {
		return tariffdomain.TariffPlan{}, &tariffdomain.PlanNotFoundError{PlanCode: planCode}
	}
	return *plan, nil
}

// ListActivePlans implements domain.Service.
func (s *Service) ListActivePlans(ctx context.Context) ([]tariffdomain.TariffPlan, error) {
	return s.repo.ListActive(ctx, s.db)
}

// ListProperties implements domain.Service.
func (s *Service) ListProperties(ctx context.Context, planCode string) ([]tariffdomain.TariffProperty, error) {
	planCode = strings.TrimSpace(planCode)
	if planCode == "" {
		return nil, tariffdomain.ErrInvalidPlanCode
	}
	return s.repo.ListPropertiesByCode(ctx, s.db, planCode)
}

func cacheKey(planCode string) string {
	return "unitledger:tariff:" + planCode
}

func (s *Service) cacheGet(ctx context.Context, planCode string) (tariffdomain.TariffPlan, bool) {
	if s.cache == nil {
		return tariffdomain.TariffPlan{}, false
	}
	body, err := s.cache.Get(ctx, cacheKey(planCode)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.Debug("tariff cache read failed", zap.String("plan_code", planCode), zap.Error(err))
		}
		return tariffdomain.TariffPlan{}, false
	}
	var plan tariffdomain.TariffPlan
	if err := json.Unmarshal(body, &plan); err != nil {
		return tariffdomain.TariffPlan{}, false
	}
	return plan, true
}

func (s *Service) cacheSet(ctx context.Context, plan tariffdomain.TariffPlan) {
	if s.cache == nil {
		return
	}
	body, err := json.Marshal(plan)
	if err != nil {
		return
	}
	ttl := s.ledgerCfg.Get().PlanCacheTTL
	if err := s.cache.Set(ctx, cacheKey(plan.PlanCode), body, ttl).Err(); err != nil {
		s.log.Debug("tariff cache write failed", zap.String("plan_code", plan.PlanCode), zap.Error(err))
	}
}
