package domain

import (
	"context"
	"errors"
	"fmt"
)

type Service interface {
	// GetActivePlan resolves a plan code against active catalog rows.
	GetActivePlan(ctx context.Context, planCode string) (TariffPlan, error)
	// GetPlan resolves a plan code regardless of the active flag.
	GetPlan(ctx context.Context, planCode string) (TariffPlan, error)
	ListActivePlans(ctx context.Context) ([]TariffPlan, error)
	ListProperties(ctx context.Context, planCode string) ([]TariffProperty, error)
}

var (
	ErrInvalidPlanCode = errors.New("invalid_plan_code")
	ErrPlanNotFound    = errors.New("plan_not_found")
)

// PlanNotFoundError carries the unresolved code. It matches ErrPlanNotFound
// under errors.Is.
type PlanNotFoundError struct {
	PlanCode string
}

func (e *PlanNotFoundError) Error() string {
	return fmt.Sprintf("tariff plan not found: %s", e.PlanCode)
}

func (e *PlanNotFoundError) Unwrap() error { return ErrPlanNotFound }
