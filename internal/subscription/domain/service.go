package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ApplyPlanRequest struct {
	Sub      string `json:"sub"`
	PlanCode string `json:"plan_code"`
	Ref      string `json:"ref"`
	// AutoRenew defaults to true when the caller omits it.
	AutoRenew *bool `json:"auto_renew"`
}

type ApplyPlanResponse struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	PlanCode       string       `json:"plan_code"`
	ExpiresAt      time.Time    `json:"expires_at"`
	Balance        int64        `json:"balance"`
	Replayed       bool         `json:"-"`
}

// PlanInfo is the catalog view of the plan currently bound to a user. A
// user without an active plan gets the "none"/inactive placeholder.
type PlanInfo struct {
	PlanCode     string    `json:"plan_code"`
	Name         string    `json:"name,omitempty"`
	MonthlyUnits int64     `json:"monthly_units"`
	PriceCents   int64     `json:"price_cents"`
	Properties   []string  `json:"properties,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Status       Status    `json:"status"`
}

// SubscriptionDetails joins the subscription row with its plan and the
// user's current balance.
type SubscriptionDetails struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	Sub            string       `json:"sub"`
	Plan           PlanInfo     `json:"plan"`
	StartedAt      time.Time    `json:"started_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
	AutoRenew      bool         `json:"auto_renew"`
	Status         Status       `json:"status"`
	Balance        int64        `json:"balance"`
}

type Service interface {
	// ApplyPlan binds the user to the plan, deactivates any prior
	// subscription and grants the plan's monthly units.
	ApplyPlan(ctx context.Context, req ApplyPlanRequest) (ApplyPlanResponse, error)
	// GetCurrentPlan never fails for a user without a plan; it reports
	// the "none"/inactive placeholder instead.
	GetCurrentPlan(ctx context.Context, sub string) (PlanInfo, error)
	GetSubscription(ctx context.Context, sub string) (SubscriptionDetails, error)
}

var (
	ErrInvalidSub           = errors.New("invalid_sub")
	ErrInvalidRef           = errors.New("invalid_ref")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)

// SubscriptionNotFoundError carries the user identity. It matches
// ErrSubscriptionNotFound under errors.Is.
type SubscriptionNotFoundError struct {
	Sub string
}

func (e *SubscriptionNotFoundError) Error() string {
	return fmt.Sprintf("no active subscription for user: %s", e.Sub)
}

func (e *SubscriptionNotFoundError) Unwrap() error { return ErrSubscriptionNotFound }
