package domain

import (
	"context"
	"errors"
	"time"
)

type InitUserRequest struct {
	Sub string `json:"sub"`
}

// InitUserResponse reports the provisioning outcome. Created is false when
// the user already existed and nothing changed.
type InitUserResponse struct {
	Created   bool      `json:"created"`
	Balance   int64     `json:"balance"`
	PlanCode  string    `json:"plan_code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserStatus is the read-only provisioning view of a user.
type UserStatus struct {
	Initialized bool      `json:"initialized"`
	Balance     int64     `json:"balance"`
	PlanCode    string    `json:"plan_code,omitempty"`
	Status      string    `json:"status,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

type Service interface {
	// InitUser provisions a zero balance and the default subscription.
	// Calling it again for the same user is a no-op.
	InitUser(ctx context.Context, req InitUserRequest) (InitUserResponse, error)
	GetUserStatus(ctx context.Context, sub string) (UserStatus, error)
}

var ErrInvalidSub = errors.New("invalid_sub")
