package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

type CheckBalanceRequest struct {
	Sub   string `json:"sub"`
	Units int64  `json:"units"`
}

type CheckBalanceResponse struct {
	Allowed bool  `json:"allowed"`
	Balance int64 `json:"balance"`
}

type DebitRequest struct {
	Sub    string `json:"sub"`
	Units  int64  `json:"units"`
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

type CreditRequest struct {
	Sub           string `json:"sub"`
	Units         int64  `json:"units"`
	Ref           string `json:"ref"`
	Reason        string `json:"reason"`
	SourceService string `json:"source_service,omitempty"`
}

// MutationResponse is returned by debit and credit. Replayed is true when the
// reference was already journaled and no state changed on this call.
type MutationResponse struct {
	Balance  int64        `json:"balance"`
	EntryID  snowflake.ID `json:"tx_id"`
	Replayed bool         `json:"-"`
}

type Service interface {
	CheckBalance(ctx context.Context, req CheckBalanceRequest) (CheckBalanceResponse, error)
	Debit(ctx context.Context, req DebitRequest) (MutationResponse, error)
	Credit(ctx context.Context, req CreditRequest) (MutationResponse, error)
	GetBalance(ctx context.Context, sub string) (int64, error)
}

var (
	ErrInvalidSub        = errors.New("invalid_sub")
	ErrInvalidUnits      = errors.New("invalid_units")
	ErrInvalidRef        = errors.New("invalid_ref")
	ErrInsufficientFunds = errors.New("insufficient_funds")
)

// InsufficientFundsError carries the requested and available amounts for
// caller display. It matches ErrInsufficientFunds under errors.Is.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }
