package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	balancedomain "github.com/smallbiznis/unitledger/internal/balance/domain"
	provisioningdomain "github.com/smallbiznis/unitledger/internal/provisioning/domain"
	subscriptiondomain "github.com/smallbiznis/unitledger/internal/subscription/domain"
	tariffdomain "github.com/smallbiznis/unitledger/internal/tariff/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var insufficient *balancedomain.InsufficientFundsError
	if errors.As(err, &insufficient) {
		return http.StatusForbidden, errorPayload{
			Type:    "insufficient_funds",
			Message: insufficient.Error(),
			Details: map[string]any{
				"required":  insufficient.Required,
				"available": insufficient.Available,
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: notFoundMessage(err),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, balancedomain.ErrInvalidSub),
		errors.Is(err, balancedomain.ErrInvalidUnits),
		errors.Is(err, balancedomain.ErrInvalidRef),
		errors.Is(err, subscriptiondomain.ErrInvalidSub),
		errors.Is(err, subscriptiondomain.ErrInvalidRef),
		errors.Is(err, provisioningdomain.ErrInvalidSub),
		errors.Is(err, tariffdomain.ErrInvalidPlanCode):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, tariffdomain.ErrPlanNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, tariffdomain.ErrPlanNotFound):
		return "plan not found"
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		return "subscription not found"
	default:
		return "not found"
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, balancedomain.ErrInvalidSub),
		errors.Is(err, subscriptiondomain.ErrInvalidSub),
		errors.Is(err, provisioningdomain.ErrInvalidSub):
		return "invalid_sub"
	case errors.Is(err, balancedomain.ErrInvalidUnits):
		return "invalid_units"
	case errors.Is(err, balancedomain.ErrInvalidRef),
		errors.Is(err, subscriptiondomain.ErrInvalidRef):
		return "invalid_ref"
	case errors.Is(err, tariffdomain.ErrInvalidPlanCode):
		return "invalid_plan_code"
	default:
		return "invalid_request"
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_sub":
		return "sub"
	case "invalid_units":
		return "units"
	case "invalid_ref":
		return "ref"
	case "invalid_plan_code":
		return "plan_code"
	default:
		return "request"
	}
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_sub":
		return "sub is required"
	case "invalid_units":
		return "units must be a positive integer"
	case "invalid_ref":
		return "ref is required"
	case "invalid_plan_code":
		return "plan_code is required"
	default:
		return "invalid request"
	}
}
