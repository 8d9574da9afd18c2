package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/cfd-ledger/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed or out-of-bounds input (4xx)
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents missing resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryPhase represents a phase that does not accept purchases right now
	CategoryPhase ErrorCategory = "phase"
	// CategoryCapacity represents a sold out phase
	CategoryCapacity ErrorCategory = "capacity"
	// CategoryClaim represents dividend claim rejections
	CategoryClaim ErrorCategory = "claim"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryProvider represents chain/RPC provider errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryAuth represents missing or wrong operator credentials
	CategoryAuth ErrorCategory = "auth"
)

// Error codes surfaced to callers.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeAmountOutOfBounds  = "AMOUNT_OUT_OF_BOUNDS"
	CodePhaseNotFound      = "PHASE_NOT_FOUND"
	CodePhaseInactive      = "PHASE_INACTIVE"
	CodeCapacityExceeded   = "CAPACITY_EXCEEDED"
	CodeNotEligible        = "NOT_ELIGIBLE"
	CodeNothingToClaim     = "NOTHING_TO_CLAIM"
	CodeAlreadyClaimed     = "ALREADY_CLAIMED"
	CodeAlreadyDistributed = "ALREADY_DISTRIBUTED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeDatabase           = "DATABASE_ERROR"
	CodeCache              = "CACHE_ERROR"
	CodeProvider           = "PROVIDER_ERROR"
	CodeRateLimit          = "RATE_LIMIT_EXCEEDED"
	CodeUnauthorized       = "UNAUTHORIZED"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Validation errors

// NewValidationError creates a validation error for a single field
func NewValidationError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeValidation,
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(field string, address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidAddress,
		Message:    fmt.Sprintf("invalid %s: %q is not a 0x-prefixed 20 byte hex address", field, address),
		Details: map[string]interface{}{
			"field":   field,
			"address": address,
		},
	}
}

// NewAmountOutOfBoundsError creates an error for a purchase outside the phase limits
func NewAmountOutOfBoundsError(phase int, amount, min, max string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeAmountOutOfBounds,
		Message:    fmt.Sprintf("amount %s outside phase %d bounds [%s, %s]", amount, phase, min, max),
		Details: map[string]interface{}{
			"phase":       phase,
			"amount":      amount,
			"minPurchase": min,
			"maxPurchase": max,
		},
	}
}

// Phase errors

// NewPhaseNotFoundError creates a phase not found error
func NewPhaseNotFoundError(phase int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodePhaseNotFound,
		Message:    fmt.Sprintf("phase %d not found", phase),
		Details: map[string]interface{}{
			"phase": phase,
		},
	}
}

// NewPhaseInactiveError creates an error for a phase outside its window or completed
func NewPhaseInactiveError(phase int, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPhase,
		StatusCode: http.StatusConflict,
		Code:       CodePhaseInactive,
		Message:    fmt.Sprintf("phase %d is not accepting purchases: %s", phase, reason),
		Details: map[string]interface{}{
			"phase":  phase,
			"reason": reason,
		},
	}
}

// NewCapacityExceededError creates an error for a reservation that would oversell a phase
func NewCapacityExceededError(phase int, requested, remaining string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCapacity,
		StatusCode: http.StatusConflict,
		Code:       CodeCapacityExceeded,
		Message:    fmt.Sprintf("phase %d cannot reserve %s tokens (%s remaining)", phase, requested, remaining),
		Details: map[string]interface{}{
			"phase":     phase,
			"requested": requested,
			"remaining": remaining,
		},
	}
}

// Claim errors

// NewNotEligibleError creates an error for a holder inside the minimum holding period
func NewNotEligibleError(holder string, daysHolding int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryClaim,
		StatusCode: http.StatusForbidden,
		Code:       CodeNotEligible,
		Message:    fmt.Sprintf("holder %s is not eligible for dividends yet", holder),
		Details: map[string]interface{}{
			"holder":      holder,
			"daysHolding": daysHolding,
		},
	}
}

// NewNothingToClaimError creates an error for a holder without available dividends
func NewNothingToClaimError(holder string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryClaim,
		StatusCode: http.StatusConflict,
		Code:       CodeNothingToClaim,
		Message:    fmt.Sprintf("holder %s has no dividends to claim", holder),
		Details: map[string]interface{}{
			"holder": holder,
		},
	}
}

// NewAlreadyClaimedError creates an error for a second claim in the same cycle
func NewAlreadyClaimedError(holder, cycle string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryClaim,
		StatusCode: http.StatusConflict,
		Code:       CodeAlreadyClaimed,
		Message:    fmt.Sprintf("holder %s already claimed dividends for cycle %s", holder, cycle),
		Details: map[string]interface{}{
			"holder": holder,
			"cycle":  cycle,
		},
	}
}

// NewAlreadyDistributedError creates an error for a second distribution of the same cycle
func NewAlreadyDistributedError(cycle string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryClaim,
		StatusCode: http.StatusConflict,
		Code:       CodeAlreadyDistributed,
		Message:    fmt.Sprintf("cycle %s has already been distributed", cycle),
		Details: map[string]interface{}{
			"cycle": cycle,
		},
	}
}

// System errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabase,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeCache,
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewProviderError creates a chain provider error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProvider,
		Message:    fmt.Sprintf("chain provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit float64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimit,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"limit": limit,
		},
	}
}

// NewUnauthorizedError rejects a call to an operator route without a valid key
func NewUnauthorizedError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuth,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeUnauthorized,
		Message:    "operator key missing or invalid",
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr.Code == code
	}
	return false
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable.
// Domain rejections are terminal; callers retry only infrastructure failures.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryDatabase, CategoryCache:
		return true
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
