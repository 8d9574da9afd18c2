package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/cfd-ledger/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestErrorCodesAndStatus(t *testing.T) {
	tests := []struct {
		name      string
		err       *CategorizedError
		code      string
		status    int
		retryable bool
	}{
		{name: "validation", err: NewValidationError("amountPaid", "must be positive"), code: CodeValidation, status: http.StatusBadRequest},
		{name: "invalid address", err: NewInvalidAddressError("holderAddress", "0x1"), code: CodeInvalidAddress, status: http.StatusBadRequest},
		{name: "amount out of bounds", err: NewAmountOutOfBoundsError(1, "0.001", "0.01", "1000"), code: CodeAmountOutOfBounds, status: http.StatusBadRequest},
		{name: "phase not found", err: NewPhaseNotFoundError(4), code: CodePhaseNotFound, status: http.StatusNotFound},
		{name: "phase inactive", err: NewPhaseInactiveError(2, "phase has not started"), code: CodePhaseInactive, status: http.StatusConflict},
		{name: "capacity exceeded", err: NewCapacityExceededError(1, "10", "5"), code: CodeCapacityExceeded, status: http.StatusConflict},
		{name: "not eligible", err: NewNotEligibleError("0xabc", 3), code: CodeNotEligible, status: http.StatusForbidden},
		{name: "nothing to claim", err: NewNothingToClaimError("0xabc"), code: CodeNothingToClaim, status: http.StatusConflict},
		{name: "already claimed", err: NewAlreadyClaimedError("0xabc", "2026-03"), code: CodeAlreadyClaimed, status: http.StatusConflict},
		{name: "already distributed", err: NewAlreadyDistributedError("2026-03"), code: CodeAlreadyDistributed, status: http.StatusConflict},
		{name: "database", err: NewDatabaseError("insert purchase", fmt.Errorf("conn reset")), code: CodeDatabase, status: http.StatusInternalServerError, retryable: true},
		{name: "provider", err: NewProviderError("erc20 balanceOf", fmt.Errorf("timeout")), code: CodeProvider, status: http.StatusBadGateway, retryable: true},
		{name: "rate limit", err: NewRateLimitError(5), code: CodeRateLimit, status: http.StatusTooManyRequests},
		{name: "unauthorized", err: NewUnauthorizedError(), code: CodeUnauthorized, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, GetHTTPStatusCode(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.status < 500, IsUserError(tt.err))
			assert.True(t, HasCode(fmt.Errorf("wrapped: %w", tt.err), tt.code))
		})
	}
}

func TestCategorize(t *testing.T) {
	assert.Nil(t, Categorize(nil))

	plain := Categorize(fmt.Errorf("boom"))
	assert.Equal(t, CodeInternal, plain.Code)
	assert.Equal(t, http.StatusInternalServerError, plain.StatusCode)

	svc := Categorize(&types.ServiceError{Code: "CUSTOM", Message: "custom"})
	assert.Equal(t, "CUSTOM", svc.Code)

	original := NewPhaseNotFoundError(7)
	assert.Same(t, original, Categorize(fmt.Errorf("lookup: %w", original)))
}

func TestCategorizedError_UnwrapAndRender(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewDatabaseError("lock phase", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "caused by: connection refused")

	rendered := err.ToServiceError()
	assert.Equal(t, CodeDatabase, rendered.Code)
	assert.Equal(t, err.Message, rendered.Message)
}
