package service

import (
	stderrors "errors"
	"strings"

	"github.com/cfd-ledger/internal/errors"
	"github.com/cfd-ledger/internal/types"
)

// tokenScale is the number of fractional digits kept for token amounts
const tokenScale = 18

// ledgerError passes categorized errors through and wraps anything else as a database error
func ledgerError(operation string, err error) error {
	var catErr *errors.CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}
	return errors.NewDatabaseError(operation, err)
}

// normalizeHolder validates and lowercases a holder address
func normalizeHolder(field, address string) (string, error) {
	if strings.TrimSpace(address) == "" {
		return "", errors.NewValidationError(field, "required")
	}
	normalized, err := types.NormalizeAddress(address)
	if err != nil {
		return "", errors.NewInvalidAddressError(field, address)
	}
	return normalized, nil
}
