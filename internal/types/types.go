// Package types provides common type definitions for the token sale ledger.
package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PhaseState represents the lifecycle state of a sale phase
type PhaseState string

const (
	// PhaseStatePending represents a phase whose window has not opened yet
	PhaseStatePending PhaseState = "pending"
	// PhaseStateActive represents a phase currently accepting purchases
	PhaseStateActive PhaseState = "active"
	// PhaseStateCompleted represents a sold out or expired phase
	PhaseStateCompleted PhaseState = "completed"
)

// StoreBackend selects the ledger implementation
type StoreBackend string

const (
	// StorePostgres keeps the ledger in Postgres
	StorePostgres StoreBackend = "postgres"
	// StoreMemory keeps the ledger in process memory (development and tests)
	StoreMemory StoreBackend = "memory"
)

// ZeroAddress is the EVM zero address, used by callers to mean "no referrer"
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NormalizeAddress validates an EVM address and returns it in lowercase form.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return "", fmt.Errorf("invalid address format: %q (must be 0x followed by 40 hexadecimal characters)", address)
	}
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address format: %q (must be 0x followed by 40 hexadecimal characters)", address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// IsZeroAddress reports whether a normalized address is the zero address
func IsZeroAddress(address string) bool {
	return address == ZeroAddress
}
