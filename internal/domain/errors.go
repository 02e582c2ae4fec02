package domain

import "errors"

// Guard failures abort the whole operation with no state mutation. Callers
// match with errors.Is; the messages double as machine-checkable reason codes
// on the API surface.
var (
	// State-machine guard violations.
	ErrNotActive        = errors.New("order not active")
	ErrNotSettleable    = errors.New("order not settleable")
	ErrAlreadySettled   = errors.New("order already settled")
	ErrAlreadyDelivered = errors.New("side already delivered")

	// Administrative block, retryable later.
	ErrPaused = errors.New("pool paused")

	// Factory registration guards.
	ErrPoolExists         = errors.New("pool exists")
	ErrMarginNotSupported = errors.New("margin not supported")

	// Authorization failures.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotOwner     = errors.New("caller is not the owner")
	ErrNotFactory   = errors.New("caller is not the factory")

	// Integrity guard in share redemption; never swallowed.
	ErrInsufficientVaultValue = errors.New("insufficient vault value")

	// Malformed input.
	ErrInvalidPeriod    = errors.New("invalid period")
	ErrInvalidAssetSpec = errors.New("invalid asset spec")
	ErrInvalidMargin    = errors.New("invalid margin amount")
	ErrInvalidFeeRate   = errors.New("invalid fee rate")

	ErrOrderNotFound = errors.New("order not found")
	ErrPoolNotFound  = errors.New("pool not found")
)
