package vault

import (
	"errors"
	"fmt"

	nativecommon "safevault/native/common"
)

var (
	ErrAlreadyInitialized     = errors.New("vault: ledger already initialized")
	ErrNotInitialized         = errors.New("vault: ledger not initialized")
	ErrInvalidAmount          = errors.New("vault: amount must be positive")
	ErrInvalidMint            = errors.New("vault: collateral mint is not a valid asset identity")
	ErrInvalidParams          = errors.New("vault: invalid parameters")
	ErrPositionNotFound       = errors.New("vault: position not found")
	ErrMintMismatch           = errors.New("vault: mint or custody does not match ledger")
	ErrInsufficientCollateral = errors.New("vault: insufficient collateral to borrow this amount")
	ErrOverflow               = errors.New("vault: arithmetic overflow")
	ErrTransferFailed         = errors.New("vault: custody transfer failed")
	ErrNoDebt                 = errors.New("vault: no outstanding debt to repay")
	ErrExceedsPosition        = errors.New("vault: amount exceeds deposited collateral")
	ErrInvalidOwner           = errors.New("vault: owner identity required")
	errNilState               = errors.New("vault: engine state not configured")
)

func transferFailed(cause error) error {
	return fmt.Errorf("%w: %w", ErrTransferFailed, cause)
}

var codes = []struct {
	err  error
	code string
}{
	{ErrAlreadyInitialized, "ALREADY_INITIALIZED"},
	{ErrNotInitialized, "NOT_INITIALIZED"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrInvalidMint, "INVALID_MINT"},
	{ErrInvalidParams, "INVALID_PARAMS"},
	{ErrPositionNotFound, "POSITION_NOT_FOUND"},
	{ErrMintMismatch, "MINT_MISMATCH"},
	{ErrInsufficientCollateral, "INSUFFICIENT_COLLATERAL"},
	{ErrOverflow, "OVERFLOW"},
	{ErrTransferFailed, "TRANSFER_FAILED"},
	{ErrNoDebt, "NO_DEBT"},
	{ErrExceedsPosition, "EXCEEDS_POSITION"},
	{ErrInvalidOwner, "INVALID_OWNER"},
	{nativecommon.ErrModulePaused, "MODULE_PAUSED"},
}

// Code returns the stable upper-snake identifier for err. Nil maps to "OK" and
// unrecognised errors to "INTERNAL".
func Code(err error) string {
	if err == nil {
		return "OK"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
