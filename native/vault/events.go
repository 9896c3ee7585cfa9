package vault

import (
	"strconv"

	"safevault/core/types"
)

const (
	EventTypeInitialized = "vault.initialized"
	EventTypeDeposited   = "vault.deposited"
	EventTypeBorrowed    = "vault.borrowed"
	EventTypeRepaid      = "vault.repaid"
	EventTypeWithdrawn   = "vault.withdrawn"
)

// NewInitializedEvent describes a freshly created ledger.
func NewInitializedEvent(ledger *Ledger) *types.Event {
	return &types.Event{
		Type: EventTypeInitialized,
		Attributes: map[string]string{
			"admin":          ledger.Admin.String(),
			"collateralMint": ledger.CollateralMint.String(),
			"custody":        ledger.Custody.String(),
			"maxLtvBps":      strconv.FormatUint(ledger.Params.MaxLTVBps, 10),
			"referencePrice": strconv.FormatUint(ledger.Params.ReferencePrice, 10),
		},
	}
}

// NewDepositedEvent is emitted after collateral lands in custody.
func NewDepositedEvent(pos *Position, ledger *Ledger, amount uint64) *types.Event {
	return newPositionEvent(EventTypeDeposited, pos, ledger, amount)
}

// NewBorrowedEvent is emitted after a loan is paid out.
func NewBorrowedEvent(pos *Position, ledger *Ledger, amount uint64) *types.Event {
	return newPositionEvent(EventTypeBorrowed, pos, ledger, amount)
}

// NewRepaidEvent carries the capped repayment amount.
func NewRepaidEvent(pos *Position, ledger *Ledger, amount uint64) *types.Event {
	return newPositionEvent(EventTypeRepaid, pos, ledger, amount)
}

// NewWithdrawnEvent is emitted after collateral leaves custody.
func NewWithdrawnEvent(pos *Position, ledger *Ledger, amount uint64) *types.Event {
	return newPositionEvent(EventTypeWithdrawn, pos, ledger, amount)
}

func newPositionEvent(eventType string, pos *Position, ledger *Ledger, amount uint64) *types.Event {
	attrs := map[string]string{
		"amount":          strconv.FormatUint(amount, 10),
		"owner":           pos.Owner.String(),
		"position":        pos.Address.String(),
		"collateral":      strconv.FormatUint(pos.Collateral, 10),
		"borrowed":        strconv.FormatUint(pos.Borrowed, 10),
		"totalCollateral": strconv.FormatUint(ledger.TotalCollateral, 10),
		"totalBorrowed":   strconv.FormatUint(ledger.TotalBorrowed, 10),
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
