package vault

import "safevault/crypto"

// Ledger is the vault singleton: configuration fixed at Initialize plus the
// aggregate counters every operation keeps in step with the positions.
type Ledger struct {
	Admin           crypto.Address `json:"admin"`
	CollateralMint  crypto.Address `json:"collateralMint"`
	Custody         crypto.Address `json:"custody"`
	Params          Params         `json:"params"`
	TotalCollateral uint64         `json:"totalCollateral,string"`
	TotalBorrowed   uint64         `json:"totalBorrowed,string"`
}

// Position tracks a single owner's collateral and debt.
type Position struct {
	Address    crypto.Address `json:"address"`
	Owner      crypto.Address `json:"owner"`
	Collateral uint64         `json:"collateral,string"`
	Borrowed   uint64         `json:"borrowed,string"`
}

// Health summarises how much more a position may borrow.
type Health struct {
	Collateral uint64 `json:"collateral,string"`
	Borrowed   uint64 `json:"borrowed,string"`
	MaxBorrow  uint64 `json:"maxBorrow,string"`
	Available  uint64 `json:"available,string"`
	LTVBps     uint64 `json:"ltvBps"`
}

type InitializeRequest struct {
	Admin          crypto.Address
	CollateralMint crypto.Address
	Custody        crypto.Address
	Params         Params
}

type DepositRequest struct {
	Owner   crypto.Address
	Mint    crypto.Address
	Custody crypto.Address
	Amount  uint64
}

type BorrowRequest struct {
	Owner   crypto.Address
	Mint    crypto.Address
	Custody crypto.Address
	Amount  uint64
}

type RepayRequest struct {
	Owner   crypto.Address
	Mint    crypto.Address
	Custody crypto.Address
	Amount  uint64
}

type WithdrawRequest struct {
	Owner   crypto.Address
	Mint    crypto.Address
	Custody crypto.Address
	Amount  uint64
}
