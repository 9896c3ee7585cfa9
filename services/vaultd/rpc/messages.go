package rpc

import "safevault/native/vault"

// InitializeRequest creates the vault ledger. The admin is the caller.
type InitializeRequest struct {
	CollateralMint string       `json:"collateralMint"`
	Custody        string       `json:"custody"`
	Params         vault.Params `json:"params"`
}

// InstructionRequest carries a deposit, borrow, repay or withdraw for the
// calling owner.
type InstructionRequest struct {
	Mint    string `json:"mint"`
	Custody string `json:"custody"`
	Amount  string `json:"amount"`
}

type LedgerRequest struct{}

type PositionRequest struct {
	Owner string `json:"owner"`
}

type PositionReply struct {
	Position *vault.Position `json:"position"`
	Health   *vault.Health   `json:"health,omitempty"`
}

type RepayReply struct {
	Position *vault.Position `json:"position"`
	Repaid   string          `json:"repaid"`
}
