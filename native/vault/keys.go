package vault

import "safevault/crypto"

var (
	ledgerSeed   = []byte("vault_state")
	custodySeed  = []byte("vault_tokens")
	positionSeed = []byte("user-stats")
)

// LedgerAddress is the fixed address of the vault singleton.
func LedgerAddress() crypto.Address { return crypto.DeriveAddress(ledgerSeed) }

// CustodyAddress is the pooled collateral token account.
func CustodyAddress() crypto.Address { return crypto.DeriveAddress(custodySeed) }

// PositionAddress derives the position record address of owner.
func PositionAddress(owner crypto.Address) crypto.Address {
	return crypto.DeriveAddress(positionSeed, owner.Bytes())
}

func ledgerKey() []byte {
	return append([]byte("vault/ledger/"), LedgerAddress().Bytes()...)
}

func positionKey(addr crypto.Address) []byte {
	return append([]byte("vault/position/"), addr.Bytes()...)
}
