package bank

import (
	"errors"
	"fmt"

	"safevault/core/state"
	"safevault/crypto"
)

var (
	ErrAccountNotFound   = errors.New("bank: token account not found")
	ErrAccountExists     = errors.New("bank: token account already bound to a different owner or mint")
	ErrMintMismatch      = errors.New("bank: token account holds a different mint")
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrBalanceOverflow   = errors.New("bank: balance overflow")
	ErrInvalidAmount     = errors.New("bank: amount must be positive")
	ErrInvalidAddress    = errors.New("bank: address required")
)

var walletSeed = []byte("wallet")

// TokenAccount is a balance of a single mint held on behalf of an owner.
type TokenAccount struct {
	Address crypto.Address `json:"address"`
	Owner   crypto.Address `json:"owner"`
	Mint    crypto.Address `json:"mint"`
	Balance uint64         `json:"balance,string"`
}

type storedTokenAccount struct {
	OwnerPrefix string
	Owner       []byte
	Mint        []byte
	Balance     uint64
}

func accountKey(addr crypto.Address) []byte {
	return append([]byte("bank/account/"), addr.Bytes()...)
}

// AssociatedAccount returns the deterministic wallet token account for owner
// holding mint.
func AssociatedAccount(owner, mint crypto.Address) crypto.Address {
	return crypto.DeriveAddress(walletSeed, owner.Bytes(), mint.Bytes())
}

func loadAccount(tx *state.Tx, addr crypto.Address) (*TokenAccount, error) {
	var stored storedTokenAccount
	ok, err := tx.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, fmt.Errorf("bank: load account: %w", err)
	}
	if !ok {
		return nil, nil
	}
	owner, err := crypto.AddressFromBytes(crypto.AddressPrefix(stored.OwnerPrefix), stored.Owner)
	if err != nil {
		return nil, fmt.Errorf("bank: corrupt account owner: %w", err)
	}
	mint, err := crypto.AddressFromBytes(crypto.MintPrefix, stored.Mint)
	if err != nil {
		return nil, fmt.Errorf("bank: corrupt account mint: %w", err)
	}
	return &TokenAccount{
		Address: addr,
		Owner:   owner,
		Mint:    mint,
		Balance: stored.Balance,
	}, nil
}

func persistAccount(tx *state.Tx, acct *TokenAccount) error {
	return tx.KVPut(accountKey(acct.Address), storedTokenAccount{
		OwnerPrefix: string(acct.Owner.Prefix()),
		Owner:       acct.Owner.Bytes(),
		Mint:        acct.Mint.Bytes(),
		Balance:     acct.Balance,
	})
}
