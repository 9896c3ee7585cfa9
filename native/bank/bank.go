package bank

import (
	"fmt"
	"math"

	"safevault/core/state"
	"safevault/crypto"
)

// Bank moves fungible token balances between token accounts. It carries no
// state of its own; every call operates inside the caller's transaction so
// transfers commit or roll back together with the surrounding operation.
type Bank struct{}

// New returns a bank bound to no particular state.
func New() *Bank { return &Bank{} }

// WalletAccount returns the associated token account of owner for mint.
func (b *Bank) WalletAccount(owner, mint crypto.Address) crypto.Address {
	return AssociatedAccount(owner, mint)
}

// OpenAccount binds account to owner and mint with a zero balance. Reopening
// with the identical binding is a no-op; any other binding fails.
func (b *Bank) OpenAccount(tx *state.Tx, account, owner, mint crypto.Address) error {
	if account.IsZero() || owner.IsZero() || mint.IsZero() {
		return ErrInvalidAddress
	}
	existing, err := loadAccount(tx, account)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Owner.Equal(owner) && existing.Mint.Equal(mint) {
			return nil
		}
		return ErrAccountExists
	}
	return persistAccount(tx, &TokenAccount{Address: account, Owner: owner, Mint: mint})
}

// Account returns the token account at addr.
func (b *Bank) Account(tx *state.Tx, addr crypto.Address) (*TokenAccount, error) {
	acct, err := loadAccount(tx, addr)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

// Balance returns the balance held at addr.
func (b *Bank) Balance(tx *state.Tx, addr crypto.Address) (uint64, error) {
	acct, err := b.Account(tx, addr)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Transfer debits from and credits to by amount of mint. Both accounts must
// exist and hold mint.
func (b *Bank) Transfer(tx *state.Tx, mint, from, to crypto.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	src, err := b.Account(tx, from)
	if err != nil {
		return fmt.Errorf("source %s: %w", from, err)
	}
	dst, err := b.Account(tx, to)
	if err != nil {
		return fmt.Errorf("destination %s: %w", to, err)
	}
	if !src.Mint.Equal(mint) || !dst.Mint.Equal(mint) {
		return ErrMintMismatch
	}
	if src.Balance < amount {
		return ErrInsufficientFunds
	}
	if from.Equal(to) {
		return nil
	}
	if dst.Balance > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	src.Balance -= amount
	dst.Balance += amount
	if err := persistAccount(tx, src); err != nil {
		return err
	}
	return persistAccount(tx, dst)
}

// Fund credits newly issued tokens to an existing account.
func (b *Bank) Fund(tx *state.Tx, account, mint crypto.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	acct, err := b.Account(tx, account)
	if err != nil {
		return err
	}
	if !acct.Mint.Equal(mint) {
		return ErrMintMismatch
	}
	if acct.Balance > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	acct.Balance += amount
	return persistAccount(tx, acct)
}

// MintTo issues amount of mint into owner's wallet account, opening it on
// first use, and returns the wallet address.
func (b *Bank) MintTo(tx *state.Tx, mint, owner crypto.Address, amount uint64) (crypto.Address, error) {
	wallet := AssociatedAccount(owner, mint)
	if err := b.OpenAccount(tx, wallet, owner, mint); err != nil {
		return crypto.Address{}, err
	}
	if err := b.Fund(tx, wallet, mint, amount); err != nil {
		return crypto.Address{}, err
	}
	return wallet, nil
}
