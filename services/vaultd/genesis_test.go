package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	vaultconfig "safevault/config"
	"safevault/core/state"
	"safevault/crypto"
	"safevault/native/bank"
	"safevault/native/vault"
	"safevault/storage"
)

func testGenesis() *vaultconfig.Resolved {
	return &vaultconfig.Resolved{
		Admin:            crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0xAD}, crypto.AddressLength)),
		CollateralMint:   crypto.NewAddress(crypto.MintPrefix, bytes.Repeat([]byte{0x11}, crypto.AddressLength)),
		MaxLTVBps:        5000,
		ReferencePrice:   100,
		CustodyLiquidity: 10_000,
		Wallets: []vaultconfig.Wallet{
			{Owner: crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, crypto.AddressLength)), Amount: 1_000},
		},
	}
}

func TestApplyGenesisOnce(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	b := bank.New()
	engine := vault.NewEngine(mgr, b)
	g := testGenesis()

	applied, err := applyGenesis(engine, mgr, b, g)
	require.NoError(t, err)
	require.True(t, applied)

	ledger, err := engine.Ledger()
	require.NoError(t, err)
	require.EqualValues(t, 100, ledger.Params.ReferencePrice)

	owner := g.Wallets[0].Owner
	require.NoError(t, mgr.View(func(tx *state.Tx) error {
		custody, err := b.Balance(tx, vault.CustodyAddress())
		require.NoError(t, err)
		require.EqualValues(t, 10_000, custody)
		wallet, err := b.Balance(tx, b.WalletAccount(owner, g.CollateralMint))
		require.NoError(t, err)
		require.EqualValues(t, 1_000, wallet)
		return nil
	}))

	// Borrowing against genesis liquidity at price 100.
	_, err = engine.Deposit(vault.DepositRequest{Owner: owner, Mint: g.CollateralMint, Custody: vault.CustodyAddress(), Amount: 100})
	require.NoError(t, err)
	_, err = engine.Borrow(vault.BorrowRequest{Owner: owner, Mint: g.CollateralMint, Custody: vault.CustodyAddress(), Amount: 5_000})
	require.NoError(t, err)

	applied, err = applyGenesis(engine, mgr, b, g)
	require.NoError(t, err)
	require.False(t, applied)
}
