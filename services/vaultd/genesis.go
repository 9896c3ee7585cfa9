package main

import (
	"errors"
	"fmt"

	vaultconfig "safevault/config"
	"safevault/core/state"
	"safevault/native/bank"
	"safevault/native/vault"
)

// applyGenesis initializes the vault from g when no ledger exists yet, then
// funds custody and the listed wallets in one transaction. It reports whether
// anything was applied.
func applyGenesis(engine *vault.Engine, mgr *state.Manager, b *bank.Bank, g *vaultconfig.Resolved) (bool, error) {
	if g == nil {
		return false, nil
	}
	if _, err := engine.Ledger(); err == nil {
		return false, nil
	} else if !errors.Is(err, vault.ErrNotInitialized) {
		return false, err
	}
	ledger, err := engine.Initialize(vault.InitializeRequest{
		Admin:          g.Admin,
		CollateralMint: g.CollateralMint,
		Custody:        vault.CustodyAddress(),
		Params: vault.Params{
			MaxLTVBps:      g.MaxLTVBps,
			ReferencePrice: g.ReferencePrice,
		},
	})
	if err != nil {
		return false, fmt.Errorf("initialize: %w", err)
	}
	err = mgr.Update(func(tx *state.Tx) error {
		if g.CustodyLiquidity > 0 {
			if err := b.Fund(tx, ledger.Custody, ledger.CollateralMint, g.CustodyLiquidity); err != nil {
				return fmt.Errorf("fund custody: %w", err)
			}
		}
		for _, w := range g.Wallets {
			if _, err := b.MintTo(tx, ledger.CollateralMint, w.Owner, w.Amount); err != nil {
				return fmt.Errorf("fund wallet %s: %w", w.Owner, err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
